package cache

import (
	"context"
	"fmt"
	"time"

	"soundproof/logger"
	"soundproof/model"
)

const feedVersionKey = "soundproof:tracks:feed_version"

// TrackCache caches track snapshots and feed queries. Feed entries are keyed
// by a version counter that every write bumps, so invalidation never has to
// scan keys.
type TrackCache struct {
	store Store
	ttl   time.Duration
}

// NewTrackCache creates a cache over store with the given entry TTL.
func NewTrackCache(store Store, ttl time.Duration) *TrackCache {
	return &TrackCache{store: store, ttl: ttl}
}

func trackKey(id int64) string {
	return fmt.Sprintf("soundproof:track:%d", id)
}

// GetTrack returns a cached snapshot, or nil on a miss.
func (c *TrackCache) GetTrack(ctx context.Context, id int64) *model.Track {
	var t model.Track
	ok, err := c.store.GetJSON(ctx, trackKey(id), &t)
	if err != nil {
		logger.Warn("track cache read failed", logger.Int64("trackId", id), logger.ErrorField(err))
		return nil
	}
	if !ok {
		return nil
	}
	return &t
}

// SetTrack stores a snapshot; failures are logged only.
func (c *TrackCache) SetTrack(ctx context.Context, t *model.Track) {
	if err := c.store.SetJSON(ctx, trackKey(t.ID), t, c.ttl); err != nil {
		logger.Warn("track cache write failed", logger.Int64("trackId", t.ID), logger.ErrorField(err))
	}
}

// Invalidate drops the track snapshot and every cached feed.
func (c *TrackCache) Invalidate(ctx context.Context, ids ...int64) {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, trackKey(id))
	}
	if len(keys) > 0 {
		if err := c.store.Delete(ctx, keys...); err != nil {
			logger.Warn("track cache delete failed", logger.ErrorField(err))
		}
	}
	if _, err := c.store.Incr(ctx, feedVersionKey); err != nil {
		logger.Warn("feed version bump failed", logger.ErrorField(err))
	}
}

func (c *TrackCache) feedKey(ctx context.Context, name string) string {
	version, ok, err := c.store.Get(ctx, feedVersionKey)
	if err != nil || !ok {
		version = "0"
	}
	return fmt.Sprintf("soundproof:feed:%s:%s", version, name)
}

// Feed returns the cached result for name, loading and caching it on a miss.
// Cache errors degrade to a direct load.
func (c *TrackCache) Feed(ctx context.Context, name string, load func() ([]*model.Track, error)) ([]*model.Track, error) {
	key := c.feedKey(ctx, name)

	var tracks []*model.Track
	ok, err := c.store.GetJSON(ctx, key, &tracks)
	if err != nil {
		logger.Warn("feed cache read failed", logger.String("key", key), logger.ErrorField(err))
	}
	if ok {
		return tracks, nil
	}

	tracks, err = load()
	if err != nil {
		return nil, err
	}
	if err := c.store.SetJSON(ctx, key, tracks, c.ttl); err != nil {
		logger.Warn("feed cache write failed", logger.String("key", key), logger.ErrorField(err))
	}
	return tracks, nil
}
