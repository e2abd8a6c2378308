package analytics

import (
	"context"
	"fmt"
	"time"

	"soundproof/logger"
	"soundproof/model"
)

// PlayCounter increments a track's counter.
type PlayCounter interface {
	IncrementPlayCount(ctx context.Context, id int64) (int64, error)
}

// EventStore upserts daily play aggregates.
type EventStore interface {
	Record(ctx context.Context, trackID, listenerFID int64, seconds float64, at time.Time) error
	AddListenTime(ctx context.Context, trackID, listenerFID int64, seconds float64, at time.Time) error
}

// Invalidator drops cached entries affected by a play.
type Invalidator interface {
	Invalidate(ctx context.Context, ids ...int64)
}

// Recorder counts plays. Only the counter increment is required to succeed;
// the aggregate, cache and stream are best effort.
type Recorder struct {
	counter   PlayCounter
	events    EventStore
	cache     Invalidator
	publisher Publisher
	now       func() time.Time
}

// NewRecorder wires a recorder; events, cache and publisher may be nil.
func NewRecorder(counter PlayCounter, events EventStore, cache Invalidator, publisher Publisher) *Recorder {
	return &Recorder{
		counter:   counter,
		events:    events,
		cache:     cache,
		publisher: publisher,
		now:       time.Now,
	}
}

// RecordPlay counts one play of track by listenerFID (0 for anonymous).
// Listening time is added separately by RecordListen once it is known.
func (r *Recorder) RecordPlay(ctx context.Context, track *model.Track, listenerFID int64) error {
	if track == nil {
		return fmt.Errorf("record play: nil track")
	}
	count, err := r.counter.IncrementPlayCount(ctx, track.ID)
	if err != nil {
		return fmt.Errorf("failed to increment play count for track %d: %w", track.ID, err)
	}
	now := r.now()

	if r.events != nil {
		if err := r.events.Record(ctx, track.ID, listenerFID, 0, now); err != nil {
			logger.Warn("failed to record play event", logger.Int64("trackId", track.ID), logger.ErrorField(err))
		}
	}

	if r.cache != nil {
		r.cache.Invalidate(ctx, track.ID)
	}

	if r.publisher != nil {
		msg := PlayMessage{
			Type:        "play",
			TrackID:     track.ID,
			UploaderFID: track.UploaderFID,
			ListenerFID: listenerFID,
			PlayCount:   count,
			Encrypted:   track.IsEncrypted,
			PlayedAt:    now.UTC(),
		}
		if err := r.publisher.Publish(ctx, msg); err != nil {
			logger.Warn("failed to publish play event", logger.Int64("trackId", track.ID), logger.ErrorField(err))
		}
	}

	logger.Debug("play recorded",
		logger.Int64("trackId", track.ID),
		logger.Int64("listenerFid", listenerFID),
		logger.Int64("playCount", count))
	return nil
}

// RecordListen adds the seconds listenerFID actually played of track to
// today's aggregate. Non-positive durations are ignored.
func (r *Recorder) RecordListen(ctx context.Context, track *model.Track, listenerFID int64, seconds float64) error {
	if track == nil {
		return fmt.Errorf("record listen: nil track")
	}
	if seconds <= 0 || r.events == nil {
		return nil
	}
	now := r.now()
	if err := r.events.AddListenTime(ctx, track.ID, listenerFID, seconds, now); err != nil {
		return fmt.Errorf("failed to record listen time for track %d: %w", track.ID, err)
	}

	if r.publisher != nil {
		msg := PlayMessage{
			Type:        "listen",
			TrackID:     track.ID,
			UploaderFID: track.UploaderFID,
			ListenerFID: listenerFID,
			Seconds:     seconds,
			Encrypted:   track.IsEncrypted,
			PlayedAt:    now.UTC(),
		}
		if err := r.publisher.Publish(ctx, msg); err != nil {
			logger.Warn("failed to publish listen event", logger.Int64("trackId", track.ID), logger.ErrorField(err))
		}
	}
	return nil
}
