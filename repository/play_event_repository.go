package repository

import (
	"context"
	"fmt"
	"time"

	"soundproof/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PlayEventRepository stores daily play aggregates.
type PlayEventRepository interface {
	Record(ctx context.Context, trackID, listenerFID int64, seconds float64, at time.Time) error
	AddListenTime(ctx context.Context, trackID, listenerFID int64, seconds float64, at time.Time) error
	ForTrack(ctx context.Context, trackID int64, days int) ([]*model.PlayEvent, error)
}

type gormPlayEventRepository struct {
	db *gorm.DB
}

// NewGormPlayEventRepository creates a new gormPlayEventRepository.
func NewGormPlayEventRepository(db *gorm.DB) PlayEventRepository {
	return &gormPlayEventRepository{db: db}
}

// Record upserts the (track, listener, day) aggregate and counts one play.
func (r *gormPlayEventRepository) Record(ctx context.Context, trackID, listenerFID int64, seconds float64, at time.Time) error {
	if err := r.upsert(ctx, trackID, listenerFID, 1, seconds, at); err != nil {
		return fmt.Errorf("failed to record play event for track %d: %w", trackID, err)
	}
	return nil
}

// AddListenTime adds played seconds to the day's aggregate without counting a play.
func (r *gormPlayEventRepository) AddListenTime(ctx context.Context, trackID, listenerFID int64, seconds float64, at time.Time) error {
	if seconds <= 0 {
		return nil
	}
	if err := r.upsert(ctx, trackID, listenerFID, 0, seconds, at); err != nil {
		return fmt.Errorf("failed to add listen time for track %d: %w", trackID, err)
	}
	return nil
}

func (r *gormPlayEventRepository) upsert(ctx context.Context, trackID, listenerFID, plays int64, seconds float64, at time.Time) error {
	event := &model.PlayEvent{
		TrackID:       trackID,
		ListenerFID:   listenerFID,
		PlayDate:      model.PlayDateOf(at),
		PlayCount:     plays,
		TotalDuration: seconds,
		LastPlayed:    at,
		SchemaVersion: 1,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "track_id"}, {Name: "listener_fid"}, {Name: "play_date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"play_count":     gorm.Expr("play_count + ?", plays),
			"total_duration": gorm.Expr("total_duration + ?", seconds),
			"last_played":    at,
		}),
	}).Create(event).Error
}

// ForTrack returns the aggregates of the last days for a track.
func (r *gormPlayEventRepository) ForTrack(ctx context.Context, trackID int64, days int) ([]*model.PlayEvent, error) {
	if days <= 0 {
		days = 30
	}
	since := model.PlayDateOf(time.Now().AddDate(0, 0, -days))
	events := make([]*model.PlayEvent, 0)
	err := r.db.WithContext(ctx).
		Where("track_id = ? AND play_date >= ?", trackID, since).
		Order("play_date desc").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load play events for track %d: %w", trackID, err)
	}
	return events, nil
}
