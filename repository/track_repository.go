package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"soundproof/logger"
	"soundproof/model"

	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrForbidden is returned when the caller does not own the record.
	ErrForbidden = errors.New("not authorized")
)

const (
	defaultLimit = 20
	maxLimit     = 200
	searchWindow = 1000
)

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// TrackRepository defines the interface for track data operations.
type TrackRepository interface {
	Create(ctx context.Context, track *model.Track) (int64, error)
	GetByID(ctx context.Context, id int64) (*model.Track, error)
	GetRecent(ctx context.Context, limit int, excludeFID int64) ([]*model.Track, error)
	GetByUploader(ctx context.Context, fid int64) ([]*model.Track, error)
	GetPopular(ctx context.Context, limit int, excludeFID int64) ([]*model.Track, error)
	GetByGenre(ctx context.Context, genre string, limit int) ([]*model.Track, error)
	Search(ctx context.Context, term string, limit int) ([]*model.Track, error)
	IncrementPlayCount(ctx context.Context, id int64) (int64, error)
	Update(ctx context.Context, id, uploaderFID int64, patch model.TrackPatch) (*model.Track, error)
	Delete(ctx context.Context, id, uploaderFID int64) error
}

// gormTrackRepository implements TrackRepository on top of GORM.
type gormTrackRepository struct {
	db *gorm.DB
}

// NewGormTrackRepository creates a new instance of gormTrackRepository.
func NewGormTrackRepository(db *gorm.DB) TrackRepository {
	return &gormTrackRepository{db: db}
}

// Create inserts the track, creating the uploader's user record when it does
// not exist yet and bumping their last-active time when it does.
func (r *gormTrackRepository) Create(ctx context.Context, track *model.Track) (int64, error) {
	if err := track.AccessRule.Validate(); err != nil {
		return 0, err
	}
	now := time.Now()
	track.IsEncrypted = track.AccessRule.Gated()
	track.PlayCount = 0
	track.SchemaVersion = 1
	track.UploadedAt = now
	track.UpdatedAt = now

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := touchUser(tx, track.UploaderFID, now); err != nil {
			return err
		}
		return tx.Create(track).Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create track: %w", err)
	}

	logger.Info("track created",
		logger.Int64("trackId", track.ID),
		logger.String("title", track.Title),
		logger.Int64("uploaderFid", track.UploaderFID),
		logger.Bool("encrypted", track.IsEncrypted))
	return track.ID, nil
}

func touchUser(tx *gorm.DB, fid int64, now time.Time) error {
	var user model.User
	err := tx.Where("fid = ?", fid).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tx.Create(&model.User{
			FID:           fid,
			SchemaVersion: 1,
			CreatedAt:     now,
			LastActive:    now,
			UpdatedAt:     now,
		}).Error
	}
	if err != nil {
		return err
	}
	return tx.Model(&user).Updates(map[string]interface{}{"last_active": now, "updated_at": now}).Error
}

// GetByID retrieves a track by its ID.
func (r *gormTrackRepository) GetByID(ctx context.Context, id int64) (*model.Track, error) {
	var track model.Track
	err := r.db.WithContext(ctx).First(&track, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get track %d: %w", id, err)
	}
	return &track, nil
}

// GetRecent returns the newest tracks, optionally hiding one uploader's own.
func (r *gormTrackRepository) GetRecent(ctx context.Context, limit int, excludeFID int64) ([]*model.Track, error) {
	q := r.db.WithContext(ctx).Order("uploaded_at desc").Limit(normalizeLimit(limit))
	if excludeFID > 0 {
		q = q.Where("uploader_fid <> ?", excludeFID)
	}
	return r.find(q, "recent")
}

// GetByUploader returns every track of an uploader, newest first.
func (r *gormTrackRepository) GetByUploader(ctx context.Context, fid int64) ([]*model.Track, error) {
	q := r.db.WithContext(ctx).Where("uploader_fid = ?", fid).Order("uploaded_at desc")
	return r.find(q, "by uploader")
}

// GetPopular returns the most played tracks.
func (r *gormTrackRepository) GetPopular(ctx context.Context, limit int, excludeFID int64) ([]*model.Track, error) {
	q := r.db.WithContext(ctx).Order("play_count desc").Order("uploaded_at desc").Limit(normalizeLimit(limit))
	if excludeFID > 0 {
		q = q.Where("uploader_fid <> ?", excludeFID)
	}
	return r.find(q, "popular")
}

// GetByGenre returns the newest tracks of a genre.
func (r *gormTrackRepository) GetByGenre(ctx context.Context, genre string, limit int) ([]*model.Track, error) {
	q := r.db.WithContext(ctx).Where("genre = ?", genre).Order("uploaded_at desc").Limit(normalizeLimit(limit))
	return r.find(q, "by genre")
}

// Search matches the term against title, artist, description and genre of
// the most recent tracks.
func (r *gormTrackRepository) Search(ctx context.Context, term string, limit int) ([]*model.Track, error) {
	window, err := r.find(r.db.WithContext(ctx).Order("uploaded_at desc").Limit(searchWindow), "search")
	if err != nil {
		return nil, err
	}
	return filterTracks(window, term, normalizeLimit(limit)), nil
}

func filterTracks(tracks []*model.Track, term string, limit int) []*model.Track {
	out := make([]*model.Track, 0, limit)
	for _, t := range tracks {
		if len(out) == limit {
			break
		}
		if t.MatchesTerm(term) {
			out = append(out, t)
		}
	}
	return out
}

func (r *gormTrackRepository) find(q *gorm.DB, what string) ([]*model.Track, error) {
	tracks := make([]*model.Track, 0)
	if err := q.Find(&tracks).Error; err != nil {
		return nil, fmt.Errorf("failed to query %s tracks: %w", what, err)
	}
	return tracks, nil
}

// IncrementPlayCount atomically bumps the counter and returns the new value.
func (r *gormTrackRepository) IncrementPlayCount(ctx context.Context, id int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Track{}).Where("id = ?", id).Updates(map[string]interface{}{
			"play_count": gorm.Expr("play_count + ?", 1),
			"updated_at": time.Now(),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Model(&model.Track{}).Where("id = ?", id).Select("play_count").Scan(&count).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to increment play count for track %d: %w", id, err)
	}
	return count, nil
}

func (r *gormTrackRepository) owned(tx *gorm.DB, id, uploaderFID int64) (*model.Track, error) {
	var track model.Track
	err := tx.First(&track, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if track.UploaderFID != uploaderFID {
		return nil, ErrForbidden
	}
	return &track, nil
}

// Update patches the metadata of a track owned by uploaderFID.
func (r *gormTrackRepository) Update(ctx context.Context, id, uploaderFID int64, patch model.TrackPatch) (*model.Track, error) {
	var updated *model.Track
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		track, err := r.owned(tx, id, uploaderFID)
		if err != nil {
			return err
		}
		if err := tx.Model(track).Updates(patch.Updates(time.Now())).Error; err != nil {
			return err
		}
		updated = track
		return tx.First(updated, id).Error
	})
	if err != nil {
		return nil, wrapOwned("update", id, err)
	}
	return updated, nil
}

// Delete removes a track owned by uploaderFID.
func (r *gormTrackRepository) Delete(ctx context.Context, id, uploaderFID int64) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := r.owned(tx, id, uploaderFID); err != nil {
			return err
		}
		return tx.Delete(&model.Track{}, id).Error
	})
	if err != nil {
		return wrapOwned("delete", id, err)
	}
	logger.Info("track deleted", logger.Int64("trackId", id), logger.Int64("uploaderFid", uploaderFID))
	return nil
}

func wrapOwned(op string, id int64, err error) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrForbidden) {
		return err
	}
	return fmt.Errorf("failed to %s track %d: %w", op, id, err)
}
