package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"soundproof/model"

	"gorm.io/gorm"
)

// UserRepository defines the interface for user data operations.
type UserRepository interface {
	GetByFID(ctx context.Context, fid int64) (*model.User, error)
	GetByWallet(ctx context.Context, wallet string) (*model.User, error)
	CreateOrUpdate(ctx context.Context, fid int64, wallet string) (*model.User, error)
	UpdateLastActive(ctx context.Context, fid int64) error
	List(ctx context.Context, limit int) ([]*model.User, error)
	Delete(ctx context.Context, fid int64) error
}

type gormUserRepository struct {
	db *gorm.DB
}

// NewGormUserRepository creates a new gormUserRepository.
func NewGormUserRepository(db *gorm.DB) UserRepository {
	return &gormUserRepository{db: db}
}

func (r *gormUserRepository) first(ctx context.Context, query string, arg interface{}) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where(query, arg).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// GetByFID retrieves a user by Farcaster id.
func (r *gormUserRepository) GetByFID(ctx context.Context, fid int64) (*model.User, error) {
	return r.first(ctx, "fid = ?", fid)
}

// GetByWallet retrieves a user by connected wallet address.
func (r *gormUserRepository) GetByWallet(ctx context.Context, wallet string) (*model.User, error) {
	return r.first(ctx, "wallet_address = ?", wallet)
}

// CreateOrUpdate is idempotent: an existing user gets the wallet and
// activity timestamps refreshed, a missing one is created.
func (r *gormUserRepository) CreateOrUpdate(ctx context.Context, fid int64, wallet string) (*model.User, error) {
	now := time.Now()
	var user model.User
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("fid = ?", fid).First(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			user = model.User{
				FID:           fid,
				WalletAddress: wallet,
				SchemaVersion: 1,
				CreatedAt:     now,
				LastActive:    now,
				UpdatedAt:     now,
			}
			return tx.Create(&user).Error
		}
		if err != nil {
			return err
		}
		user.WalletAddress = wallet
		user.LastActive = now
		user.UpdatedAt = now
		return tx.Model(&user).Updates(map[string]interface{}{
			"wallet_address": wallet,
			"last_active":    now,
			"updated_at":     now,
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create or update user %d: %w", fid, err)
	}
	return &user, nil
}

// UpdateLastActive refreshes the activity timestamp; a missing user is not
// an error.
func (r *gormUserRepository) UpdateLastActive(ctx context.Context, fid int64) error {
	now := time.Now()
	err := r.db.WithContext(ctx).Model(&model.User{}).Where("fid = ?", fid).
		Updates(map[string]interface{}{"last_active": now, "updated_at": now}).Error
	if err != nil {
		return fmt.Errorf("failed to update last active for user %d: %w", fid, err)
	}
	return nil
}

// List returns the most recently created users.
func (r *gormUserRepository) List(ctx context.Context, limit int) ([]*model.User, error) {
	if limit <= 0 {
		limit = 50
	}
	users := make([]*model.User, 0)
	if err := r.db.WithContext(ctx).Order("created_at desc").Limit(limit).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// Delete removes a user together with their tracks.
func (r *gormUserRepository) Delete(ctx context.Context, fid int64) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("fid = ?", fid).Delete(&model.User{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("uploader_fid = ?", fid).Delete(&model.Track{}).Error
	})
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to delete user %d: %w", fid, err)
	}
	return nil
}
