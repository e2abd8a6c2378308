package db

import (
	"errors"
	"fmt"
	"time"

	"soundproof/logger"
	"soundproof/model"

	"gorm.io/gorm"
)

// CurrentSchemaVersion is bumped whenever the models change shape.
const CurrentSchemaVersion = 1

// migration upgrades the data from Version-1 to Version.
type migration struct {
	Version     int
	Description string
	Apply       func(tx *gorm.DB) error
}

var migrations = []migration{
	{
		Version:     1,
		Description: "initial schema: users, tracks, play events",
		Apply:       func(tx *gorm.DB) error { return nil },
	},
}

// Models lists every persisted model, in creation order.
func Models() []interface{} {
	return []interface{}{
		&model.SchemaVersion{},
		&model.User{},
		&model.Track{},
		&model.PlayEvent{},
	}
}

// Migrate creates or updates tables and applies pending data migrations,
// recording each applied version.
func Migrate(gdb *gorm.DB) (int, error) {
	if gdb == nil {
		return 0, fmt.Errorf("GORM database not initialized")
	}
	if err := gdb.AutoMigrate(Models()...); err != nil {
		return 0, fmt.Errorf("failed to auto migrate models: %w", err)
	}

	current, err := currentVersion(gdb)
	if err != nil {
		return 0, err
	}

	for _, m := range pending(current) {
		err := gdb.Transaction(func(tx *gorm.DB) error {
			if err := m.Apply(tx); err != nil {
				return err
			}
			return tx.Create(&model.SchemaVersion{
				Version:     m.Version,
				MigratedAt:  time.Now(),
				Description: m.Description,
			}).Error
		})
		if err != nil {
			return current, fmt.Errorf("migration to version %d failed: %w", m.Version, err)
		}
		logger.Info("schema migrated", logger.Int("from", current), logger.Int("to", m.Version))
		current = m.Version
	}
	return current, nil
}

func currentVersion(gdb *gorm.DB) (int, error) {
	var v model.SchemaVersion
	err := gdb.Order("version desc").First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v.Version, nil
}

func pending(current int) []migration {
	var out []migration
	for _, m := range migrations {
		if m.Version > current && m.Version <= CurrentSchemaVersion {
			out = append(out, m)
		}
	}
	return out
}
