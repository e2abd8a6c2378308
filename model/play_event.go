package model

import "time"

// PlayEvent is a daily per-listener play aggregate for a track.
// ListenerFID is 0 for anonymous listeners.
type PlayEvent struct {
	ID            int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	TrackID       int64     `json:"trackId" gorm:"uniqueIndex:idx_play_track_date_listener;not null"`
	ListenerFID   int64     `json:"listenerFid,omitempty" gorm:"column:listener_fid;uniqueIndex:idx_play_track_date_listener;index:idx_play_listener"`
	PlayDate      string    `json:"playDate" gorm:"size:10;uniqueIndex:idx_play_track_date_listener;index:idx_play_date"` // YYYY-MM-DD
	PlayCount     int64     `json:"playCount" gorm:"not null;default:0"`
	TotalDuration float64   `json:"totalDuration"` // seconds actually played, seeks excluded
	LastPlayed    time.Time `json:"lastPlayed"`
	SchemaVersion int       `json:"schemaVersion" gorm:"not null;default:1"`
}

// PlayDateOf formats t as the aggregation key.
func PlayDateOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// SchemaVersion records an applied schema migration.
type SchemaVersion struct {
	ID          int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Version     int       `json:"version" gorm:"not null"`
	MigratedAt  time.Time `json:"migratedAt"`
	Description string    `json:"description" gorm:"size:255"`
}
