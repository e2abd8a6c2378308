package model

import "time"

// User is a Farcaster account known to SoundProof.
type User struct {
	ID            int64     `json:"-" gorm:"primaryKey;autoIncrement"`
	FID           int64     `json:"fid" gorm:"column:fid;uniqueIndex:idx_users_fid;not null"`
	WalletAddress string    `json:"walletAddress,omitempty" gorm:"size:64;index:idx_users_wallet"`
	SchemaVersion int       `json:"schemaVersion" gorm:"not null;default:1"`
	CreatedAt     time.Time `json:"createdAt"`
	LastActive    time.Time `json:"lastActive"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
