package model

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"
)

var contractAddressPattern = regexp.MustCompile(`^0[xX][0-9a-fA-F]{40}$`)

// AccessType is the gate applied to a track's audio payload.
type AccessType string

const (
	AccessPublic AccessType = "public"
	AccessERC20  AccessType = "erc20"
	AccessERC721 AccessType = "erc721"
)

// AccessRule describes who may play a track.
type AccessRule struct {
	Type            AccessType `json:"type" gorm:"column:type;size:16;not null;default:public"`
	ContractAddress string     `json:"contractAddress,omitempty" gorm:"column:contract_address;size:64"`
	MinBalance      string     `json:"minBalance,omitempty" gorm:"column:min_balance;size:78"`
}

// Gated reports whether the rule requires a token-balance check.
func (r AccessRule) Gated() bool {
	return r.Type == AccessERC20 || r.Type == AccessERC721
}

// Validate checks the rule is one of the known types. A gated rule needs a
// 20-byte hex contract address and a non-negative integer minimum balance in
// base units; decimals are rejected. An empty type is treated as public.
func (r *AccessRule) Validate() error {
	if r.Type == "" {
		r.Type = AccessPublic
	}
	switch r.Type {
	case AccessPublic:
		return nil
	case AccessERC20, AccessERC721:
		r.ContractAddress = strings.TrimSpace(r.ContractAddress)
		if r.ContractAddress == "" {
			return fmt.Errorf("access rule %s requires a contract address", r.Type)
		}
		if !contractAddressPattern.MatchString(r.ContractAddress) {
			return fmt.Errorf("access rule %s: contract address %q is not 0x followed by 40 hex characters", r.Type, r.ContractAddress)
		}
		r.MinBalance = strings.TrimSpace(r.MinBalance)
		if r.MinBalance == "" {
			r.MinBalance = "1"
		}
		min, ok := new(big.Int).SetString(r.MinBalance, 10)
		if !ok || min.Sign() < 0 {
			return fmt.Errorf("access rule %s: minimum balance %q must be a non-negative integer", r.Type, r.MinBalance)
		}
		return nil
	default:
		return fmt.Errorf("unknown access rule type %q", r.Type)
	}
}

// Track represents an uploaded audio track.
type Track struct {
	ID               int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	Title            string     `json:"title" gorm:"size:255;not null"`
	Artist           string     `json:"artist" gorm:"size:255;not null"`
	UploaderFID      int64      `json:"uploaderFid" gorm:"column:uploader_fid;index:idx_tracks_uploader;not null"`
	UploaderUsername string     `json:"uploaderUsername" gorm:"size:100"`
	CID              string     `json:"cid" gorm:"column:cid;size:128;not null"` // addresses the ciphertext when IsEncrypted
	CoverImageCID    string     `json:"coverImageCid,omitempty" gorm:"column:cover_image_cid;size:128"`
	AccessRule       AccessRule `json:"accessRule" gorm:"embedded;embeddedPrefix:access_"`
	Duration         float64    `json:"duration,omitempty"` // seconds, 0 when unknown
	Genre            string     `json:"genre,omitempty" gorm:"size:64;index:idx_tracks_genre"`
	Description      string     `json:"description,omitempty" gorm:"type:text"`
	IsEncrypted      bool       `json:"isEncrypted" gorm:"not null;default:false"`
	PlayCount        int64      `json:"playCount" gorm:"not null;default:0;index:idx_tracks_plays"`
	SchemaVersion    int        `json:"schemaVersion" gorm:"not null;default:1"`
	UploadedAt       time.Time  `json:"uploadedAt" gorm:"index:idx_tracks_recent"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// PlaybackCID returns the override when set, else the track's own CID.
func (t *Track) PlaybackCID(override string) string {
	if override != "" {
		return override
	}
	return t.CID
}

// TrackPatch holds the mutable metadata fields of a track. Empty fields are
// left untouched.
type TrackPatch struct {
	Title       string `json:"title,omitempty"`
	Artist      string `json:"artist,omitempty"`
	Genre       string `json:"genre,omitempty"`
	Description string `json:"description,omitempty"`
}

// Updates returns the column map for a patch.
func (p TrackPatch) Updates(now time.Time) map[string]interface{} {
	updates := map[string]interface{}{"updated_at": now}
	if p.Title != "" {
		updates["title"] = p.Title
	}
	if p.Artist != "" {
		updates["artist"] = p.Artist
	}
	if p.Genre != "" {
		updates["genre"] = p.Genre
	}
	if p.Description != "" {
		updates["description"] = p.Description
	}
	return updates
}

// MatchesTerm reports whether a lower-cased search term appears in the
// title, artist, description or genre.
func (t *Track) MatchesTerm(term string) bool {
	term = strings.ToLower(term)
	return strings.Contains(strings.ToLower(t.Title), term) ||
		strings.Contains(strings.ToLower(t.Artist), term) ||
		strings.Contains(strings.ToLower(t.Description), term) ||
		strings.Contains(strings.ToLower(t.Genre), term)
}
