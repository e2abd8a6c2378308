package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessRuleValidate(t *testing.T) {
	tests := []struct {
		name    string
		rule    AccessRule
		wantErr bool
		want    AccessRule
	}{
		{
			name: "empty type becomes public",
			rule: AccessRule{},
			want: AccessRule{Type: AccessPublic},
		},
		{
			name: "erc20 defaults min balance",
			rule: AccessRule{Type: AccessERC20, ContractAddress: " 0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed "},
			want: AccessRule{Type: AccessERC20, ContractAddress: "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", MinBalance: "1"},
		},
		{
			name:    "contract is not an address",
			rule:    AccessRule{Type: AccessERC20, ContractAddress: "not-an-address", MinBalance: "1"},
			wantErr: true,
		},
		{
			name:    "contract too short",
			rule:    AccessRule{Type: AccessERC721, ContractAddress: "0xabc"},
			wantErr: true,
		},
		{
			name:    "decimal min balance",
			rule:    AccessRule{Type: AccessERC20, ContractAddress: "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", MinBalance: "0.5"},
			wantErr: true,
		},
		{
			name:    "negative min balance",
			rule:    AccessRule{Type: AccessERC20, ContractAddress: "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", MinBalance: "-3"},
			wantErr: true,
		},
		{
			name: "large integer min balance",
			rule: AccessRule{Type: AccessERC20, ContractAddress: "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", MinBalance: "1000000000000000000000"},
			want: AccessRule{Type: AccessERC20, ContractAddress: "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", MinBalance: "1000000000000000000000"},
		},
		{
			name:    "erc721 without contract",
			rule:    AccessRule{Type: AccessERC721},
			wantErr: true,
		},
		{
			name:    "unknown type",
			rule:    AccessRule{Type: "nft"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := tt.rule
			err := rule.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, rule)
		})
	}
}

func TestAccessRuleGated(t *testing.T) {
	assert.False(t, AccessRule{Type: AccessPublic}.Gated())
	assert.True(t, AccessRule{Type: AccessERC20}.Gated())
	assert.True(t, AccessRule{Type: AccessERC721}.Gated())
}

func TestTrackPlaybackCID(t *testing.T) {
	track := &Track{CID: "bafy-own"}
	assert.Equal(t, "bafy-own", track.PlaybackCID(""))
	assert.Equal(t, "bafy-other", track.PlaybackCID("bafy-other"))
}

func TestTrackPatchUpdatesSkipsEmptyFields(t *testing.T) {
	now := time.Unix(1700000000, 0)
	updates := TrackPatch{Title: "New", Genre: "ambient"}.Updates(now)

	assert.Equal(t, map[string]interface{}{
		"updated_at": now,
		"title":      "New",
		"genre":      "ambient",
	}, updates)
}

func TestTrackMatchesTerm(t *testing.T) {
	track := &Track{Title: "Night Drive", Artist: "Kavinsky", Genre: "Synthwave", Description: "outrun"}

	assert.True(t, track.MatchesTerm("night"))
	assert.True(t, track.MatchesTerm("KAVIN"))
	assert.True(t, track.MatchesTerm("synth"))
	assert.True(t, track.MatchesTerm("outrun"))
	assert.False(t, track.MatchesTerm("jazz"))
}

func TestPlayDateOf(t *testing.T) {
	ts := time.Date(2026, 3, 4, 23, 30, 0, 0, time.FixedZone("UTC-2", -2*3600))
	assert.Equal(t, "2026-03-05", PlayDateOf(ts))
}
