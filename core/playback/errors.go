package playback

import "errors"

var (
	// ErrAuthRequired means an encrypted track was requested without a signer.
	ErrAuthRequired = errors.New("authentication required")
	// ErrNetwork means the gateway fetch failed or returned non-2xx.
	ErrNetwork = errors.New("network error")
	// ErrDecryption means the condition was not satisfied or the decryption
	// service failed.
	ErrDecryption = errors.New("decryption failed")
	// ErrNotFound means the requested track id does not exist.
	ErrNotFound = errors.New("track not found")
	// ErrSuperseded is returned to a load that a newer PlayTrack replaced.
	ErrSuperseded = errors.New("load superseded by a newer selection")
	// ErrClosed is returned after the session has been closed.
	ErrClosed = errors.New("playback session closed")
)

// Kind classifies a notification for the client.
type Kind string

const (
	KindAuthRequired Kind = "auth_required"
	KindNetwork      Kind = "network"
	KindDecryption   Kind = "decryption"
	KindNotFound     Kind = "not_found"
	KindInfo         Kind = "info"
)

// Level 通知级别
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is a transient user-facing message.
type Notification struct {
	Level       Level  `json:"level"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Kind        Kind   `json:"kind"`
}

// notificationFor maps a load failure to what the listener sees.
func notificationFor(err error) Notification {
	switch {
	case errors.Is(err, ErrAuthRequired):
		return Notification{
			Level:       LevelError,
			Title:       "Authentication required",
			Description: "Please reconnect your wallet to decrypt this track",
			Kind:        KindAuthRequired,
		}
	case errors.Is(err, ErrNotFound):
		return Notification{
			Level:       LevelError,
			Title:       "Track not found",
			Description: err.Error(),
			Kind:        KindNotFound,
		}
	case errors.Is(err, ErrDecryption):
		return Notification{
			Level:       LevelError,
			Title:       "Failed to decrypt track",
			Description: "Make sure your wallet meets the access requirements for this track",
			Kind:        KindDecryption,
		}
	default:
		return Notification{
			Level:       LevelError,
			Title:       "Failed to load track",
			Description: err.Error(),
			Kind:        KindNetwork,
		}
	}
}
