package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"soundproof/cache"
	"soundproof/core/auth"
	"soundproof/core/neynar"
	"soundproof/core/playback"
	"soundproof/core/taco"
	"soundproof/core/upload"
	"soundproof/logger"
	"soundproof/model"
	"soundproof/repository"

	"github.com/gorilla/mux"
)

type contextKey string

const claimsKey contextKey = "claims"

// SocialGraph is the read-only Farcaster surface the API exposes.
type SocialGraph interface {
	GetUserByFID(ctx context.Context, fid int64) (*neynar.User, error)
	GetUserByUsername(ctx context.Context, username string) (*neynar.User, error)
	GetUserCasts(ctx context.Context, fid int64, limit int, cursor string) (*neynar.Page[neynar.Cast], error)
	GetFollowers(ctx context.Context, fid int64, limit int, cursor string) (*neynar.Page[neynar.Follow], error)
	GetFollowing(ctx context.Context, fid int64, limit int, cursor string) (*neynar.Page[neynar.Follow], error)
	HealthCheck(ctx context.Context) bool
}

// Uploader runs the upload pipeline.
type Uploader interface {
	Upload(ctx context.Context, req upload.Request) (*model.Track, error)
}

// NameLookup resolves a wallet's primary ENS name; "" means none.
type NameLookup interface {
	LookupAddress(ctx context.Context, address string) (string, error)
}

// PlayStats reads the daily play aggregates of a track.
type PlayStats interface {
	ForTrack(ctx context.Context, trackID int64, days int) ([]*model.PlayEvent, error)
}

// Deps 汇总 API 需要的所有依赖
type Deps struct {
	Tracks  repository.TrackRepository
	Users   repository.UserRepository
	Feeds   *cache.TrackCache // nil disables feed caching
	Auth    *auth.Service
	Social  SocialGraph
	Uploads Uploader
	Plays   playback.PlayRecorder
	Stats   PlayStats  // nil disables /api/tracks/{id}/stats
	Names   NameLookup // nil leaves ensName out of wallet lookups
	Blobs   *playback.BlobStore

	// playback sessions
	Gateway     playback.Gateway
	Decrypter   playback.Decrypter
	Elements    playback.ElementFactory
	ChainID     int
	LoadTimeout time.Duration

	// PingDB reports database health; nil skips the check.
	PingDB func(ctx context.Context) error
}

// APIHandler 处理所有API请求
type APIHandler struct {
	Deps
}

// NewAPIHandler 创建新的API处理器
func NewAPIHandler(deps Deps) *APIHandler {
	if deps.Blobs == nil {
		deps.Blobs = playback.NewBlobStore("")
	}
	return &APIHandler{Deps: deps}
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response", logger.ErrorField(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, auth.ErrUserNotFound),
		errors.Is(err, neynar.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrForbidden),
		errors.Is(err, auth.ErrWalletNotVerified),
		errors.Is(err, taco.ErrConditionNotMet):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, upload.ErrSignerRequired):
		return http.StatusUnauthorized
	case errors.Is(err, upload.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, upload.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, upload.ErrInvalid),
		errors.Is(err, auth.ErrInvalidAddress),
		errors.Is(err, auth.ErrIdentityRequired),
		errors.Is(err, taco.ErrInvalidSigner):
		return http.StatusBadRequest
	}
	var apiErr *neynar.APIError
	if errors.As(err, &apiErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respondError logs server-side failures and writes the mapped status.
func respondError(w http.ResponseWriter, tag string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error(tag+" request failed", logger.ErrorField(err))
		if status == http.StatusInternalServerError {
			writeError(w, status, "Internal server error")
			return
		}
	} else {
		logger.Debug(tag+" request rejected", logger.Int("status", status), logger.ErrorField(err))
	}
	writeError(w, status, err.Error())
}

// AuthMiddleware is a middleware function that checks for a valid JWT token
func (h *APIHandler) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header is required")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeError(w, http.StatusUnauthorized, "Invalid authorization header format")
			return
		}

		claims, err := h.Auth.Tokens().ParseToken(parts[1])
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// optionalClaims parses a bearer token when present and ignores it otherwise.
func (h *APIHandler) optionalClaims(r *http.Request) *auth.Claims {
	if c := ClaimsFromContext(r.Context()); c != nil {
		return c
	}
	if h.Auth == nil {
		return nil
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		// browsers cannot set headers on a websocket upgrade
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return nil
	}
	claims, err := h.Auth.Tokens().ParseToken(token)
	if err != nil {
		return nil
	}
	return claims
}

// ClaimsFromContext returns the signed-in user, or nil.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey).(*auth.Claims)
	return claims
}

// requireOwner checks that the caller is the fid named in the path.
func requireOwner(w http.ResponseWriter, r *http.Request, fid int64) bool {
	claims := ClaimsFromContext(r.Context())
	if claims == nil || claims.FID != fid {
		writeError(w, http.StatusForbidden, "You can only modify your own data")
		return false
	}
	return true
}

func pathInt64(r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

func queryInt(r *http.Request, name string, fallback int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(name)); err == nil && v > 0 {
		return v
	}
	return fallback
}

func queryInt64(r *http.Request, name string) int64 {
	v, _ := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	return v
}

// HealthHandler reports dependency health.
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]bool{}
	healthy := true
	if h.PingDB != nil {
		ok := h.PingDB(ctx) == nil
		checks["database"] = ok
		healthy = healthy && ok
	}
	if h.Social != nil {
		// Neynar being down degrades social routes only.
		checks["neynar"] = h.Social.HealthCheck(ctx)
	}

	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status":      status,
		"checks":      checks,
		"activeBlobs": h.Blobs.Len(),
		"time":        time.Now().UTC(),
	})
}
