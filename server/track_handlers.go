package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"soundproof/core/taco"
	"soundproof/logger"
	"soundproof/model"

	"github.com/gorilla/mux"
)

const defaultFeedLimit = 20

// feed serves a track list through the feed cache when one is configured.
func (h *APIHandler) feed(ctx context.Context, name string, load func() ([]*model.Track, error)) ([]*model.Track, error) {
	if h.Feeds == nil {
		return load()
	}
	return h.Feeds.Feed(ctx, name, load)
}

func (h *APIHandler) writeTracks(w http.ResponseWriter, tag string, tracks []*model.Track, err error) {
	if err != nil {
		respondError(w, tag, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tracks": tracks, "count": len(tracks)})
}

// RecentTracksHandler 获取最新上传的歌曲
func (h *APIHandler) RecentTracksHandler(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultFeedLimit)
	exclude := queryInt64(r, "excludeFid")
	tracks, err := h.feed(r.Context(), fmt.Sprintf("recent:%d:%d", limit, exclude), func() ([]*model.Track, error) {
		return h.Tracks.GetRecent(r.Context(), limit, exclude)
	})
	h.writeTracks(w, "[RecentTracks]", tracks, err)
}

// PopularTracksHandler 获取播放最多的歌曲
func (h *APIHandler) PopularTracksHandler(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultFeedLimit)
	exclude := queryInt64(r, "excludeFid")
	tracks, err := h.feed(r.Context(), fmt.Sprintf("popular:%d:%d", limit, exclude), func() ([]*model.Track, error) {
		return h.Tracks.GetPopular(r.Context(), limit, exclude)
	})
	h.writeTracks(w, "[PopularTracks]", tracks, err)
}

// SearchTracksHandler matches ?q= against title, artist, description and genre.
func (h *APIHandler) SearchTracksHandler(w http.ResponseWriter, r *http.Request) {
	term := strings.TrimSpace(r.URL.Query().Get("q"))
	if term == "" {
		writeError(w, http.StatusBadRequest, "Query parameter 'q' is required")
		return
	}
	tracks, err := h.Tracks.Search(r.Context(), term, queryInt(r, "limit", defaultFeedLimit))
	h.writeTracks(w, "[SearchTracks]", tracks, err)
}

// GenreTracksHandler 按流派获取歌曲
func (h *APIHandler) GenreTracksHandler(w http.ResponseWriter, r *http.Request) {
	genre := mux.Vars(r)["genre"]
	limit := queryInt(r, "limit", defaultFeedLimit)
	tracks, err := h.feed(r.Context(), fmt.Sprintf("genre:%s:%d", strings.ToLower(genre), limit), func() ([]*model.Track, error) {
		return h.Tracks.GetByGenre(r.Context(), genre, limit)
	})
	h.writeTracks(w, "[GenreTracks]", tracks, err)
}

func (h *APIHandler) lookupTrack(ctx context.Context, id int64) (*model.Track, error) {
	if h.Feeds != nil {
		if t := h.Feeds.GetTrack(ctx, id); t != nil {
			return t, nil
		}
	}
	track, err := h.Tracks.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if h.Feeds != nil {
		h.Feeds.SetTrack(ctx, track)
	}
	return track, nil
}

// GetTrackHandler 获取单个歌曲
func (h *APIHandler) GetTrackHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid track ID format")
		return
	}
	track, err := h.lookupTrack(r.Context(), id)
	if err != nil {
		respondError(w, "[GetTrack]", err)
		return
	}
	writeJSON(w, http.StatusOK, track)
}

// RecordPlayHandler counts a play started outside a playback session.
func (h *APIHandler) RecordPlayHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid track ID format")
		return
	}
	track, err := h.Tracks.GetByID(r.Context(), id)
	if err != nil {
		respondError(w, "[RecordPlay]", err)
		return
	}

	var listener int64
	if claims := h.optionalClaims(r); claims != nil {
		listener = claims.FID
	}
	if err := h.Plays.RecordPlay(r.Context(), track, listener); err != nil {
		respondError(w, "[RecordPlay]", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "trackId": id})
}

// TrackStatsHandler 返回歌曲最近的每日播放统计
func (h *APIHandler) TrackStatsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid track ID format")
		return
	}
	if h.Stats == nil {
		writeError(w, http.StatusNotFound, "Play statistics are not available")
		return
	}
	track, err := h.Tracks.GetByID(r.Context(), id)
	if err != nil {
		respondError(w, "[TrackStats]", err)
		return
	}
	days := queryInt(r, "days", 30)
	events, err := h.Stats.ForTrack(r.Context(), id, days)
	if err != nil {
		respondError(w, "[TrackStats]", err)
		return
	}

	listeners := make(map[int64]bool)
	var seconds float64
	for _, e := range events {
		if e.ListenerFID > 0 {
			listeners[e.ListenerFID] = true
		}
		seconds += e.TotalDuration
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"trackId":         id,
		"playCount":       track.PlayCount,
		"days":            days,
		"uniqueListeners": len(listeners),
		"listenedSeconds": seconds,
		"events":          events,
	})
}

// UserTracksHandler 获取用户上传的歌曲
func (h *APIHandler) UserTracksHandler(w http.ResponseWriter, r *http.Request) {
	fid, ok := pathInt64(r, "fid")
	if !ok {
		writeError(w, http.StatusBadRequest, "FID is required")
		return
	}
	tracks, err := h.Tracks.GetByUploader(r.Context(), fid)
	h.writeTracks(w, "[UserTracks]", tracks, err)
}

// createTrackRequest registers a track whose payload is already pinned.
type createTrackRequest struct {
	Title         string           `json:"title"`
	Artist        string           `json:"artist"`
	CID           string           `json:"cid"`
	CoverImageCID string           `json:"coverImageCid,omitempty"`
	AccessRule    model.AccessRule `json:"accessRule"`
	Duration      float64          `json:"duration,omitempty"`
	Genre         string           `json:"genre,omitempty"`
	Description   string           `json:"description,omitempty"`
}

// CreateUserTrackHandler 为用户添加已固定到 IPFS 的歌曲
func (h *APIHandler) CreateUserTrackHandler(w http.ResponseWriter, r *http.Request) {
	fid, ok := pathInt64(r, "fid")
	if !ok {
		writeError(w, http.StatusBadRequest, "FID is required")
		return
	}
	if !requireOwner(w, r, fid) {
		return
	}

	var req createTrackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.CID) == "" {
		writeError(w, http.StatusBadRequest, "Track data with title and cid is required")
		return
	}
	if err := req.AccessRule.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// 加密歌曲必须能构造出解密条件，否则每次播放都会失败
	if req.AccessRule.Gated() {
		condition, err := taco.ConditionFor(req.AccessRule, h.ChainID)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.AccessRule.ContractAddress = condition.ContractAddress
	}

	claims := ClaimsFromContext(r.Context())
	track := &model.Track{
		Title:            strings.TrimSpace(req.Title),
		Artist:           strings.TrimSpace(req.Artist),
		UploaderFID:      fid,
		UploaderUsername: claims.Username,
		CID:              strings.TrimSpace(req.CID),
		CoverImageCID:    req.CoverImageCID,
		AccessRule:       req.AccessRule,
		Duration:         req.Duration,
		Genre:            req.Genre,
		Description:      req.Description,
	}
	id, err := h.Tracks.Create(r.Context(), track)
	if err != nil {
		respondError(w, "[CreateTrack]", err)
		return
	}
	h.invalidate(r.Context())

	writeJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "trackId": id, "track": track})
}

type updateTrackRequest struct {
	TrackID int64 `json:"trackId"`
	model.TrackPatch
}

// UpdateUserTrackHandler 更新用户歌曲的元数据
func (h *APIHandler) UpdateUserTrackHandler(w http.ResponseWriter, r *http.Request) {
	fid, ok := pathInt64(r, "fid")
	if !ok {
		writeError(w, http.StatusBadRequest, "FID is required")
		return
	}
	if !requireOwner(w, r, fid) {
		return
	}

	var req updateTrackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.TrackID <= 0 {
		writeError(w, http.StatusBadRequest, "Track ID is required")
		return
	}

	track, err := h.Tracks.Update(r.Context(), req.TrackID, fid, req.TrackPatch)
	if err != nil {
		respondError(w, "[UpdateTrack]", err)
		return
	}
	h.invalidate(r.Context(), req.TrackID)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "trackId": req.TrackID, "track": track})
}

// DeleteUserTrackHandler 删除用户歌曲
func (h *APIHandler) DeleteUserTrackHandler(w http.ResponseWriter, r *http.Request) {
	fid, ok := pathInt64(r, "fid")
	if !ok {
		writeError(w, http.StatusBadRequest, "FID is required")
		return
	}
	if !requireOwner(w, r, fid) {
		return
	}

	var req struct {
		TrackID int64 `json:"trackId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TrackID <= 0 {
		writeError(w, http.StatusBadRequest, "Track ID is required")
		return
	}

	if err := h.Tracks.Delete(r.Context(), req.TrackID, fid); err != nil {
		respondError(w, "[DeleteTrack]", err)
		return
	}
	h.invalidate(r.Context(), req.TrackID)
	logger.Info("[DeleteTrack] 歌曲已删除", logger.Int64("trackId", req.TrackID), logger.Int64("fid", fid))
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (h *APIHandler) invalidate(ctx context.Context, ids ...int64) {
	if h.Feeds != nil {
		h.Feeds.Invalidate(ctx, ids...)
	}
}
