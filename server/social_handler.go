package server

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

// SocialUserHandler proxies a Farcaster profile lookup by fid.
func (h *APIHandler) SocialUserHandler(w http.ResponseWriter, r *http.Request) {
	fid, ok := pathInt64(r, "fid")
	if !ok {
		writeError(w, http.StatusBadRequest, "FID is required")
		return
	}
	user, err := h.Social.GetUserByFID(r.Context(), fid)
	if err != nil {
		respondError(w, "[Social]", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// SocialUsernameHandler looks a profile up by username.
func (h *APIHandler) SocialUsernameHandler(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(mux.Vars(r)["username"])
	if username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}
	user, err := h.Social.GetUserByUsername(r.Context(), username)
	if err != nil {
		respondError(w, "[Social]", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// SocialCastsHandler 获取用户最近的 casts
func (h *APIHandler) SocialCastsHandler(w http.ResponseWriter, r *http.Request) {
	fid, ok := pathInt64(r, "fid")
	if !ok {
		writeError(w, http.StatusBadRequest, "FID is required")
		return
	}
	page, err := h.Social.GetUserCasts(r.Context(), fid, queryInt(r, "limit", 25), r.URL.Query().Get("cursor"))
	if err != nil {
		respondError(w, "[Social]", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// SocialFollowersHandler 获取粉丝列表
func (h *APIHandler) SocialFollowersHandler(w http.ResponseWriter, r *http.Request) {
	fid, ok := pathInt64(r, "fid")
	if !ok {
		writeError(w, http.StatusBadRequest, "FID is required")
		return
	}
	page, err := h.Social.GetFollowers(r.Context(), fid, queryInt(r, "limit", 20), r.URL.Query().Get("cursor"))
	if err != nil {
		respondError(w, "[Social]", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// SocialFollowingHandler 获取关注列表
func (h *APIHandler) SocialFollowingHandler(w http.ResponseWriter, r *http.Request) {
	fid, ok := pathInt64(r, "fid")
	if !ok {
		writeError(w, http.StatusBadRequest, "FID is required")
		return
	}
	page, err := h.Social.GetFollowing(r.Context(), fid, queryInt(r, "limit", 20), r.URL.Query().Get("cursor"))
	if err != nil {
		respondError(w, "[Social]", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}
