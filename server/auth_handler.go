package server

import (
	"encoding/json"
	"net/http"

	"soundproof/core/auth"
	"soundproof/logger"
)

// FarcasterAuthHandler signs a user in with a Farcaster identity and a
// verified wallet, and returns a bearer token.
func (h *APIHandler) FarcasterAuthHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.SignInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error("[Login] 解析请求体失败", logger.ErrorField(err))
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.WalletAddress == "" {
		writeError(w, http.StatusBadRequest, "walletAddress is required")
		return
	}

	res, err := h.Auth.SignIn(r.Context(), req)
	if err != nil {
		logger.Warn("[Login] 登录失败",
			logger.String("username", req.Username),
			logger.Int64("fid", req.FID),
			logger.ErrorField(err))
		respondError(w, "[Login]", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Login successful",
		"token":   res.Token,
		"user":    res.User,
	})
}
