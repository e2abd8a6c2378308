package server

import (
	"encoding/json"
	"net/http"

	"soundproof/core/auth"
	"soundproof/logger"
	"soundproof/model"

	"github.com/gorilla/mux"
)

// GetUserHandler 获取用户信息
func (h *APIHandler) GetUserHandler(w http.ResponseWriter, r *http.Request) {
	fid, ok := pathInt64(r, "fid")
	if !ok {
		writeError(w, http.StatusBadRequest, "FID is required")
		return
	}
	user, err := h.Users.GetByFID(r.Context(), fid)
	if err != nil {
		respondError(w, "[GetUser]", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// UserByWalletHandler 通过钱包地址查找用户
func (h *APIHandler) UserByWalletHandler(w http.ResponseWriter, r *http.Request) {
	wallet, err := auth.ChecksumAddress(mux.Vars(r)["address"])
	if err != nil {
		respondError(w, "[UserByWallet]", err)
		return
	}
	user, err := h.Users.GetByWallet(r.Context(), wallet)
	if err != nil {
		respondError(w, "[UserByWallet]", err)
		return
	}

	resp := struct {
		*model.User
		ENSName string `json:"ensName,omitempty"`
	}{User: user}
	if h.Names != nil {
		// ENS 只用于展示，查询失败不影响结果
		name, err := h.Names.LookupAddress(r.Context(), wallet)
		if err != nil {
			logger.Warn("[UserByWallet] ens lookup failed", logger.String("wallet", wallet), logger.ErrorField(err))
		}
		resp.ENSName = name
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListUsersHandler 列出最近加入的用户
func (h *APIHandler) ListUsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := h.Users.List(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		respondError(w, "[ListUsers]", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": users, "count": len(users)})
}

// UpdateUserHandler 保存或更新用户的钱包地址
func (h *APIHandler) UpdateUserHandler(w http.ResponseWriter, r *http.Request) {
	fid, ok := pathInt64(r, "fid")
	if !ok {
		writeError(w, http.StatusBadRequest, "FID is required")
		return
	}
	if !requireOwner(w, r, fid) {
		return
	}

	var req struct {
		WalletAddress string `json:"walletAddress"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "User data is required")
		return
	}

	wallet := ClaimsFromContext(r.Context()).Wallet
	if req.WalletAddress != "" {
		checked, err := auth.ChecksumAddress(req.WalletAddress)
		if err != nil {
			respondError(w, "[UpdateUser]", err)
			return
		}
		wallet = checked
	}

	user, err := h.Users.CreateOrUpdate(r.Context(), fid, wallet)
	if err != nil {
		respondError(w, "[UpdateUser]", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "fid": fid, "user": user})
}

// DeleteUserHandler 删除用户及其歌曲
func (h *APIHandler) DeleteUserHandler(w http.ResponseWriter, r *http.Request) {
	fid, ok := pathInt64(r, "fid")
	if !ok {
		writeError(w, http.StatusBadRequest, "FID is required")
		return
	}
	if !requireOwner(w, r, fid) {
		return
	}

	if err := h.Users.Delete(r.Context(), fid); err != nil {
		respondError(w, "[DeleteUser]", err)
		return
	}
	h.invalidate(r.Context())
	logger.Info("[DeleteUser] 用户已删除", logger.Int64("fid", fid))
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
