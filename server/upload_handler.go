package server

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"soundproof/core/taco"
	"soundproof/core/upload"
	"soundproof/logger"
	"soundproof/model"
)

// readPart reads one multipart file, refusing anything beyond limit bytes.
func readPart(file multipart.File, header *multipart.FileHeader, limit int64) (upload.File, error) {
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return upload.File{}, err
	}
	if int64(len(data)) > limit {
		return upload.File{}, fmt.Errorf("%w: %s", upload.ErrTooLarge, header.Filename)
	}
	return upload.File{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// accessRuleFromForm accepts either an accessRule JSON field or the flat
// accessType/contractAddress/minBalance fields.
func accessRuleFromForm(r *http.Request) (model.AccessRule, error) {
	var rule model.AccessRule
	if raw := r.FormValue("accessRule"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &rule); err != nil {
			return rule, fmt.Errorf("%w: accessRule: %v", upload.ErrInvalid, err)
		}
		return rule, nil
	}
	rule.Type = model.AccessType(r.FormValue("accessType"))
	rule.ContractAddress = r.FormValue("contractAddress")
	rule.MinBalance = r.FormValue("minBalance")
	return rule, nil
}

// UploadTrackHandler handles multipart track uploads.
// Form fields:
// - audio: the audio file
// - cover: cover art image (optional)
// - title, artist, genre, description (optional, filled from tags)
// - accessRule: JSON access rule (optional, public by default)
// - signer: JSON wallet signer, required for gated rules
func (h *APIHandler) UploadTrackHandler(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, upload.MaxFileSize+(12<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil { // 32MB max memory
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Failed to parse multipart form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	audioFile, audioHeader, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing 'audio' in form")
		return
	}
	defer audioFile.Close()

	audioPart, err := readPart(audioFile, audioHeader, upload.MaxFileSize)
	if err != nil {
		respondError(w, "[Upload]", err)
		return
	}

	req := upload.Request{
		Audio:            audioPart,
		Title:            r.FormValue("title"),
		Artist:           r.FormValue("artist"),
		Genre:            r.FormValue("genre"),
		Description:      r.FormValue("description"),
		UploaderFID:      claims.FID,
		UploaderUsername: claims.Username,
	}

	coverFile, coverHeader, err := r.FormFile("cover")
	if err == nil {
		defer coverFile.Close()
		cover, err := readPart(coverFile, coverHeader, 10<<20)
		if err != nil {
			respondError(w, "[Upload]", err)
			return
		}
		req.Cover = &cover
	} else if err != http.ErrMissingFile {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Error processing cover file: %v", err))
		return
	}

	if req.AccessRule, err = accessRuleFromForm(r); err != nil {
		respondError(w, "[Upload]", err)
		return
	}
	if raw := r.FormValue("signer"); raw != "" {
		var signer taco.Signer
		if err := json.Unmarshal([]byte(raw), &signer); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid signer")
			return
		}
		req.Signer = &signer
	}

	track, err := h.Uploads.Upload(r.Context(), req)
	if err != nil {
		logger.Warn("[Upload] 上传失败",
			logger.String("file", audioHeader.Filename),
			logger.Int64("fid", claims.FID),
			logger.ErrorField(err))
		respondError(w, "[Upload]", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Track uploaded successfully",
		"trackId": track.ID,
		"track":   track,
	})
}
