package server

import (
	"bytes"
	"net/http"

	"github.com/gorilla/mux"
)

// BlobHandler 提供解密后的临时音频
// Blobs live only while their playback session holds them; a revoked id is
// a 404. Range requests are honoured so the audio element can seek.
func (h *APIHandler) BlobHandler(w http.ResponseWriter, r *http.Request) {
	blob, ok := h.Blobs.Get(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", blob.ContentType)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Accept-Ranges", "bytes")
	http.ServeContent(w, r, "", blob.CreatedAt, bytes.NewReader(blob.Data))
}
