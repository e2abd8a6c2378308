package audio

import (
	"bytes"
	"path/filepath"
	"strings"

	"soundproof/logger"

	"github.com/dhowden/tag"
)

// Metadata holds the tag fields used to prefill an upload.
type Metadata struct {
	Title  string
	Artist string
	Album  string
	Genre  string
	Format string
}

// ExtractMetadata reads ID3/FLAC/MP4 tags from data and falls back to the
// filename for a missing title or artist.
func ExtractMetadata(filename string, data []byte) *Metadata {
	meta := &Metadata{}

	m, err := tag.ReadFrom(bytes.NewReader(data))
	if err != nil {
		logger.Debug("no readable tags, using filename", logger.String("file", filename), logger.ErrorField(err))
	} else {
		meta.Title = strings.TrimSpace(m.Title())
		meta.Artist = strings.TrimSpace(m.Artist())
		meta.Album = strings.TrimSpace(m.Album())
		meta.Genre = strings.TrimSpace(m.Genre())
		meta.Format = string(m.FileType())
	}

	if meta.Title == "" || meta.Artist == "" {
		title, artist := metadataFromFilename(filename)
		if meta.Title == "" {
			meta.Title = title
		}
		if meta.Artist == "" {
			meta.Artist = artist
		}
	}
	return meta
}

// metadataFromFilename parses "Artist - Title.ext"; anything else becomes the title.
func metadataFromFilename(filename string) (title, artist string) {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if parts := strings.SplitN(base, " - ", 2); len(parts) == 2 {
		artist = strings.TrimSpace(parts[0])
		title = strings.TrimSpace(parts[1])
	} else {
		title = strings.TrimSpace(base)
	}
	if title == "" {
		title = "Untitled"
	}
	if artist == "" {
		artist = "Unknown Artist"
	}
	return title, artist
}

var allowedAudioTypes = map[string]bool{
	"audio/mpeg":   true,
	"audio/mp3":    true,
	"audio/wav":    true,
	"audio/x-wav":  true,
	"audio/flac":   true,
	"audio/x-flac": true,
	"audio/ogg":    true,
	"audio/aac":    true,
	"audio/mp4":    true,
	"audio/x-m4a":  true,
	"audio/webm":   true,
}

var extContentTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".aac":  "audio/aac",
	".m4a":  "audio/mp4",
	".webm": "audio/webm",
}

// ContentType resolves an audio MIME type from the declared header value or
// the file extension. ok is false for anything that is not audio.
func ContentType(filename, declared string) (string, bool) {
	declared = strings.ToLower(strings.TrimSpace(strings.SplitN(declared, ";", 2)[0]))
	if allowedAudioTypes[declared] {
		return declared, true
	}
	if ct, found := extContentTypes[strings.ToLower(filepath.Ext(filename))]; found {
		return ct, true
	}
	return "", false
}
