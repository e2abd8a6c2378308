package upload

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"soundproof/core/audio"
	"soundproof/core/taco"
	"soundproof/logger"
	"soundproof/model"
)

// MaxFileSize is the largest accepted audio upload.
const MaxFileSize = 100 << 20

// maxCoverSize caps cover art.
const maxCoverSize = 10 << 20

var (
	ErrTooLarge        = errors.New("file too large")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrInvalid         = errors.New("invalid upload")
	ErrSignerRequired  = errors.New("a wallet signature is required to encrypt gated tracks")
)

// File is one uploaded part.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Request describes a track upload.
type Request struct {
	Audio       File
	Cover       *File
	Title       string
	Artist      string
	Genre       string
	Description string
	AccessRule  model.AccessRule

	UploaderFID      int64
	UploaderUsername string
	// Signer is required when AccessRule is gated.
	Signer *taco.Signer
}

// Pinner stores bytes on IPFS.
type Pinner interface {
	Pin(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

// Encrypter is the threshold encryption capability.
type Encrypter interface {
	Encrypt(ctx context.Context, plaintext []byte, condition *taco.Condition, signer *taco.Signer) ([]byte, error)
	ChainID() int
}

// TrackCreator persists the new track.
type TrackCreator interface {
	Create(ctx context.Context, track *model.Track) (int64, error)
}

// FeedInvalidator is told when feeds change.
type FeedInvalidator interface {
	Invalidate(ctx context.Context, ids ...int64)
}

// Service runs the upload pipeline: validate, fill metadata, encrypt when
// gated, pin, create.
type Service struct {
	pinner    Pinner
	encrypter Encrypter
	tracks    TrackCreator
	prober    audio.Prober
	feeds     FeedInvalidator
	maxSize   int
	now       func() time.Time
}

// NewService wires the pipeline. encrypter, prober and feeds may be nil.
func NewService(pinner Pinner, encrypter Encrypter, tracks TrackCreator, prober audio.Prober, feeds FeedInvalidator) *Service {
	return &Service{
		pinner:    pinner,
		encrypter: encrypter,
		tracks:    tracks,
		prober:    prober,
		feeds:     feeds,
		maxSize:   MaxFileSize,
		now:       time.Now,
	}
}

func (s *Service) validate(req *Request) (string, error) {
	if req.UploaderFID <= 0 {
		return "", fmt.Errorf("%w: uploader fid is required", ErrInvalid)
	}
	if len(req.Audio.Data) == 0 {
		return "", fmt.Errorf("%w: audio file is empty", ErrInvalid)
	}
	if len(req.Audio.Data) > s.maxSize {
		return "", fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, len(req.Audio.Data), s.maxSize)
	}
	contentType, ok := audio.ContentType(req.Audio.Name, req.Audio.ContentType)
	if !ok {
		return "", fmt.Errorf("%w: %s (%s)", ErrUnsupportedType, req.Audio.Name, req.Audio.ContentType)
	}
	if req.Cover != nil {
		if len(req.Cover.Data) > maxCoverSize {
			return "", fmt.Errorf("%w: cover exceeds %d bytes", ErrTooLarge, maxCoverSize)
		}
		if !strings.HasPrefix(req.Cover.ContentType, "image/") {
			return "", fmt.Errorf("%w: cover must be an image", ErrUnsupportedType)
		}
	}
	if err := req.AccessRule.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if req.AccessRule.Gated() {
		if req.Signer == nil {
			return "", ErrSignerRequired
		}
		if s.encrypter == nil {
			return "", fmt.Errorf("%w: encryption is not configured", ErrInvalid)
		}
	}
	return contentType, nil
}

// Upload runs the pipeline and returns the created track.
func (s *Service) Upload(ctx context.Context, req Request) (*model.Track, error) {
	contentType, err := s.validate(&req)
	if err != nil {
		return nil, err
	}

	meta := audio.ExtractMetadata(req.Audio.Name, req.Audio.Data)
	title := firstNonEmpty(req.Title, meta.Title)
	artist := firstNonEmpty(req.Artist, meta.Artist)
	genre := firstNonEmpty(req.Genre, meta.Genre)

	var duration float64
	if s.prober != nil {
		d, err := s.prober.ProbeBytes(ctx, req.Audio.Data)
		if err != nil {
			logger.Warn("could not probe duration", logger.String("file", req.Audio.Name), logger.ErrorField(err))
		} else {
			duration = d
		}
	}

	payload := req.Audio.Data
	pinName := req.Audio.Name
	pinType := contentType
	if req.AccessRule.Gated() {
		condition, err := taco.ConditionFor(req.AccessRule, s.encrypter.ChainID())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		payload, err = s.encrypter.Encrypt(ctx, req.Audio.Data, condition, req.Signer)
		if err != nil {
			return nil, fmt.Errorf("encryption failed: %w", err)
		}
		pinName = "encrypted_" + req.Audio.Name
		pinType = "application/octet-stream"
		logger.Info("audio encrypted",
			logger.String("file", req.Audio.Name),
			logger.Int("plaintextBytes", len(req.Audio.Data)),
			logger.Int("ciphertextBytes", len(payload)))
	}

	cid, err := s.pinner.Pin(ctx, pinName, payload, pinType)
	if err != nil {
		return nil, fmt.Errorf("failed to pin audio: %w", err)
	}

	var coverCID string
	if req.Cover != nil && len(req.Cover.Data) > 0 {
		coverCID, err = s.pinner.Pin(ctx, req.Cover.Name, req.Cover.Data, req.Cover.ContentType)
		if err != nil {
			return nil, fmt.Errorf("failed to pin cover: %w", err)
		}
	}

	now := s.now()
	track := &model.Track{
		Title:            title,
		Artist:           artist,
		UploaderFID:      req.UploaderFID,
		UploaderUsername: req.UploaderUsername,
		CID:              cid,
		CoverImageCID:    coverCID,
		AccessRule:       req.AccessRule,
		Duration:         duration,
		Genre:            genre,
		Description:      strings.TrimSpace(req.Description),
		IsEncrypted:      req.AccessRule.Gated(),
		SchemaVersion:    1,
		UploadedAt:       now,
		UpdatedAt:        now,
	}
	id, err := s.tracks.Create(ctx, track)
	if err != nil {
		return nil, fmt.Errorf("failed to create track: %w", err)
	}
	track.ID = id

	if s.feeds != nil {
		s.feeds.Invalidate(ctx)
	}

	logger.Info("track uploaded",
		logger.Int64("trackId", id),
		logger.String("cid", cid),
		logger.Bool("encrypted", track.IsEncrypted),
		logger.Int64("uploaderFid", req.UploaderFID))
	return track, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
