package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"soundproof/logger"
)

// Gateway resolves and fetches content-addressed payloads.
type Gateway interface {
	URL(cid string) string
	Fetch(ctx context.Context, cid string) ([]byte, error)
}

// Uploader pins bytes to IPFS and returns the CID.
type Uploader interface {
	Upload(ctx context.Context, name string, r io.Reader) (string, error)
}

// ContentStore is the gateway plus pinning, with an optional object mirror
// in front of the gateway.
type ContentStore struct {
	gateway  Gateway
	uploader Uploader
	mirror   ObjectMirror
}

// NewContentStore wires a gateway and uploader. mirror may be nil.
func NewContentStore(gateway Gateway, uploader Uploader, mirror ObjectMirror) *ContentStore {
	return &ContentStore{gateway: gateway, uploader: uploader, mirror: mirror}
}

// URL returns the public gateway URL.
func (s *ContentStore) URL(cid string) string {
	return s.gateway.URL(cid)
}

// Fetch serves from the mirror when possible and writes gateway results
// through to it. Mirror failures never fail the fetch.
func (s *ContentStore) Fetch(ctx context.Context, cid string) ([]byte, error) {
	if s.mirror != nil {
		data, ok, err := s.mirror.Get(ctx, cid)
		if err != nil {
			logger.Warn("mirror read failed, falling back to gateway", logger.String("cid", cid), logger.ErrorField(err))
		} else if ok {
			logger.Debug("mirror hit", logger.String("cid", cid))
			return data, nil
		}
	}

	data, err := s.gateway.Fetch(ctx, cid)
	if err != nil {
		return nil, err
	}

	if s.mirror != nil {
		if err := s.mirror.Put(ctx, cid, data, ""); err != nil {
			logger.Warn("mirror write-through failed", logger.String("cid", cid), logger.ErrorField(err))
		}
	}
	return data, nil
}

// Pin uploads data and mirrors it under the returned CID.
func (s *ContentStore) Pin(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	if s.uploader == nil {
		return "", fmt.Errorf("no uploader configured")
	}
	cid, err := s.uploader.Upload(ctx, name, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	if s.mirror != nil {
		if err := s.mirror.Put(ctx, cid, data, contentType); err != nil {
			logger.Warn("mirror put after pin failed", logger.String("cid", cid), logger.ErrorField(err))
		}
	}
	return cid, nil
}
