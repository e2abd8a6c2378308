package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"soundproof/config"
	"soundproof/logger"
)

// MaxFetchSize caps how much of a gateway payload is read into memory.
const MaxFetchSize = 200 << 20

// StatusError is returned when the gateway or pinning node answers with a
// non-2xx status.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.Status, e.Body)
	}
	return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Status)
}

// Lighthouse talks to the Lighthouse pinning node and its IPFS gateway.
type Lighthouse struct {
	apiKey     string
	nodeURL    string
	gatewayURL string
	httpClient *http.Client
}

// NewLighthouse creates a client from config.
func NewLighthouse(cfg *config.Config) *Lighthouse {
	return &Lighthouse{
		apiKey:     cfg.LighthouseAPIKey,
		nodeURL:    strings.TrimRight(cfg.LighthouseNodeURL, "/"),
		gatewayURL: strings.TrimRight(cfg.IPFSGatewayURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// SetHTTPClient replaces the underlying HTTP client.
func (l *Lighthouse) SetHTTPClient(c *http.Client) {
	l.httpClient = c
}

// URL returns the gateway URL for a content id.
func (l *Lighthouse) URL(cid string) string {
	return fmt.Sprintf("%s/%s", l.gatewayURL, cid)
}

// Fetch downloads the payload behind cid.
func (l *Lighthouse) Fetch(ctx context.Context, cid string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.URL(cid), nil)
	if err != nil {
		return nil, fmt.Errorf("build gateway request: %w", err)
	}

	start := time.Now()
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway fetch %s: %w", cid, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Op: "gateway fetch " + cid, Status: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxFetchSize+1))
	if err != nil {
		return nil, fmt.Errorf("read gateway body %s: %w", cid, err)
	}
	if len(data) > MaxFetchSize {
		return nil, fmt.Errorf("gateway payload %s exceeds %d bytes", cid, MaxFetchSize)
	}

	logger.Debug("gateway fetch complete",
		logger.String("cid", cid),
		logger.Int("bytes", len(data)),
		logger.Duration("took", time.Since(start)))
	return data, nil
}

// Exists reports whether the gateway serves cid.
func (l *Lighthouse) Exists(ctx context.Context, cid string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, l.URL(cid), nil)
	if err != nil {
		return false
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode <= 299
}

// Upload pins r under name and returns its CID.
func (l *Lighthouse) Upload(ctx context.Context, name string, r io.Reader) (string, error) {
	if l.apiKey == "" {
		return "", fmt.Errorf("lighthouse API key not configured (LIGHTHOUSE_API_KEY)")
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", name)
		if err == nil {
			_, err = io.Copy(part, r)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.nodeURL+"/api/v0/add", pr)
	if err != nil {
		pr.Close()
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+l.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("lighthouse upload %s: %w", name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read upload response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{Op: "lighthouse upload " + name, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	cid, err := parseAddResponse(body)
	if err != nil {
		logger.Error("unexpected lighthouse response", logger.String("body", string(body)))
		return "", err
	}
	logger.Info("file pinned", logger.String("name", name), logger.String("cid", cid))
	return cid, nil
}

// parseAddResponse accepts {"Hash": ...}, {"data": {"Hash": ...}} or a bare
// JSON string.
func parseAddResponse(body []byte) (string, error) {
	body = bytes.TrimSpace(body)

	var direct struct {
		Hash string `json:"Hash"`
		Data struct {
			Hash string `json:"Hash"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &direct); err == nil {
		if direct.Hash != "" {
			return direct.Hash, nil
		}
		if direct.Data.Hash != "" {
			return direct.Data.Hash, nil
		}
	}

	var bare string
	if err := json.Unmarshal(body, &bare); err == nil && bare != "" {
		return bare, nil
	}
	return "", fmt.Errorf("invalid response structure from Lighthouse")
}
