package taco

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"soundproof/config"
	"soundproof/core/auth"
	"soundproof/logger"
)

var (
	// ErrConditionNotMet means the signer does not satisfy the access condition.
	ErrConditionNotMet = errors.New("access condition not satisfied")
	// ErrInvalidSigner means the signer is missing its address, message or signature.
	ErrInvalidSigner = errors.New("invalid signer")
)

// Signer is the listener's wallet proof: an EIP-4361 (SIWE) message and the
// wallet's signature over it.
type Signer struct {
	Address     string `json:"address"`
	SIWEMessage string `json:"siweMessage"`
	Signature   string `json:"signature"`
}

// Validate checks the signer is complete and normalises its address.
func (s *Signer) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: missing", ErrInvalidSigner)
	}
	if strings.TrimSpace(s.SIWEMessage) == "" || strings.TrimSpace(s.Signature) == "" {
		return fmt.Errorf("%w: message and signature are required", ErrInvalidSigner)
	}
	addr, err := auth.ChecksumAddress(s.Address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSigner, err)
	}
	s.Address = addr
	return nil
}

// Client talks to the TACo bridge, a sidecar that runs the threshold
// encrypt/decrypt protocol on the service's behalf.
type Client struct {
	bridgeURL  string
	domain     string
	rpcURL     string
	ritualID   int
	chainID    int
	httpClient *http.Client
}

// NewClient creates a bridge client from config.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		bridgeURL: strings.TrimRight(cfg.TacoBridgeURL, "/"),
		domain:    cfg.TacoDomain,
		rpcURL:    cfg.TacoRPCURL,
		ritualID:  cfg.TacoRitualID,
		chainID:   cfg.TacoChainID,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

// ChainID is the chain conditions are evaluated on.
func (c *Client) ChainID() int {
	return c.chainID
}

// SetHTTPClient replaces the underlying HTTP client.
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

type authContext struct {
	Scheme    string `json:"scheme"`
	Address   string `json:"address"`
	Message   string `json:"typedData"`
	Signature string `json:"signature"`
}

type decryptRequest struct {
	Domain     string                 `json:"domain"`
	RPCURL     string                 `json:"rpcUrl"`
	Ciphertext string                 `json:"ciphertext"`
	Condition  *Condition             `json:"condition,omitempty"`
	Context    map[string]authContext `json:"context"`
}

type encryptRequest struct {
	Domain    string                 `json:"domain"`
	RPCURL    string                 `json:"rpcUrl"`
	RitualID  int                    `json:"ritualId"`
	Plaintext string                 `json:"plaintext"`
	Condition *Condition             `json:"condition"`
	Context   map[string]authContext `json:"context"`
}

type bridgeResponse struct {
	Plaintext  string `json:"plaintext"`
	Ciphertext string `json:"ciphertext"`
	Error      string `json:"error"`
}

func signerContext(s *Signer) map[string]authContext {
	return map[string]authContext{
		UserAddressParam: {
			Scheme:    "EIP4361",
			Address:   s.Address,
			Message:   s.SIWEMessage,
			Signature: s.Signature,
		},
	}
}

// Decrypt recovers plaintext from a threshold message kit.
func (c *Client) Decrypt(ctx context.Context, ciphertext []byte, condition *Condition, signer *Signer) ([]byte, error) {
	if err := signer.Validate(); err != nil {
		return nil, err
	}
	req := decryptRequest{
		Domain:     c.domain,
		RPCURL:     c.rpcURL,
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		Condition:  condition,
		Context:    signerContext(signer),
	}
	resp, err := c.call(ctx, "/decrypt", req)
	if err != nil {
		return nil, err
	}
	plaintext, err := base64.StdEncoding.DecodeString(resp.Plaintext)
	if err != nil {
		return nil, fmt.Errorf("bridge returned malformed plaintext: %w", err)
	}
	logger.Debug("taco decrypt succeeded",
		logger.String("address", signer.Address),
		logger.Int("ciphertextBytes", len(ciphertext)),
		logger.Int("plaintextBytes", len(plaintext)))
	return plaintext, nil
}

// Encrypt produces a threshold message kit bound to condition.
func (c *Client) Encrypt(ctx context.Context, plaintext []byte, condition *Condition, signer *Signer) ([]byte, error) {
	if condition == nil {
		return nil, fmt.Errorf("encrypt requires a condition")
	}
	if err := signer.Validate(); err != nil {
		return nil, err
	}
	req := encryptRequest{
		Domain:    c.domain,
		RPCURL:    c.rpcURL,
		RitualID:  c.ritualID,
		Plaintext: base64.StdEncoding.EncodeToString(plaintext),
		Condition: condition,
		Context:   signerContext(signer),
	}
	resp, err := c.call(ctx, "/encrypt", req)
	if err != nil {
		return nil, err
	}
	ciphertext, err := base64.StdEncoding.DecodeString(resp.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("bridge returned malformed ciphertext: %w", err)
	}
	return ciphertext, nil
}

func (c *Client) call(ctx context.Context, path string, payload interface{}) (*bridgeResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.bridgeURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("taco bridge %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read bridge response: %w", err)
	}

	var out bridgeResponse
	_ = json.Unmarshal(raw, &out)

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s", ErrConditionNotMet, out.Error)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		msg := out.Error
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return nil, fmt.Errorf("taco bridge %s returned %d: %s", path, resp.StatusCode, msg)
	}
	return &out, nil
}
