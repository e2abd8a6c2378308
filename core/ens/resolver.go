package ens

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"soundproof/cache"
	"soundproof/logger"

	"golang.org/x/crypto/sha3"
)

// RegistryAddress is the ENS registry on Ethereum mainnet.
const RegistryAddress = "0x00000000000C2E074eC69A0dFb2997BA6C7d2e1e"

var (
	selResolver = selector("resolver(bytes32)")
	selName     = selector("name(bytes32)")
	selAddr     = selector("addr(bytes32)")
)

// RPCError is a JSON-RPC error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Resolver looks up the primary ENS name of a wallet through an Ethereum
// JSON-RPC endpoint.
type Resolver struct {
	rpcURL     string
	registry   string
	httpClient *http.Client
	nextID     atomic.Int64

	store cache.Store
	ttl   time.Duration
}

// NewResolver creates a resolver against rpcURL using the mainnet registry.
func NewResolver(rpcURL string) *Resolver {
	return &Resolver{
		rpcURL:   rpcURL,
		registry: RegistryAddress,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// WithCache caches lookups, including misses, in store.
func (r *Resolver) WithCache(store cache.Store, ttl time.Duration) *Resolver {
	r.store = store
	r.ttl = ttl
	return r
}

// SetHTTPClient replaces the underlying HTTP client.
func (r *Resolver) SetHTTPClient(hc *http.Client) {
	r.httpClient = hc
}

// LookupAddress returns the primary name of address, or "" when it has none.
// A reverse record only counts when the name resolves back to address.
func (r *Resolver) LookupAddress(ctx context.Context, address string) (string, error) {
	raw := strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(address), "0x"), "0X"))
	if len(raw) != 40 {
		return "", fmt.Errorf("invalid address %q", address)
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fmt.Errorf("invalid address %q: %w", address, err)
	}

	key := "soundproof:ens:" + raw
	if r.store != nil {
		var name string
		ok, err := r.store.GetJSON(ctx, key, &name)
		if err != nil {
			logger.Warn("ens cache read failed", logger.String("key", key), logger.ErrorField(err))
		} else if ok {
			return name, nil
		}
	}

	name, err := r.lookup(ctx, raw)
	if err != nil {
		return "", err
	}

	if r.store != nil {
		if err := r.store.SetJSON(ctx, key, name, r.ttl); err != nil {
			logger.Warn("ens cache write failed", logger.String("key", key), logger.ErrorField(err))
		}
	}
	return name, nil
}

func (r *Resolver) lookup(ctx context.Context, raw string) (string, error) {
	reverse := Namehash(raw + ".addr.reverse")
	resolver, err := r.resolverOf(ctx, reverse)
	if err != nil || resolver == "" {
		return "", err
	}
	out, err := r.call(ctx, resolver, selName, reverse)
	if err != nil {
		return "", fmt.Errorf("failed to read reverse record: %w", err)
	}
	name, err := decodeString(out)
	if err != nil || name == "" {
		return "", err
	}

	forward := Namehash(name)
	fwdResolver, err := r.resolverOf(ctx, forward)
	if err != nil || fwdResolver == "" {
		return "", err
	}
	out, err = r.call(ctx, fwdResolver, selAddr, forward)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", name, err)
	}
	if decodeAddress(out) != raw {
		logger.Debug("ens reverse record does not resolve back", logger.String("name", name), logger.String("address", raw))
		return "", nil
	}
	return name, nil
}

// resolverOf returns the resolver contract for node, "" when none is set.
func (r *Resolver) resolverOf(ctx context.Context, node [32]byte) (string, error) {
	out, err := r.call(ctx, r.registry, selResolver, node)
	if err != nil {
		return "", fmt.Errorf("failed to read resolver: %w", err)
	}
	addr := decodeAddress(out)
	if addr == "" || strings.Trim(addr, "0") == "" {
		return "", nil
	}
	return "0x" + addr, nil
}

func (r *Resolver) call(ctx context.Context, to string, sel []byte, node [32]byte) ([]byte, error) {
	data := append(append([]byte{}, sel...), node[:]...)
	payload, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      r.nextID.Add(1),
		"method":  "eth_call",
		"params": []interface{}{
			map[string]string{"to": to, "data": "0x" + hex.EncodeToString(data)},
			"latest",
		},
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.rpcURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("eth_call failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("eth_call status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var rpcResp struct {
		Result string    `json:"result"`
		Error  *RPCError `json:"error"`
	}
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, fmt.Errorf("failed to decode eth_call response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return hex.DecodeString(strings.TrimPrefix(rpcResp.Result, "0x"))
}

// Namehash implements the recursive ENS name hash.
func Namehash(name string) [32]byte {
	var node [32]byte
	if name == "" {
		return node
	}
	labels := strings.Split(strings.ToLower(name), ".")
	for i := len(labels) - 1; i >= 0; i-- {
		h := sha3.NewLegacyKeccak256()
		h.Write(node[:])
		h.Write(keccak([]byte(labels[i])))
		copy(node[:], h.Sum(nil))
	}
	return node
}

func keccak(b []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(b)
	return h.Sum(nil)
}

func selector(sig string) []byte {
	return keccak([]byte(sig))[:4]
}

// decodeAddress returns the lower-case hex of an ABI-encoded address word.
func decodeAddress(out []byte) string {
	if len(out) < 32 {
		return ""
	}
	return hex.EncodeToString(out[12:32])
}

var errShortString = errors.New("abi string out of range")

// decodeString decodes a single ABI-encoded dynamic string return value.
func decodeString(out []byte) (string, error) {
	if len(out) == 0 {
		return "", nil
	}
	if len(out) < 64 {
		return "", errShortString
	}
	offset := new(big.Int).SetBytes(out[:32])
	if !offset.IsInt64() || offset.Int64()+32 > int64(len(out)) {
		return "", errShortString
	}
	start := offset.Int64()
	length := new(big.Int).SetBytes(out[start : start+32])
	if !length.IsInt64() || start+32+length.Int64() > int64(len(out)) {
		return "", errShortString
	}
	return string(out[start+32 : start+32+length.Int64()]), nil
}
