package ens

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"soundproof/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	wallet       = "5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"
	resolverAddr = "4976fb03c32e5b8cfe2b6ccb31c09ba78ebaba41"
)

func word(hexAddr string) string {
	return strings.Repeat("0", 24) + hexAddr
}

func abiString(s string) string {
	out := make([]byte, 64, 96)
	out[31] = 0x20
	out[63] = byte(len(s))
	padded := make([]byte, (len(s)+31)/32*32)
	copy(padded, s)
	return hex.EncodeToString(append(out, padded...))
}

// chain answers eth_call for a registry with one resolver that maps the
// reverse node of wallet to name and name to forward.
type chain struct {
	name     string
	forward  string
	rpcErr   bool
	noResolv bool
	calls    atomic.Int32
}

func (c *chain) serve(t *testing.T) *Resolver {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.calls.Add(1)
		var req struct {
			ID     int64             `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		assert.Equal(t, "eth_call", req.Method)
		var call struct {
			To   string `json:"to"`
			Data string `json:"data"`
		}
		if !assert.NoError(t, json.Unmarshal(req.Params[0], &call)) {
			return
		}

		reply := func(result string) {
			json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": "0x" + result})
		}
		if c.rpcErr {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"jsonrpc": "2.0", "id": req.ID,
				"error": map[string]interface{}{"code": -32000, "message": "execution reverted"},
			})
			return
		}

		sel := call.Data[2:10]
		switch {
		case strings.EqualFold(call.To, RegistryAddress) && sel == hex.EncodeToString(selResolver):
			if c.noResolv {
				reply(word(strings.Repeat("0", 40)))
				return
			}
			reply(word(resolverAddr))
		case call.To == "0x"+resolverAddr && sel == hex.EncodeToString(selName):
			reply(abiString(c.name))
		case call.To == "0x"+resolverAddr && sel == hex.EncodeToString(selAddr):
			reply(word(c.forward))
		default:
			reply("")
		}
	}))
	t.Cleanup(srv.Close)
	return NewResolver(srv.URL)
}

func TestNamehash(t *testing.T) {
	assert.Equal(t, [32]byte{}, Namehash(""))
	eth := Namehash("eth")
	assert.Equal(t, "93cdeb708b7545dc668eb9280176169d1c33cfd8ed6f04690a0bcc88a93fc4ae", hex.EncodeToString(eth[:]))
	foo := Namehash("foo.eth")
	assert.Equal(t, "de9b09fd7c5f901e23a3f19fecc54828e9c848539801e86591bd9801b019f84f", hex.EncodeToString(foo[:]))
}

func TestSelectors(t *testing.T) {
	assert.Equal(t, "0178b8bf", hex.EncodeToString(selResolver))
	assert.Equal(t, "691f3431", hex.EncodeToString(selName))
	assert.Equal(t, "3b3b57de", hex.EncodeToString(selAddr))
}

func TestLookupAddress(t *testing.T) {
	c := &chain{name: "alice.eth", forward: wallet}
	r := c.serve(t).WithCache(cache.NewMemoryStore(), time.Minute)

	name, err := r.LookupAddress(context.Background(), "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	require.NoError(t, err)
	assert.Equal(t, "alice.eth", name)
	calls := c.calls.Load()
	assert.Equal(t, int32(4), calls)

	name, err = r.LookupAddress(context.Background(), "0x5AAEB6053F3E94C9B9A09F33669435E7EF1BEAED")
	require.NoError(t, err)
	assert.Equal(t, "alice.eth", name)
	assert.Equal(t, calls, c.calls.Load(), "second lookup is served from cache")
}

func TestLookupAddressRequiresForwardMatch(t *testing.T) {
	c := &chain{name: "mallory.eth", forward: strings.Repeat("1", 40)}
	name, err := c.serve(t).LookupAddress(context.Background(), "0x"+wallet)
	require.NoError(t, err)
	assert.Empty(t, name, "a reverse record must resolve back to the wallet")
}

func TestLookupAddressWithoutRecord(t *testing.T) {
	c := &chain{noResolv: true}
	r := c.serve(t).WithCache(cache.NewMemoryStore(), time.Minute)

	name, err := r.LookupAddress(context.Background(), "0x"+wallet)
	require.NoError(t, err)
	assert.Empty(t, name)
	assert.Equal(t, int32(1), c.calls.Load())

	_, err = r.LookupAddress(context.Background(), "0x"+wallet)
	require.NoError(t, err)
	assert.Equal(t, int32(1), c.calls.Load(), "misses are cached too")
}

func TestLookupAddressErrors(t *testing.T) {
	c := &chain{rpcErr: true}
	r := c.serve(t)

	_, err := r.LookupAddress(context.Background(), "0x"+wallet)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32000, rpcErr.Code)

	_, err = r.LookupAddress(context.Background(), "0x1234")
	assert.Error(t, err)
	_, err = r.LookupAddress(context.Background(), "0x"+strings.Repeat("zz", 20))
	assert.Error(t, err)
}

func TestDecodeString(t *testing.T) {
	b, _ := hex.DecodeString(abiString("vitalik.eth"))
	s, err := decodeString(b)
	require.NoError(t, err)
	assert.Equal(t, "vitalik.eth", s)

	s, err = decodeString(nil)
	require.NoError(t, err)
	assert.Empty(t, s)

	_, err = decodeString(b[:40])
	assert.Error(t, err)

	bad := append([]byte{}, b...)
	bad[31] = 0xff
	_, err = decodeString(bad)
	assert.Error(t, err)
}
