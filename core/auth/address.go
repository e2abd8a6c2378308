package auth

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// ErrInvalidAddress wraps every malformed wallet address.
var ErrInvalidAddress = errors.New("invalid wallet address")

// ChecksumAddress validates a 20-byte hex wallet address and returns it in
// EIP-55 mixed-case form.
func ChecksumAddress(addr string) (string, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(addr), "0x"), "0X")
	if len(raw) != 40 {
		return "", fmt.Errorf("%w %q: want 40 hex characters", ErrInvalidAddress, addr)
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fmt.Errorf("%w %q: %v", ErrInvalidAddress, addr, err)
	}

	lower := strings.ToLower(raw)
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	digest := h.Sum(nil)

	out := []byte(lower)
	for i := range out {
		if out[i] < 'a' {
			continue
		}
		nibble := digest[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if nibble&0x0f >= 8 {
			out[i] -= 'a' - 'A'
		}
	}
	return "0x" + string(out), nil
}

// SameAddress compares two addresses case-insensitively.
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// AddressVerified reports whether wallet is among the verified addresses.
func AddressVerified(wallet string, verified []string) bool {
	for _, v := range verified {
		if SameAddress(v, wallet) {
			return true
		}
	}
	return false
}
