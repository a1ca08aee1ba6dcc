// Package random provides cryptographically strong selection helpers.
//
// It uses crypto/rand so draws cannot be predicted or steered by clients.
package random

import (
	crand "crypto/rand"
	"fmt"
	"math/big"
)

// CrockfordAlphabet is Crockford's base32 alphabet, without I, L, O, or U.
const CrockfordAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// Index draws a uniform index in [0, n).
func Index(n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("index bound must be positive, got %d", n)
	}
	value, err := crand.Int(crand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("read random index: %w", err)
	}
	return int(value.Int64()), nil
}

// Code returns a random string of length characters drawn from alphabet.
func Code(alphabet string, length int) (string, error) {
	if alphabet == "" {
		return "", fmt.Errorf("alphabet is required")
	}
	if length <= 0 {
		return "", fmt.Errorf("code length must be positive, got %d", length)
	}
	out := make([]byte, length)
	for i := range out {
		idx, err := Index(len(alphabet))
		if err != nil {
			return "", err
		}
		out[i] = alphabet[idx]
	}
	return string(out), nil
}
