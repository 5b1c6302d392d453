package security

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKey expands a configured secret into an independent key per purpose,
// so one leaked derived key does not expose the others.
func DeriveKey(secret, purpose string, size int) ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("derive %s key: empty secret", purpose)
	}
	if size <= 0 {
		size = 32
	}
	out := make([]byte, size)
	r := hkdf.New(sha256.New, []byte(secret), []byte("request-guard"), []byte(purpose))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", purpose, err)
	}
	return out, nil
}
