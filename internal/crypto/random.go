// Package crypto provides cryptographic utilities.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// MinTokenBytes is the smallest token entropy accepted by GenerateToken.
const MinTokenBytes = 16

// DefaultTokenBytes is the entropy of session and exchange tokens.
const DefaultTokenBytes = 32

// GenerateRandomBytes generates n cryptographically secure random bytes.
func GenerateRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// GenerateToken generates an opaque bearer token from byteLength random bytes.
// The result is unpadded URL-safe base64, so it can travel in a query string
// or custom URI without escaping.
func GenerateToken(byteLength int) (string, error) {
	if byteLength < MinTokenBytes {
		return "", fmt.Errorf("token length %d is below the minimum of %d bytes", byteLength, MinTokenBytes)
	}
	b, err := GenerateRandomBytes(byteLength)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// IsWellFormedToken reports whether s could have been produced by
// GenerateToken. It lets callers reject garbage before a store lookup.
func IsWellFormedToken(s string) bool {
	if len(s) < base64.RawURLEncoding.EncodedLen(MinTokenBytes) || len(s) > 512 {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(s)
	return err == nil
}
