package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Minter mints opaque link identifiers safe for use in a URL path segment.
// Identifiers must come from a cryptographically strong source; callers
// still tolerate collisions by reminting, with uniqueness ultimately
// enforced by the database.
type Minter interface {
	Mint() (string, error)
}

// secureMinter produces random URL-safe tokens of a fixed length.
type secureMinter struct {
	length int
}

// NewSecureMinter returns a Minter backed by crypto/rand.
func NewSecureMinter(length int) Minter {
	return secureMinter{length: length}
}

func (m secureMinter) Mint() (string, error) {
	return generateSecureToken(m.length)
}

// generateSecureToken produces a cryptographically secure, URL-safe random string.
func generateSecureToken(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	result := make([]byte, length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", fmt.Errorf("crypto/rand failure: %w", err)
		}
		result[i] = charset[n.Int64()]
	}
	return string(result), nil
}
