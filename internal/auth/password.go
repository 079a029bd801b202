// Package auth hashes the optional server password. The hash is produced
// once at startup; the handshake only ever sees the opaque comparison.
package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// bcryptCost of 10 keeps the per-handshake comparison cheap enough for a
// game server while staying a real work factor.
const bcryptCost = 10

// HashPassword generates a bcrypt hash of the server password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// ComparePassword checks a handshake-supplied password against the startup
// hash.
func ComparePassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}
