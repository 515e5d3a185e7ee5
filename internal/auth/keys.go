// Package auth generates and hashes tenant API keys.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// KeyPrefix marks pipeplane API keys.
const KeyPrefix = "pp_"

const keyBytes = 32

// GenerateKey returns a new random API key: KeyPrefix followed by 32 random bytes in hex.
func GenerateKey() (string, error) {
	b := make([]byte, keyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return KeyPrefix + hex.EncodeToString(b), nil
}

// HashKey returns the hex SHA-256 of the key. Only this hash is persisted.
func HashKey(key string) string {
	hash := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(hash[:])
}
