package phi

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

const (
	// KeySize is the AES-256 master key length in bytes.
	KeySize = 32
	// DefaultKeyEnv is the environment variable read by KeyFromEnv when no name is given.
	DefaultKeyEnv = "PHI_ENCRYPTION_KEY"
)

// ParseKey decodes a 64-character hex key. Anything else is ErrKeyConfiguration.
func ParseKey(hexKey string) ([]byte, error) {
	hexKey = strings.TrimSpace(hexKey)
	if hexKey == "" {
		return nil, fmt.Errorf("%w: key is empty", ErrKeyConfiguration)
	}
	if len(hexKey) != KeySize*2 {
		return nil, fmt.Errorf("%w: expected %d hex characters, got %d", ErrKeyConfiguration, KeySize*2, len(hexKey))
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: key is not hex", ErrKeyConfiguration)
	}
	return key, nil
}

// KeyFromEnv reads and validates the hex key stored in the named environment variable.
func KeyFromEnv(name string) ([]byte, error) {
	if name == "" {
		name = DefaultKeyEnv
	}
	raw, ok := os.LookupEnv(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not set", ErrKeyConfiguration, name)
	}
	return ParseKey(raw)
}

// GenerateKey returns a fresh random key in the hex form accepted by ParseKey.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}
