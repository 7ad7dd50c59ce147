package internal

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// DeviceFingerprint returns the lowercase hex SHA-256 over parts, each
// preceded by its 8-byte big-endian length. Empty parts are kept so field
// positions stay stable, and no part can bleed into its neighbour.
func DeviceFingerprint(parts ...string) string {
	h := sha256.New()
	var n [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(n[:], uint64(len(p)))
		h.Write(n[:])
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
