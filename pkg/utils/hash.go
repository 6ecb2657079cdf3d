package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash fingerprints a feed body so unchanged downloads can be skipped.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func ShortHash(hash string) string {
	if len(hash) <= 12 {
		return hash
	}
	return hash[:12]
}
