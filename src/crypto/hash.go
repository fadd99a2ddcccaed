package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// SHA256 returns the SHA256 hash of the data.
func SHA256(data []byte) []byte {
	hasher := sha256.New()
	hasher.Write(data)
	hash := hasher.Sum(nil)
	return hash
}

// SHA256Hex returns the hex-encoded SHA256 hash of the concatenated parts.
func SHA256Hex(parts ...[]byte) string {
	hasher := sha256.New()
	for _, p := range parts {
		hasher.Write(p)
	}
	return hex.EncodeToString(hasher.Sum(nil))
}
