package common

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sha256Hex is the lowercase hex SHA-256 of data. Used to derive stable keys from raw payloads.
func Sha256Hex(data ...[]byte) string {
	h := sha256.New()
	for i, part := range data {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write(part)
	}
	return hex.EncodeToString(h.Sum(nil))
}
