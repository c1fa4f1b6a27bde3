// Package checksum fingerprints note contents and diagram sources so that
// unchanged inputs can be recognised without keeping the old bytes around.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Text is Sum for string contents such as the editor buffer or a diagram
// source.
func Text(s string) string {
	return Sum([]byte(s))
}

// Unchanged reports whether data still hashes to sum. An empty sum never
// matches, so rows without a stored checksum are always refreshed.
func Unchanged(data []byte, sum string) bool {
	return sum != "" && Sum(data) == sum
}
