// Package otc generates and checks one-time codes used by step-up verification.
package otc

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"math/big"
)

const codeDigits = 6

var codeSpace = big.NewInt(1_000_000)

// GenerateCode returns a uniformly random 6-digit numeric code (e.g. "042917").
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", err
	}
	s := n.String()
	for len(s) < codeDigits {
		s = "0" + s
	}
	return s, nil
}

// HashCode returns a SHA-256 hash of the code, hex-encoded. Only the hash is persisted.
func HashCode(code string) string {
	h := sha256.Sum256([]byte(code))
	return hex.EncodeToString(h[:])
}

// CodeEqual performs constant-time comparison of the provided code's hash with the stored hash.
func CodeEqual(providedCode, storedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashCode(providedCode)), []byte(storedHash)) == 1
}
