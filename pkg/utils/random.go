package utils

import (
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"
)

const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const (
	MinCodeLength = 6
	MaxCodeLength = 16
)

// GenerateShortCode generates a random string of fixed length
func GenerateShortCode(length int) string {
	b := make([]byte, length)
	max := big.NewInt(int64(len(charset)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto/rand unavailable: " + err.Error())
		}
		b[i] = charset[n.Int64()]
	}
	return string(b)
}

// IsValidCode reports whether s could have been produced by GenerateShortCode.
func IsValidCode(s string) bool {
	if len(s) < MinCodeLength || len(s) > MaxCodeLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}

// GenerateID returns a random UUID string.
func GenerateID() string {
	return uuid.NewString()
}
