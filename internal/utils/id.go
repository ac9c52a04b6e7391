package utils

import (
	crand "crypto/rand"
	"math/big"
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"
)

const (
	gameIDLength = 6
	gameIDChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// NewID returns a unique identifier for players, sessions and events.
func NewID() string {
	return uuid.NewString()
}

// NewGameID returns a short uppercase alphanumeric game code.
func NewGameID() string {
	code := make([]byte, gameIDLength)
	limit := big.NewInt(int64(len(gameIDChars)))
	for i := range code {
		n, err := crand.Int(crand.Reader, limit)
		if err != nil {
			// Fallback to math/rand if crypto/rand is unavailable.
			code[i] = gameIDChars[rand.IntN(len(gameIDChars))]
			continue
		}
		code[i] = gameIDChars[n.Int64()]
	}
	return string(code)
}

// IsGameID reports whether s has the shape of a game code.
func IsGameID(s string) bool {
	if len(s) != gameIDLength {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune(gameIDChars, r) {
			return false
		}
	}
	return true
}
