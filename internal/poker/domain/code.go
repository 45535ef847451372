package domain

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"
)

// SessionCodeLength is the length of a shareable session code.
const SessionCodeLength = 8

// NewSessionCode generates a session code from random bytes encoded as base32.
// Codes are 8 characters, uppercase alphanumeric, with enough entropy (40
// bits) to make collision and guessing both acceptably rare.
func NewSessionCode() (string, error) {
	var raw [5]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw[:]), nil
}

// NormalizeSessionCode trims and uppercases a code for lookup. Codes are
// case-normalized so shared links survive lowercase transcription.
func NormalizeSessionCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
