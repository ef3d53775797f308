package middleware

import (
	"errors"
	"strings"
	"unicode"
)

const maxSessionIDLen = 64

// ValidateSessionID checks that id can be used as a single NATS subject token.
func ValidateSessionID(id string) error {
	if id == "" {
		return errors.New("session ID cannot be empty")
	}
	if len(id) > maxSessionIDLen {
		return errors.New("session ID exceeds maximum length")
	}
	if strings.ContainsAny(id, ".*>") {
		return errors.New("session ID must not contain '.', '*' or '>'")
	}
	if strings.IndexFunc(id, func(r rune) bool { return unicode.IsSpace(r) || !unicode.IsPrint(r) }) >= 0 {
		return errors.New("session ID must not contain whitespace or control characters")
	}
	return nil
}
