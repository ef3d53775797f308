// Package prompt produces the question a turn opens with.
package prompt

import (
	"context"
	"errors"
	"strings"
)

// ErrEmptyPrompt is returned when a generator produces no text.
var ErrEmptyPrompt = errors.New("empty prompt")

// Static always returns the same text.
type Static string

// Generate returns s, or ErrEmptyPrompt when s is blank.
func (s Static) Generate(ctx context.Context) (string, error) {
	text := strings.TrimSpace(string(s))
	if text == "" {
		return "", ErrEmptyPrompt
	}
	return text, nil
}
