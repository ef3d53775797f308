package chunk

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/capitalize-ai/mirror-speech/internal/model"
)

// Splitter cuts outbound strings into fragments of at most MaxLen bytes.
type Splitter struct {
	maxLen int
}

// NewSplitter creates a splitter producing fragments of at most maxLen bytes.
// maxLen must hold at least one UTF-8 encoded rune.
func NewSplitter(maxLen int) (*Splitter, error) {
	if maxLen < utf8.UTFMax {
		return nil, fmt.Errorf("fragment length %d below minimum %d", maxLen, utf8.UTFMax)
	}
	return &Splitter{maxLen: maxLen}, nil
}

// MaxLen returns the fragment size bound in bytes.
func (s *Splitter) MaxLen() int {
	return s.maxLen
}

// Split returns text as fragments tagged with id. Part indices run from 0 in
// emission order and only the last fragment is terminal. An empty text yields
// one empty terminal fragment.
func (s *Splitter) Split(id model.MessageID, text string) []model.Fragment {
	var parts []string
	for len(text) > s.maxLen {
		cut := s.cutIndex(text)
		parts = append(parts, text[:cut])
		text = text[cut:]
	}
	parts = append(parts, text)

	fragments := make([]model.Fragment, len(parts))
	for i, p := range parts {
		fragments[i] = model.Fragment{
			ID:       id,
			Part:     uint32(i),
			Payload:  p,
			Terminal: i == len(parts)-1,
		}
	}
	return fragments
}

// cutIndex returns where the first fragment of text ends. text is longer
// than maxLen. The cut follows the last whitespace inside the window when
// there is one and otherwise falls on the last rune boundary.
func (s *Splitter) cutIndex(text string) int {
	end := s.maxLen
	for end > 0 && !utf8.RuneStart(text[end]) {
		end--
	}
	if end == 0 {
		// Not valid UTF-8; fall back to a byte cut.
		end = s.maxLen
	}

	window := text[:end]
	if i := strings.LastIndexFunc(window, unicode.IsSpace); i > 0 {
		_, size := utf8.DecodeRuneInString(window[i:])
		return i + size
	}
	return end
}
