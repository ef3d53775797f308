package chunk

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/capitalize-ai/mirror-speech/internal/model"
)

// ErrFragmentTooLarge is returned for fragments whose payload exceeds the
// assembler's bound. The fragment is dropped.
var ErrFragmentTooLarge = errors.New("fragment payload too large")

// Assembler rebuilds one inbound string from its fragments.
type Assembler struct {
	maxLen int

	id       model.MessageID
	bound    bool
	parts    map[uint32]string
	complete bool
}

// NewAssembler creates an assembler accepting payloads of at most maxLen bytes.
func NewAssembler(maxLen int) *Assembler {
	return &Assembler{
		maxLen: maxLen,
		parts:  make(map[uint32]string),
	}
}

// Reset discards any message in progress and starts a new one from f.
func (a *Assembler) Reset(f model.Fragment) error {
	if err := a.check(f); err != nil {
		return err
	}
	a.bind(f.ID)
	a.store(f)
	return nil
}

// Add stores f in the message in progress. A fragment with a different id
// than the bound one starts a new message, as Reset does.
func (a *Assembler) Add(f model.Fragment) error {
	if err := a.check(f); err != nil {
		return err
	}
	if !a.bound || f.ID != a.id {
		a.bind(f.ID)
	}
	a.store(f)
	return nil
}

// Clear unbinds the assembler and drops all parts.
func (a *Assembler) Clear() {
	a.id = model.NoMessageID
	a.bound = false
	a.complete = false
	clear(a.parts)
}

// Complete reports whether a terminal fragment has arrived for the bound id.
func (a *Assembler) Complete() bool {
	return a.complete
}

// Bound reports whether the assembler holds a message.
func (a *Assembler) Bound() bool {
	return a.bound
}

// ID returns the id of the message in progress.
func (a *Assembler) ID() model.MessageID {
	return a.id
}

// String joins the received parts in ascending part order. Its result is
// only meaningful once Complete reports true.
func (a *Assembler) String() string {
	var sb strings.Builder
	for _, idx := range a.indices() {
		sb.WriteString(a.parts[idx])
	}
	return sb.String()
}

// Missing returns the part indices below the highest received one that
// have not arrived.
func (a *Assembler) Missing() []uint32 {
	idx := a.indices()
	if len(idx) == 0 {
		return nil
	}
	var missing []uint32
	for i := uint32(0); i < idx[len(idx)-1]; i++ {
		if _, ok := a.parts[i]; !ok {
			missing = append(missing, i)
		}
	}
	return missing
}

func (a *Assembler) check(f model.Fragment) error {
	if len(f.Payload) > a.maxLen {
		return fmt.Errorf("%w: %d bytes, limit %d (id %s part %d)",
			ErrFragmentTooLarge, len(f.Payload), a.maxLen, f.ID, f.Part)
	}
	return nil
}

func (a *Assembler) bind(id model.MessageID) {
	clear(a.parts)
	a.id = id
	a.bound = true
	a.complete = false
}

func (a *Assembler) store(f model.Fragment) {
	a.parts[f.Part] = f.Payload
	if f.Terminal {
		a.complete = true
	}
}

func (a *Assembler) indices() []uint32 {
	idx := make([]uint32, 0, len(a.parts))
	for i := range a.parts {
		idx = append(idx, i)
	}
	slices.Sort(idx)
	return idx
}
