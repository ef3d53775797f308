package turn

import (
	"errors"
	"fmt"
	"time"
)

// Reason classifies why a turn failed.
type Reason string

const (
	ReasonServiceUnusable Reason = "service_unusable"
	ReasonServiceTimeout  Reason = "service_timeout"
	ReasonStateTimeout    Reason = "state_timeout"
	ReasonGeneration      Reason = "generation_failed"
)

// ErrDeadlineExceeded is wrapped by timeout failures.
var ErrDeadlineExceeded = errors.New("deadline exceeded")

// Failure is the terminal error of a turn. It is reported by Machine.Err once
// Update has returned Done.
type Failure struct {
	Reason Reason
	State  State
	Err    error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s in %s", f.Reason, f.State)
	}
	return fmt.Sprintf("%s in %s: %v", f.Reason, f.State, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func timeoutError(d time.Duration) error {
	return fmt.Errorf("%w: no reply within %s", ErrDeadlineExceeded, d)
}
