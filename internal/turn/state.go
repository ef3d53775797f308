package turn

import "encoding/json"

// State is the current step of a turn.
type State int

const (
	StateServiceCheck State = iota
	StateAskOutput
	StateAskPerformed
	StateListenInput
	StateRepeatOutput
	StateRepeatPerformed
	StateClose
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateServiceCheck:
		return "service_check"
	case StateAskOutput:
		return "ask_output"
	case StateAskPerformed:
		return "ask_performed"
	case StateListenInput:
		return "listen_input"
	case StateRepeatOutput:
		return "repeat_output"
	case StateRepeatPerformed:
		return "repeat_performed"
	case StateClose:
		return "close"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateClose || s == StateFailed
}

// passive reports whether s only waits for a peer to drive the next transition.
func (s State) passive() bool {
	switch s {
	case StateAskPerformed, StateListenInput, StateRepeatPerformed:
		return true
	default:
		return false
	}
}

// Result is returned by Update to tell the host whether the turn goes on.
type Result int

const (
	InProgress Result = iota
	Done
)

// String returns the string representation of the result.
func (r Result) String() string {
	if r == Done {
		return "done"
	}
	return "in_progress"
}
