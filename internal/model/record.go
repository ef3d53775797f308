package model

import (
	"time"
)

// Outcome is the way a turn ended.
type Outcome string

const (
	OutcomeClosed Outcome = "closed"
	OutcomeFailed Outcome = "failed"
)

// TurnRecord summarizes a finished turn for the record stream.
type TurnRecord struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Outcome   Outcome        `json:"outcome"`
	State     string         `json:"state"`
	Reason    string         `json:"reason,omitempty"`
	Prompt    string         `json:"prompt,omitempty"`
	Answer    string         `json:"answer,omitempty"`
	Turns     int            `json:"turns"`
	Endless   bool           `json:"endless"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`

	// Set when read back from the record stream
	Sequence uint64 `json:"sequence,omitempty"`
}

// Duration returns how long the turn ran.
func (r *TurnRecord) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// ListRecordsResponse is a page of turn records.
type ListRecordsResponse struct {
	Records      []TurnRecord `json:"records"`
	HasMore      bool         `json:"has_more"`
	LastSequence uint64       `json:"last_sequence"`
}
