package model

import "strconv"

// MessageID correlates the fragments of one message, or an output with
// its acknowledgment.
type MessageID uint32

// NoMessageID is never assigned to an outbound message.
const NoMessageID MessageID = 0

// String returns the decimal form of the id.
func (id MessageID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Fragment is one bounded piece of a longer string.
type Fragment struct {
	ID       MessageID `json:"id"`
	Part     uint32    `json:"part"`
	Payload  string    `json:"payload"`
	Terminal bool      `json:"terminal"`
}
