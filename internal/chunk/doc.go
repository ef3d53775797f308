// Package chunk implements the chunked string protocol spoken with the speech
// services.
//
// A string longer than the transport's buffer travels as a sequence of
// fragments sharing one MessageID. Fragments carry a part index and the last
// one carries a terminal marker. The Splitter produces such a sequence for
// outbound strings; the Assembler rebuilds inbound ones.
//
// # Completion policy
//
// The Assembler reports completion as soon as a terminal fragment for the
// bound id arrives, even when lower part indices are still missing. Peers
// rely on this looser behaviour, so it is kept; Missing reports the gaps so
// callers can log an incomplete answer.
//
// # Id rebinding
//
// A fragment bearing a different id than the bound one starts a new message.
// Unfinished state for the old id is dropped without error.
package chunk
