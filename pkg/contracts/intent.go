// Package contracts defines the three bound artifacts of the authority
// kernel — Intent, ExecutionPayload, Acceptance — plus the Decision output
// and the canonical signing material shared between issuers and verifiers.
package contracts

import "encoding/json"

// Intent is an opaque, semantic description of a proposed action. The kernel
// only reads and hashes it; it is never mutated after submission.
type Intent struct {
	ActorID    string         `json:"actorId"`
	ActionName string         `json:"actionName"`
	Context    map[string]any `json:"context,omitempty"`
}

// Valid reports whether the intent carries its required fields.
func (i *Intent) Valid() bool {
	return i != nil && i.ActorID != "" && i.ActionName != ""
}

// ExecutionPayload is the exact concrete operation that would occur if
// authorized. It is hashed, never interpreted; raw JSON is retained so the
// canonical bytes are computed over what the caller actually sent.
type ExecutionPayload struct {
	Raw json.RawMessage
}

// UnmarshalJSON keeps the payload opaque.
func (p *ExecutionPayload) UnmarshalJSON(data []byte) error {
	p.Raw = append(p.Raw[:0], data...)
	return nil
}

// MarshalJSON round-trips the opaque payload.
func (p ExecutionPayload) MarshalJSON() ([]byte, error) {
	if len(p.Raw) == 0 {
		return []byte("null"), nil
	}
	return p.Raw, nil
}

// Empty reports whether no payload was supplied.
func (p *ExecutionPayload) Empty() bool {
	return p == nil || len(p.Raw) == 0
}
