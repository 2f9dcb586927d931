// Package types provides the core data types for conversation memory.
package types

import "encoding/json"

// Role identifies the author of a conversation turn. Roles are
// provider-agnostic; converters map them to vendor-specific formats.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

// SequenceAuto tells the session manager to assign the next sequence index.
const SequenceAuto = -1

// Message is a single immutable turn in a conversation. Sequence is
// strictly increasing within a session, starting at 0.
type Message struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`

	// Raw optionally carries a structured payload (tool calls, multimodal
	// parts) in the provider's original encoding.
	Raw json.RawMessage `json:"raw,omitempty"`

	// Time is the creation timestamp in Unix milliseconds.
	Time     int64 `json:"time"`
	Sequence int   `json:"sequence"`
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	c := m
	if m.Raw != nil {
		c.Raw = make(json.RawMessage, len(m.Raw))
		copy(c.Raw, m.Raw)
	}
	return c
}
