package types

// Metadata keys the session manager writes on derived sessions.
const (
	MetaParentSession = "parent_session_id"
	MetaBranchPoint   = "branch_point"
	MetaContext       = "context"
)

// SessionRecord is the stored representation of one conversation: metadata
// plus the ordered message history. Records are owned by the session
// manager's cache; callers receive defensive copies and never share the
// underlying slices or maps.
type SessionRecord struct {
	ID         string            `json:"id"`
	UserID     string            `json:"userID"`
	ClientType string            `json:"clientType"`
	Tags       []string          `json:"tags,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Time       SessionTime       `json:"time"`
	Messages   []Message         `json:"messages"`
}

// SessionTime contains timestamps for a session in Unix milliseconds.
type SessionTime struct {
	Created  int64 `json:"created"`
	Accessed int64 `json:"accessed"`
}

// Clone returns a deep copy of the record safe for independent mutation.
func (r *SessionRecord) Clone() *SessionRecord {
	c := &SessionRecord{
		ID:         r.ID,
		UserID:     r.UserID,
		ClientType: r.ClientType,
		Time:       r.Time,
	}
	if r.Tags != nil {
		c.Tags = make([]string, len(r.Tags))
		copy(c.Tags, r.Tags)
	}
	if r.Metadata != nil {
		c.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	if r.Messages != nil {
		c.Messages = make([]Message, len(r.Messages))
		for i, m := range r.Messages {
			c.Messages[i] = m.Clone()
		}
	}
	return c
}

// SessionStats is a read-only snapshot of a session's shape.
type SessionStats struct {
	SessionID    string `json:"sessionID"`
	MessageCount int    `json:"messageCount"`
	Created      int64  `json:"created"`
	Accessed     int64  `json:"accessed"`
	SizeEstimate int64  `json:"sizeEstimate"`
}
