package internal

import "time"

type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type ChatHistory struct {
	SessionID string    `json:"session_id"`
	Messages  []Message `json:"messages"`
}

type SendMessageRequest struct {
	Content string `json:"content"`
}

type SendMessageResponse struct {
	Reply     Message  `json:"reply"`
	Tag       string   `json:"tag,omitempty"`
	Proactive *Message `json:"proactive,omitempty"`
	Model     string   `json:"model"`
}

// --- Session archive ---

// ArchivedSession is an immutable snapshot of a transcript taken when the
// user saved or refreshed the chat.
type ArchivedSession struct {
	Name     string    `json:"name"`
	SavedAt  time.Time `json:"saved_at"`
	Messages []Message `json:"messages"`
}

// Clone returns a deep copy so callers never share the message slice.
func (a ArchivedSession) Clone() ArchivedSession {
	msgs := make([]Message, len(a.Messages))
	copy(msgs, a.Messages)
	a.Messages = msgs
	return a
}

type SessionList struct {
	SessionID string            `json:"session_id"`
	Sessions  []ArchivedSession `json:"sessions"`
}

type QuickQuestionsResponse struct {
	Questions []string `json:"questions"`
}

// CloneMessages copies a message slice. A nil input yields an empty slice.
func CloneMessages(in []Message) []Message {
	out := make([]Message, len(in))
	copy(out, in)
	return out
}

// --- Websocket frames ---

type WSIncoming struct {
	// Type is one of "message", "reset", "restore", "question".
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Index   int    `json:"index,omitempty"`
}

type WSResponse struct {
	Type      string           `json:"type"`
	SessionID string           `json:"session_id,omitempty"`
	Reply     *Message         `json:"reply,omitempty"`
	Tag       string           `json:"tag,omitempty"`
	Proactive *Message         `json:"proactive,omitempty"`
	Messages  []Message        `json:"messages,omitempty"`
	Archived  *ArchivedSession `json:"archived,omitempty"`
	Error     string           `json:"error,omitempty"`
}
