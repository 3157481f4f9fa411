package chat

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the supported roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

// Message is one turn of a conversation. Messages are never edited after
// they are appended to a session.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Audio     *Audio    `json:"audio,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Audio carries synthesized or recorded speech attached to a message.
type Audio struct {
	Format string `json:"format"`
	Data   []byte `json:"-"`
}

// DataURI encodes the clip for inline playback in the browser.
func (a *Audio) DataURI() string {
	if a == nil || len(a.Data) == 0 {
		return ""
	}
	format := a.Format
	if format == "" {
		format = "mpeg"
	}
	return "data:audio/" + format + ";base64," + base64.StdEncoding.EncodeToString(a.Data)
}

// MarshalJSON exposes the clip as a playable data URI instead of raw bytes.
func (a *Audio) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Format string `json:"format"`
		URI    string `json:"uri"`
	}{Format: a.Format, URI: a.DataURI()})
}
