package chat

import "time"

// Session captures a transient anonymous conversation.
type Session struct {
	ID           string    `json:"id"`
	PersonaID    string    `json:"personaId"`
	SystemPrompt string    `json:"systemPrompt"`
	CreatedAt    time.Time `json:"createdAt"`
}
