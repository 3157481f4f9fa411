package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zhouzirui/ollama-chat/backend/internal/model/chat"
)

var (
	ErrPersonaRequired = errors.New("persona id is required")
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidRole     = errors.New("invalid message role")
	// ErrHistoryReset means the history was cleared after the caller read it.
	ErrHistoryReset = errors.New("history was reset")
)

type conversation struct {
	session  chat.Session
	messages []chat.Message
	// epoch increases every time messages is reset.
	epoch uint64
}

func (c *conversation) reset() {
	c.messages = make([]chat.Message, 0, 16)
	c.epoch++
}

// Service holds every live session and its ordered history. A single
// session is driven by one user at a time; the lock only protects the map
// shared by concurrent sessions.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]*conversation
	now      func() time.Time
}

// NewService bootstraps the in-memory session store.
func NewService() *Service {
	return &Service{
		sessions: make(map[string]*conversation),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateSession provisions an anonymous session bound to a persona and its
// resolved system prompt.
func (s *Service) CreateSession(_ context.Context, personaID, systemPrompt string) (chat.Session, error) {
	if personaID == "" {
		return chat.Session{}, ErrPersonaRequired
	}

	session := chat.Session{
		ID:           uuid.NewString(),
		PersonaID:    personaID,
		SystemPrompt: systemPrompt,
		CreatedAt:    s.now(),
	}

	s.mu.Lock()
	s.sessions[session.ID] = &conversation{
		session:  session,
		messages: make([]chat.Message, 0, 16),
	}
	s.mu.Unlock()

	return session, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return conv.session, nil
}

// AppendMessage adds a message to the end of the session history and
// returns the stored copy with its id and timestamp filled in.
func (s *Service) AppendMessage(_ context.Context, message chat.Message) (chat.Message, error) {
	return s.append(message, nil)
}

// AppendIfCurrent appends message only while the history is still the one
// observed at epoch (see Snapshot). A reply produced for a conversation
// that has since been cleared or re-personaed returns ErrHistoryReset.
func (s *Service) AppendIfCurrent(_ context.Context, message chat.Message, epoch uint64) (chat.Message, error) {
	return s.append(message, &epoch)
}

func (s *Service) append(message chat.Message, epoch *uint64) (chat.Message, error) {
	if message.SessionID == "" {
		return chat.Message{}, ErrSessionNotFound
	}
	if !message.Role.Valid() {
		return chat.Message{}, fmt.Errorf("%w: %q", ErrInvalidRole, message.Role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.sessions[message.SessionID]
	if !ok {
		return chat.Message{}, ErrSessionNotFound
	}
	if epoch != nil && *epoch != conv.epoch {
		return chat.Message{}, ErrHistoryReset
	}

	message.ID = uuid.NewString()
	if message.CreatedAt.IsZero() {
		message.CreatedAt = s.now()
	}

	conv.messages = append(conv.messages, message)
	return message, nil
}

// History returns the stored messages of a session in conversation order.
// The slice is a copy; callers may not mutate the store through it.
func (s *Service) History(ctx context.Context, sessionID string) ([]chat.Message, error) {
	messages, _, err := s.Snapshot(ctx, sessionID)
	return messages, err
}

// Snapshot is History plus the epoch it was read at.
func (s *Service) Snapshot(_ context.Context, sessionID string) ([]chat.Message, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.sessions[sessionID]
	if !ok {
		return nil, 0, ErrSessionNotFound
	}

	copied := make([]chat.Message, len(conv.messages))
	copy(copied, conv.messages)
	return copied, conv.epoch, nil
}

// ClearHistory empties the message sequence but keeps the session.
func (s *Service) ClearHistory(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	conv.reset()
	return nil
}

// ChangePersona rebinds the session to another persona. The history is
// reset whenever the effective system prompt changes, since the earlier
// turns were produced under a different persona.
func (s *Service) ChangePersona(_ context.Context, sessionID, personaID, systemPrompt string) (chat.Session, bool, error) {
	if personaID == "" {
		return chat.Session{}, false, ErrPersonaRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, false, ErrSessionNotFound
	}

	reset := conv.session.SystemPrompt != systemPrompt
	conv.session.PersonaID = personaID
	conv.session.SystemPrompt = systemPrompt
	if reset {
		conv.reset()
	}
	return conv.session, reset, nil
}

// DeleteSession drops a session and its history.
func (s *Service) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	return nil
}
