package persona

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownPersona is returned when no persona has the requested id.
	ErrUnknownPersona = errors.New("persona not found")
	// ErrCustomPromptRequired is returned when the custom persona is picked
	// without any prompt text.
	ErrCustomPromptRequired = errors.New("customPrompt is required for the custom persona")
)

// Store resolves personas and the system prompt a session should run with.
type Store interface {
	List() []Persona
	FindByID(id string) (Persona, bool)
	Resolve(id, custom string) (Persona, string, error)
}

// MemoryStore keeps the persona catalogue in declaration order with an id
// index for lookups.
type MemoryStore struct {
	items []Persona
	byID  map[string]int
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied personas.
// A later entry with a duplicate id replaces the earlier one in place.
func NewMemoryStore(items []Persona) *MemoryStore {
	s := &MemoryStore{byID: make(map[string]int, len(items))}
	for _, item := range items {
		if i, ok := s.byID[item.ID]; ok {
			s.items[i] = item
			continue
		}
		s.byID[item.ID] = len(s.items)
		s.items = append(s.items, item)
	}
	return s
}

func (s *MemoryStore) List() []Persona {
	return append([]Persona(nil), s.items...)
}

func (s *MemoryStore) FindByID(id string) (Persona, bool) {
	i, ok := s.byID[id]
	if !ok {
		return Persona{}, false
	}
	return s.items[i], true
}

// Resolve picks the persona for id (the default one when id is blank) and
// returns it with its trimmed system prompt. The custom prompt is only read
// for the custom persona and must not be blank there.
func (s *MemoryStore) Resolve(id, custom string) (Persona, string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = DefaultID
	}

	selected, ok := s.FindByID(id)
	if !ok {
		return Persona{}, "", fmt.Errorf("%w: %q", ErrUnknownPersona, id)
	}

	prompt := strings.TrimSpace(selected.ResolvePrompt(custom))
	if prompt == "" && selected.IsCustom() {
		return Persona{}, "", ErrCustomPromptRequired
	}
	return selected, prompt, nil
}
