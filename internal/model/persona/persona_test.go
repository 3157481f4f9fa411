package persona

import (
	"errors"
	"testing"
)

func TestSeedContainsBuiltins(t *testing.T) {
	store := NewMemoryStore(Seed())
	for _, id := range []string{DefaultID, "pirate", "therapist", "comedian", CustomID} {
		if _, ok := store.FindByID(id); !ok {
			t.Fatalf("persona %q missing from seed", id)
		}
	}
}

func TestResolvePrompt(t *testing.T) {
	store := NewMemoryStore(Seed())

	pirate, _ := store.FindByID("pirate")
	if got := pirate.ResolvePrompt("ignored"); got != pirate.Prompt {
		t.Fatalf("built-in persona should keep its prompt, got %q", got)
	}

	custom, _ := store.FindByID(CustomID)
	if got := custom.ResolvePrompt("You are a poet."); got != "You are a poet." {
		t.Fatalf("custom persona should use the supplied prompt, got %q", got)
	}
}

func TestListReturnsCopy(t *testing.T) {
	store := NewMemoryStore(Seed())
	list := store.List()
	list[0].Prompt = "mutated"

	original, _ := store.FindByID(list[0].ID)
	if original.Prompt == "mutated" {
		t.Fatal("List must not expose the backing slice")
	}
}

func TestResolve(t *testing.T) {
	store := NewMemoryStore(Seed())

	p, prompt, err := store.Resolve("", "ignored")
	if err != nil || p.ID != DefaultID || prompt != "You are a helpful assistant." {
		t.Fatalf("blank id should pick the default persona, got %+v %q %v", p, prompt, err)
	}

	p, prompt, err = store.Resolve(" custom ", "  You are a poet.\n")
	if err != nil || p.ID != CustomID || prompt != "You are a poet." {
		t.Fatalf("custom prompt should be trimmed, got %+v %q %v", p, prompt, err)
	}
}

func TestResolveErrors(t *testing.T) {
	store := NewMemoryStore(Seed())

	if _, _, err := store.Resolve(CustomID, "   "); !errors.Is(err, ErrCustomPromptRequired) {
		t.Fatalf("expected ErrCustomPromptRequired, got %v", err)
	}
	if _, _, err := store.Resolve("wizard", ""); !errors.Is(err, ErrUnknownPersona) {
		t.Fatalf("expected ErrUnknownPersona, got %v", err)
	}
}

func TestNewMemoryStoreReplacesDuplicates(t *testing.T) {
	store := NewMemoryStore([]Persona{
		{ID: DefaultID, Prompt: "first"},
		{ID: "pirate", Prompt: "arr"},
		{ID: DefaultID, Prompt: "second"},
	})

	list := store.List()
	if len(list) != 2 || list[0].ID != DefaultID || list[0].Prompt != "second" {
		t.Fatalf("duplicate should replace in place, got %+v", list)
	}
}
