package persona

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/ollama-chat/backend/internal/model/persona"
)

func newRouter() *chi.Mux {
	r := chi.NewRouter()
	New(persona.NewMemoryStore(persona.Seed())).RegisterRoutes(r)
	return r
}

func TestListPersonas(t *testing.T) {
	r := newRouter()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/personas", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var got []personaView
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if len(got) != len(persona.Seed()) {
		t.Fatalf("expected %d personas, got %d", len(persona.Seed()), len(got))
	}
	if got[0].ID != persona.DefaultID {
		t.Fatalf("expected default persona first, got %s", got[0].ID)
	}

	for _, v := range got {
		if v.RequiresPrompt != (v.ID == persona.CustomID) {
			t.Fatalf("persona %s: requiresPrompt=%v", v.ID, v.RequiresPrompt)
		}
		if v.ID == "pirate" && !v.Speaks {
			t.Fatal("pirate has a voice and should speak")
		}
		if v.ID == persona.DefaultID && v.Speaks {
			t.Fatal("default persona has no voice")
		}
	}
}

func TestGetPersona(t *testing.T) {
	r := newRouter()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/personas/custom", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var got personaView
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if !got.RequiresPrompt || got.Prompt != "" {
		t.Fatalf("custom persona view wrong: %+v", got)
	}
}

func TestGetUnknownPersona(t *testing.T) {
	r := newRouter()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/personas/wizard", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
