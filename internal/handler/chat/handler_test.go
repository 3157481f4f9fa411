package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	modelchat "github.com/zhouzirui/ollama-chat/backend/internal/model/chat"
	"github.com/zhouzirui/ollama-chat/backend/internal/model/persona"
	chatservice "github.com/zhouzirui/ollama-chat/backend/internal/service/chat"
)

func setupRouter() (*chi.Mux, *chatservice.Service, persona.Store) {
	chatSvc := chatservice.NewService()
	store := persona.NewMemoryStore(persona.Seed())
	handler := New(chatSvc, store)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, chatSvc, store
}

func doJSON(r http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, target, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestCreateSessionValidPersona(t *testing.T) {
	r, _, _ := setupRouter()

	resp := doJSON(r, http.MethodPost, "/session", map[string]string{"personaId": "pirate"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}

	var session modelchat.Session
	if err := json.Unmarshal(resp.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if session.PersonaID != "pirate" {
		t.Fatalf("expected pirate persona, got %s", session.PersonaID)
	}
	if session.SystemPrompt == "" {
		t.Fatal("expected the persona prompt to be resolved")
	}
}

func TestCreateSessionDefaultsPersona(t *testing.T) {
	r, _, _ := setupRouter()

	resp := doJSON(r, http.MethodPost, "/session", map[string]string{})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}

	var session modelchat.Session
	_ = json.Unmarshal(resp.Body.Bytes(), &session)
	if session.PersonaID != persona.DefaultID {
		t.Fatalf("expected default persona, got %s", session.PersonaID)
	}
}

func TestCreateSessionInvalidPersona(t *testing.T) {
	r, _, _ := setupRouter()

	resp := doJSON(r, http.MethodPost, "/session", map[string]string{"personaId": "non-existent"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestCreateSessionCustomPrompt(t *testing.T) {
	r, _, _ := setupRouter()

	resp := doJSON(r, http.MethodPost, "/session", map[string]string{"personaId": persona.CustomID})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without customPrompt, got %d", resp.Code)
	}

	resp = doJSON(r, http.MethodPost, "/session", map[string]string{
		"personaId":    persona.CustomID,
		"customPrompt": "You only answer in haiku.",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}

	var session modelchat.Session
	_ = json.Unmarshal(resp.Body.Bytes(), &session)
	if session.SystemPrompt != "You only answer in haiku." {
		t.Fatalf("unexpected prompt %q", session.SystemPrompt)
	}
}

func TestCreateSessionMalformedBody(t *testing.T) {
	r, _, _ := setupRouter()

	req := httptest.NewRequest(http.MethodPost, "/session", bytes.NewReader([]byte("{")))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestHistoryAndClear(t *testing.T) {
	r, chatSvc, _ := setupRouter()
	ctx := context.Background()

	session, err := chatSvc.CreateSession(ctx, persona.DefaultID, "You are a helpful assistant.")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	for _, m := range []modelchat.Message{
		{SessionID: session.ID, Role: modelchat.RoleUser, Content: "Hi"},
		{SessionID: session.ID, Role: modelchat.RoleAssistant, Content: "Hello!"},
	} {
		if _, err := chatSvc.AppendMessage(ctx, m); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	resp := doJSON(r, http.MethodGet, "/session/"+session.ID+"/messages", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var history []modelchat.Message
	if err := json.Unmarshal(resp.Body.Bytes(), &history); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if len(history) != 2 || history[0].Content != "Hi" || history[1].Content != "Hello!" {
		t.Fatalf("unexpected history %+v", history)
	}

	resp = doJSON(r, http.MethodDelete, "/session/"+session.ID+"/messages", nil)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}

	remaining, _ := chatSvc.History(ctx, session.ID)
	if len(remaining) != 0 {
		t.Fatalf("expected empty history, got %d", len(remaining))
	}
}

func TestChangePersonaResetsHistory(t *testing.T) {
	r, chatSvc, _ := setupRouter()
	ctx := context.Background()

	session, _ := chatSvc.CreateSession(ctx, persona.DefaultID, "You are a helpful assistant.")
	_, _ = chatSvc.AppendMessage(ctx, modelchat.Message{SessionID: session.ID, Role: modelchat.RoleUser, Content: "Hi"})

	resp := doJSON(r, http.MethodPut, "/session/"+session.ID+"/persona", map[string]string{"personaId": persona.DefaultID})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body struct {
		Session modelchat.Session `json:"session"`
		Reset   bool              `json:"reset"`
	}
	_ = json.Unmarshal(resp.Body.Bytes(), &body)
	if body.Reset {
		t.Fatal("re-selecting the same persona should keep history")
	}

	resp = doJSON(r, http.MethodPut, "/session/"+session.ID+"/persona", map[string]string{"personaId": "comedian"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	_ = json.Unmarshal(resp.Body.Bytes(), &body)
	if !body.Reset || body.Session.PersonaID != "comedian" {
		t.Fatalf("expected reset to comedian, got %+v", body)
	}

	history, _ := chatSvc.History(ctx, session.ID)
	if len(history) != 0 {
		t.Fatalf("expected history reset, got %d", len(history))
	}
}

func TestUnknownSessionReturns404(t *testing.T) {
	r, _, _ := setupRouter()

	cases := []struct {
		method string
		target string
		body   any
	}{
		{http.MethodGet, "/session/missing", nil},
		{http.MethodGet, "/session/missing/messages", nil},
		{http.MethodDelete, "/session/missing/messages", nil},
		{http.MethodPut, "/session/missing/persona", map[string]string{"personaId": "pirate"}},
		{http.MethodDelete, "/session/missing", nil},
	}
	for _, tc := range cases {
		resp := doJSON(r, tc.method, tc.target, tc.body)
		if resp.Code != http.StatusNotFound {
			t.Fatalf("%s %s: expected 404, got %d", tc.method, tc.target, resp.Code)
		}
	}
}

func TestDeleteSession(t *testing.T) {
	r, chatSvc, _ := setupRouter()
	session, _ := chatSvc.CreateSession(context.Background(), persona.DefaultID, "p")

	resp := doJSON(r, http.MethodDelete, "/session/"+session.ID, nil)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	if _, err := chatSvc.GetSession(context.Background(), session.ID); err == nil {
		t.Fatal("expected session to be gone")
	}
}
