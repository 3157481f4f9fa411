package utils

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, http.StatusBadRequest, "bad input")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"bad input"}`, rec.Body.String())
}

func TestRespondJSONNilBody(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondJSON(rec, http.StatusNoContent, nil)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestSendSSEEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	SetupSSEHeaders(rec)

	require.NoError(t, SendSSEEvent(rec, rec, "delta", map[string]string{"content": "Hello"}))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "event: delta\ndata: {\"content\":\"Hello\"}\n\n", rec.Body.String())
	assert.True(t, rec.Flushed)
}

func TestDecodeJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"personaId":"pirate"}`))
	var body struct {
		PersonaID string `json:"personaId"`
	}
	require.NoError(t, DecodeJSON(req, &body))
	assert.Equal(t, "pirate", body.PersonaID)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	assert.Error(t, DecodeJSON(req, &body))
}
