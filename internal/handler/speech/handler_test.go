package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/ollama-chat/backend/internal/model/persona"
	speechmodel "github.com/zhouzirui/ollama-chat/backend/internal/model/speech"
	chatservice "github.com/zhouzirui/ollama-chat/backend/internal/service/chat"
	speechsvc "github.com/zhouzirui/ollama-chat/backend/internal/service/speech"
)

type fakeSpeechService struct {
	transcribeErr error
	synthErr      error

	asr   *speechmodel.ASRRequest
	audio []byte
	tts   *speechmodel.TTSRequest
}

func (f *fakeSpeechService) TranscribeAudio(_ context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error) {
	f.asr = req
	f.audio, _ = io.ReadAll(req.AudioData)
	if f.transcribeErr != nil {
		return nil, f.transcribeErr
	}
	return &speechmodel.ASRResponse{SessionID: req.SessionID, Text: "hello there"}, nil
}

func (f *fakeSpeechService) SynthesizeSpeech(_ context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	f.tts = req
	if f.synthErr != nil {
		return nil, f.synthErr
	}
	return &speechmodel.TTSResponse{SessionID: req.SessionID, AudioData: []byte("abc"), Format: "mp3"}, nil
}

func (f *fakeSpeechService) Enabled() bool { return true }

func (f *fakeSpeechService) Health() map[string]any {
	return map[string]any{"enabled": true, "transcoder": false}
}

func newRouter(svc SpeechService, chatSvc *chatservice.Service) *chi.Mux {
	r := chi.NewRouter()
	New(svc, chatSvc, persona.NewMemoryStore(persona.Seed()), zerolog.Nop()).RegisterRoutes(r)
	return r
}

func uploadRequest(t *testing.T, target, filename, contentType string, audio []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename="%s"`, filename))
	h.Set("Content-Type", contentType)
	part, err := writer.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(audio)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestTranscribeWithSession(t *testing.T) {
	svc := &fakeSpeechService{}
	r := newRouter(svc, nil)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, uploadRequest(t, "/speech/transcribe/session-1", "clip", "audio/webm;codecs=opus", []byte("audio")))

	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, svc.asr)
	assert.Equal(t, "session-1", svc.asr.SessionID)
	assert.Equal(t, "webm", svc.asr.Format)
	assert.Equal(t, []byte("audio"), svc.audio)

	var resp speechmodel.ASRResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "hello there", resp.Text)
}

func TestTranscribeRequiresAudio(t *testing.T) {
	r := newRouter(&fakeSpeechService{}, nil)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	require.NoError(t, writer.WriteField("sessionId", "x"))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/speech/transcribe", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestTranscribeErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{speechsvc.ErrUnintelligible, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: dial ASR: refused", speechsvc.ErrUnreachable), http.StatusBadGateway},
		{speechsvc.ErrNotConfigured, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{fmt.Errorf("transcode webm: exit status 1"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			r := newRouter(&fakeSpeechService{transcribeErr: tc.err}, nil)
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, uploadRequest(t, "/speech/transcribe", "clip.wav", "audio/wav", []byte("audio")))
			assert.Equal(t, tc.status, rr.Code)
		})
	}
}

func TestSynthesizeUsesPersonaVoice(t *testing.T) {
	svc := &fakeSpeechService{}
	chatSvc := chatservice.NewService()
	session, err := chatSvc.CreateSession(context.Background(), "therapist", "be kind")
	require.NoError(t, err)

	r := newRouter(svc, chatSvc)
	req := httptest.NewRequest(http.MethodPost, "/speech/synthesize/"+session.ID, bytes.NewReader([]byte(`{"text":"hello"}`)))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, svc.tts)
	assert.Equal(t, session.ID, svc.tts.SessionID)
	assert.Equal(t, "en_female_skye_emo_v2_mars_bigtts", svc.tts.Voice)

	var resp synthesizeResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "data:audio/mp3;base64,YWJj", resp.Audio)
	assert.Equal(t, "mp3", resp.Format)
}

func TestSynthesizeExplicitVoiceWins(t *testing.T) {
	svc := &fakeSpeechService{}
	r := newRouter(svc, chatservice.NewService())

	req := httptest.NewRequest(http.MethodPost, "/speech/synthesize", bytes.NewReader([]byte(`{"text":"hi","voice":"en_male"}`)))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "en_male", svc.tts.Voice)
	assert.Equal(t, "default", svc.tts.SessionID)
}

func TestSynthesizeRejectsEmptyText(t *testing.T) {
	svc := &fakeSpeechService{}
	r := newRouter(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/speech/synthesize", bytes.NewReader([]byte(`{"text":"  "}`)))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Nil(t, svc.tts)
}

func TestSynthesizeUpstreamFailure(t *testing.T) {
	r := newRouter(&fakeSpeechService{synthErr: speechsvc.ErrUnreachable}, nil)

	req := httptest.NewRequest(http.MethodPost, "/speech/synthesize", bytes.NewReader([]byte(`{"text":"hi"}`)))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestHealth(t *testing.T) {
	r := newRouter(&fakeSpeechService{}, nil)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/speech/health", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, true, body["enabled"])
}

func TestNilServiceIsUnavailable(t *testing.T) {
	r := newRouter(nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/speech/synthesize", bytes.NewReader([]byte(`{"text":"hi"}`)))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestInferAudioFormat(t *testing.T) {
	assert.Equal(t, "mp3", inferAudioFormat("a.MP3", ""))
	assert.Equal(t, "webm", inferAudioFormat("blob", "audio/webm;codecs=opus"))
	assert.Equal(t, "m4a", inferAudioFormat("", "audio/mp4"))
	assert.Equal(t, "wav", inferAudioFormat("blob", "application/octet-stream"))
}
