package speech

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/ollama-chat/backend/internal/model/chat"
	"github.com/zhouzirui/ollama-chat/backend/internal/model/persona"
	"github.com/zhouzirui/ollama-chat/backend/internal/model/speech"
	chatservice "github.com/zhouzirui/ollama-chat/backend/internal/service/chat"
	speechsvc "github.com/zhouzirui/ollama-chat/backend/internal/service/speech"
	"github.com/zhouzirui/ollama-chat/backend/pkg/utils"
)

// SpeechService 抽象语音业务，便于测试与替换实现
type SpeechService interface {
	TranscribeAudio(ctx context.Context, req *speech.ASRRequest) (*speech.ASRResponse, error)
	SynthesizeSpeech(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error)
	Enabled() bool
	Health() map[string]any
}

// Handler 语音服务的HTTP处理器
type Handler struct {
	speechSvc    SpeechService
	chatSvc      *chatservice.Service
	personaStore persona.Store
	logger       zerolog.Logger
}

// New 创建语音处理器
func New(speechSvc SpeechService, chatSvc *chatservice.Service, personaStore persona.Store, logger zerolog.Logger) *Handler {
	return &Handler{
		speechSvc:    speechSvc,
		chatSvc:      chatSvc,
		personaStore: personaStore,
		logger:       logger.With().Str("component", "speech_handler").Logger(),
	}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/speech", func(speechRouter chi.Router) {
		// ASR 端点
		speechRouter.Post("/transcribe", h.handleTranscribe)
		speechRouter.Post("/transcribe/{sessionID}", h.handleTranscribe)

		// TTS 端点
		speechRouter.Post("/synthesize", h.handleSynthesize)
		speechRouter.Post("/synthesize/{sessionID}", h.handleSynthesize)

		// 健康检查
		speechRouter.Get("/health", h.handleHealth)
	})
}

type synthesizeResponse struct {
	SessionID string `json:"sessionId"`
	Audio     string `json:"audio"`
	Format    string `json:"format"`
	Duration  int64  `json:"duration,omitempty"`
}

// handleTranscribe 处理语音转文本请求
func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if h.speechSvc == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, speechsvc.ErrNotConfigured.Error())
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil { // 32MB max
		utils.RespondError(w, http.StatusBadRequest, "failed to parse multipart form: "+err.Error())
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		sessionID = r.FormValue("sessionId")
	}
	if sessionID == "" {
		sessionID = "default"
	}

	format := r.FormValue("format")
	if format == "" {
		format = inferAudioFormat(header.Filename, header.Header.Get("Content-Type"))
	}

	resp, err := h.speechSvc.TranscribeAudio(r.Context(), &speech.ASRRequest{
		SessionID: sessionID,
		AudioData: file,
		Format:    format,
		Language:  r.FormValue("language"),
	})
	if err != nil {
		h.logger.Warn().Err(err).Str("session", sessionID).Str("format", format).Msg("ASR failed")
		respondSpeechError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, resp)
}

// handleSynthesize 处理文本转语音请求，音频以 data URI 返回
func (h *Handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	if h.speechSvc == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, speechsvc.ErrNotConfigured.Error())
		return
	}

	var req speech.TTSRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if sessionID := chi.URLParam(r, "sessionID"); sessionID != "" {
		req.SessionID = sessionID
	}
	if strings.TrimSpace(req.Text) == "" {
		utils.RespondError(w, http.StatusBadRequest, speechsvc.ErrEmptyText.Error())
		return
	}
	if req.SessionID == "" {
		req.SessionID = "default"
	}
	if strings.TrimSpace(req.Voice) == "" {
		req.Voice = h.resolveVoice(r.Context(), req.SessionID)
	}

	resp, err := h.speechSvc.SynthesizeSpeech(r.Context(), &req)
	if err != nil {
		h.logger.Warn().Err(err).Str("session", req.SessionID).Msg("TTS failed")
		respondSpeechError(w, err)
		return
	}

	audio := &chat.Audio{Format: resp.Format, Data: resp.AudioData}
	utils.RespondJSON(w, http.StatusOK, synthesizeResponse{
		SessionID: req.SessionID,
		Audio:     audio.DataURI(),
		Format:    resp.Format,
		Duration:  resp.Duration,
	})
}

// resolveVoice returns the voice of the persona bound to sessionID.
func (h *Handler) resolveVoice(ctx context.Context, sessionID string) string {
	if h.chatSvc == nil || h.personaStore == nil {
		return ""
	}

	session, err := h.chatSvc.GetSession(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		return ""
	}

	p, ok := h.personaStore.FindByID(session.PersonaID)
	if !ok {
		return ""
	}
	return p.VoiceID
}

// handleHealth 健康检查端点
func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if h.speechSvc == nil {
		utils.RespondJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.speechSvc.Health())
}

func respondSpeechError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, speechsvc.ErrNotConfigured):
		utils.RespondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, speechsvc.ErrUnintelligible):
		utils.RespondError(w, http.StatusUnprocessableEntity, "Could not understand audio")
	case errors.Is(err, speechsvc.ErrEmptyText):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, speechsvc.ErrUnreachable):
		utils.RespondError(w, http.StatusBadGateway, "Could not request results from the speech service")
	case errors.Is(err, context.DeadlineExceeded):
		utils.RespondError(w, http.StatusGatewayTimeout, "speech service timed out")
	default:
		utils.RespondError(w, http.StatusInternalServerError, "speech request failed")
	}
}

// inferAudioFormat 从文件名或 MIME 类型推断音频格式
func inferAudioFormat(filename, contentType string) string {
	switch ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), "."); ext {
	case "mp3", "wav", "webm", "m4a", "aac", "ogg", "pcm":
		return ext
	}

	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mediaType {
		case "audio/webm", "video/webm":
			return "webm"
		case "audio/ogg":
			return "ogg"
		case "audio/mpeg", "audio/mp3":
			return "mp3"
		case "audio/mp4", "audio/x-m4a":
			return "m4a"
		case "audio/wav", "audio/x-wav", "audio/wave":
			return "wav"
		}
	}
	return "wav"
}
