package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/ollama-chat/backend/internal/metrics"
	"github.com/zhouzirui/ollama-chat/backend/internal/model/chat"
	"github.com/zhouzirui/ollama-chat/backend/internal/model/persona"
	speechmodel "github.com/zhouzirui/ollama-chat/backend/internal/model/speech"
	aiService "github.com/zhouzirui/ollama-chat/backend/internal/service/ai"
	chatService "github.com/zhouzirui/ollama-chat/backend/internal/service/chat"
	"github.com/zhouzirui/ollama-chat/backend/pkg/utils"
)

// errClientGone marks a failed write to the event stream.
var errClientGone = errors.New("client disconnected")

// Generator produces the assistant reply as a fragment stream.
type Generator interface {
	StreamResponse(ctx context.Context, req aiService.GenerationRequest) (*schema.StreamReader[aiService.Fragment], error)
}

// ModelLister reports the installed models. Requests naming any other
// model are rejected.
type ModelLister interface {
	ModelNames(ctx context.Context) ([]string, error)
}

// Synthesizer speaks a finished reply. Optional.
type Synthesizer interface {
	Enabled() bool
	SynthesizeSpeech(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error)
}

// Options carries the defaults applied when a request leaves them out.
type Options struct {
	DefaultModel string
	Temperature  float64
}

// Handler manages streaming AI responses via Server-Sent Events
type Handler struct {
	generator  Generator
	models     ModelLister
	chatSvc    *chatService.Service
	personas   persona.Store
	tts        Synthesizer
	opts       Options
	aggregator *aiService.Aggregator
	logger     zerolog.Logger
}

// New creates a new stream handler. models and tts may be nil; without a
// lister any model id is passed through.
func New(generator Generator, models ModelLister, chatSvc *chatService.Service, personas persona.Store, tts Synthesizer, opts Options, logger zerolog.Logger) *Handler {
	return &Handler{
		generator:  generator,
		models:     models,
		chatSvc:    chatSvc,
		personas:   personas,
		tts:        tts,
		opts:       opts,
		aggregator: aiService.NewAggregator(),
		logger:     logger.With().Str("component", "stream").Logger(),
	}
}

// RegisterRoutes 注册流式生成路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/{sessionID}", h.handleStream)
}

type startEvent struct {
	SessionID string `json:"sessionId"`
	Model     string `json:"model"`
	PersonaID string `json:"personaId"`
}

type deltaEvent struct {
	Text string `json:"text"`
}

type statsEvent struct {
	ElapsedSeconds  float64 `json:"elapsedSeconds"`
	Tokens          int     `json:"tokens"`
	TokensPerSecond float64 `json:"tokensPerSecond"`
	Source          string  `json:"source"`
	Caption         string  `json:"caption"`
}

type audioEvent struct {
	URI    string `json:"uri"`
	Format string `json:"format"`
}

type messageEvent struct {
	Message chat.Message `json:"message"`
	Partial bool         `json:"partial"`
}

type noticeEvent struct {
	Message string `json:"message"`
}

// handleStream runs one generation turn. Request problems are answered as
// plain JSON errors; once the event stream has started every failure is
// reported as an event and the stream is closed with "end".
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")
	query := r.URL.Query()

	userMessage := strings.TrimSpace(query.Get("message"))
	if userMessage == "" {
		utils.RespondError(w, http.StatusBadRequest, "message is required")
		return
	}

	req := aiService.GenerationRequest{
		Model:       strings.TrimSpace(query.Get("model")),
		Temperature: float32(h.opts.Temperature),
	}
	if req.Model == "" {
		req.Model = h.opts.DefaultModel
	}
	if raw := strings.TrimSpace(query.Get("temperature")); raw != "" {
		t, err := strconv.ParseFloat(raw, 32)
		if err != nil {
			utils.RespondError(w, http.StatusBadRequest, "temperature must be a number")
			return
		}
		req.Temperature = float32(t)
	}
	if err := req.Validate(); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if status, msg := h.checkModel(ctx, req.Model); status != http.StatusOK {
		utils.RespondError(w, status, msg)
		return
	}
	speak, _ := strconv.ParseBool(query.Get("speak"))

	session, err := h.chatSvc.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, chatService.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusNotFound, err.Error())
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// The user turn is kept even if generation fails below.
	if _, err := h.chatSvc.AppendMessage(ctx, chat.Message{
		SessionID: session.ID,
		Role:      chat.RoleUser,
		Content:   userMessage,
	}); err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	history, epoch, err := h.chatSvc.Snapshot(ctx, session.ID)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	req.SystemPrompt = session.SystemPrompt
	req.History = history

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	log := h.logger.With().Str("session", session.ID).Str("model", req.Model).Logger()

	if err := utils.SendSSEEvent(w, flusher, "start", startEvent{
		SessionID: session.ID,
		Model:     req.Model,
		PersonaID: session.PersonaID,
	}); err != nil {
		log.Debug().Err(err).Msg("client went away before start")
		return
	}

	result, genErr := h.generate(ctx, w, flusher, req)
	cancelled := ctx.Err() != nil || errors.Is(genErr, errClientGone)
	h.record(req.Model, result, genErr, cancelled)

	if genErr != nil && !cancelled {
		log.Warn().Err(genErr).Int("tokens", result.Tokens).Msg("generation failed")
	} else if genErr == nil {
		log.Info().
			Int("tokens", result.Tokens).
			Dur("elapsed", result.Elapsed).
			Float64("tps", result.TokensPerSecond()).
			Str("tps_source", result.TPSSource()).
			Msg("generation finished")
	}

	// Whatever arrived is kept; an empty reply leaves no assistant turn.
	var (
		assistant   *chat.Message
		resetNotice bool
	)
	if strings.TrimSpace(result.Text) != "" {
		msg := chat.Message{
			SessionID: session.ID,
			Role:      chat.RoleAssistant,
			Content:   result.Text,
		}
		if speak && genErr == nil && !cancelled {
			msg.Audio = h.speak(ctx, w, flusher, session, result.Text)
		}
		stored, err := h.chatSvc.AppendIfCurrent(context.WithoutCancel(ctx), msg, epoch)
		switch {
		case errors.Is(err, chatService.ErrHistoryReset):
			// The conversation this reply answers is gone; show it, don't keep it.
			log.Info().Msg("history reset during generation, reply not stored")
			resetNotice = true
			assistant = &msg
		case err != nil:
			log.Error().Err(err).Msg("failed to store assistant message")
		default:
			assistant = &stored
		}
	}

	if cancelled {
		log.Debug().Msg("client disconnected during generation")
		return
	}

	_ = utils.SendSSEEvent(w, flusher, "stats", statsEvent{
		ElapsedSeconds:  result.Elapsed.Seconds(),
		Tokens:          result.Tokens,
		TokensPerSecond: result.TokensPerSecond(),
		Source:          result.TPSSource(),
		Caption:         result.Caption(),
	})
	if resetNotice {
		_ = utils.SendSSEEvent(w, flusher, "warning", noticeEvent{Message: "The conversation was reset during generation; this reply was not saved."})
	}
	if assistant != nil {
		if assistant.Audio != nil {
			_ = utils.SendSSEEvent(w, flusher, "audio", audioEvent{
				URI:    assistant.Audio.DataURI(),
				Format: assistant.Audio.Format,
			})
		}
		_ = utils.SendSSEEvent(w, flusher, "message", messageEvent{
			Message: *assistant,
			Partial: genErr != nil,
		})
	}
	if genErr != nil {
		_ = utils.SendSSEEvent(w, flusher, "error", noticeEvent{Message: "Generation failed: " + genErr.Error()})
	}
	_ = utils.SendSSEEvent(w, flusher, "end", map[string]string{"sessionId": session.ID})
}

// checkModel keeps requests, and the metric labels derived from them, to
// models the server actually has.
func (h *Handler) checkModel(ctx context.Context, model string) (int, string) {
	if h.models == nil {
		return http.StatusOK, ""
	}
	names, err := h.models.ModelNames(ctx)
	if err != nil {
		metrics.UpstreamFailures.WithLabelValues("ollama").Inc()
		return http.StatusBadGateway, "Could not list models: " + err.Error()
	}
	if !slices.Contains(names, model) {
		return http.StatusBadRequest, fmt.Sprintf("model %q is not installed", model)
	}
	return http.StatusOK, ""
}

// generate drains the fragment stream, forwarding each fragment as a delta.
// The clock starts before the stream is opened: opening blocks until the
// model has loaded and produced its first token.
func (h *Handler) generate(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, req aiService.GenerationRequest) (aiService.Result, error) {
	var stream *schema.StreamReader[aiService.Fragment]
	defer func() {
		if stream != nil {
			stream.Close()
		}
	}()

	open := func() (aiService.FragmentSource, error) {
		var err error
		stream, err = h.generator.StreamResponse(ctx, req)
		if err != nil {
			return nil, err
		}
		return stream, nil
	}

	return h.aggregator.AggregateFrom(open, func(frag aiService.Fragment) error {
		if frag.Text == "" {
			return nil
		}
		if err := utils.SendSSEEvent(w, flusher, "delta", deltaEvent{Text: frag.Text}); err != nil {
			return fmt.Errorf("%w: %v", errClientGone, err)
		}
		return nil
	})
}

// speak synthesizes the reply with the persona's voice. Failures only
// produce a warning; the text reply is unaffected.
func (h *Handler) speak(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, session chat.Session, text string) *chat.Audio {
	if h.tts == nil || !h.tts.Enabled() {
		_ = utils.SendSSEEvent(w, flusher, "warning", noticeEvent{Message: "Speech synthesis is not configured."})
		return nil
	}

	var voice string
	if p, ok := h.personas.FindByID(session.PersonaID); ok {
		voice = p.VoiceID
	}

	resp, err := h.tts.SynthesizeSpeech(ctx, &speechmodel.TTSRequest{
		SessionID: session.ID,
		Text:      text,
		Voice:     voice,
	})
	if err != nil {
		h.logger.Warn().Err(err).Str("session", session.ID).Msg("speech synthesis failed")
		_ = utils.SendSSEEvent(w, flusher, "warning", noticeEvent{Message: "Speech synthesis failed: " + err.Error()})
		return nil
	}
	return &chat.Audio{Format: resp.Format, Data: resp.AudioData}
}

func (h *Handler) record(model string, result aiService.Result, genErr error, cancelled bool) {
	outcome := "ok"
	switch {
	case cancelled:
		outcome = "cancelled"
	case genErr != nil:
		outcome = "error"
		metrics.UpstreamFailures.WithLabelValues("ollama").Inc()
	}
	metrics.Generations.WithLabelValues(model, outcome).Inc()
	metrics.GeneratedTokens.WithLabelValues(model).Add(float64(result.Tokens))
	if genErr == nil && result.Tokens > 0 {
		metrics.TokensPerSecond.WithLabelValues(model, result.TPSSource()).Observe(result.TokensPerSecond())
	}
}
