package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/ollama-chat/backend/internal/handler/chat"
	"github.com/zhouzirui/ollama-chat/backend/internal/handler/models"
	"github.com/zhouzirui/ollama-chat/backend/internal/handler/persona"
	"github.com/zhouzirui/ollama-chat/backend/internal/handler/speech"
	"github.com/zhouzirui/ollama-chat/backend/internal/handler/stream"
	"github.com/zhouzirui/ollama-chat/backend/internal/middleware"
	personaModel "github.com/zhouzirui/ollama-chat/backend/internal/model/persona"
	chatService "github.com/zhouzirui/ollama-chat/backend/internal/service/chat"
	speechService "github.com/zhouzirui/ollama-chat/backend/internal/service/speech"
	"github.com/zhouzirui/ollama-chat/backend/pkg/utils"
)

// Dependencies are the services the HTTP layer is wired to. Speech may be
// nil, in which case the speech endpoints answer 503.
type Dependencies struct {
	Logger         zerolog.Logger
	AllowedOrigins []string

	Personas  personaModel.Store
	Chat      *chatService.Service
	Models    models.Lister
	Generator stream.Generator
	Speech    *speechService.Service
	Stream    stream.Options
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Metrics first so every request is counted.
	r.Use(middleware.Metrics)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(deps.Logger))
	r.Use(chimw.Recoverer)

	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	// The interfaces below must stay nil rather than hold a typed nil.
	var (
		speechSvc speech.SpeechService
		tts       stream.Synthesizer
	)
	if deps.Speech != nil {
		speechSvc = deps.Speech
		tts = deps.Speech
	}

	personaHandler := persona.New(deps.Personas)
	chatHandler := chat.New(deps.Chat, deps.Personas)
	modelsHandler := models.New(deps.Models, deps.Stream.DefaultModel, deps.Logger)
	streamHandler := stream.New(deps.Generator, deps.Models, deps.Chat, deps.Personas, tts, deps.Stream, deps.Logger)
	speechHandler := speech.New(speechSvc, deps.Chat, deps.Personas, deps.Logger)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		personaHandler.RegisterRoutes(api)
		chatHandler.RegisterRoutes(api)
		modelsHandler.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api)
		speechHandler.RegisterRoutes(api)
	})

	return r
}
