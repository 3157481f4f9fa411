package models

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/ollama-chat/backend/internal/metrics"
	"github.com/zhouzirui/ollama-chat/backend/pkg/utils"
)

// Lister returns the identifiers of installed models.
type Lister interface {
	ModelNames(ctx context.Context) ([]string, error)
}

// Handler exposes the inference server's model list.
type Handler struct {
	lister       Lister
	defaultModel string
	logger       zerolog.Logger
}

// New creates a models handler. defaultModel is preselected by the UI
// when it is installed.
func New(lister Lister, defaultModel string, logger zerolog.Logger) *Handler {
	return &Handler{lister: lister, defaultModel: defaultModel, logger: logger}
}

// RegisterRoutes 注册模型相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/models", h.handleListModels)
}

type listResponse struct {
	Models  []string `json:"models"`
	Default string   `json:"default,omitempty"`
	Warning string   `json:"warning,omitempty"`
}

// handleListModels answers with an empty list and a warning when the
// server cannot be reached, so the UI can show why nothing is selectable.
func (h *Handler) handleListModels(w http.ResponseWriter, r *http.Request) {
	names, err := h.lister.ModelNames(r.Context())
	if err != nil {
		metrics.UpstreamFailures.WithLabelValues("ollama").Inc()
		h.logger.Warn().Err(err).Msg("listing models failed")
		utils.RespondJSON(w, http.StatusBadGateway, listResponse{
			Models:  []string{},
			Warning: "Could not list models: " + err.Error(),
		})
		return
	}

	resp := listResponse{Models: names}
	if resp.Models == nil {
		resp.Models = []string{}
	}
	for _, name := range names {
		if name == h.defaultModel {
			resp.Default = name
			break
		}
	}
	if resp.Default == "" && len(names) > 0 {
		resp.Default = names[0]
	}
	if len(names) == 0 {
		resp.Warning = "No models installed. Pull one with `ollama pull <model>`."
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}
