package persona

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/ollama-chat/backend/internal/model/persona"
	"github.com/zhouzirui/ollama-chat/backend/pkg/utils"
)

// Handler persona目录的HTTP处理器
type Handler struct {
	personas persona.Store
}

// New 创建persona处理器
func New(personas persona.Store) *Handler {
	return &Handler{
		personas: personas,
	}
}

// personaView is what the persona picker renders. Custom personas carry no
// prompt of their own, so the client must ask the user for one.
type personaView struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Prompt         string `json:"prompt,omitempty"`
	RequiresPrompt bool   `json:"requiresPrompt"`
	Speaks         bool   `json:"speaks"`
}

func newView(p persona.Persona) personaView {
	return personaView{
		ID:             p.ID,
		Name:           p.Name,
		Prompt:         p.Prompt,
		RequiresPrompt: p.IsCustom(),
		Speaks:         p.VoiceID != "",
	}
}

// RegisterRoutes 注册persona相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/personas", h.handleListPersonas)
	r.Get("/personas/{personaID}", h.handleGetPersona)
}

// handleListPersonas 按声明顺序列出所有persona，默认persona在前
func (h *Handler) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	items := h.personas.List()
	views := make([]personaView, 0, len(items))
	for _, p := range items {
		views = append(views, newView(p))
	}
	utils.RespondJSON(w, http.StatusOK, views)
}

// handleGetPersona 查询单个persona
func (h *Handler) handleGetPersona(w http.ResponseWriter, r *http.Request) {
	p, ok := h.personas.FindByID(chi.URLParam(r, "personaID"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, persona.ErrUnknownPersona.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, newView(p))
}
