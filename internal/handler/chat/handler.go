package chat

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/ollama-chat/backend/internal/model/persona"
	chatService "github.com/zhouzirui/ollama-chat/backend/internal/service/chat"
	"github.com/zhouzirui/ollama-chat/backend/pkg/utils"
)

// Handler 聊天会话的HTTP处理器
type Handler struct {
	chatSvc      *chatService.Service
	personaStore persona.Store
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, personaStore persona.Store) *Handler {
	return &Handler{
		chatSvc:      chatSvc,
		personaStore: personaStore,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session", h.handleCreateSession)
	r.Route("/session/{sessionID}", func(r chi.Router) {
		r.Get("/", h.handleGetSession)
		r.Delete("/", h.handleDeleteSession)
		r.Get("/messages", h.handleHistory)
		r.Delete("/messages", h.handleClearHistory)
		r.Put("/persona", h.handleChangePersona)
	})
}

type personaPayload struct {
	PersonaID    string `json:"personaId"`
	CustomPrompt string `json:"customPrompt"`
}

// handleCreateSession 创建会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload personaPayload
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	selected, prompt, err := h.personaStore.Resolve(payload.PersonaID, payload.CustomPrompt)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := h.chatSvc.CreateSession(r.Context(), selected.ID, prompt)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusCreated, session)
}

// handleGetSession 查询会话
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

// handleHistory 返回会话历史
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	messages, err := h.chatSvc.History(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, messages)
}

// handleClearHistory 清空会话历史
func (h *Handler) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.ClearHistory(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleChangePersona 切换persona，系统提示变化时重置历史
func (h *Handler) handleChangePersona(w http.ResponseWriter, r *http.Request) {
	var payload personaPayload
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	selected, prompt, err := h.personaStore.Resolve(payload.PersonaID, payload.CustomPrompt)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, reset, err := h.chatSvc.ChangePersona(r.Context(), chi.URLParam(r, "sessionID"), selected.ID, prompt)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"session": session,
		"reset":   reset,
	})
}

// handleDeleteSession 删除会话
func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatService.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chatService.ErrPersonaRequired), errors.Is(err, chatService.ErrInvalidRole):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	}
}
