package chat

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/schema"

	"github.com/wischat/backend/internal/model/chat"
	chatservice "github.com/wischat/backend/internal/service/chat"
	"github.com/wischat/backend/pkg/utils"
)

// Handler exposes the message ingress and polling endpoints.
type Handler struct {
	chatSvc *chatservice.Service
	decoder *schema.Decoder
}

// New creates the chat handler.
func New(chatSvc *chatservice.Service) *Handler {
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)
	return &Handler{chatSvc: chatSvc, decoder: decoder}
}

// RegisterRoutes mounts the session and message routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions", h.handleListSessions)
	r.Post("/sessions/{sessionID}/messages", h.handlePostMessage)
	r.Get("/sessions/{sessionID}/messages", h.handleGetMessages)
	r.Post("/sessions/{sessionID}/close", h.handleCloseSession)
}

type postMessageRequest struct {
	SenderID       string `json:"senderId"`
	SenderType     string `json:"senderType"`
	Body           string `json:"body"`
	IdempotencyKey string `json:"idempotencyKey"`
}

type postMessageResponse struct {
	chat.Message
	Dedup bool `json:"dedup"`
}

func (h *Handler) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var payload postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, dedup, err := h.chatSvc.PostMessage(r.Context(), chatservice.PostMessageInput{
		SessionID:      sessionID,
		SenderID:       payload.SenderID,
		SenderType:     payload.SenderType,
		Body:           payload.Body,
		IdempotencyKey: payload.IdempotencyKey,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusCreated, postMessageResponse{Message: msg, Dedup: dedup})
}

type historyQuery struct {
	After int64 `schema:"after"`
	Limit int   `schema:"limit"`
}

func (h *Handler) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := r.ParseForm(); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid query parameters")
		return
	}
	var query historyQuery
	if err := h.decoder.Decode(&query, r.Form); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid query parameters")
		return
	}

	messages, err := h.chatSvc.History(r.Context(), sessionID, query.After, query.Limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if messages == nil {
		messages = []chat.Message{}
	}

	utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"sessionId": sessionID,
		"messages":  messages,
	})
}

type listSessionsQuery struct {
	Status string `schema:"status"`
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid query parameters")
		return
	}
	var query listSessionsQuery
	if err := h.decoder.Decode(&query, r.Form); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid query parameters")
		return
	}

	sessions, err := h.chatSvc.ListSessions(r.Context(), query.Status)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if sessions == nil {
		sessions = []chat.Session{}
	}

	utils.RespondJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (h *Handler) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.chatSvc.CloseSession(r.Context(), sessionID); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// respondServiceError maps the ingress error taxonomy onto HTTP. The
// terminal flag tells the widget to stop retrying and start a fresh
// session.
func respondServiceError(w http.ResponseWriter, err error) {
	var verr *chatservice.ValidationError
	switch {
	case errors.As(err, &verr):
		utils.RespondJSON(w, http.StatusBadRequest, map[string]string{
			"error": verr.Error(),
			"field": verr.Field,
		})
	case errors.Is(err, chat.ErrSessionClosed):
		utils.RespondJSON(w, http.StatusNotFound, map[string]interface{}{
			"error":    "session closed",
			"terminal": true,
		})
	case errors.Is(err, chat.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, chatservice.ErrTransient):
		utils.RespondError(w, http.StatusServiceUnavailable, "storage temporarily unavailable, retry with backoff")
	default:
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
