package stream

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wischat/backend/internal/model/chat"
	chatservice "github.com/wischat/backend/internal/service/chat"
	"github.com/wischat/backend/pkg/utils"
)

// Handler serves the Server-Sent Events push channel. SSE is the
// low-latency path for the widget; polling GET /messages is the
// fallback.
type Handler struct {
	chatSvc   *chatservice.Service
	heartbeat time.Duration
}

// New creates the SSE handler. heartbeat is the keep-alive interval for
// idle streams.
func New(chatSvc *chatservice.Service, heartbeat time.Duration) *Handler {
	return &Handler{chatSvc: chatSvc, heartbeat: heartbeat}
}

// RegisterRoutes mounts the stream route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions/{sessionID}/stream", h.handleStream)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	afterSeq, err := parseAfter(r.URL.Query().Get("after"))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid after parameter")
		return
	}

	sub, err := h.chatSvc.Subscribe(r.Context(), sessionID, afterSeq)
	if err != nil {
		if errors.Is(err, chat.ErrSessionClosed) {
			utils.RespondJSON(w, http.StatusNotFound, map[string]interface{}{
				"error":    "session closed",
				"terminal": true,
			})
			return
		}
		utils.RespondError(w, http.StatusServiceUnavailable, "subscription unavailable")
		return
	}
	defer sub.Cancel()

	utils.SetupSSEHeaders(w)

	ctx := r.Context()
	log.Printf("[sse] opening stream for session=%s after=%d", sessionID, afterSeq)

	utils.SendSSEEvent(w, flusher, "status", map[string]string{"message": "stream established"})

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[sse] closing stream for session=%s", sessionID)
			return
		case t := <-ticker.C:
			utils.SendSSEEvent(w, flusher, "heartbeat", map[string]string{
				"time": t.UTC().Format(time.RFC3339),
			})
		case msg, open := <-sub.Messages():
			if !open {
				if errors.Is(sub.Err(), chat.ErrSessionClosed) {
					utils.SendSSEEvent(w, flusher, "closed", map[string]string{"sessionId": sessionID})
				}
				log.Printf("[sse] stream terminated for session=%s", sessionID)
				return
			}
			utils.SendSSEEvent(w, flusher, "message", msg)
		}
	}
}

func parseAfter(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	after, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || after < 0 {
		return 0, errors.New("after must be a non-negative integer")
	}
	return after, nil
}
