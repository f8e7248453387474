package ws

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/wischat/backend/internal/model/chat"
	chatservice "github.com/wischat/backend/internal/service/chat"
	"github.com/wischat/backend/pkg/utils"
)

const writeTimeout = 10 * time.Second

// Handler serves the WebSocket push channel with the same subscribe
// semantics as the SSE stream.
type Handler struct {
	chatSvc   *chatservice.Service
	heartbeat time.Duration
	upgrader  websocket.Upgrader
}

// New creates the WebSocket handler.
func New(chatSvc *chatservice.Service, heartbeat time.Duration) *Handler {
	return &Handler{
		chatSvc:   chatSvc,
		heartbeat: heartbeat,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the WebSocket route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type event struct {
	Type    string        `json:"type"`
	Message *chat.Message `json:"message,omitempty"`
	Time    string        `json:"time,omitempty"`
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	afterSeq := int64(0)
	if raw := r.URL.Query().Get("after"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			utils.RespondError(w, http.StatusBadRequest, "invalid after parameter")
			return
		}
		afterSeq = parsed
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

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed for session=%s: %v", sessionID, err)
		return
	}
	defer conn.Close()

	log.Printf("[ws] connection opened for session=%s after=%d", sessionID, afterSeq)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The client never sends payloads; the read loop only detects
	// disconnects so the subscription is released promptly.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[ws] connection closed for session=%s", sessionID)
			return
		case t := <-ticker.C:
			if err := h.write(conn, event{Type: "heartbeat", Time: t.UTC().Format(time.RFC3339)}); err != nil {
				return
			}
		case msg, open := <-sub.Messages():
			if !open {
				if errors.Is(sub.Err(), chat.ErrSessionClosed) {
					_ = h.write(conn, event{Type: "closed"})
				}
				log.Printf("[ws] subscription terminated for session=%s", sessionID)
				return
			}
			if err := h.write(conn, event{Type: "message", Message: &msg}); err != nil {
				return
			}
		}
	}
}

func (h *Handler) write(conn *websocket.Conn, ev event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(ev)
}
