package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/wischat/backend/internal/config"
	"github.com/wischat/backend/internal/handler/chat"
	"github.com/wischat/backend/internal/handler/stream"
	"github.com/wischat/backend/internal/handler/ws"
	chatservice "github.com/wischat/backend/internal/service/chat"
	"github.com/wischat/backend/pkg/utils"
)

// Version reported by the health and root endpoints.
const Version = "1.0.0"

// NewRouter wires HTTP routes to core services.
func NewRouter(cfg *config.Config, chatSvc *chatservice.Service) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	chatHandler := chat.New(chatSvc)
	streamHandler := stream.New(chatSvc, cfg.Heartbeat)
	wsHandler := ws.New(chatSvc, cfg.Heartbeat)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"message": "WisChat Relay Backend",
			"status":  "running",
			"version": Version,
			"endpoints": []string{
				"GET /api/v1/health",
				"GET /api/v1/config",
				"GET /api/v1/sessions",
				"POST /api/v1/sessions/{sessionId}/messages",
				"GET /api/v1/sessions/{sessionId}/messages",
				"POST /api/v1/sessions/{sessionId}/close",
				"GET /api/v1/sessions/{sessionId}/stream",
				"GET /api/v1/ws/{sessionId}",
			},
		})
	})

	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]string{
				"status":    "OK",
				"version":   Version,
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
		})

		api.Get("/config", func(w http.ResponseWriter, _ *http.Request) {
			utils.RespondJSON(w, http.StatusOK, cfg.Widget)
		})

		chatHandler.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)
	})

	return r
}
