package router

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"studytrack-backend/internal/handlers"
	"studytrack-backend/internal/middleware"
	"studytrack-backend/internal/monitor"
	"studytrack-backend/internal/websocket"
)

func New(
	jwtAuth *middleware.JWTAuth,
	authRequired bool,
	authHandler *handlers.AuthHandler,
	sessionHandler *handlers.SessionHandler,
	mon *monitor.Monitor,
	wsHub *websocket.Hub,
	webSocketEnabled bool,
	rateLimitPerMin int,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(frontendURL))

	authLimiter := middleware.NewRateLimiter(rateLimitPerMin, time.Minute)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  "ok",
			"monitor": mon.Health(),
		})
	})

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Auth Routes (public) ────
		r.Route("/auth", func(r chi.Router) {
			r.Use(authLimiter.Middleware)
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)

			// Profile requires a valid token regardless of AUTH_REQUIRED
			r.Group(func(r chi.Router) {
				r.Use(jwtAuth.Middleware)
				r.Get("/me", authHandler.Me)
			})
		})

		// ──── Session Routes ────
		r.Route("/sessions", func(r chi.Router) {
			if authRequired {
				r.Use(jwtAuth.Middleware)
			}

			r.Post("/start", sessionHandler.Start)
			r.Post("/pause", sessionHandler.TogglePause)
			r.Post("/stop", sessionHandler.Stop)
			r.Post("/validate", sessionHandler.Validate)
			r.Get("/status", sessionHandler.Status)
			r.Get("/", sessionHandler.List)
			r.Get("/{id}", sessionHandler.Get)
		})

		// ──── WebSocket ────
		if webSocketEnabled {
			r.Get("/ws", wsHub.HandleWebSocket)
		}
	})

	return r
}
