/*
Package handler provides the HTTP handlers and routing setup for the LexSignal server.

This file defines the main Router, applying middleware like logging, CORS and IP-based rate
limiting before delegating requests to the presence API and the signaling socket.
*/
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"lexsignal/internal/configs"
	"lexsignal/internal/pkg/auth/jwt"
	"lexsignal/internal/pkg/limiter"
	"lexsignal/internal/pkg/logx"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "LexSignal"

// Router sets up the main HTTP routing table (chi.Router) for the application.
// ctx bounds the background sweeper of the handshake rate limiter.
func Router(ctx context.Context, deps *AppDeps) http.Handler {
	handshakeLimiter := limiter.NewIPRateLimiter(ctx, rate.Limit(deps.Config.HandshakeRate), deps.Config.HandshakeBurst)

	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	wsUpgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.IsDevelopment() {
				return true
			}

			origin := r.Header.Get("Origin")
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
	}

	corsAllowedOrigins := []string{}
	if deps.Config.IsDevelopment() {
		corsAllowedOrigins = []string{"*"}
	} else if len(deps.Config.AllowedOrigins) > 0 {
		corsAllowedOrigins = deps.Config.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", HandleHealth(deps))

	r.Route("/api/presence", func(presence chi.Router) {
		presence.Use(jwt.IdentityExtractorMiddleware(deps.Config.JWTSecret))
		if deps.Config.SocketAuth == configs.AuthRequired {
			presence.Use(jwt.RequireIdentity)
		}

		presence.Get("/", HandleListOnline(deps))
		presence.Get("/{userId}", HandleUserPresence(deps))
	})

	r.With(handshakeLimiter.Middleware).Get(deps.Config.SocketPath, HandleWebSocket(deps, wsUpgrader))

	return r
}
