/*
Package handler provides the HTTP handler function for WebSocket connection upgrading and initialization.

This file contains the HandleWebSocket function. It binds the handshake to a session token when
the auth mode asks for one, then upgrades the connection and hands it to the signaling hub.
*/
package handler

import (
	"net/http"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"lexsignal/internal/app/signal"
	"lexsignal/internal/app/user"
	"lexsignal/internal/configs"
	"lexsignal/internal/pkg/auth/jwt"
	"lexsignal/internal/pkg/errs"
	"lexsignal/internal/pkg/limiter"
	"lexsignal/internal/pkg/logx"
	"lexsignal/internal/pkg/resp"
)

// HandleWebSocket creates an HTTP HandlerFunc to process WebSocket connection requests.
// Handshakes are rate limited per IP by the router before they reach it.
func HandleWebSocket(deps *AppDeps, upgrader websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := limiter.ClientIP(r)

		bound, customErr := bindIdentity(r, deps.Config)
		if customErr != nil {
			logx.Warn("WebSocket connection rejected: Missing or invalid session token.", "ip", ip, "auth_mode", deps.Config.SocketAuth)
			resp.RespondError(w, r, customErr)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		eventLimiter := rate.NewLimiter(rate.Limit(deps.Config.EventRate), deps.Config.EventBurst)
		client := signal.NewClient(deps.Hub, conn, bound, eventLimiter)

		logx.Debug("WebSocket connection established", "conn_id", client.ID(), "bound_user_id", bound.ID)

		client.Serve()
	}
}

// bindIdentity resolves the identity a handshake is bound to under the configured auth mode.
// A zero User means the connection is unbound.
func bindIdentity(r *http.Request, cfg *configs.AppConfig) (user.User, *errs.CustomError) {
	if cfg.SocketAuth == configs.AuthOff {
		return user.User{}, nil
	}

	token := jwt.TokenFromRequest(r)
	if token == "" {
		if cfg.SocketAuth == configs.AuthRequired {
			return user.User{}, errs.NewError(errs.ErrUnauthorized)
		}
		return user.User{}, nil
	}

	// A token that was presented but fails to verify is rejected even in optional mode.
	payload, err := jwt.ParseToken(token, cfg.JWTSecret)
	if err != nil {
		logx.Debug("Session token rejected", "error", err.Error())
		return user.User{}, errs.NewError(errs.ErrUnauthorized)
	}

	return user.User{ID: payload.ID, Name: payload.Name, Verified: true}, nil
}
