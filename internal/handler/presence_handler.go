/*
Package handler provides HTTP handler functions for health and presence queries.
*/
package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"lexsignal/internal/pkg/errs"
	"lexsignal/internal/pkg/resp"
)

// HealthOutput is the body of GET /health.
type HealthOutput struct {
	Status      string `json:"status"`
	Service     string `json:"service"`
	Connections int    `json:"connections"`
	OnlineUsers int    `json:"onlineUsers"`
}

// UserPresenceOutput is the body of GET /api/presence/{userId}.
type UserPresenceOutput struct {
	UserID      string `json:"userId"`
	IsOnline    bool   `json:"isOnline"`
	Connections int    `json:"connections"`
}

// HandleHealth reports liveness along with connection and online-user counts.
func HandleHealth(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		registry := deps.Hub.Registry()

		resp.RespondSuccess(w, r, HealthOutput{
			Status:      "ok",
			Service:     ServiceName,
			Connections: registry.Len(),
			OnlineUsers: registry.OnlineCount(),
		})
	}
}

// HandleListOnline returns the sorted ids of every online user.
func HandleListOnline(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp.RespondSuccess(w, r, deps.Hub.Registry().ListOnline())
	}
}

// HandleUserPresence reports whether one user is online and on how many connections.
func HandleUserPresence(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(chi.URLParam(r, "userId"))
		if userID == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		registry := deps.Hub.Registry()

		resp.RespondSuccess(w, r, UserPresenceOutput{
			UserID:      userID,
			IsOnline:    registry.IsOnline(userID),
			Connections: registry.ConnectionCount(userID),
		})
	}
}
