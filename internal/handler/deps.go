package handler

import (
	"lexsignal/internal/app/signal"
	"lexsignal/internal/configs"
)

// AppDeps carries what the HTTP layer needs from the rest of the application.
type AppDeps struct {
	Hub    *signal.Hub
	Config *configs.AppConfig
}
