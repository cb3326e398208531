/*
Package main is the entry point for the LexSignal server.

It is responsible for loading configuration, initializing the global logging system, wiring the
telemetry sinks, starting the signaling Hub and the HTTP server, and gracefully handling operating
system interrupt signals (SIGINT, SIGTERM) to ensure a smooth server shutdown.
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sig "lexsignal/internal/app/signal"
	"lexsignal/internal/app/telemetry"
	"lexsignal/internal/configs"
	"lexsignal/internal/handler"
	"lexsignal/internal/pkg/logx"
)

func main() {
	// Load configuration from environment variables
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	logx.InitGlobalLogger(cfg.IsDevelopment())
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Str("socket_path", cfg.SocketPath).
		Str("socket_auth", cfg.SocketAuth).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Bool("audit_db", cfg.AuditDatabaseDSN != "").
		Bool("nats", cfg.NATSURL != "").
		Bool("redis", cfg.RedisAddr != "").
		Msg("Configuration loaded successfully")

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize telemetry
	recorder := telemetry.NewAsyncRecorder(telemetry.DefaultBufferSize, openSinks(ctx, cfg)...)

	// Initialize the signaling hub
	hub := sig.NewHub(sig.NewRegistry(), recorder)
	go hub.Run()

	// Setup HTTP server and routes
	router := handler.Router(ctx, &handler.AppDeps{
		Hub:    hub,
		Config: cfg,
	})

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logx.Info("LexSignal server starting", "addr", serverAddr, "socket_path", cfg.SocketPath)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server with a timeout of 5 seconds.
	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Server forced to shutdown")
	}

	hub.Stop()
	select {
	case <-hub.Done():
	case <-shutdownCtx.Done():
		logx.Warn("Signal hub did not stop before the shutdown deadline.")
	}

	if err := recorder.Close(); err != nil {
		logx.Error(err, "Telemetry sinks closed with errors")
	}

	logx.Info("Server gracefully stopped.")
}

// openSinks connects every configured telemetry sink. The log sink is always present; an
// integration that fails to connect is logged and skipped so signaling still starts.
func openSinks(ctx context.Context, cfg *configs.AppConfig) []telemetry.Sink {
	sinks := []telemetry.Sink{telemetry.NewLogSink(logx.Component("audit"))}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if cfg.AuditDatabaseDSN != "" {
		pgSink, err := telemetry.NewPostgresSink(dialCtx, cfg.AuditDatabaseDSN)
		if err != nil {
			logx.Error(err, "Audit database unavailable, continuing without it")
		} else {
			sinks = append(sinks, pgSink)
			logx.Info("Audit database connected")
		}
	}

	if cfg.NATSURL != "" {
		natsSink, err := telemetry.DialNATS(cfg.NATSURL, cfg.NATSSubjectPrefix)
		if err != nil {
			logx.Error(err, "NATS unavailable, continuing without it", "url", cfg.NATSURL)
		} else {
			sinks = append(sinks, natsSink)
			logx.Info("NATS connected", "subject_prefix", cfg.NATSSubjectPrefix)
		}
	}

	if cfg.RedisAddr != "" {
		redisSink, err := telemetry.DialRedis(dialCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPresenceKey)
		if err != nil {
			logx.Error(err, "Redis unavailable, continuing without it", "addr", cfg.RedisAddr)
		} else {
			sinks = append(sinks, redisSink)
			logx.Info("Redis presence mirror connected", "key", cfg.RedisPresenceKey)
		}
	}

	return sinks
}
