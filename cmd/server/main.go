// Deskwire - live synchronization server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avetrov/deskwire/internal/api"
	"github.com/avetrov/deskwire/internal/chat"
	"github.com/avetrov/deskwire/internal/config"
	"github.com/avetrov/deskwire/internal/identity"
	"github.com/avetrov/deskwire/internal/middleware"
	"github.com/avetrov/deskwire/internal/notify"
	"github.com/avetrov/deskwire/internal/realtime"
	"github.com/avetrov/deskwire/internal/store"
	"github.com/avetrov/deskwire/internal/timetrack"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "instance_id", cfg.InstanceID, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	// Event transport. The optional bridge relays published events to the
	// other instances of a multi-node deployment.
	hub := realtime.NewHub(cfg.InstanceID)
	switch cfg.EventBus {
	case config.BusRedis:
		bridge, err := realtime.NewRedisBridge(ctx, cfg.RedisAddr)
		if err != nil {
			slog.Error("Failed to connect Redis event bridge", "error", err, "addr", cfg.RedisAddr)
			os.Exit(1)
		}
		defer func() {
			if closeErr := bridge.Close(); closeErr != nil {
				slog.Error("Failed to close redis bridge", "error", closeErr)
			}
		}()
		hub.AttachBridge(bridge)
		slog.Info("Redis event bridge attached", "addr", cfg.RedisAddr)
	case config.BusNATS:
		bridge, err := realtime.NewNATSBridge(cfg.NATSURL, cfg.InstanceID)
		if err != nil {
			slog.Error("Failed to connect NATS event bridge", "error", err, "url", cfg.NATSURL)
			os.Exit(1)
		}
		defer func() {
			if closeErr := bridge.Close(); closeErr != nil {
				slog.Error("Failed to close nats bridge", "error", closeErr)
			}
		}()
		hub.AttachBridge(bridge)
		slog.Info("NATS event bridge attached", "url", cfg.NATSURL)
	default:
		slog.Info("Running single-instance, no event bridge")
	}

	go func() {
		if err := hub.RunBridge(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Event bridge stopped", "error", err)
		}
	}()

	// Initialize services.
	presence := realtime.NewPresence(hub)
	typing := realtime.NewTypingTracker(hub, cfg.TypingTTL)
	typing.StartSweeper(ctx)

	chatSvc := chat.NewService(repo, hub)
	notifySvc := notify.NewService(repo, hub)
	timerSvc := timetrack.NewService(repo, hub)

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, chatSvc, notifySvc, timerSvc, presence)
	healthHandler := api.NewHealthHandler(repo)
	wsHandler := realtime.NewWebSocketHandler(repo, hub, presence, typing, chatSvc, notifySvc, timerSvc, cfg.FrontendURL, cfg.IsDevelopment())
	wsHandler.SetHeartbeatTimeout(cfg.HeartbeatTimeout)
	wsHandler.SetSendBuffer(cfg.SendBuffer)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// Identity-scoped routes. The upstream gateway authenticates and
	// forwards the user id; the middleware rejects requests without one.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		baseHandler.RegisterRoutes(r)
		r.Get("/ws", wsHandler.ServeHTTP)
	})

	// Create server.
	// Note: WebSocket connections require long timeouts (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  0,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
