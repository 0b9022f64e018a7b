package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/boring-game/voice-chat/internal/auth"
	"github.com/boring-game/voice-chat/internal/config"
	"github.com/boring-game/voice-chat/internal/db"
	"github.com/boring-game/voice-chat/internal/fanout"
	"github.com/boring-game/voice-chat/internal/hub"
	httphandler "github.com/boring-game/voice-chat/internal/http"
	"github.com/boring-game/voice-chat/internal/http/handlers"
	"github.com/boring-game/voice-chat/internal/pipeline"
	"github.com/boring-game/voice-chat/internal/presence"
	"github.com/boring-game/voice-chat/internal/registry"
	"github.com/boring-game/voice-chat/internal/relay"
	"github.com/boring-game/voice-chat/internal/repo"
)

func main() {
	// Load .env from CWD so it works in local development (env vars override)
	_ = godotenv.Load(".env")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Create context for startup operations
	ctx := context.Background()

	// Open database connection
	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	// Run migrations
	if err := db.Migrate(ctx, database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Initialize repositories
	userRepo := repo.NewUserRepo(database)
	deviceRepo := repo.NewDeviceRepo(database)
	messageRepo := repo.NewMessageRepo(database)
	groupRepo := repo.NewGroupRepo(database)

	// Initialize core components. The hub is both the websocket entry
	// point and the gateway every other component delivers through, so
	// it is created first and bound to the rest afterwards.
	jwtService := auth.NewJWTService(cfg.JWTSecret)
	reg := registry.New()
	ws := hub.New(jwtService, reg)

	publisher := presence.NewPublisher(ws, userRepo)
	reg.SetNotifier(publisher)

	groups := fanout.New(groupRepo)
	pipe := pipeline.New(messageRepo, groups, reg, ws)
	rly := relay.New(ws)
	ws.Bind(pipe, rly, deviceRepo)

	// Initialize handlers
	groupHandler := handlers.NewGroupHandler(groups)

	// Create router
	router := httphandler.NewRouter(groupHandler, ws.ServeWS, jwtService, userRepo, cfg.StunURL)

	// Create HTTP server with timeouts. Write and idle timeouts are
	// generous because /ws connections are long-lived.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
