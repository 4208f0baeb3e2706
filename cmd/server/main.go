package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"learning-agent/internal/api/handlers"
	"learning-agent/internal/app"
	"learning-agent/internal/auth"
	"learning-agent/internal/config"
	"learning-agent/internal/logger"
	"learning-agent/internal/repository/db"
	"learning-agent/internal/repository/memory"
	"learning-agent/internal/repository/postgres"
	"learning-agent/internal/service/llm"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	appConfig, err := config.LoadConfig()
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := openDatabase(ctx, appConfig.Database)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to initialize database")
	}
	defer database.Close()

	authenticator, err := auth.NewAuthenticator(appConfig.Auth.SharedSecret, appConfig.Auth.TokenExpiration)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to configure authentication")
	}
	if !authenticator.Enabled() {
		logger.Log.Warn("AGENT_SHARED_SECRET not set, API is unauthenticated")
	}

	provider := llm.NewOpenRouterProvider(&appConfig.LLM, appConfig.Prompts.DefaultSystemPrompt)
	interactionHandlers := handlers.NewInteractionHandlers(app.NewConfig(database, provider, appConfig))

	// Create new ServeMux to use Go 1.22+ routing features
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", interactionHandlers.HealthHandler)
	mux.HandleFunc("POST /api/interact", authenticator.Middleware(interactionHandlers.InteractHandler))
	mux.HandleFunc("POST /api/answer", authenticator.Middleware(interactionHandlers.AnswerHandler))

	// CORS must wrap everything to answer OPTIONS pre-flight requests
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: appConfig.Server.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
	})

	server := &http.Server{
		Addr:              ":" + appConfig.Server.Port,
		Handler:           corsHandler.Handler(mux),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Log.WithFields(logrus.Fields{
			"port":     appConfig.Server.Port,
			"driver":   appConfig.Database.Driver,
			"model":    provider.GetDefaultModel(),
			"auth":     authenticator.Enabled(),
			"interact": "POST /api/interact",
			"answer":   "POST /api/answer",
		}).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Log.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), appConfig.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Log.WithError(err).Fatal("Server failed")
	}
	logger.Log.Info("Server stopped")
}

func openDatabase(ctx context.Context, dbConfig config.DatabaseConfig) (db.Database, error) {
	if dbConfig.Driver == config.DriverMemory {
		logger.Log.Warn("Using in-memory interaction log, data is lost on restart")
		return memory.New(), nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return postgres.NewPostgresDB(connectCtx, dbConfig)
}
