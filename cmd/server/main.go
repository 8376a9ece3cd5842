package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"repodash/internal/config"
	"repodash/internal/database"
	"repodash/internal/handlers"
	"repodash/internal/logging"
	"repodash/internal/middleware"
	"repodash/internal/repository"
	"repodash/internal/router"
	"repodash/internal/services"
	"repodash/internal/websocket"
)

const shutdownTimeout = 30 * time.Second

// devUserID owns the token printed at startup in development.
var devUserID = uuid.MustParse("00000000-0000-4000-8000-000000000001")

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "✗ Logger initialization failed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logger.Info("✓ Environment variables loaded", zap.String("env", cfg.Env))

	// ──── Step 2: Conversation Store ────
	var (
		store   services.ConversationStore
		closers []func()
	)
	if cfg.DatabaseURL != "" {
		pool, err := database.NewPostgresPool(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("✗ PostgreSQL connection failed", zap.Error(err))
		}
		closers = append(closers, pool.Close)
		logger.Info("✓ PostgreSQL connected")

		if err := database.RunMigrations(pool, logger); err != nil {
			logger.Fatal("✗ Database migration failed", zap.Error(err))
		}
		logger.Info("✓ Database migrations applied")
		store = repository.NewConversationRepo(pool)
	} else {
		store = repository.NewMemoryConversationRepo()
		logger.Warn("DATABASE_URL not set, conversations are kept in memory")
	}

	// ──── Step 3: Rate Limiters ────
	var chatLimiter, restLimiter middleware.Limiter
	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedisClient(cfg.RedisURL)
		if err != nil {
			logger.Fatal("✗ Redis connection failed", zap.Error(err))
		}
		closers = append(closers, func() { redisClient.Close() })
		logger.Info("✓ Redis connected")

		chatLimiter = middleware.NewSlidingWindow(redisClient, "ratelimit:chat:", cfg.ChatRateLimit, cfg.ChatRateWindow)
		restLimiter = middleware.NewSlidingWindow(redisClient, "ratelimit:rest:", 120, time.Minute)
	} else {
		chatLimiter = middleware.NewRateLimiter(cfg.ChatRateLimit, cfg.ChatRateWindow)
		restLimiter = middleware.NewRateLimiter(120, time.Minute)
		logger.Warn("REDIS_URL not set, rate limits are per process")
	}

	// ──── Step 4: Assistant ────
	var assistant services.Assistant
	if cfg.GeminiAPIKey != "" {
		gemini, err := services.NewGeminiAssistant(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel, cfg.AssistantRequestsPerMin)
		if err != nil {
			logger.Fatal("✗ Gemini client initialization failed", zap.Error(err))
		}
		closers = append(closers, func() { gemini.Close() })
		assistant = gemini
		logger.Info("✓ Gemini client initialized", zap.String("model", cfg.GeminiModel))
	} else {
		assistant = services.EchoAssistant{Delay: 30 * time.Millisecond}
		logger.Warn("GEMINI_API_KEY not set, using the echo assistant")
	}

	// ──── Step 5: Services, Handlers & Hub ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	conversations := services.NewConversationService(store, cfg.HistoryContextLimit)
	conversationHandler := handlers.NewConversationHandler(conversations, logger)
	wsHub := websocket.NewHub(jwtAuth, conversations, assistant, chatLimiter, logger)

	if cfg.IsDevelopment() {
		token, err := jwtAuth.GenerateAccessToken(devUserID, "dev@localhost", 30*24*time.Hour)
		if err != nil {
			logger.Fatal("✗ Dev token generation failed", zap.Error(err))
		}
		logger.Info("Development token (CHAT_TOKEN)", zap.String("user_id", devUserID.String()), zap.String("token", token))
	}

	// ──── Step 6: Start HTTP Server ────
	r := router.New(jwtAuth, middleware.RateLimit(restLimiter, logger), conversationHandler, wsHub)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server error", zap.Error(err))
		}
	}()

	logger.Info("✓ Chat server ready",
		zap.String("api", fmt.Sprintf("http://localhost:%s/api/conversations/", cfg.Port)),
		zap.String("ws", fmt.Sprintf("ws://localhost:%s/ws/chat/", cfg.Port)),
	)

	// ──── Graceful Shutdown ────
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"http-server": func(ctx context.Context) error {
				logger.Info("Shutting down...")
				if err := server.Shutdown(ctx); err != nil {
					return err
				}
				if err := wsHub.Shutdown(ctx); err != nil {
					return err
				}
				for _, closeFn := range closers {
					closeFn()
				}
				return nil
			},
		},
	)

	exitCode := <-wait
	logger.Info("Server exited", zap.Int("code", exitCode))
	logger.Sync()
	os.Exit(exitCode)
}
