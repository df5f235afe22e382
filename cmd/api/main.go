// Package main is the entry point for the API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/conversation-orchestrator/internal/assistant"
	"github.com/capitalize-ai/conversation-orchestrator/internal/config"
	"github.com/capitalize-ai/conversation-orchestrator/internal/handler"
	"github.com/capitalize-ai/conversation-orchestrator/internal/llm"
	natsclient "github.com/capitalize-ai/conversation-orchestrator/internal/nats"
	"github.com/capitalize-ai/conversation-orchestrator/internal/orchestrator"
	"github.com/capitalize-ai/conversation-orchestrator/internal/service"
	"github.com/capitalize-ai/conversation-orchestrator/internal/store"
	"github.com/capitalize-ai/conversation-orchestrator/pkg/logger"
	"github.com/capitalize-ai/conversation-orchestrator/pkg/tracing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Initialize logger
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "conversation-orchestrator", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	// Open the conversation store
	db, err := store.Open(ctx, cfg.DBDriver, cfg.DBDSN, log)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer db.Close()

	// Initialize LLM client
	llmClient, err := llm.NewClient(llm.Provider(cfg.DefaultLLM), cfg.APIKey())
	if err != nil {
		return fmt.Errorf("failed to create %s client: %w", cfg.DefaultLLM, err)
	}
	ai := assistant.New(llmClient, db, assistant.Config{
		Model:        cfg.LLMModel,
		MaxTokens:    cfg.LLMMaxTokens,
		ReplyTimeout: cfg.AIReplyTimeout,
	}, log)

	// Connect to NATS when configured
	var (
		callbacks service.CallbackFactory
		events    handler.EventSource
		natsConn  handler.ConnChecker
	)
	if cfg.NATSURL != "" {
		natsClient, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer natsClient.Close()

		streamManager := natsclient.NewStreamManager(natsClient)
		if err := streamManager.EnsureStream(ctx); err != nil {
			return fmt.Errorf("failed to ensure stream: %w", err)
		}

		callbacks = func(userID string) orchestrator.Callbacks {
			return natsclient.NewPublisher(streamManager, userID, log)
		}
		events = streamManager
		natsConn = natsClient
	} else {
		log.Info("NATS_URL not set, session events disabled")
	}

	// Initialize services
	sessions := service.NewSessionRegistry(db, ai, callbacks, service.Config{
		Orchestrator: orchestrator.Config{
			LockScope:      orchestrator.LockScope(cfg.SendLockScope),
			TopicTimeout:   cfg.TopicTimeout,
			SummaryTimeout: cfg.SummaryTimeout,
		},
		IdleTTL: cfg.SessionIdleTTL,
	}, log)
	go sessions.Run(ctx)

	// Create router
	router := handler.NewRouter(handler.RouterConfig{
		JWTSecret:         cfg.JWTSecret,
		CORSOrigins:       cfg.CORSOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
	}, handler.Handlers{
		Health:        handler.NewHealthHandler(db, natsConn),
		Conversations: handler.NewConversationHandler(sessions, db, log),
		Messages:      handler.NewMessageHandler(sessions, log),
		Stream:        handler.NewStreamHandler(events, log),
	}, log)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	// Let in-flight topic and summary work land before the store closes.
	done := make(chan struct{})
	go func() {
		sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Warn("background work still running at shutdown")
	}

	log.Info("server stopped")
	return nil
}
