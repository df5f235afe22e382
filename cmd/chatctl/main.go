// Package main is the entry point for chatctl, a terminal client that drives
// conversations directly against the conversation store.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/capitalize-ai/conversation-orchestrator/internal/assistant"
	"github.com/capitalize-ai/conversation-orchestrator/internal/config"
	"github.com/capitalize-ai/conversation-orchestrator/internal/llm"
	"github.com/capitalize-ai/conversation-orchestrator/internal/orchestrator"
	"github.com/capitalize-ai/conversation-orchestrator/internal/store"
	"github.com/capitalize-ai/conversation-orchestrator/pkg/logger"
)

var (
	cfg      *config.Config
	userID   string
	username string
	verbose  bool
)

func main() {
	cfg = config.Load()

	rootCmd := &cobra.Command{
		Use:   "chatctl",
		Short: "Chat with the assistant from the terminal",
		Long: `chatctl signs in as a user and drives conversations against the
configured store (DB_DRIVER, DB_DSN) and LLM provider (DEFAULT_LLM).`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", os.Getenv("USER"), "user id to sign in as")
	rootCmd.PersistentFlags().StringVarP(&username, "name", "n", "", "display name (defaults to the user id)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr")

	rootCmd.AddCommand(
		chatCmd(),
		sendCmd(),
		listCmd(),
		showCmd(),
		deleteCmd(),
		tokenCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// session holds what a command needs to talk to the orchestrator.
type session struct {
	orch  *orchestrator.Orchestrator
	store *store.SQLStore
	out   *printer
}

func (s *session) Close() {
	s.orch.Wait()
	s.store.Close()
}

// openSession wires the store, the assistant and an orchestrator, and signs
// the user in.
func openSession(ctx context.Context, needAI bool) (*session, error) {
	if userID == "" {
		return nil, fmt.Errorf("no user: pass --user")
	}

	log := logger.NewNop()
	if verbose {
		l, err := logger.NewDevelopment()
		if err != nil {
			return nil, err
		}
		log = l
	}

	db, err := store.Open(ctx, cfg.DBDriver, cfg.DBDSN, log)
	if err != nil {
		return nil, err
	}

	var ai orchestrator.AIClient = offlineAI{}
	if needAI {
		client, err := llm.NewClient(llm.Provider(cfg.DefaultLLM), cfg.APIKey())
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("creating %s client: %w", cfg.DefaultLLM, err)
		}
		ai = assistant.New(client, db, assistant.Config{
			Model:        cfg.LLMModel,
			MaxTokens:    cfg.LLMMaxTokens,
			ReplyTimeout: cfg.AIReplyTimeout,
		}, log)
	}

	out := newPrinter(os.Stdout)
	orch := orchestrator.New(db, ai, out, orchestrator.Config{
		LockScope:      orchestrator.LockScope(cfg.SendLockScope),
		TopicTimeout:   cfg.TopicTimeout,
		SummaryTimeout: cfg.SummaryTimeout,
	}, log.With(zap.String("user_id", userID)))

	name := username
	if name == "" {
		name = userID
	}
	if err := orch.SignIn(ctx, userID, name); err != nil {
		db.Close()
		return nil, err
	}

	return &session{orch: orch, store: db, out: out}, nil
}
