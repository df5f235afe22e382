package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/conversation-orchestrator/internal/middleware"
	"github.com/capitalize-ai/conversation-orchestrator/internal/model"
	"github.com/capitalize-ai/conversation-orchestrator/internal/orchestrator"
)

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func modeFlag(agentic bool) model.Mode {
	if agentic {
		return model.ModeAgentic
	}
	return model.ModePlain
}

func chatCmd() *cobra.Command {
	var (
		agentic        bool
		conversationID string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat",
		Long: `Start an interactive chat. Each line is sent as a message.

Commands:
  /new          start a new conversation
  /open <id>    switch to an existing conversation
  /list         list conversations
  /agentic      toggle agentic replies
  /quit         exit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			s, err := openSession(ctx, true)
			if err != nil {
				return err
			}
			defer s.Close()

			if conversationID != "" {
				messages, err := s.orch.OpenConversation(ctx, conversationID)
				if err != nil {
					return err
				}
				s.out.Messages(messages)
			}

			return repl(ctx, s, bufio.NewScanner(os.Stdin), agentic)
		},
	}

	cmd.Flags().BoolVar(&agentic, "agentic", false, "show the assistant's reasoning")
	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "continue an existing conversation")
	return cmd
}

// repl reads lines until EOF, /quit or cancellation.
func repl(ctx context.Context, s *session, in *bufio.Scanner, agentic bool) error {
	s.out.Info("signed in as %s, /quit to exit", s.orch.UserID())
	for {
		fmt.Print("> ")
		if !in.Scan() {
			fmt.Println()
			return in.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(in.Text())

		switch {
		case line == "/quit":
			return nil
		case line == "/new":
			s.orch.StartNewConversation()
			s.out.Info("new conversation")
		case line == "/list":
			entries, err := s.orch.RefreshHistory(ctx)
			if err != nil {
				continue
			}
			s.out.History(entries, s.orch.ActiveConversation())
		case line == "/agentic":
			agentic = !agentic
			s.out.Info("agentic replies: %v", agentic)
		case strings.HasPrefix(line, "/open "):
			messages, err := s.orch.OpenConversation(ctx, strings.TrimSpace(strings.TrimPrefix(line, "/open ")))
			if err != nil {
				if orchestrator.IsValidation(err) {
					s.out.OnError("open", err.Error())
				}
				continue
			}
			s.out.Messages(messages)
		default:
			result, err := s.orch.Send(ctx, line, modeFlag(agentic))
			if err != nil {
				if orchestrator.IsValidation(err) {
					s.out.OnError("send", err.Error())
				}
				continue
			}
			if result.Skipped {
				continue
			}
			s.out.Messages(lastTurn(result.Messages))
		}
	}
}

// lastTurn returns the messages from the final user message onwards.
func lastTurn(messages []model.Message) []model.Message {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Sender == model.SenderUser {
			return messages[i+1:]
		}
	}
	return messages
}

func sendCmd() *cobra.Command {
	var (
		agentic        bool
		conversationID string
	)

	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send one message and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			s, err := openSession(ctx, true)
			if err != nil {
				return err
			}
			defer s.Close()

			if conversationID != "" {
				if _, err := s.orch.OpenConversation(ctx, conversationID); err != nil {
					return err
				}
			}

			result, err := s.orch.Send(ctx, strings.Join(args, " "), modeFlag(agentic))
			if err != nil {
				return err
			}
			if result.Skipped {
				return fmt.Errorf("nothing to send")
			}
			s.out.Messages(lastTurn(result.Messages))
			s.out.Info("conversation %s", result.ConversationID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&agentic, "agentic", false, "show the assistant's reasoning")
	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "send to an existing conversation")
	return cmd
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List your conversations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			s, err := openSession(ctx, false)
			if err != nil {
				return err
			}
			defer s.Close()

			entries, err := s.orch.RefreshHistory(ctx)
			if err != nil {
				return err
			}
			s.out.History(entries, "")
			return nil
		},
	}
}

func showCmd() *cobra.Command {
	var summaries bool

	cmd := &cobra.Command{
		Use:   "show <conversation-id>",
		Short: "Print a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			s, err := openSession(ctx, false)
			if err != nil {
				return err
			}
			defer s.Close()

			messages, err := s.orch.OpenConversation(ctx, args[0])
			if err != nil {
				return err
			}
			conv, err := s.store.GetConversation(ctx, args[0])
			if err != nil {
				return err
			}
			header := conv.ID
			if topic := s.orch.Topic(args[0]); topic != "" {
				header = topic
			}
			s.out.Info("# %s (started %s)", header, conv.StartedAt.Local().Format("2006-01-02 15:04"))
			s.out.Messages(messages)

			if summaries {
				list, err := s.store.ListSummaries(ctx, args[0])
				if err != nil {
					return err
				}
				s.out.Summaries(list)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&summaries, "summaries", "s", false, "also print stored summaries")
	return cmd
}

func deleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <conversation-id>",
		Short: "Delete a conversation and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd)
			defer cancel()

			s, err := openSession(ctx, false)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.orch.RequestDelete(args[0]); err != nil {
				return err
			}

			if !yes && !confirm(bufio.NewScanner(os.Stdin), fmt.Sprintf("Delete %s? [y/N] ", args[0])) {
				s.orch.CancelDelete()
				s.out.Info("cancelled")
				return nil
			}

			if err := s.orch.ConfirmDelete(ctx); err != nil {
				return err
			}
			s.out.Info("deleted %s", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func confirm(in *bufio.Scanner, prompt string) bool {
	fmt.Print(prompt)
	if !in.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(in.Text()))
	return answer == "y" || answer == "yes"
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token for --user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("no user: pass --user")
			}
			token, err := middleware.IssueToken(cfg.JWTSecret, userID, username, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
