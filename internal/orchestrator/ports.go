package orchestrator

import (
	"context"

	"github.com/capitalize-ai/conversation-orchestrator/internal/model"
)

// ConversationStore defines what the orchestrator needs from durable storage.
// Each call is atomic on its own; the orchestrator never relies on
// multi-statement transactions.
type ConversationStore interface {
	// ListConversationIDs returns the user's conversation ids, newest first.
	ListConversationIDs(ctx context.Context, userID string) ([]string, error)
	CreateConversation(ctx context.Context, id, userID string) error
	// FetchMessages returns a conversation's messages oldest first.
	FetchMessages(ctx context.Context, conversationID string) ([]model.Message, error)
	InsertMessage(ctx context.Context, msg *model.Message) error
	DeleteMessages(ctx context.Context, conversationID string) error
	DeleteConversation(ctx context.Context, conversationID string) error
	// GetTitle returns "" when no title is stored.
	GetTitle(ctx context.Context, conversationID string) (string, error)
	SetTitle(ctx context.Context, conversationID, title string) error
	InsertSummary(ctx context.Context, conversationID, text string) error
}

// AIClient is the set of generation services the orchestrator calls.
type AIClient interface {
	Reply(ctx context.Context, username, question string) (string, error)
	ReplyAgentic(ctx context.Context, userID, username, question string) (*model.AgenticReply, error)
	Topic(ctx context.Context, userText, botText string) (string, error)
	Summarize(ctx context.Context, conversationID string) (string, error)
}

// Callbacks receive render notifications. Implementations must not call back
// into the orchestrator synchronously.
type Callbacks interface {
	OnMessagesChanged(conversationID string, messages []model.Message)
	OnHistoryChanged(entries []model.HistoryEntry)
	OnError(where, message string)
	OnConfirmDelete(conversationID string)
}

// NopCallbacks discards every notification.
type NopCallbacks struct{}

func (NopCallbacks) OnMessagesChanged(string, []model.Message) {}
func (NopCallbacks) OnHistoryChanged([]model.HistoryEntry)     {}
func (NopCallbacks) OnError(string, string)                    {}
func (NopCallbacks) OnConfirmDelete(string)                    {}
