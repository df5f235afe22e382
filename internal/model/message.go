package model

import (
	"time"
)

// Sender identifies who produced a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderBot       Sender = "bot"
	SenderReasoning Sender = "reasoning"
)

// Valid reports whether s is a known sender.
func (s Sender) Valid() bool {
	switch s {
	case SenderUser, SenderBot, SenderReasoning:
		return true
	}
	return false
}

// TypingPlaceholderID is the reserved id of the cache-only "assistant is
// typing" message. It is never persisted.
const TypingPlaceholderID = "__typing__"

// Message represents a conversation message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Sender         Sender    `json:"sender"`
	Text           *string   `json:"text"`
	SentAt         time.Time `json:"sent_at"`
}

// NewTypingPlaceholder returns the placeholder message for a conversation.
func NewTypingPlaceholder(conversationID string, at time.Time) Message {
	return Message{
		ID:             TypingPlaceholderID,
		ConversationID: conversationID,
		Sender:         SenderBot,
		SentAt:         at,
	}
}

// IsPlaceholder reports whether m is a typing placeholder.
func (m Message) IsPlaceholder() bool {
	return m.ID == TypingPlaceholderID && m.Text == nil
}

// Content returns the message text, or "" for a placeholder.
func (m Message) Content() string {
	if m.Text == nil {
		return ""
	}
	return *m.Text
}

// Mode selects the kind of AI turn.
type Mode string

const (
	ModePlain   Mode = "plain"
	ModeAgentic Mode = "agentic"
)

// ParseMode maps a caller-supplied string to a Mode, defaulting to plain.
func ParseMode(s string) Mode {
	if Mode(s) == ModeAgentic {
		return ModeAgentic
	}
	return ModePlain
}

// AgenticReply is the result of a reasoning + response turn.
type AgenticReply struct {
	Reasoning string `json:"reasoning"`
	Response  string `json:"response"`
}
