// Package model defines data structures for the conversation orchestrator.
package model

import (
	"time"
)

// Conversation represents a user's conversation thread.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	StartedAt time.Time `json:"started_at"`
	Title     string    `json:"title,omitempty"`
}

// HistoryEntry is one row of the caller's conversation list.
type HistoryEntry struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Summary is a free-text digest of a conversation.
type Summary struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
}
