package model

import (
	"time"
)

// EventType represents the type of render event emitted to callers.
type EventType string

const (
	EventTypeMessages      EventType = "messages"
	EventTypeHistory       EventType = "history"
	EventTypeError         EventType = "error"
	EventTypeConfirmDelete EventType = "confirm_delete"
)

// SessionEvent is a render notification for a user's session.
type SessionEvent struct {
	ID             string         `json:"id"`
	Sequence       uint64         `json:"sequence,omitempty"`
	UserID         string         `json:"user_id"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Type           EventType      `json:"type"`
	Messages       []Message      `json:"messages,omitempty"`
	History        []HistoryEntry `json:"history,omitempty"`
	Context        string         `json:"context,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
