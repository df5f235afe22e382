package model

// SendMessageRequest is the body of POST /messages.
type SendMessageRequest struct {
	Text string `json:"text"`
	Mode string `json:"mode,omitempty"`
}

// SendMessageResponse reports the outcome of a send.
type SendMessageResponse struct {
	ConversationID string    `json:"conversation_id,omitempty"`
	Skipped        bool      `json:"skipped"`
	Messages       []Message `json:"messages"`
}

// HistoryResponse lists a user's conversations.
type HistoryResponse struct {
	Active        string         `json:"active,omitempty"`
	Conversations []HistoryEntry `json:"conversations"`
}

// ConversationResponse is an opened conversation.
type ConversationResponse struct {
	ID       string    `json:"id"`
	Topic    string    `json:"topic,omitempty"`
	Typing   bool      `json:"typing"`
	Messages []Message `json:"messages"`
}

// DeletionResponse reports the delete-confirmation state.
type DeletionResponse struct {
	State          string `json:"state"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ErrorEvent is sent on an event stream when it cannot continue.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
