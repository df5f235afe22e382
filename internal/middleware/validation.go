package middleware

import (
	"errors"
	"regexp"
	"unicode/utf8"

	"github.com/capitalize-ai/conversation-orchestrator/internal/model"
)

// MaxMessageLength bounds a single message in bytes.
const MaxMessageLength = 100000

var conversationIDPattern = regexp.MustCompile(`^[^/\s]{1,160}_cv\d{2,}$`)

// ValidateMessageContent validates message content. Blank text is allowed
// and treated as a no-op send.
func ValidateMessageContent(content string) error {
	if len(content) > MaxMessageLength {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateConversationID validates a conversation ID of the form
// <user>_cv<NN>.
func ValidateConversationID(id string) error {
	if !utf8.ValidString(id) || !conversationIDPattern.MatchString(id) {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidateMode validates a send mode. Empty means plain.
func ValidateMode(mode string) error {
	switch model.Mode(mode) {
	case "", model.ModePlain, model.ModeAgentic:
		return nil
	}
	return errors.New("mode must be plain or agentic")
}
