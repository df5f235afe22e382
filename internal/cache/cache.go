// Package cache holds the per-conversation message log the caller renders.
//
// A MessageCache is owned by a single orchestrator, which serializes access
// to it; the cache itself does no locking and no I/O.
package cache

import (
	"github.com/capitalize-ai/conversation-orchestrator/internal/model"
)

// MessageCache maps conversation ids to their ordered message logs.
type MessageCache struct {
	logs map[string][]model.Message
}

// New creates an empty message cache.
func New() *MessageCache {
	return &MessageCache{logs: make(map[string][]model.Message)}
}

// Load replaces the cached log for a conversation wholesale. A typing
// placeholder already in the log is kept at the end.
func (c *MessageCache) Load(conversationID string, messages []model.Message) {
	placeholder, typing := c.placeholder(conversationID)

	log := make([]model.Message, 0, len(messages)+1)
	for _, m := range messages {
		if m.IsPlaceholder() {
			continue
		}
		log = append(log, m)
	}
	if typing {
		log = append(log, placeholder)
	}
	c.logs[conversationID] = log
}

// Merge loads a store snapshot like Load, then re-appends cached messages
// the snapshot does not contain. Those were written after the snapshot was
// read and would otherwise be lost.
func (c *MessageCache) Merge(conversationID string, messages []model.Message) {
	seen := make(map[string]struct{}, len(messages))
	for _, m := range messages {
		seen[m.ID] = struct{}{}
	}

	var tail []model.Message
	for _, m := range c.logs[conversationID] {
		if m.IsPlaceholder() {
			continue
		}
		if _, ok := seen[m.ID]; !ok {
			tail = append(tail, m)
		}
	}

	merged := make([]model.Message, 0, len(messages)+len(tail))
	merged = append(merged, messages...)
	merged = append(merged, tail...)
	c.Load(conversationID, merged)
}

// Append adds a message to the end of a conversation's log.
func (c *MessageCache) Append(conversationID string, msg model.Message) {
	c.logs[conversationID] = append(c.logs[conversationID], msg)
}

// InsertPlaceholder appends a typing placeholder unless one is present.
func (c *MessageCache) InsertPlaceholder(conversationID string, placeholder model.Message) {
	if _, ok := c.placeholder(conversationID); ok {
		return
	}
	c.Append(conversationID, placeholder)
}

// RemovePlaceholder removes the typing placeholder if present. It reports
// whether anything was removed.
func (c *MessageCache) RemovePlaceholder(conversationID string) bool {
	log, ok := c.logs[conversationID]
	if !ok {
		return false
	}
	for i, m := range log {
		if m.IsPlaceholder() {
			c.logs[conversationID] = append(log[:i:i], log[i+1:]...)
			return true
		}
	}
	return false
}

// IsTyping reports whether a conversation has a placeholder in its log.
func (c *MessageCache) IsTyping(conversationID string) bool {
	_, ok := c.placeholder(conversationID)
	return ok
}

// Messages returns a copy of a conversation's log.
func (c *MessageCache) Messages(conversationID string) []model.Message {
	log := c.logs[conversationID]
	out := make([]model.Message, len(log))
	copy(out, log)
	return out
}

// Has reports whether a log is cached for the conversation.
func (c *MessageCache) Has(conversationID string) bool {
	_, ok := c.logs[conversationID]
	return ok
}

// Clear drops the cached log for a conversation.
func (c *MessageCache) Clear(conversationID string) {
	delete(c.logs, conversationID)
}

// ClearAll drops every cached log.
func (c *MessageCache) ClearAll() {
	c.logs = make(map[string][]model.Message)
}

func (c *MessageCache) placeholder(conversationID string) (model.Message, bool) {
	for _, m := range c.logs[conversationID] {
		if m.IsPlaceholder() {
			return m, true
		}
	}
	return model.Message{}, false
}
