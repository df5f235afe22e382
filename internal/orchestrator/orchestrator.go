// Package orchestrator owns the lifecycle of a caller's conversations: id
// assignment, AI turn sequencing, topic and summary generation, and
// deletion. It keeps the MessageCache consistent with the ConversationStore
// and reports changes through Callbacks.
//
// All state is guarded by a single mutex that is never held across a store
// or AI call, so those calls are the only suspension points. Within one
// conversation, writes happen in program order: user message, placeholder,
// AI call, result.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/conversation-orchestrator/internal/cache"
	"github.com/capitalize-ai/conversation-orchestrator/internal/model"
	"github.com/capitalize-ai/conversation-orchestrator/pkg/logger"
)

// LockScope selects how sends are gated.
type LockScope string

const (
	// LockGlobal allows one outstanding turn across the whole session.
	LockGlobal LockScope = "global"
	// LockPerConversation allows one outstanding turn per conversation.
	LockPerConversation LockScope = "conversation"
)

// Config tunes an Orchestrator.
type Config struct {
	LockScope      LockScope
	TopicTimeout   time.Duration
	SummaryTimeout time.Duration

	// Now is the clock used for message timestamps. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns the defaults used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		LockScope:      LockGlobal,
		TopicTimeout:   30 * time.Second,
		SummaryTimeout: 60 * time.Second,
		Now:            time.Now,
	}
}

// conversationState is the per-conversation session entry. Messages and the
// typing flag live in the MessageCache.
type knownChange struct {
	rev   uint64
	added bool
}

type conversationState struct {
	topic                   string
	topicRequested          bool
	lastSummarizedPairCount int
}

// Orchestrator drives one caller session. Construct it once and share the
// pointer; it is safe for concurrent use.
type Orchestrator struct {
	store     ConversationStore
	ai        AIClient
	callbacks Callbacks
	logger    *logger.Logger
	tracer    trace.Tracer
	cfg       Config

	mu       sync.Mutex
	epoch    uint64
	userID   string
	username string
	active   string
	known    []string
	reserved map[string]struct{}
	labels   map[string]string
	cache    *cache.MessageCache
	convs    map[string]*conversationState

	// knownRev counts local changes to known; knownChanges holds the latest
	// change per id so a refresh can tell which ids its listing predates.
	knownRev     uint64
	knownChanges map[string]knownChange

	inFlight map[string]struct{}
	deletion deletion
	lastTime time.Time

	bg sync.WaitGroup
}

// New creates an orchestrator. A nil callbacks or logger is replaced with a
// no-op implementation and the global logger respectively.
func New(store ConversationStore, ai AIClient, callbacks Callbacks, cfg Config, log *logger.Logger) *Orchestrator {
	def := DefaultConfig()
	if cfg.LockScope == "" {
		cfg.LockScope = def.LockScope
	}
	if cfg.TopicTimeout <= 0 {
		cfg.TopicTimeout = def.TopicTimeout
	}
	if cfg.SummaryTimeout <= 0 {
		cfg.SummaryTimeout = def.SummaryTimeout
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	if callbacks == nil {
		callbacks = NopCallbacks{}
	}
	if log == nil {
		log = logger.Global()
	}

	o := &Orchestrator{
		store:     store,
		ai:        ai,
		callbacks: callbacks,
		logger:    log.With(zap.String("component", "orchestrator")),
		tracer:    otel.Tracer("github.com/capitalize-ai/conversation-orchestrator/internal/orchestrator"),
		cfg:       cfg,
	}
	o.resetLocked()
	return o
}

// resetLocked drops every piece of per-user state. Callers hold o.mu.
func (o *Orchestrator) resetLocked() {
	o.epoch++
	o.active = ""
	o.known = nil
	o.knownChanges = make(map[string]knownChange)
	o.reserved = make(map[string]struct{})
	o.labels = make(map[string]string)
	if o.cache == nil {
		o.cache = cache.New()
	} else {
		o.cache.ClearAll()
	}
	o.convs = make(map[string]*conversationState)
	o.inFlight = make(map[string]struct{})
	o.deletion = deletion{}
}

// SignIn switches the session to a user, clearing all cached state, and
// loads the user's conversation history.
func (o *Orchestrator) SignIn(ctx context.Context, userID, username string) error {
	if userID == "" {
		return validationf("user id is required")
	}

	o.mu.Lock()
	o.resetLocked()
	o.userID = userID
	o.username = username
	o.mu.Unlock()

	o.logger.Info("user signed in", zap.String("user_id", userID))
	_, err := o.RefreshHistory(ctx)
	return err
}

// SignOut clears the session. In-flight turns still complete against the
// store but no longer touch the cache.
func (o *Orchestrator) SignOut() {
	o.mu.Lock()
	userID := o.userID
	o.resetLocked()
	o.userID = ""
	o.username = ""
	o.mu.Unlock()

	o.logger.Info("user signed out", zap.String("user_id", userID))
}

// UserID returns the signed-in user, or "".
func (o *Orchestrator) UserID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.userID
}

// ActiveConversation returns the id of the conversation the caller is
// viewing, or "" for a not-yet-created new conversation.
func (o *Orchestrator) ActiveConversation() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// StartNewConversation clears the active conversation. An id is assigned
// when the first message is sent.
func (o *Orchestrator) StartNewConversation() {
	o.mu.Lock()
	o.active = ""
	o.mu.Unlock()
}

// Messages returns the cached log of a conversation.
func (o *Orchestrator) Messages(conversationID string) []model.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cache.Messages(conversationID)
}

// Topic returns the cached topic of a conversation, or "".
func (o *Orchestrator) Topic(conversationID string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.convs[conversationID]; ok {
		return s.topic
	}
	return ""
}

// Typing reports whether a conversation shows the typing placeholder.
func (o *Orchestrator) Typing(conversationID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cache.IsTyping(conversationID)
}

// Busy reports whether any turn is awaiting a response.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.inFlight) > 0
}

// KnownConversations returns the user's conversation ids, newest first.
func (o *Orchestrator) KnownConversations() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.known))
	copy(out, o.known)
	return out
}

// Wait blocks until background topic and summary work has finished.
func (o *Orchestrator) Wait() {
	o.bg.Wait()
}

// OpenConversation makes a known conversation active, reloads its messages
// from the store and adopts any stored title.
func (o *Orchestrator) OpenConversation(ctx context.Context, conversationID string) ([]model.Message, error) {
	o.mu.Lock()
	if o.userID == "" {
		o.mu.Unlock()
		return nil, validationf("no user signed in")
	}
	if !o.isKnownLocked(conversationID) {
		o.mu.Unlock()
		return nil, validationf("unknown conversation %q", conversationID)
	}
	o.active = conversationID
	epoch := o.epoch
	o.mu.Unlock()

	messages, err := o.store.FetchMessages(ctx, conversationID)
	if err != nil {
		o.reportError("open conversation", err)
		return nil, storeErr("fetch messages", err)
	}

	title, err := o.store.GetTitle(ctx, conversationID)
	if err != nil {
		o.logger.Warn("failed to load title",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
	}

	o.mu.Lock()
	if !o.liveLocked(epoch, conversationID) {
		o.mu.Unlock()
		return messages, nil
	}
	// A turn may have persisted messages after the fetch read its snapshot.
	o.cache.Merge(conversationID, messages)
	if title != "" {
		o.stateLocked(conversationID).topic = title
		o.labels[conversationID] = title
	}
	snapshot := o.cache.Messages(conversationID)
	o.mu.Unlock()

	o.render(conversationID)
	return snapshot, nil
}

// stateLocked returns the session entry for a conversation, creating it on
// first access. Callers hold o.mu.
func (o *Orchestrator) stateLocked(conversationID string) *conversationState {
	s, ok := o.convs[conversationID]
	if !ok {
		s = &conversationState{}
		o.convs[conversationID] = s
	}
	return s
}

func (o *Orchestrator) isKnownLocked(conversationID string) bool {
	for _, id := range o.known {
		if id == conversationID {
			return true
		}
	}
	return false
}

// liveLocked reports whether a continuation started in epoch may still
// touch the cache for conversationID.
func (o *Orchestrator) liveLocked(epoch uint64, conversationID string) bool {
	return epoch == o.epoch && o.isKnownLocked(conversationID)
}

// timestampLocked returns a strictly increasing timestamp so that messages
// produced in one turn keep their order after a store round trip.
func (o *Orchestrator) timestampLocked() time.Time {
	now := o.cfg.Now().UTC()
	if !now.After(o.lastTime) {
		now = o.lastTime.Add(time.Microsecond)
	}
	o.lastTime = now
	return now
}

// render notifies the caller about a conversation's messages if it is the
// active one.
func (o *Orchestrator) render(conversationID string) {
	o.mu.Lock()
	if o.active != conversationID {
		o.mu.Unlock()
		return
	}
	snapshot := o.cache.Messages(conversationID)
	o.mu.Unlock()

	o.callbacks.OnMessagesChanged(conversationID, snapshot)
}

func (o *Orchestrator) reportError(where string, err error) {
	o.callbacks.OnError(where, err.Error())
}
