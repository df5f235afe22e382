package nats

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/conversation-orchestrator/internal/model"
	"github.com/capitalize-ai/conversation-orchestrator/pkg/logger"
	"github.com/capitalize-ai/conversation-orchestrator/pkg/metrics"
)

// EventPublisher publishes session events.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *model.SessionEvent) (uint64, error)
}

// Publisher turns orchestrator notifications for one user into published
// session events. Publish failures are logged and dropped.
type Publisher struct {
	events  EventPublisher
	userID  string
	timeout time.Duration
	logger  *logger.Logger
}

// NewPublisher creates a publisher for userID.
func NewPublisher(events EventPublisher, userID string, log *logger.Logger) *Publisher {
	if log == nil {
		log = logger.Global()
	}
	return &Publisher{
		events:  events,
		userID:  userID,
		timeout: 5 * time.Second,
		logger:  log.With(zap.String("component", "publisher"), zap.String("user_id", userID)),
	}
}

// OnMessagesChanged publishes the active conversation's message log.
func (p *Publisher) OnMessagesChanged(conversationID string, messages []model.Message) {
	p.publish(&model.SessionEvent{
		ConversationID: conversationID,
		Type:           model.EventTypeMessages,
		Messages:       messages,
	})
}

// OnHistoryChanged publishes the user's conversation list.
func (p *Publisher) OnHistoryChanged(entries []model.HistoryEntry) {
	if entries == nil {
		entries = []model.HistoryEntry{}
	}
	p.publish(&model.SessionEvent{
		Type:    model.EventTypeHistory,
		History: entries,
	})
}

// OnError publishes a user-visible failure.
func (p *Publisher) OnError(where, message string) {
	p.publish(&model.SessionEvent{
		Type:    model.EventTypeError,
		Context: where,
		Reason:  message,
	})
}

// OnConfirmDelete asks the caller to confirm a deletion.
func (p *Publisher) OnConfirmDelete(conversationID string) {
	p.publish(&model.SessionEvent{
		ConversationID: conversationID,
		Type:           model.EventTypeConfirmDelete,
	})
}

func (p *Publisher) publish(event *model.SessionEvent) {
	event.ID = uuid.Must(uuid.NewV7()).String()
	event.UserID = p.userID
	event.CreatedAt = time.Now().UTC()

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if _, err := p.events.PublishEvent(ctx, event); err != nil {
		metrics.EventsPublished.WithLabelValues(string(event.Type), "error").Inc()
		p.logger.Warn("failed to publish event",
			zap.String("type", string(event.Type)),
			zap.String("conversation_id", event.ConversationID),
			zap.Error(err),
		)
		return
	}
	metrics.EventsPublished.WithLabelValues(string(event.Type), "success").Inc()
}
