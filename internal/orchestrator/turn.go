package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/capitalize-ai/conversation-orchestrator/internal/model"
	"github.com/capitalize-ai/conversation-orchestrator/pkg/logger"
	"github.com/capitalize-ai/conversation-orchestrator/pkg/metrics"
)

// TurnResult describes the outcome of Send.
type TurnResult struct {
	// Skipped is set when the send was a no-op: empty input, or a turn
	// already awaiting a response.
	Skipped        bool
	ConversationID string
	Messages       []model.Message
}

// Send runs one AI turn in the active conversation, creating the
// conversation first when none is active. It blocks until the AI client
// resolves. Blank input and sends while a turn is outstanding are no-ops.
// Sending to a conversation with a pending or running deletion is rejected.
func (o *Orchestrator) Send(ctx context.Context, text string, mode model.Mode) (*TurnResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return &TurnResult{Skipped: true}, nil
	}

	o.mu.Lock()
	if o.userID == "" {
		o.mu.Unlock()
		return nil, validationf("no user signed in")
	}
	conversationID := o.active
	if conversationID != "" && o.deletingLocked(conversationID) {
		o.mu.Unlock()
		return nil, validationf("conversation %q is being deleted", conversationID)
	}
	if !o.acquireLocked(conversationID) {
		o.mu.Unlock()
		o.logger.Debug("send ignored while awaiting response",
			zap.String("conversation_id", conversationID),
		)
		return &TurnResult{Skipped: true, ConversationID: conversationID}, nil
	}
	userID, username, epoch := o.userID, o.username, o.epoch
	o.mu.Unlock()

	ctx, span := o.tracer.Start(ctx, "orchestrator.Send")
	defer span.End()
	span.SetAttributes(attribute.String("mode", string(mode)))

	start := time.Now()
	result, err := o.runTurn(ctx, epoch, userID, username, conversationID, text, mode)
	status := "success"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	metrics.RecordTurn(string(mode), status, time.Since(start).Seconds())
	return result, err
}

func (o *Orchestrator) runTurn(ctx context.Context, epoch uint64, userID, username, conversationID, text string, mode model.Mode) (*TurnResult, error) {
	gateKey := conversationID
	released := false
	release := func() {
		o.mu.Lock()
		if !released {
			o.releaseLocked(epoch, gateKey)
			released = true
		}
		o.mu.Unlock()
	}
	defer release()

	if conversationID == "" {
		id, err := o.createConversation(ctx, epoch, userID)
		if err != nil {
			o.reportError("create conversation", err)
			return nil, err
		}
		conversationID = id

		o.mu.Lock()
		if epoch == o.epoch {
			o.releaseLocked(epoch, gateKey)
			o.inFlight[conversationID] = struct{}{}
			gateKey = conversationID
			if o.active == "" {
				o.active = conversationID
			}
		}
		o.mu.Unlock()
	}

	log := o.logger.With(
		zap.String("conversation_id", conversationID),
		zap.String("mode", string(mode)),
	)

	userMsg := o.newMessage(conversationID, model.SenderUser, text)
	if err := o.store.InsertMessage(ctx, &userMsg); err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("insert_message").Inc()
		o.reportError("send message", err)
		return nil, storeErr("insert user message", err)
	}
	metrics.MessagesTotal.WithLabelValues(string(model.SenderUser)).Inc()

	o.mu.Lock()
	if o.liveLocked(epoch, conversationID) {
		o.cache.Append(conversationID, userMsg)
		o.cache.InsertPlaceholder(conversationID, model.NewTypingPlaceholder(conversationID, o.cfg.Now()))
	}
	o.mu.Unlock()
	o.render(conversationID)

	var reasoning, reply string
	aiStart := time.Now()
	switch mode {
	case model.ModeAgentic:
		resp, err := o.ai.ReplyAgentic(ctx, userID, username, text)
		if err == nil {
			reasoning, reply = resp.Reasoning, resp.Response
		}
		metrics.RecordAIRequest("reply_agentic", err, time.Since(aiStart).Seconds())
		if err != nil {
			return o.failTurn(epoch, conversationID, log, err)
		}
	default:
		resp, err := o.ai.Reply(ctx, username, text)
		reply = resp
		metrics.RecordAIRequest("reply", err, time.Since(aiStart).Seconds())
		if err != nil {
			return o.failTurn(epoch, conversationID, log, err)
		}
	}

	o.mu.Lock()
	if epoch == o.epoch {
		o.cache.RemovePlaceholder(conversationID)
	}
	o.mu.Unlock()

	if mode == model.ModeAgentic {
		reasoningMsg := o.newMessage(conversationID, model.SenderReasoning, reasoning)
		if err := o.persist(ctx, epoch, &reasoningMsg); err != nil {
			o.render(conversationID)
			o.reportError("save reasoning", err)
			return nil, err
		}
	}
	botMsg := o.newMessage(conversationID, model.SenderBot, reply)
	if err := o.persist(ctx, epoch, &botMsg); err != nil {
		o.render(conversationID)
		o.reportError("save reply", err)
		return nil, err
	}

	// Back to idle before the enrichments run.
	release()
	o.mu.Lock()
	snapshot := o.cache.Messages(conversationID)
	o.mu.Unlock()
	o.render(conversationID)

	log.Info("turn completed", zap.Int("messages", len(snapshot)))

	o.scheduleTopic(ctx, epoch, conversationID, text, reply)
	o.scheduleSummary(ctx, epoch, conversationID)

	return &TurnResult{ConversationID: conversationID, Messages: snapshot}, nil
}

// failTurn removes the placeholder and surfaces an AI failure. Nothing is
// persisted for the failed step.
func (o *Orchestrator) failTurn(epoch uint64, conversationID string, log *logger.Logger, err error) (*TurnResult, error) {
	o.mu.Lock()
	if epoch == o.epoch {
		o.cache.RemovePlaceholder(conversationID)
	}
	o.mu.Unlock()
	o.render(conversationID)

	log.Warn("reply failed", zap.Error(err))
	o.reportError("reply", err)
	return nil, aiErr("reply", err)
}

// persist writes a generated message and appends it to the cache.
func (o *Orchestrator) persist(ctx context.Context, epoch uint64, msg *model.Message) error {
	if err := o.store.InsertMessage(ctx, msg); err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("insert_message").Inc()
		return storeErr("insert "+string(msg.Sender)+" message", err)
	}
	metrics.MessagesTotal.WithLabelValues(string(msg.Sender)).Inc()

	o.mu.Lock()
	if o.liveLocked(epoch, msg.ConversationID) {
		o.cache.Append(msg.ConversationID, *msg)
	}
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) newMessage(conversationID string, sender model.Sender, text string) model.Message {
	o.mu.Lock()
	at := o.timestampLocked()
	o.mu.Unlock()

	return model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		Sender:         sender,
		Text:           &text,
		SentAt:         at,
	}
}

// acquireLocked marks a turn as awaiting a response. It reports false when
// the gate is already held. Callers hold o.mu.
func (o *Orchestrator) acquireLocked(key string) bool {
	switch o.cfg.LockScope {
	case LockPerConversation:
		if _, busy := o.inFlight[key]; busy {
			return false
		}
	default:
		if len(o.inFlight) > 0 {
			return false
		}
	}
	o.inFlight[key] = struct{}{}
	return true
}

// releaseLocked clears the gate taken in epoch. Callers hold o.mu.
func (o *Orchestrator) releaseLocked(epoch uint64, key string) {
	if epoch != o.epoch {
		return
	}
	delete(o.inFlight, key)
}
