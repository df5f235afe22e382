package orchestrator

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/conversation-orchestrator/pkg/metrics"
)

// scheduleTopic marks a topic request in flight and runs it in the
// background. At most one request per conversation is outstanding, and none
// is issued once a topic is cached.
func (o *Orchestrator) scheduleTopic(ctx context.Context, epoch uint64, conversationID, userText, botText string) {
	if userText == "" || botText == "" {
		return
	}

	o.mu.Lock()
	if !o.liveLocked(epoch, conversationID) {
		o.mu.Unlock()
		return
	}
	s := o.stateLocked(conversationID)
	if s.topic != "" || s.topicRequested {
		o.mu.Unlock()
		return
	}
	s.topicRequested = true
	o.mu.Unlock()

	o.bg.Add(1)
	go func() {
		defer o.bg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.TopicTimeout)
		defer cancel()
		o.generateTopic(ctx, epoch, conversationID, userText, botText)
	}()
}

func (o *Orchestrator) generateTopic(ctx context.Context, epoch uint64, conversationID, userText, botText string) {
	log := o.logger.With(zap.String("conversation_id", conversationID))

	stored, err := o.store.GetTitle(ctx, conversationID)
	if err != nil {
		log.Warn("failed to read title", zap.Error(err))
		metrics.TopicsTotal.WithLabelValues("store_error").Inc()
		o.finishTopic(epoch, conversationID, "")
		return
	}
	if stored != "" {
		metrics.TopicsTotal.WithLabelValues("adopted").Inc()
		o.finishTopic(epoch, conversationID, stored)
		return
	}

	start := time.Now()
	topic, err := o.ai.Topic(ctx, userText, botText)
	metrics.RecordAIRequest("topic", err, time.Since(start).Seconds())
	topic = strings.TrimSpace(topic)
	if err != nil || topic == "" {
		log.Warn("topic generation failed", zap.Error(err))
		metrics.TopicsTotal.WithLabelValues("ai_error").Inc()
		o.finishTopic(epoch, conversationID, "")
		return
	}

	if err := o.store.SetTitle(ctx, conversationID, topic); err != nil {
		// The topic is still cached for this session; the next session
		// finds no stored title and may generate a new one.
		log.Warn("failed to save title", zap.Error(err))
		metrics.StoreErrorsTotal.WithLabelValues("set_title").Inc()
	}

	metrics.TopicsTotal.WithLabelValues("generated").Inc()
	log.Info("topic generated", zap.String("topic", topic))
	o.finishTopic(epoch, conversationID, topic)
}

// finishTopic clears the in-flight flag and caches topic when non-empty.
func (o *Orchestrator) finishTopic(epoch uint64, conversationID, topic string) {
	o.mu.Lock()
	if !o.liveLocked(epoch, conversationID) {
		o.mu.Unlock()
		return
	}
	s := o.stateLocked(conversationID)
	s.topicRequested = false
	if topic == "" {
		o.mu.Unlock()
		return
	}
	s.topic = topic
	o.labels[conversationID] = topic
	o.mu.Unlock()

	o.emitHistory(epoch)
}
