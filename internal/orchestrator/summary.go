package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/conversation-orchestrator/internal/model"
	"github.com/capitalize-ai/conversation-orchestrator/pkg/metrics"
)

// summaryEvery is the pair-count step at which summaries are requested.
const summaryEvery = 2

// CountPairs counts completed user→bot exchanges in chronological order.
// Reasoning messages and placeholders are ignored.
func CountPairs(messages []model.Message) int {
	pairs := 0
	waiting := false
	for _, m := range messages {
		if m.IsPlaceholder() {
			continue
		}
		switch m.Sender {
		case model.SenderUser:
			waiting = true
		case model.SenderBot:
			if waiting {
				pairs++
				waiting = false
			}
		}
	}
	return pairs
}

// scheduleSummary requests a summary when the pair count reaches a new even
// threshold. The threshold is recorded before the request and is not rolled
// back on failure.
func (o *Orchestrator) scheduleSummary(ctx context.Context, epoch uint64, conversationID string) {
	o.mu.Lock()
	if !o.liveLocked(epoch, conversationID) {
		o.mu.Unlock()
		return
	}
	pairs := CountPairs(o.cache.Messages(conversationID))
	s := o.stateLocked(conversationID)
	if pairs < summaryEvery || pairs%summaryEvery != 0 || pairs <= s.lastSummarizedPairCount {
		o.mu.Unlock()
		return
	}
	s.lastSummarizedPairCount = pairs
	o.mu.Unlock()

	o.bg.Add(1)
	go func() {
		defer o.bg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.SummaryTimeout)
		defer cancel()
		o.generateSummary(ctx, conversationID, pairs)
	}()
}

func (o *Orchestrator) generateSummary(ctx context.Context, conversationID string, pairs int) {
	log := o.logger.With(
		zap.String("conversation_id", conversationID),
		zap.Int("pairs", pairs),
	)

	start := time.Now()
	text, err := o.ai.Summarize(ctx, conversationID)
	metrics.RecordAIRequest("summarize", err, time.Since(start).Seconds())
	if err != nil {
		log.Warn("summary generation failed", zap.Error(err))
		metrics.SummariesTotal.WithLabelValues("ai_error").Inc()
		return
	}

	if err := o.store.InsertSummary(ctx, conversationID, text); err != nil {
		log.Warn("failed to save summary", zap.Error(err))
		metrics.StoreErrorsTotal.WithLabelValues("insert_summary").Inc()
		metrics.SummariesTotal.WithLabelValues("store_error").Inc()
		return
	}

	metrics.SummariesTotal.WithLabelValues("saved").Inc()
	log.Info("summary saved")
}
