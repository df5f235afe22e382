package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/conversation-orchestrator/internal/middleware"
	"github.com/capitalize-ai/conversation-orchestrator/internal/model"
	"github.com/capitalize-ai/conversation-orchestrator/pkg/logger"
	"github.com/capitalize-ai/conversation-orchestrator/pkg/metrics"
)

const (
	replayBatchSize = 50
	liveBufferSize  = 64
)

// EventSource provides stored and live session events.
type EventSource interface {
	ReplayEvents(ctx context.Context, userID string, afterSequence uint64, limit int) ([]model.SessionEvent, uint64, bool, error)
	Subscribe(userID string, fn func(*model.SessionEvent)) (func(), error)
}

// StreamHandler streams a caller's session events over SSE.
type StreamHandler struct {
	events    EventSource
	heartbeat time.Duration
	logger    *logger.Logger
}

// NewStreamHandler creates a new stream handler. A nil source disables the
// endpoint.
func NewStreamHandler(events EventSource, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		events:    events,
		heartbeat: 30 * time.Second,
		logger:    log,
	}
}

// ReplayCompleteEvent marks the end of replayed events.
type ReplayCompleteEvent struct {
	LastSequence uint64 `json:"last_sequence"`
	EventCount   int    `json:"event_count"`
}

// HeartbeatEvent keeps idle connections open.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// Stream handles GET /api/v1/events
// Supports ?after_sequence=N for resuming from a specific point.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusServiceUnavailable, "event streaming is disabled")
		return
	}

	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var afterSequence uint64
	if seqStr := r.URL.Query().Get("after_sequence"); seqStr != "" {
		seq, err := strconv.ParseUint(seqStr, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "after_sequence must be a non-negative integer")
			return
		}
		afterSequence = seq
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Subscribe before replaying so nothing published in between is lost.
	live := make(chan *model.SessionEvent, liveBufferSize)
	unsubscribe, err := h.events.Subscribe(userID, func(e *model.SessionEvent) {
		select {
		case live <- e:
		default:
			h.logger.Warn("dropping event for slow stream",
				zap.String("user_id", userID),
				zap.String("type", string(e.Type)),
			)
		}
	})
	if err != nil {
		h.logger.Error("failed to subscribe", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "event streaming unavailable")
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	metrics.SSEConnections.Inc()
	defer metrics.SSEConnections.Dec()

	sendSSEEvent(w, flusher, "connected", map[string]string{"user_id": userID})

	seen := make(map[string]struct{})
	lastSequence := afterSequence
	replayed := 0
	for {
		events, last, hasMore, err := h.events.ReplayEvents(ctx, userID, lastSequence, replayBatchSize)
		if err != nil {
			h.logger.Error("failed to replay events", zap.String("user_id", userID), zap.Error(err))
			sendSSEEvent(w, flusher, "error", &model.ErrorEvent{
				Code:    "replay_error",
				Message: "Failed to replay events",
			})
			break
		}
		for i := range events {
			if ctx.Err() != nil {
				return
			}
			sendSSEEvent(w, flusher, string(events[i].Type), &events[i])
			seen[events[i].ID] = struct{}{}
			replayed++
		}
		lastSequence = last
		if !hasMore || len(events) == 0 {
			break
		}
	}

	sendSSEEvent(w, flusher, "replay_complete", &ReplayCompleteEvent{
		LastSequence: lastSequence,
		EventCount:   replayed,
	})

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", zap.String("user_id", userID))
			return
		case e := <-live:
			if _, dup := seen[e.ID]; dup {
				delete(seen, e.ID)
				continue
			}
			sendSSEEvent(w, flusher, string(e.Type), e)
		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", &HeartbeatEvent{Timestamp: time.Now().UTC()})
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}
