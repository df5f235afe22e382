package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"

	"go.uber.org/zap"

	"github.com/capitalize-ai/conversation-orchestrator/internal/orchestrator"
	"github.com/capitalize-ai/conversation-orchestrator/pkg/logger"
)

// Sessions resolves the orchestrator of an authenticated caller.
type Sessions interface {
	Session(ctx context.Context, userID, username string) (*orchestrator.Orchestrator, error)
	End(userID string)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeOrchestratorError maps an orchestrator failure to a status code.
// Store failures are reported as a bad gateway and AI failures as
// unavailable so callers can tell them apart from their own mistakes.
func writeOrchestratorError(w http.ResponseWriter, log *logger.Logger, op string, err error) {
	switch {
	case orchestrator.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case orchestrator.IsStore(err):
		log.Error(op+" failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "conversation store unavailable")
	case orchestrator.IsAIService(err):
		log.Warn(op+" failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "assistant unavailable")
	default:
		log.Error(op+" failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
}

// owns reports whether the session knows conversationID.
func owns(o *orchestrator.Orchestrator, conversationID string) bool {
	return slices.Contains(o.KnownConversations(), conversationID)
}
