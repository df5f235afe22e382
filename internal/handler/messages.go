package handler

import (
	"encoding/json"
	"net/http"

	"github.com/capitalize-ai/conversation-orchestrator/internal/middleware"
	"github.com/capitalize-ai/conversation-orchestrator/internal/model"
	"github.com/capitalize-ai/conversation-orchestrator/pkg/logger"
)

// MessageHandler handles message endpoints.
type MessageHandler struct {
	sessions Sessions
	logger   *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(sessions Sessions, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		sessions: sessions,
		logger:   log,
	}
}

// Send handles POST /api/v1/messages
// The message goes to the caller's active conversation, which is created
// on the first message. The request blocks until the assistant replies.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Text); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateMode(req.Mode); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	o, err := h.sessions.Session(ctx, middleware.GetUserID(ctx), middleware.GetUsername(ctx))
	if err != nil {
		writeOrchestratorError(w, h.logger, "sign in", err)
		return
	}

	result, err := o.Send(ctx, req.Text, model.ParseMode(req.Mode))
	if err != nil {
		writeOrchestratorError(w, h.logger, "send message", err)
		return
	}

	resp := &model.SendMessageResponse{
		ConversationID: result.ConversationID,
		Skipped:        result.Skipped,
		Messages:       result.Messages,
	}
	if resp.Messages == nil {
		resp.Messages = []model.Message{}
	}

	status := http.StatusOK
	if result.Skipped {
		status = http.StatusAccepted
	}
	writeJSON(w, status, resp)
}
