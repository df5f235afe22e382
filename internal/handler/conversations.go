// Package handler provides HTTP handlers for the API.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/conversation-orchestrator/internal/middleware"
	"github.com/capitalize-ai/conversation-orchestrator/internal/model"
	"github.com/capitalize-ai/conversation-orchestrator/internal/orchestrator"
	"github.com/capitalize-ai/conversation-orchestrator/pkg/logger"
)

// SummaryLister reads stored conversation summaries.
type SummaryLister interface {
	ListSummaries(ctx context.Context, conversationID string) ([]model.Summary, error)
}

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	sessions  Sessions
	summaries SummaryLister
	logger    *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(sessions Sessions, summaries SummaryLister, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		sessions:  sessions,
		summaries: summaries,
		logger:    log,
	}
}

// session resolves the caller's orchestrator, writing an error response
// when that fails.
func (h *ConversationHandler) session(w http.ResponseWriter, r *http.Request) (*orchestrator.Orchestrator, bool) {
	ctx := r.Context()
	o, err := h.sessions.Session(ctx, middleware.GetUserID(ctx), middleware.GetUsername(ctx))
	if err != nil {
		writeOrchestratorError(w, h.logger, "sign in", err)
		return nil, false
	}
	return o, true
}

// conversation resolves the caller's orchestrator and the {id} URL
// parameter, which must name one of the caller's conversations.
func (h *ConversationHandler) conversation(w http.ResponseWriter, r *http.Request) (*orchestrator.Orchestrator, string, bool) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, "", false
	}
	o, ok := h.session(w, r)
	if !ok {
		return nil, "", false
	}
	if !owns(o, id) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return nil, "", false
	}
	return o, id, true
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	o, ok := h.session(w, r)
	if !ok {
		return
	}

	entries, err := o.RefreshHistory(r.Context())
	if err != nil {
		writeOrchestratorError(w, h.logger, "list conversations", err)
		return
	}
	if entries == nil {
		entries = []model.HistoryEntry{}
	}

	writeJSON(w, http.StatusOK, &model.HistoryResponse{
		Active:        o.ActiveConversation(),
		Conversations: entries,
	})
}

// New handles POST /api/v1/conversations/new
// The conversation id is assigned by the first message sent afterwards.
func (h *ConversationHandler) New(w http.ResponseWriter, r *http.Request) {
	o, ok := h.session(w, r)
	if !ok {
		return
	}
	o.StartNewConversation()
	w.WriteHeader(http.StatusNoContent)
}

// Open handles POST /api/v1/conversations/:id/open
func (h *ConversationHandler) Open(w http.ResponseWriter, r *http.Request) {
	o, id, ok := h.conversation(w, r)
	if !ok {
		return
	}

	messages, err := o.OpenConversation(r.Context(), id)
	if err != nil {
		writeOrchestratorError(w, h.logger, "open conversation", err)
		return
	}

	writeJSON(w, http.StatusOK, conversationResponse(o, id, messages))
}

// Messages handles GET /api/v1/conversations/:id/messages
// It serves the session's cached log, including a typing placeholder while
// a reply is outstanding.
func (h *ConversationHandler) Messages(w http.ResponseWriter, r *http.Request) {
	o, id, ok := h.conversation(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, conversationResponse(o, id, o.Messages(id)))
}

// Summaries handles GET /api/v1/conversations/:id/summaries
func (h *ConversationHandler) Summaries(w http.ResponseWriter, r *http.Request) {
	_, id, ok := h.conversation(w, r)
	if !ok {
		return
	}

	summaries, err := h.summaries.ListSummaries(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to list summaries",
			zap.String("conversation_id", id),
			zap.Error(err),
		)
		writeError(w, http.StatusBadGateway, "conversation store unavailable")
		return
	}
	if summaries == nil {
		summaries = []model.Summary{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversation_id": id,
		"summaries":       summaries,
	})
}

// RequestDelete handles POST /api/v1/conversations/:id/delete
// Nothing is removed until the deletion is confirmed.
func (h *ConversationHandler) RequestDelete(w http.ResponseWriter, r *http.Request) {
	o, id, ok := h.conversation(w, r)
	if !ok {
		return
	}

	if err := o.RequestDelete(id); err != nil {
		writeOrchestratorError(w, h.logger, "request delete", err)
		return
	}

	writeJSON(w, http.StatusAccepted, deletionResponse(o))
}

// ConfirmDelete handles POST /api/v1/conversations/delete/confirm
func (h *ConversationHandler) ConfirmDelete(w http.ResponseWriter, r *http.Request) {
	o, ok := h.session(w, r)
	if !ok {
		return
	}

	if err := o.ConfirmDelete(r.Context()); err != nil {
		writeOrchestratorError(w, h.logger, "delete conversation", err)
		return
	}

	writeJSON(w, http.StatusOK, deletionResponse(o))
}

// CancelDelete handles POST /api/v1/conversations/delete/cancel
func (h *ConversationHandler) CancelDelete(w http.ResponseWriter, r *http.Request) {
	o, ok := h.session(w, r)
	if !ok {
		return
	}
	o.CancelDelete()
	writeJSON(w, http.StatusOK, deletionResponse(o))
}

// EndSession handles DELETE /api/v1/session
func (h *ConversationHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	h.sessions.End(middleware.GetUserID(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

func conversationResponse(o *orchestrator.Orchestrator, id string, messages []model.Message) *model.ConversationResponse {
	if messages == nil {
		messages = []model.Message{}
	}
	return &model.ConversationResponse{
		ID:       id,
		Topic:    o.Topic(id),
		Typing:   o.Typing(id),
		Messages: messages,
	}
}

func deletionResponse(o *orchestrator.Orchestrator) *model.DeletionResponse {
	state, target := o.Deletion()
	return &model.DeletionResponse{State: string(state), ConversationID: target}
}
