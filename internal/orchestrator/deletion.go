package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"github.com/capitalize-ai/conversation-orchestrator/pkg/logger"
	"github.com/capitalize-ai/conversation-orchestrator/pkg/metrics"
)

// DeletionState is the state of the delete-confirmation flow.
type DeletionState string

const (
	DeletionIdle           DeletionState = "idle"
	DeletionPendingConfirm DeletionState = "pending_confirm"
	DeletionDeleting       DeletionState = "deleting"
)

type deletion struct {
	state  DeletionState
	target string
}

// deletingLocked reports whether conversationID is the target of a pending
// or running deletion. Callers hold o.mu.
func (o *Orchestrator) deletingLocked(conversationID string) bool {
	switch o.deletion.state {
	case DeletionPendingConfirm, DeletionDeleting:
		return o.deletion.target == conversationID
	}
	return false
}

// Deletion returns the current deletion state and its target conversation.
func (o *Orchestrator) Deletion() (DeletionState, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.deletion.state == "" {
		return DeletionIdle, ""
	}
	return o.deletion.state, o.deletion.target
}

// RequestDelete asks the caller to confirm deleting a conversation.
// Conversations with a turn awaiting a response cannot be deleted.
func (o *Orchestrator) RequestDelete(conversationID string) error {
	o.mu.Lock()
	if o.userID == "" {
		o.mu.Unlock()
		return validationf("no user signed in")
	}
	if !o.isKnownLocked(conversationID) {
		o.mu.Unlock()
		return validationf("unknown conversation %q", conversationID)
	}
	if o.deletion.state == DeletionDeleting {
		o.mu.Unlock()
		return validationf("a deletion is already in progress")
	}
	if _, busy := o.inFlight[conversationID]; busy {
		o.mu.Unlock()
		return validationf("conversation %q is awaiting a response", conversationID)
	}
	o.deletion = deletion{state: DeletionPendingConfirm, target: conversationID}
	o.mu.Unlock()

	o.callbacks.OnConfirmDelete(conversationID)
	return nil
}

// CancelDelete returns the flow to idle without touching the store.
func (o *Orchestrator) CancelDelete() {
	o.mu.Lock()
	o.deletion = deletion{state: DeletionIdle}
	o.mu.Unlock()
}

// ConfirmDelete deletes the pending conversation: messages first, then the
// conversation row, then the cached state. A failed step stops the flow, so
// a conversation row is never removed while its messages remain.
func (o *Orchestrator) ConfirmDelete(ctx context.Context) error {
	o.mu.Lock()
	if o.deletion.state != DeletionPendingConfirm {
		o.mu.Unlock()
		return validationf("no deletion awaiting confirmation")
	}
	id := o.deletion.target
	o.deletion.state = DeletionDeleting
	epoch := o.epoch
	o.mu.Unlock()

	log := o.logger.With(zap.String("conversation_id", id))

	if err := o.store.DeleteMessages(ctx, id); err != nil {
		return o.failDelete(epoch, log, "delete messages", err)
	}
	if err := o.store.DeleteConversation(ctx, id); err != nil {
		return o.failDelete(epoch, log, "delete conversation", err)
	}

	o.mu.Lock()
	if epoch == o.epoch {
		known := o.known[:0:0]
		for _, k := range o.known {
			if k != id {
				known = append(known, k)
			}
		}
		o.known = known
		o.markKnownLocked(id, false)
		delete(o.labels, id)
		delete(o.convs, id)
		o.cache.Clear(id)
		if o.active == id {
			o.active = ""
		}
		o.deletion = deletion{state: DeletionIdle}
	}
	o.mu.Unlock()

	log.Info("conversation deleted")
	metrics.DeletionsTotal.WithLabelValues("deleted").Inc()

	if _, err := o.RefreshHistory(ctx); err != nil {
		log.Warn("failed to refresh history after delete", zap.Error(err))
	}
	return nil
}

func (o *Orchestrator) failDelete(epoch uint64, log *logger.Logger, op string, err error) error {
	o.mu.Lock()
	if epoch == o.epoch {
		o.deletion = deletion{state: DeletionIdle}
	}
	o.mu.Unlock()

	log.Warn("deletion failed", zap.String("op", op), zap.Error(err))
	metrics.StoreErrorsTotal.WithLabelValues("delete").Inc()
	metrics.DeletionsTotal.WithLabelValues("failed").Inc()
	o.reportError(op, err)
	return storeErr(op, err)
}
