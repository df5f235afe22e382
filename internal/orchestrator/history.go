package orchestrator

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/capitalize-ai/conversation-orchestrator/internal/model"
	"github.com/capitalize-ai/conversation-orchestrator/pkg/metrics"
)

// titleFetchLimit bounds concurrent GetTitle calls during a refresh.
const titleFetchLimit = 4

// RefreshHistory reloads the user's conversation ids and titles from the
// store, replaces the known-id set and notifies the caller.
func (o *Orchestrator) RefreshHistory(ctx context.Context) ([]model.HistoryEntry, error) {
	o.mu.Lock()
	userID := o.userID
	epoch := o.epoch
	since := o.knownRev
	o.mu.Unlock()

	if userID == "" {
		return nil, validationf("no user signed in")
	}

	ids, err := o.store.ListConversationIDs(ctx, userID)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("list_conversations").Inc()
		o.reportError("load history", err)
		return nil, storeErr("list conversations", err)
	}

	titles := make([]string, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(titleFetchLimit)
	for i, id := range ids {
		i, id := i, id // per-iteration copies for go1.21 loop semantics
		g.Go(func() error {
			title, err := o.store.GetTitle(gctx, id)
			if err != nil {
				// A missing label is not worth failing the whole list.
				o.logger.Warn("failed to load title",
					zap.String("conversation_id", id),
					zap.Error(err),
				)
				return nil
			}
			titles[i] = title
			return nil
		})
	}
	_ = g.Wait()

	o.mu.Lock()
	if epoch != o.epoch {
		o.mu.Unlock()
		return nil, nil
	}
	o.known = o.reconcileLocked(ids, since)
	prev := o.labels
	o.labels = make(map[string]string, len(o.known))
	for _, id := range o.known {
		if label, ok := prev[id]; ok {
			o.labels[id] = label
		}
	}
	for i, id := range ids {
		if titles[i] == "" || !o.isKnownLocked(id) {
			continue
		}
		o.labels[id] = titles[i]
		if s, ok := o.convs[id]; ok && s.topic == "" {
			s.topic = titles[i]
		}
	}
	entries := o.historyLocked()
	o.mu.Unlock()

	o.callbacks.OnHistoryChanged(entries)
	return entries, nil
}

// reconcileLocked merges a store listing read at knownRev since with the
// local changes made after it: ids created since are kept at the front and
// ids deleted since are dropped. Callers hold o.mu.
func (o *Orchestrator) reconcileLocked(listed []string, since uint64) []string {
	if o.knownRev == since {
		return listed
	}

	inListing := make(map[string]struct{}, len(listed))
	for _, id := range listed {
		inListing[id] = struct{}{}
	}

	out := make([]string, 0, len(listed)+1)
	for _, id := range o.known {
		c, ok := o.knownChanges[id]
		if !ok || !c.added || c.rev <= since {
			continue
		}
		if _, ok := inListing[id]; !ok {
			out = append(out, id)
		}
	}
	for _, id := range listed {
		if c, ok := o.knownChanges[id]; ok && !c.added && c.rev > since {
			continue
		}
		out = append(out, id)
	}
	return out
}

func (o *Orchestrator) markKnownLocked(id string, added bool) {
	o.knownRev++
	o.knownChanges[id] = knownChange{rev: o.knownRev, added: added}
}

// historyLocked builds the caller's conversation list from the known ids.
// Callers hold o.mu.
func (o *Orchestrator) historyLocked() []model.HistoryEntry {
	entries := make([]model.HistoryEntry, 0, len(o.known))
	for _, id := range o.known {
		label := o.labels[id]
		if label == "" {
			label = id
		}
		entries = append(entries, model.HistoryEntry{ID: id, Label: label})
	}
	return entries
}

func (o *Orchestrator) emitHistory(epoch uint64) {
	o.mu.Lock()
	if epoch != o.epoch {
		o.mu.Unlock()
		return
	}
	entries := o.historyLocked()
	o.mu.Unlock()

	o.callbacks.OnHistoryChanged(entries)
}

// createConversation assigns the next id for the user, reserves it, and
// writes the conversation row. The reservation is rolled back if the write
// fails.
func (o *Orchestrator) createConversation(ctx context.Context, epoch uint64, userID string) (string, error) {
	o.mu.Lock()
	taken := make([]string, 0, len(o.known)+len(o.reserved))
	taken = append(taken, o.known...)
	for id := range o.reserved {
		taken = append(taken, id)
	}
	id := NewConversationID(userID, taken)
	o.reserved[id] = struct{}{}
	o.mu.Unlock()

	if err := o.store.CreateConversation(ctx, id, userID); err != nil {
		o.mu.Lock()
		if epoch == o.epoch {
			delete(o.reserved, id)
		}
		o.mu.Unlock()
		metrics.StoreErrorsTotal.WithLabelValues("create_conversation").Inc()
		return "", storeErr("create conversation", err)
	}

	o.mu.Lock()
	if epoch == o.epoch {
		delete(o.reserved, id)
		// A refresh that listed after the insert may have added it already.
		if !o.isKnownLocked(id) {
			o.known = append([]string{id}, o.known...)
		}
		o.markKnownLocked(id, true)
		o.cache.Load(id, nil)
		o.stateLocked(id)
	}
	o.mu.Unlock()

	metrics.ConversationsTotal.Inc()
	o.logger.Info("conversation created",
		zap.String("conversation_id", id),
		zap.String("user_id", userID),
	)
	o.emitHistory(epoch)
	return id, nil
}
