// Package service manages caller sessions: one orchestrator per signed-in
// user, created on first use and evicted when idle.
package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/capitalize-ai/conversation-orchestrator/internal/orchestrator"
	"github.com/capitalize-ai/conversation-orchestrator/pkg/logger"
	"github.com/capitalize-ai/conversation-orchestrator/pkg/metrics"
)

// CallbackFactory builds the render callbacks for a user's session.
type CallbackFactory func(userID string) orchestrator.Callbacks

// Config tunes the registry.
type Config struct {
	Orchestrator orchestrator.Config
	// IdleTTL is how long an unused session is kept. Zero disables eviction.
	IdleTTL time.Duration
}

type session struct {
	orch     *orchestrator.Orchestrator
	lastSeen time.Time
}

// SessionRegistry owns the orchestrators of all signed-in users.
type SessionRegistry struct {
	store     orchestrator.ConversationStore
	ai        orchestrator.AIClient
	callbacks CallbackFactory
	cfg       Config
	base      *logger.Logger
	logger    *logger.Logger
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
	// ending holds signed-out orchestrators until their background work
	// has drained.
	ending map[*orchestrator.Orchestrator]struct{}
	group  singleflight.Group
}

// NewSessionRegistry creates a registry. A nil factory yields no-op
// callbacks.
func NewSessionRegistry(store orchestrator.ConversationStore, ai orchestrator.AIClient, callbacks CallbackFactory, cfg Config, log *logger.Logger) *SessionRegistry {
	if callbacks == nil {
		callbacks = func(string) orchestrator.Callbacks { return orchestrator.NopCallbacks{} }
	}
	if log == nil {
		log = logger.Global()
	}
	return &SessionRegistry{
		store:     store,
		ai:        ai,
		callbacks: callbacks,
		cfg:       cfg,
		base:      log,
		logger:    log.With(zap.String("component", "sessions")),
		now:       time.Now,
		sessions:  make(map[string]*session),
		ending:    make(map[*orchestrator.Orchestrator]struct{}),
	}
}

// Session returns the user's orchestrator, signing the user in on first
// use. Concurrent first requests for one user share a single sign-in, which
// is not cancelled when the request that started it goes away.
func (r *SessionRegistry) Session(ctx context.Context, userID, username string) (*orchestrator.Orchestrator, error) {
	r.mu.Lock()
	if s, ok := r.sessions[userID]; ok {
		s.lastSeen = r.now()
		r.mu.Unlock()
		return s.orch, nil
	}
	r.mu.Unlock()

	signInCtx := context.WithoutCancel(ctx)
	v, err, _ := r.group.Do(userID, func() (interface{}, error) {
		r.mu.Lock()
		if s, ok := r.sessions[userID]; ok {
			r.mu.Unlock()
			return s.orch, nil
		}
		r.mu.Unlock()

		orch := orchestrator.New(r.store, r.ai, r.callbacks(userID), r.cfg.Orchestrator,
			r.base.With(zap.String("user_id", userID)))
		if err := orch.SignIn(signInCtx, userID, username); err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.sessions[userID] = &session{orch: orch, lastSeen: r.now()}
		count := len(r.sessions)
		r.mu.Unlock()

		metrics.SessionsActive.Set(float64(count))
		r.logger.Info("session started", zap.String("user_id", userID))
		return orch, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*orchestrator.Orchestrator), nil
}

// Lookup returns an existing session without creating one.
func (r *SessionRegistry) Lookup(userID string) (*orchestrator.Orchestrator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[userID]
	if !ok {
		return nil, false
	}
	return s.orch, true
}

// End signs a user out and drops the session. Background work the session
// started keeps running to completion and is still covered by Wait.
func (r *SessionRegistry) End(userID string) {
	r.mu.Lock()
	s, ok := r.sessions[userID]
	delete(r.sessions, userID)
	count := len(r.sessions)
	if ok {
		r.ending[s.orch] = struct{}{}
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	s.orch.SignOut()
	go func() {
		s.orch.Wait()
		r.mu.Lock()
		delete(r.ending, s.orch)
		r.mu.Unlock()
	}()
	metrics.SessionsActive.Set(float64(count))
	r.logger.Info("session ended", zap.String("user_id", userID))
}

// Len returns the number of live sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep ends sessions idle for longer than the TTL. Sessions with a turn in
// flight are kept.
func (r *SessionRegistry) Sweep() int {
	if r.cfg.IdleTTL <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.cfg.IdleTTL)

	r.mu.Lock()
	var idle []string
	for userID, s := range r.sessions {
		if s.lastSeen.Before(cutoff) && !s.orch.Busy() {
			idle = append(idle, userID)
		}
	}
	r.mu.Unlock()

	for _, userID := range idle {
		r.End(userID)
	}
	return len(idle)
}

// Run sweeps idle sessions until ctx is done.
func (r *SessionRegistry) Run(ctx context.Context) {
	if r.cfg.IdleTTL <= 0 {
		return
	}
	interval := r.cfg.IdleTTL / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.Debug("evicted idle sessions", zap.Int("count", n))
			}
		}
	}
}

// Wait blocks until background topic and summary work of every session,
// including sessions already ended, has finished.
func (r *SessionRegistry) Wait() {
	r.mu.Lock()
	orchs := make([]*orchestrator.Orchestrator, 0, len(r.sessions)+len(r.ending))
	for _, s := range r.sessions {
		orchs = append(orchs, s.orch)
	}
	for o := range r.ending {
		orchs = append(orchs, o)
	}
	r.mu.Unlock()

	for _, o := range orchs {
		o.Wait()
	}
}
