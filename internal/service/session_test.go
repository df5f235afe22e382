package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/conversation-orchestrator/internal/model"
	"github.com/capitalize-ai/conversation-orchestrator/internal/orchestrator"
	"github.com/capitalize-ai/conversation-orchestrator/internal/store"
	"github.com/capitalize-ai/conversation-orchestrator/pkg/logger"
)

var _ orchestrator.ConversationStore = (*store.SQLStore)(nil)

type echoAI struct{}

func (echoAI) Reply(_ context.Context, _, q string) (string, error) { return "echo: " + q, nil }
func (echoAI) ReplyAgentic(_ context.Context, _, _, q string) (*model.AgenticReply, error) {
	return &model.AgenticReply{Reasoning: "r", Response: q}, nil
}
func (echoAI) Topic(context.Context, string, string) (string, error) { return "Echoes", nil }
func (echoAI) Summarize(context.Context, string) (string, error)      { return "summary", nil }

// heldTopicAI blocks topic generation until gate closes.
type heldTopicAI struct {
	echoAI
	started chan struct{}
	gate    chan struct{}
}

func (a heldTopicAI) Topic(ctx context.Context, _, _ string) (string, error) {
	close(a.started)
	select {
	case <-a.gate:
		return "Echoes", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func openStore(t *testing.T) *store.SQLStore {
	t.Helper()
	s, err := store.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "sessions.db"), logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newRegistry(t *testing.T, ttl time.Duration) (*SessionRegistry, *store.SQLStore) {
	t.Helper()
	s := openStore(t)
	r := NewSessionRegistry(s, echoAI{}, nil, Config{IdleTTL: ttl}, logger.NewNop())
	return r, s
}

func TestSessionRegistry_ReusesSessionPerUser(t *testing.T) {
	r, _ := newRegistry(t, 0)
	ctx := context.Background()

	a, err := r.Session(ctx, "U", "Ada")
	require.NoError(t, err)
	b, err := r.Session(ctx, "U", "Ada")
	require.NoError(t, err)
	c, err := r.Session(ctx, "V", "Vic")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, "U", a.UserID())
	assert.Equal(t, 2, r.Len())
}

func TestSessionRegistry_ConcurrentFirstUseSharesSignIn(t *testing.T) {
	r, _ := newRegistry(t, 0)

	var wg sync.WaitGroup
	got := make([]*orchestrator.Orchestrator, 8)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o, err := r.Session(context.Background(), "U", "Ada")
			assert.NoError(t, err)
			got[i] = o
		}(i)
	}
	wg.Wait()

	for _, o := range got[1:] {
		assert.Same(t, got[0], o)
	}
	assert.Equal(t, 1, r.Len())
}

func TestSessionRegistry_SessionLoadsStoredHistory(t *testing.T) {
	r, s := newRegistry(t, 0)
	ctx := context.Background()
	require.NoError(t, s.CreateConversation(ctx, "U_cv01", "U"))
	require.NoError(t, s.CreateConversation(ctx, "U_cv02", "U"))

	o, err := r.Session(ctx, "U", "Ada")
	require.NoError(t, err)

	res, err := o.Send(ctx, "hello", model.ModePlain)
	require.NoError(t, err)
	o.Wait()
	assert.Equal(t, "U_cv03", res.ConversationID)

	title, err := s.GetTitle(ctx, "U_cv03")
	require.NoError(t, err)
	assert.Equal(t, "Echoes", title)
}

func TestSessionRegistry_SweepEvictsIdleSessions(t *testing.T) {
	r, _ := newRegistry(t, time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := r.Session(ctx, "U", "Ada")
	require.NoError(t, err)
	now = now.Add(45 * time.Second)
	_, err = r.Session(ctx, "V", "Vic")
	require.NoError(t, err)

	now = now.Add(30 * time.Second)
	assert.Equal(t, 1, r.Sweep())

	_, ok := r.Lookup("U")
	assert.False(t, ok)
	_, ok = r.Lookup("V")
	assert.True(t, ok)
}

func TestSessionRegistry_End(t *testing.T) {
	r, _ := newRegistry(t, 0)
	ctx := context.Background()

	o, err := r.Session(ctx, "U", "Ada")
	require.NoError(t, err)
	r.End("U")

	assert.Equal(t, 0, r.Len())
	assert.Equal(t, "", o.UserID())
	r.End("U")
}

func TestSessionRegistry_SignInSurvivesCancelledRequest(t *testing.T) {
	r, s := newRegistry(t, 0)
	require.NoError(t, s.CreateConversation(context.Background(), "U_cv01", "U"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o, err := r.Session(ctx, "U", "Ada")
	require.NoError(t, err)
	assert.Equal(t, []string{"U_cv01"}, o.KnownConversations())
	assert.Equal(t, 1, r.Len())
}

func TestSessionRegistry_WaitCoversEndedSessions(t *testing.T) {
	ai := heldTopicAI{started: make(chan struct{}), gate: make(chan struct{})}
	r := NewSessionRegistry(openStore(t), ai, nil, Config{}, logger.NewNop())
	ctx := context.Background()

	o, err := r.Session(ctx, "U", "Ada")
	require.NoError(t, err)
	_, err = o.Send(ctx, "hello", model.ModePlain)
	require.NoError(t, err)
	<-ai.started

	r.End("U")
	require.Equal(t, 0, r.Len())

	waited := make(chan struct{})
	go func() {
		defer close(waited)
		r.Wait()
	}()

	select {
	case <-waited:
		t.Fatal("Wait returned while an ended session still had topic work running")
	case <-time.After(50 * time.Millisecond):
	}

	close(ai.gate)
	select {
	case <-waited:
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after topic work finished")
	}
}
