package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/conversation-orchestrator/internal/middleware"
	"github.com/capitalize-ai/conversation-orchestrator/internal/model"
	"github.com/capitalize-ai/conversation-orchestrator/internal/service"
	"github.com/capitalize-ai/conversation-orchestrator/internal/store"
	"github.com/capitalize-ai/conversation-orchestrator/pkg/logger"
)

const testSecret = "handler-secret"

type scriptedAI struct {
	mu       sync.Mutex
	replyErr error
}

func (a *scriptedAI) Reply(_ context.Context, _, q string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.replyErr != nil {
		return "", a.replyErr
	}
	return "echo: " + q, nil
}

func (a *scriptedAI) ReplyAgentic(_ context.Context, _, _, q string) (*model.AgenticReply, error) {
	return &model.AgenticReply{Reasoning: "thinking about " + q, Response: q}, nil
}

func (a *scriptedAI) Topic(context.Context, string, string) (string, error) { return "Echo Chamber", nil }
func (a *scriptedAI) Summarize(context.Context, string) (string, error)      { return "they echoed", nil }

type fakeEvents struct {
	batches [][]model.SessionEvent
	live    []*model.SessionEvent
	calls   []uint64
}

func (f *fakeEvents) ReplayEvents(_ context.Context, _ string, after uint64, _ int) ([]model.SessionEvent, uint64, bool, error) {
	f.calls = append(f.calls, after)
	if len(f.batches) == 0 {
		return nil, after, false, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	last := after
	if len(batch) > 0 {
		last = batch[len(batch)-1].Sequence
	}
	return batch, last, len(f.batches) > 0, nil
}

func (f *fakeEvents) Subscribe(_ string, fn func(*model.SessionEvent)) (func(), error) {
	for _, e := range f.live {
		fn(e)
	}
	return func() {}, nil
}

type server struct {
	handler  http.Handler
	ai       *scriptedAI
	store    *store.SQLStore
	sessions *service.SessionRegistry
}

func newServer(t *testing.T, events EventSource) *server {
	t.Helper()
	s, err := store.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "api.db"), logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ai := &scriptedAI{}
	sessions := service.NewSessionRegistry(s, ai, nil, service.Config{}, logger.NewNop())
	t.Cleanup(sessions.Wait)

	log := logger.NewNop()
	h := NewRouter(RouterConfig{
		JWTSecret:         testSecret,
		CORSOrigins:       []string{"*"},
		RateLimitRequests: 1000,
		RateLimitWindow:   time.Minute,
	}, Handlers{
		Health:        NewHealthHandler(s, nil),
		Conversations: NewConversationHandler(sessions, s, log),
		Messages:      NewMessageHandler(sessions, log),
		Stream:        NewStreamHandler(events, log),
	}, log)

	return &server{handler: h, ai: ai, store: s, sessions: sessions}
}

func (s *server) do(t *testing.T, user, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if user != "" {
		token, err := middleware.IssueToken(testSecret, user, user+" name", time.Minute)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestAPI_RequiresAuth(t *testing.T) {
	s := newServer(t, nil)

	rec := s.do(t, "", http.MethodGet, "/api/v1/conversations", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, "", http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_SendCreatesConversation(t *testing.T) {
	s := newServer(t, nil)

	rec := s.do(t, "U", http.MethodPost, "/api/v1/messages", `{"text":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[model.SendMessageResponse](t, rec)
	assert.Equal(t, "U_cv01", resp.ConversationID)
	assert.False(t, resp.Skipped)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, model.SenderUser, resp.Messages[0].Sender)
	assert.Equal(t, "echo: hello", resp.Messages[1].Content())

	s.sessions.Wait()

	rec = s.do(t, "U", http.MethodGet, "/api/v1/conversations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[model.HistoryResponse](t, rec)
	assert.Equal(t, "U_cv01", history.Active)
	assert.Equal(t, []model.HistoryEntry{{ID: "U_cv01", Label: "Echo Chamber"}}, history.Conversations)

	rec = s.do(t, "U", http.MethodGet, "/api/v1/conversations/U_cv01/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	conv := decode[model.ConversationResponse](t, rec)
	assert.Equal(t, "Echo Chamber", conv.Topic)
	assert.False(t, conv.Typing)
	assert.Len(t, conv.Messages, 2)
}

func TestAPI_AgenticSend(t *testing.T) {
	s := newServer(t, nil)

	rec := s.do(t, "U", http.MethodPost, "/api/v1/messages", `{"text":"why","mode":"agentic"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[model.SendMessageResponse](t, rec)
	require.Len(t, resp.Messages, 3)
	assert.Equal(t, model.SenderReasoning, resp.Messages[1].Sender)
	assert.Equal(t, model.SenderBot, resp.Messages[2].Sender)
}

func TestAPI_SendValidation(t *testing.T) {
	s := newServer(t, nil)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed body", `{"text":`, http.StatusBadRequest},
		{"unknown mode", `{"text":"hi","mode":"turbo"}`, http.StatusBadRequest},
		{"blank text is skipped", `{"text":"   "}`, http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, "U", http.MethodPost, "/api/v1/messages", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestAPI_ReplyFailureIsServiceUnavailable(t *testing.T) {
	s := newServer(t, nil)
	s.ai.replyErr = errors.New("provider down")

	rec := s.do(t, "U", http.MethodPost, "/api/v1/messages", `{"text":"hello"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	messages, err := s.store.FetchMessages(context.Background(), "U_cv01")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, model.SenderUser, messages[0].Sender)
}

func TestAPI_ConversationLookup(t *testing.T) {
	s := newServer(t, nil)
	s.do(t, "U", http.MethodPost, "/api/v1/messages", `{"text":"mine"}`)
	s.sessions.Wait()

	assert.Equal(t, http.StatusBadRequest, s.do(t, "U", http.MethodPost, "/api/v1/conversations/not-an-id/open", "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, "U", http.MethodPost, "/api/v1/conversations/U_cv09/open", "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, "V", http.MethodGet, "/api/v1/conversations/U_cv01/messages", "").Code)

	rec := s.do(t, "U", http.MethodPost, "/api/v1/conversations/U_cv01/open", "")
	require.Equal(t, http.StatusOK, rec.Code)
	conv := decode[model.ConversationResponse](t, rec)
	assert.Equal(t, "U_cv01", conv.ID)
	assert.Len(t, conv.Messages, 2)
}

func TestAPI_NewConversationThenSend(t *testing.T) {
	s := newServer(t, nil)
	s.do(t, "U", http.MethodPost, "/api/v1/messages", `{"text":"first"}`)

	rec := s.do(t, "U", http.MethodPost, "/api/v1/conversations/new", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, "U", http.MethodPost, "/api/v1/messages", `{"text":"second"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "U_cv02", decode[model.SendMessageResponse](t, rec).ConversationID)
}

func TestAPI_DeleteFlow(t *testing.T) {
	s := newServer(t, nil)
	s.do(t, "U", http.MethodPost, "/api/v1/messages", `{"text":"bye"}`)
	s.sessions.Wait()

	rec := s.do(t, "U", http.MethodPost, "/api/v1/conversations/delete/confirm", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, "U", http.MethodPost, "/api/v1/conversations/U_cv01/delete", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, model.DeletionResponse{State: "pending_confirm", ConversationID: "U_cv01"}, decode[model.DeletionResponse](t, rec))

	rec = s.do(t, "U", http.MethodPost, "/api/v1/conversations/delete/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "idle", decode[model.DeletionResponse](t, rec).State)

	s.do(t, "U", http.MethodPost, "/api/v1/conversations/U_cv01/delete", "")
	rec = s.do(t, "U", http.MethodPost, "/api/v1/conversations/delete/confirm", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "idle", decode[model.DeletionResponse](t, rec).State)

	ids, err := s.store.ListConversationIDs(context.Background(), "U")
	require.NoError(t, err)
	assert.Empty(t, ids)

	rec = s.do(t, "U", http.MethodGet, "/api/v1/conversations", "")
	assert.Empty(t, decode[model.HistoryResponse](t, rec).Conversations)
}

func TestAPI_Summaries(t *testing.T) {
	s := newServer(t, nil)
	s.do(t, "U", http.MethodPost, "/api/v1/messages", `{"text":"one"}`)
	s.do(t, "U", http.MethodPost, "/api/v1/messages", `{"text":"two"}`)
	s.sessions.Wait()

	rec := s.do(t, "U", http.MethodGet, "/api/v1/conversations/U_cv01/summaries", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Summaries []model.Summary `json:"summaries"`
	}](t, rec)
	require.Len(t, body.Summaries, 1)
	assert.Equal(t, "they echoed", body.Summaries[0].Text)
}

func TestAPI_EndSession(t *testing.T) {
	s := newServer(t, nil)
	s.do(t, "U", http.MethodGet, "/api/v1/conversations", "")
	require.Equal(t, 1, s.sessions.Len())

	rec := s.do(t, "U", http.MethodDelete, "/api/v1/session", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, s.sessions.Len())
}

func TestStream_DisabledWithoutSource(t *testing.T) {
	s := newServer(t, nil)
	rec := s.do(t, "U", http.MethodGet, "/api/v1/events", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// stopAfter cancels the request once the body contains marker.
type stopAfter struct {
	*httptest.ResponseRecorder
	marker string
	cancel context.CancelFunc
}

func (s *stopAfter) Write(p []byte) (int, error) {
	n, err := s.ResponseRecorder.Write(p)
	if strings.Contains(s.Body.String(), s.marker) {
		s.cancel()
	}
	return n, err
}

func TestStream_ReplaysThenForwardsLiveEvents(t *testing.T) {
	replayed := model.SessionEvent{ID: "e1", Sequence: 7, Type: model.EventTypeHistory}
	events := &fakeEvents{
		batches: [][]model.SessionEvent{
			{replayed},
			{{ID: "e2", Sequence: 8, Type: model.EventTypeMessages, ConversationID: "U_cv01"}},
		},
		live: []*model.SessionEvent{
			{ID: "e2", Type: model.EventTypeMessages},
			{ID: "live-3", Type: model.EventTypeError, Reason: "boom"},
		},
	}
	h := NewStreamHandler(events, logger.NewNop())

	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), middleware.UserIDKey, "U"))
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events?after_sequence=5", nil).WithContext(ctx)
	rec := &stopAfter{ResponseRecorder: httptest.NewRecorder(), marker: "live-3", cancel: cancel}

	h.Stream(rec, req)

	body := rec.Body.String()
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, []uint64{5, 7}, events.calls)
	assert.Contains(t, body, "event: connected")
	assert.Contains(t, body, "event: history")
	assert.Contains(t, body, `"last_sequence":8`)
	assert.Contains(t, body, `"event_count":2`)
	assert.Equal(t, 1, strings.Count(body, `"id":"e2"`), "live duplicate of a replayed event is dropped")
	assert.Contains(t, body, "event: error")
	assert.Less(t, strings.Index(body, "replay_complete"), strings.Index(body, "live-3"))
}

func TestStream_BadSequence(t *testing.T) {
	s := newServer(t, &fakeEvents{})
	rec := s.do(t, "U", http.MethodGet, "/api/v1/events?after_sequence=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeConn bool

func (f fakeConn) IsConnected() bool { return bool(f) }

func TestReady(t *testing.T) {
	tests := []struct {
		name   string
		store  Pinger
		nats   ConnChecker
		status int
	}{
		{"store only", fakePinger{}, nil, http.StatusOK},
		{"store and nats", fakePinger{}, fakeConn(true), http.StatusOK},
		{"store down", fakePinger{err: errors.New("down")}, nil, http.StatusServiceUnavailable},
		{"nats down", fakePinger{}, fakeConn(false), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewHealthHandler(tt.store, tt.nats).Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}
