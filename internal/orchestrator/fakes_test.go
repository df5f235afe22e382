package orchestrator

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/capitalize-ai/conversation-orchestrator/internal/model"
)

var errInjected = errors.New("injected failure")

// fakeStore is an in-memory ConversationStore with per-operation failure
// injection and call counting.
type fakeStore struct {
	mu            sync.Mutex
	conversations map[string]string // id -> user id
	order         []string
	messages      map[string][]model.Message
	titles        map[string]string
	summaries     map[string][]string
	fail          map[string]error
	calls         map[string]int

	// held pauses the next call of an operation after it has read its
	// result, until the gate closes.
	held map[string]storeHold
}

type storeHold struct {
	entered chan struct{}
	release chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		conversations: make(map[string]string),
		messages:      make(map[string][]model.Message),
		titles:        make(map[string]string),
		summaries:     make(map[string][]string),
		fail:          make(map[string]error),
		calls:         make(map[string]int),
		held:          make(map[string]storeHold),
	}
}

// hold pauses the next call of op once its result is read, or before it
// writes for DeleteMessages. The returned
// entered channel closes when the call is paused; closing release lets it
// return.
func (s *fakeStore) hold(op string) (entered <-chan struct{}, release chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := storeHold{entered: make(chan struct{}), release: make(chan struct{})}
	s.held[op] = h
	return h.entered, h.release
}

// pause blocks a call of op if a hold is set for it. Callers must not hold
// s.mu.
func (s *fakeStore) pause(ctx context.Context, op string) error {
	s.mu.Lock()
	h, ok := s.held[op]
	delete(s.held, op)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	close(h.entered)
	select {
	case <-h.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *fakeStore) failOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, op)
		return
	}
	s.fail[op] = err
}

func (s *fakeStore) count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// enter records a call and returns the injected error for op, if any.
// Callers hold s.mu.
func (s *fakeStore) enter(op string) error {
	s.calls[op]++
	return s.fail[op]
}

func (s *fakeStore) seed(userID, id, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[id] = userID
	s.order = append(s.order, id)
	if title != "" {
		s.titles[id] = title
	}
}

func (s *fakeStore) ListConversationIDs(ctx context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	if err := s.enter("ListConversationIDs"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	var ids []string
	for i := len(s.order) - 1; i >= 0; i-- {
		if s.conversations[s.order[i]] == userID {
			ids = append(ids, s.order[i])
		}
	}
	s.mu.Unlock()

	if err := s.pause(ctx, "ListConversationIDs"); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *fakeStore) CreateConversation(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CreateConversation"); err != nil {
		return err
	}
	if _, exists := s.conversations[id]; exists {
		return errors.New("duplicate conversation")
	}
	s.conversations[id] = userID
	s.order = append(s.order, id)
	return nil
}

func (s *fakeStore) FetchMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	s.mu.Lock()
	if err := s.enter("FetchMessages"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	out := s.snapshotLocked(conversationID)
	s.mu.Unlock()

	if err := s.pause(ctx, "FetchMessages"); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *fakeStore) snapshotLocked(conversationID string) []model.Message {
	out := make([]model.Message, len(s.messages[conversationID]))
	copy(out, s.messages[conversationID])
	sort.SliceStable(out, func(i, j int) bool { return out[i].SentAt.Before(out[j].SentAt) })
	return out
}

func (s *fakeStore) InsertMessage(_ context.Context, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("InsertMessage"); err != nil {
		return err
	}
	if err := s.fail["InsertMessage:"+string(msg.Sender)]; err != nil {
		return err
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], *msg)
	return nil
}

func (s *fakeStore) DeleteMessages(ctx context.Context, conversationID string) error {
	if err := s.pause(ctx, "DeleteMessages"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("DeleteMessages"); err != nil {
		return err
	}
	delete(s.messages, conversationID)
	return nil
}

func (s *fakeStore) DeleteConversation(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("DeleteConversation"); err != nil {
		return err
	}
	if len(s.messages[conversationID]) > 0 {
		return errors.New("conversation still has messages")
	}
	delete(s.conversations, conversationID)
	delete(s.titles, conversationID)
	for i, id := range s.order {
		if id == conversationID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *fakeStore) GetTitle(_ context.Context, conversationID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetTitle"); err != nil {
		return "", err
	}
	return s.titles[conversationID], nil
}

func (s *fakeStore) SetTitle(_ context.Context, conversationID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("SetTitle"); err != nil {
		return err
	}
	s.titles[conversationID] = title
	return nil
}

func (s *fakeStore) InsertSummary(_ context.Context, conversationID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("InsertSummary"); err != nil {
		return err
	}
	s.summaries[conversationID] = append(s.summaries[conversationID], text)
	return nil
}

func (s *fakeStore) stored(conversationID string) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(conversationID)
}

// fakeAI is an AIClient whose calls can be failed or held open.
type fakeAI struct {
	mu        sync.Mutex
	reply     func(question string) (string, error)
	agentic   func(question string) (*model.AgenticReply, error)
	topic     func() (string, error)
	summarize func() (string, error)

	// replyGates holds reply calls for a question until the channel closes.
	replyGates map[string]chan struct{}
	// replyStarted receives the question when a reply call begins.
	replyStarted chan string
	// topicGate holds topic calls until closed.
	topicGate chan struct{}

	calls map[string]int
}

func newFakeAI() *fakeAI {
	return &fakeAI{
		reply: func(q string) (string, error) { return "echo: " + q, nil },
		agentic: func(q string) (*model.AgenticReply, error) {
			return &model.AgenticReply{Reasoning: "thinking about " + q, Response: "answer to " + q}, nil
		},
		topic:      func() (string, error) { return "A Topic", nil },
		summarize:  func() (string, error) { return "a summary", nil },
		replyGates: make(map[string]chan struct{}),
		calls:      make(map[string]int),
	}
}

func (a *fakeAI) count(op string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[op]
}

func (a *fakeAI) hold(question string) chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	gate := make(chan struct{})
	a.replyGates[question] = gate
	return gate
}

func (a *fakeAI) enter(ctx context.Context, op, question string) error {
	a.mu.Lock()
	a.calls[op]++
	gate := a.replyGates[question]
	started := a.replyStarted
	a.mu.Unlock()

	if started != nil && op != "Topic" && op != "Summarize" {
		started <- question
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (a *fakeAI) Reply(ctx context.Context, _, question string) (string, error) {
	if err := a.enter(ctx, "Reply", question); err != nil {
		return "", err
	}
	return a.reply(question)
}

func (a *fakeAI) ReplyAgentic(ctx context.Context, _, _, question string) (*model.AgenticReply, error) {
	if err := a.enter(ctx, "ReplyAgentic", question); err != nil {
		return nil, err
	}
	return a.agentic(question)
}

func (a *fakeAI) Topic(ctx context.Context, _, _ string) (string, error) {
	if err := a.enter(ctx, "Topic", ""); err != nil {
		return "", err
	}
	a.mu.Lock()
	gate := a.topicGate
	a.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return a.topic()
}

func (a *fakeAI) Summarize(ctx context.Context, _ string) (string, error) {
	if err := a.enter(ctx, "Summarize", ""); err != nil {
		return "", err
	}
	return a.summarize()
}

// recorder captures callback notifications.
type recorder struct {
	mu       sync.Mutex
	renders  map[string]int
	last     map[string][]model.Message
	history  [][]model.HistoryEntry
	errors   []string
	confirms []string
}

func newRecorder() *recorder {
	return &recorder{
		renders: make(map[string]int),
		last:    make(map[string][]model.Message),
	}
}

func (r *recorder) OnMessagesChanged(conversationID string, messages []model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renders[conversationID]++
	r.last[conversationID] = messages
}

func (r *recorder) OnHistoryChanged(entries []model.HistoryEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, entries)
}

func (r *recorder) OnError(where, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, where)
}

func (r *recorder) OnConfirmDelete(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.confirms = append(r.confirms, conversationID)
}

func (r *recorder) renderCount(conversationID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.renders[conversationID]
}

func (r *recorder) lastHistory() []model.HistoryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.history) == 0 {
		return nil
	}
	return r.history[len(r.history)-1]
}
