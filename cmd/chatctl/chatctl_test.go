package main

import (
	"bufio"
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/conversation-orchestrator/internal/model"
	"github.com/capitalize-ai/conversation-orchestrator/internal/orchestrator"
	"github.com/capitalize-ai/conversation-orchestrator/internal/store"
	"github.com/capitalize-ai/conversation-orchestrator/pkg/logger"
)

func init() {
	color.NoColor = true
}

type echoAI struct{}

func (echoAI) Reply(_ context.Context, _, q string) (string, error) { return "echo: " + q, nil }
func (echoAI) ReplyAgentic(_ context.Context, _, _, q string) (*model.AgenticReply, error) {
	return &model.AgenticReply{Reasoning: "pondering " + q, Response: q}, nil
}
func (echoAI) Topic(context.Context, string, string) (string, error) { return "Echoes", nil }
func (echoAI) Summarize(context.Context, string) (string, error)      { return "summary", nil }

func newTestSession(t *testing.T) (*session, *bytes.Buffer) {
	t.Helper()
	db, err := store.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "cli.db"), logger.NewNop())
	require.NoError(t, err)

	var buf bytes.Buffer
	out := newPrinter(&buf)
	orch := orchestrator.New(db, echoAI{}, out, orchestrator.Config{}, logger.NewNop())
	require.NoError(t, orch.SignIn(context.Background(), "U", "Ada"))

	s := &session{orch: orch, store: db, out: out}
	t.Cleanup(s.Close)
	return s, &buf
}

func text(s string) *string { return &s }

func TestPrinter_Messages(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf)

	p.Messages([]model.Message{
		{Sender: model.SenderUser, Text: text("hi")},
		{Sender: model.SenderReasoning, Text: text("")},
		{Sender: model.SenderBot, Text: text("hello")},
		model.NewTypingPlaceholder("c", time.Now()),
	})

	assert.Equal(t, "you: hi\nthinking: \nassistant: hello\n", buf.String())
}

func TestPrinter_History(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf)

	p.History([]model.HistoryEntry{
		{ID: "U_cv02", Label: "Trip planning"},
		{ID: "U_cv01", Label: "U_cv01"},
	}, "U_cv01")

	assert.Equal(t, "  U_cv02  Trip planning\n* U_cv01\n", buf.String())

	buf.Reset()
	p.History(nil, "")
	assert.Equal(t, "no conversations\n", buf.String())
}

func TestPrinter_TypingIndicator(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf)

	p.OnMessagesChanged("c", []model.Message{{Sender: model.SenderUser, Text: text("hi")}})
	assert.Empty(t, buf.String())

	p.OnMessagesChanged("c", []model.Message{model.NewTypingPlaceholder("c", time.Now())})
	assert.Equal(t, "assistant is typing...\n", buf.String())
}

func TestLastTurn(t *testing.T) {
	messages := []model.Message{
		{ID: "1", Sender: model.SenderUser},
		{ID: "2", Sender: model.SenderBot},
		{ID: "3", Sender: model.SenderUser},
		{ID: "4", Sender: model.SenderReasoning},
		{ID: "5", Sender: model.SenderBot},
	}
	got := lastTurn(messages)
	require.Len(t, got, 2)
	assert.Equal(t, "4", got[0].ID)
	assert.Equal(t, "5", got[1].ID)
}

func TestRepl(t *testing.T) {
	s, buf := newTestSession(t)
	input := strings.Join([]string{
		"hello",
		"/new",
		"/agentic",
		"second",
		"/open U_cv01",
		"/open U_cv99",
		"/list",
		"/quit",
		"never sent",
	}, "\n")

	err := repl(context.Background(), s, bufio.NewScanner(strings.NewReader(input)), false)
	require.NoError(t, err)
	s.orch.Wait()

	out := buf.String()
	assert.Contains(t, out, "assistant: echo: hello")
	assert.Contains(t, out, "thinking: pondering second")
	assert.Contains(t, out, `unknown conversation "U_cv99"`)
	assert.Contains(t, out, "* U_cv01")
	assert.Contains(t, out, "U_cv02")
	assert.NotContains(t, out, "never sent")

	ids, err := s.store.ListConversationIDs(context.Background(), "U")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"U_cv01", "U_cv02"}, ids)
}

func TestConfirm(t *testing.T) {
	assert.True(t, confirm(bufio.NewScanner(strings.NewReader("y\n")), ""))
	assert.True(t, confirm(bufio.NewScanner(strings.NewReader(" YES \n")), ""))
	assert.False(t, confirm(bufio.NewScanner(strings.NewReader("n\n")), ""))
	assert.False(t, confirm(bufio.NewScanner(strings.NewReader("")), ""))
}
