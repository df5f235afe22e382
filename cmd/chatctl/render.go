package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"github.com/capitalize-ai/conversation-orchestrator/internal/model"
)

// printer renders orchestrator output to a terminal. It implements
// orchestrator.Callbacks.
type printer struct {
	mu sync.Mutex
	w  io.Writer

	user      *color.Color
	bot       *color.Color
	reasoning *color.Color
	faint     *color.Color
	errColor  *color.Color
}

func newPrinter(w io.Writer) *printer {
	return &printer{
		w:         w,
		user:      color.New(color.FgCyan, color.Bold),
		bot:       color.New(color.FgGreen, color.Bold),
		reasoning: color.New(color.FgYellow),
		faint:     color.New(color.Faint),
		errColor:  color.New(color.FgRed),
	}
}

func (p *printer) OnMessagesChanged(_ string, messages []model.Message) {
	if len(messages) == 0 || !messages[len(messages)-1].IsPlaceholder() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.faint.Fprintln(p.w, "assistant is typing...")
}

func (p *printer) OnHistoryChanged([]model.HistoryEntry) {}

func (p *printer) OnError(where, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errColor.Fprintf(p.w, "error (%s): %s\n", where, message)
}

func (p *printer) OnConfirmDelete(string) {}

// Messages prints messages in order, skipping the typing placeholder.
func (p *printer) Messages(messages []model.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range messages {
		if m.IsPlaceholder() {
			continue
		}
		switch m.Sender {
		case model.SenderUser:
			p.user.Fprint(p.w, "you: ")
		case model.SenderReasoning:
			p.reasoning.Fprint(p.w, "thinking: ")
		default:
			p.bot.Fprint(p.w, "assistant: ")
		}
		fmt.Fprintln(p.w, m.Content())
	}
}

// History prints the conversation list, marking the active entry.
func (p *printer) History(entries []model.HistoryEntry, active string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(entries) == 0 {
		p.faint.Fprintln(p.w, "no conversations")
		return
	}
	for _, e := range entries {
		marker := "  "
		if e.ID == active {
			marker = "* "
		}
		fmt.Fprint(p.w, marker)
		p.user.Fprint(p.w, e.ID)
		if e.Label != e.ID {
			fmt.Fprintf(p.w, "  %s", e.Label)
		}
		fmt.Fprintln(p.w)
	}
}

// Summaries prints stored summaries.
func (p *printer) Summaries(summaries []model.Summary) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range summaries {
		p.faint.Fprintf(p.w, "[%s] ", s.CreatedAt.Local().Format("2006-01-02 15:04"))
		fmt.Fprintln(p.w, s.Text)
	}
}

// Info prints a neutral status line.
func (p *printer) Info(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.faint.Fprintf(p.w, format+"\n", args...)
}

var errOffline = errors.New("assistant not configured for this command")

// offlineAI stands in for the assistant in commands that never send.
type offlineAI struct{}

func (offlineAI) Reply(context.Context, string, string) (string, error) { return "", errOffline }
func (offlineAI) ReplyAgentic(context.Context, string, string, string) (*model.AgenticReply, error) {
	return nil, errOffline
}
func (offlineAI) Topic(context.Context, string, string) (string, error) { return "", errOffline }
func (offlineAI) Summarize(context.Context, string) (string, error)     { return "", errOffline }
