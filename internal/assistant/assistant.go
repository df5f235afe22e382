// Package assistant implements the orchestrator's AIClient on top of an LLM
// provider: plain and agentic replies, topic naming and transcript
// summaries.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/conversation-orchestrator/internal/llm"
	"github.com/capitalize-ai/conversation-orchestrator/internal/model"
	"github.com/capitalize-ai/conversation-orchestrator/pkg/logger"
)

// TranscriptSource supplies the stored messages of a conversation.
type TranscriptSource interface {
	FetchMessages(ctx context.Context, conversationID string) ([]model.Message, error)
}

// Config tunes the assistant.
type Config struct {
	Model        string
	MaxTokens    int
	Temperature  float64
	ReplyTimeout time.Duration
	// MaxTopicWords caps generated topics.
	MaxTopicWords int
}

// Assistant is an AIClient backed by an llm.Client.
type Assistant struct {
	llm         llm.Client
	transcripts TranscriptSource
	cfg         Config
	logger      *logger.Logger
	tracer      trace.Tracer
}

// New creates an assistant.
func New(client llm.Client, transcripts TranscriptSource, cfg Config, log *logger.Logger) *Assistant {
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = 120 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.MaxTopicWords <= 0 {
		cfg.MaxTopicWords = 6
	}
	if log == nil {
		log = logger.Global()
	}
	return &Assistant{
		llm:         client,
		transcripts: transcripts,
		cfg:         cfg,
		logger:      log.With(zap.String("component", "assistant"), zap.String("provider", client.Name())),
		tracer:      otel.Tracer("github.com/capitalize-ai/conversation-orchestrator/internal/assistant"),
	}
}

// Reply answers a question in plain mode.
func (a *Assistant) Reply(ctx context.Context, username, question string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.ReplyTimeout)
	defer cancel()

	resp, err := a.complete(ctx, "reply", &llm.CompletionRequest{
		System:   replyPrompt(username),
		Messages: []llm.ChatMessage{{Role: llm.RoleUser, Content: question}},
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", errors.New("empty reply")
	}
	return text, nil
}

// ReplyAgentic answers a question with a reasoning trace and a response.
// Output that is not the requested JSON object is taken as the response
// with empty reasoning.
func (a *Assistant) ReplyAgentic(ctx context.Context, userID, username, question string) (*model.AgenticReply, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.ReplyTimeout)
	defer cancel()

	resp, err := a.complete(ctx, "reply_agentic", &llm.CompletionRequest{
		System:   agenticPrompt(username),
		Messages: []llm.ChatMessage{{Role: llm.RoleUser, Content: question}},
		JSON:     true,
	})
	if err != nil {
		return nil, err
	}

	reply, ok := parseAgentic(resp.Content)
	if !ok {
		a.logger.Debug("agentic reply was not structured",
			zap.String("user_id", userID),
			zap.Int("length", len(resp.Content)),
		)
	}
	if reply.Response == "" {
		return nil, errors.New("empty agentic response")
	}
	return reply, nil
}

// Topic names a conversation from its first exchange.
func (a *Assistant) Topic(ctx context.Context, userText, botText string) (string, error) {
	resp, err := a.complete(ctx, "topic", &llm.CompletionRequest{
		System: topicPrompt(a.cfg.MaxTopicWords),
		Messages: []llm.ChatMessage{{
			Role:    llm.RoleUser,
			Content: fmt.Sprintf("User: %s\nAssistant: %s", userText, botText),
		}},
		MaxTokens: 32,
	})
	if err != nil {
		return "", err
	}
	return cleanTopic(resp.Content, a.cfg.MaxTopicWords), nil
}

// Summarize digests the stored transcript of a conversation.
func (a *Assistant) Summarize(ctx context.Context, conversationID string) (string, error) {
	messages, err := a.transcripts.FetchMessages(ctx, conversationID)
	if err != nil {
		return "", fmt.Errorf("loading transcript: %w", err)
	}
	transcript := Transcript(messages)
	if transcript == "" {
		return "", errors.New("empty transcript")
	}

	resp, err := a.complete(ctx, "summarize", &llm.CompletionRequest{
		System:   summaryPrompt,
		Messages: []llm.ChatMessage{{Role: llm.RoleUser, Content: transcript}},
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", errors.New("empty summary")
	}
	return text, nil
}

func (a *Assistant) complete(ctx context.Context, op string, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	ctx, span := a.tracer.Start(ctx, "assistant."+op)
	defer span.End()

	if req.Model == "" {
		req.Model = a.cfg.Model
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = a.cfg.MaxTokens
	}
	if req.Temperature == 0 {
		req.Temperature = a.cfg.Temperature
	}

	resp, err := a.llm.Complete(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	span.SetAttributes(
		attribute.String("llm.model", resp.Model),
		attribute.Int("llm.tokens_in", resp.TokensIn),
		attribute.Int("llm.tokens_out", resp.TokensOut),
	)
	a.logger.Debug("completion finished",
		zap.String("op", op),
		zap.String("model", resp.Model),
		zap.Int("tokens_in", resp.TokensIn),
		zap.Int("tokens_out", resp.TokensOut),
		zap.Int64("latency_ms", resp.LatencyMs),
	)
	return resp, nil
}

// parseAgentic extracts {reasoning, response} from model output, tolerating
// a fenced code block around the JSON.
func parseAgentic(raw string) (*model.AgenticReply, bool) {
	body := strings.TrimSpace(raw)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```")
		body = strings.TrimSuffix(strings.TrimSpace(body), "```")
		body = strings.TrimSpace(body)
	}

	var reply model.AgenticReply
	if err := json.Unmarshal([]byte(body), &reply); err != nil || reply.Response == "" {
		return &model.AgenticReply{Response: strings.TrimSpace(raw)}, false
	}
	reply.Reasoning = strings.TrimSpace(reply.Reasoning)
	reply.Response = strings.TrimSpace(reply.Response)
	return &reply, true
}

// cleanTopic strips quotes, trailing punctuation and extra lines, and caps
// the word count.
func cleanTopic(raw string, maxWords int) string {
	line := strings.TrimSpace(raw)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimPrefix(line, "Title:")
	line = strings.Trim(strings.TrimSpace(line), `"'`+"`")
	line = strings.TrimRight(line, ".!?:;,")

	words := strings.Fields(line)
	if len(words) > maxWords {
		words = words[:maxWords]
	}
	return strings.Join(words, " ")
}

// Transcript renders messages as "User:"/"Assistant:" lines. Reasoning
// messages and placeholders are left out.
func Transcript(messages []model.Message) string {
	var b strings.Builder
	for _, m := range messages {
		if m.IsPlaceholder() || m.Content() == "" {
			continue
		}
		switch m.Sender {
		case model.SenderUser:
			b.WriteString("User: ")
		case model.SenderBot:
			b.WriteString("Assistant: ")
		default:
			continue
		}
		b.WriteString(m.Content())
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}
