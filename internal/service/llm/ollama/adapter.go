// Package ollama provides a conversation adapter for Ollama's /api/chat endpoint.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"voice-relay-service/internal/models"
	"voice-relay-service/internal/observability/logging"
	"voice-relay-service/internal/service/llm"
)

const maxErrorBody = 512

// Config configures the Ollama endpoint.
type Config struct {
	URL     string
	Model   string
	Timeout time.Duration
}

// Adapter implements llm.Conversation over HTTP.
type Adapter struct {
	cfg    Config
	client *http.Client
	log    zerolog.Logger
}

// New creates an Ollama adapter.
func New(cfg Config) *Adapter {
	return &Adapter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    logging.WithAdapter("conversation", "ollama"),
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []models.Turn `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  chatOptions   `json:"options"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
}

type chatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	EvalCount int `json:"eval_count"`
}

// Chat sends the full turn list and returns the non-streamed reply.
func (a *Adapter) Chat(ctx context.Context, turns []models.Turn, temperature float64) (llm.Reply, error) {
	if turns == nil {
		turns = []models.Turn{}
	}
	payload, err := json.Marshal(chatRequest{
		Model:    a.cfg.Model,
		Messages: turns,
		Stream:   false,
		Options:  chatOptions{Temperature: temperature},
	})
	if err != nil {
		return llm.Reply{}, fmt.Errorf("%w: encode request: %v", models.ErrConversationService, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return llm.Reply{}, fmt.Errorf("%w: build request: %v", models.ErrConversationService, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return llm.Reply{}, fmt.Errorf("%w: %v", models.ErrConversationService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		a.log.Warn().Int("status", resp.StatusCode).Str("model", a.cfg.Model).Msg("Chat request rejected")
		return llm.Reply{}, fmt.Errorf("%w: ollama returned %d: %s", models.ErrConversationService, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return llm.Reply{}, fmt.Errorf("%w: decode response: %v", models.ErrConversationService, err)
	}

	text := strings.TrimSpace(out.Message.Content)
	tokens := out.EvalCount
	if tokens == 0 {
		a.log.Debug().Msg("eval_count missing, counting words")
		tokens = llm.WordCount(text)
	}
	return llm.Reply{Text: text, Tokens: tokens}, nil
}
