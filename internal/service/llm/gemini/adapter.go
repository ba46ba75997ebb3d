// Package gemini provides a conversation adapter backed by the Google GenAI SDK.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"voice-relay-service/internal/models"
	"voice-relay-service/internal/service/llm"
)

type generateFunc func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)

// Adapter implements llm.Conversation using the Gemini API.
type Adapter struct {
	model    string
	generate generateFunc
}

// New creates a Gemini adapter. An empty apiKey lets the SDK read
// GOOGLE_API_KEY / GEMINI_API_KEY from the environment.
func New(ctx context.Context, apiKey, model string) (*Adapter, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{model: model, generate: client.Models.GenerateContent}, nil
}

// Chat maps the turn list to Gemini contents and returns the first candidate.
func (a *Adapter) Chat(ctx context.Context, turns []models.Turn, temperature float64) (llm.Reply, error) {
	system, contents := toContents(turns)
	cfg := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(float32(temperature)),
		SystemInstruction: system,
	}

	resp, err := a.generate(ctx, a.model, contents, cfg)
	if err != nil {
		return llm.Reply{}, fmt.Errorf("%w: gemini: %v", models.ErrConversationService, err)
	}

	text := strings.TrimSpace(resp.Text())
	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	if tokens == 0 {
		tokens = llm.WordCount(text)
	}
	return llm.Reply{Text: text, Tokens: tokens}, nil
}

// toContents splits off the system turn and maps assistant turns to the
// "model" role.
func toContents(turns []models.Turn) (*genai.Content, []*genai.Content) {
	var system *genai.Content
	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case models.RoleSystem:
			system = genai.NewContentFromText(t.Content, genai.RoleUser)
		case models.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(t.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(t.Content, genai.RoleUser))
		}
	}
	return system, contents
}
