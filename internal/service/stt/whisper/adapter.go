// Package whisper provides an STT adapter for Whisper-compatible
// /v1/audio/transcriptions HTTP servers.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"voice-relay-service/internal/models"
	"voice-relay-service/internal/observability/logging"
)

// maxErrorBody bounds how much of a failed response is kept in the error.
const maxErrorBody = 512

// Config configures the Whisper endpoint.
type Config struct {
	URL     string
	Model   string
	Timeout time.Duration
}

// Adapter implements stt.Recognizer over HTTP.
type Adapter struct {
	cfg    Config
	client *http.Client
	log    zerolog.Logger
}

// New creates a Whisper adapter. A zero timeout leaves requests bounded only
// by the caller's context.
func New(cfg Config) *Adapter {
	return &Adapter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    logging.WithAdapter("recognition", "whisper"),
	}
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe uploads the utterance as a multipart form and returns the text.
func (a *Adapter) Transcribe(ctx context.Context, audio []byte) (string, error) {
	body, contentType, err := encodeForm(audio, a.cfg.Model)
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %v", models.ErrRecognition, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.URL, body)
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", models.ErrRecognition, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrRecognition, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		a.log.Warn().Int("status", resp.StatusCode).Str("url", a.cfg.URL).Msg("Transcription request rejected")
		return "", fmt.Errorf("%w: whisper returned %d: %s", models.ErrRecognition, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", models.ErrRecognition, err)
	}
	a.log.Debug().Int("audioBytes", len(audio)).Int("chars", len(out.Text)).Msg("Transcription received")
	return strings.TrimSpace(out.Text), nil
}

func encodeForm(audio []byte, model string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", "utterance.webm")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", err
	}
	if model != "" {
		if err := w.WriteField("model", model); err != nil {
			return nil, "", err
		}
	}
	if err := w.WriteField("response_format", "json"); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
