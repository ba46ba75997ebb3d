// Package remote provides a synthesis adapter for HTTP endpoints that return
// audio for GET <url>?text=<sentence>.
package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"voice-relay-service/internal/models"
	"voice-relay-service/internal/observability/logging"
)

const maxErrorBody = 512

// Adapter implements tts.Synthesizer over HTTP.
type Adapter struct {
	endpoint *url.URL
	client   *http.Client
	log      zerolog.Logger
}

// New parses endpoint and creates the adapter.
func New(endpoint string, timeout time.Duration) (*Adapter, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse tts url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("parse tts url: %q is not absolute", endpoint)
	}
	return &Adapter{
		endpoint: u,
		client:   &http.Client{Timeout: timeout},
		log:      logging.WithAdapter("synthesis", "remote"),
	}, nil
}

// Synthesize fetches the audio for one sentence.
func (a *Adapter) Synthesize(ctx context.Context, sentence string) ([]byte, error) {
	u := *a.endpoint
	q := u.Query()
	q.Set("text", sentence)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", models.ErrSynthesisService, err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSynthesisService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		a.log.Warn().Int("status", resp.StatusCode).Str("host", a.endpoint.Host).Msg("Synthesis request rejected")
		return nil, fmt.Errorf("%w: tts returned %d: %s", models.ErrSynthesisService, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read audio: %v", models.ErrSynthesisService, err)
	}
	return audio, nil
}
