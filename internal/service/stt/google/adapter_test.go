package google

import (
	"context"
	"errors"
	"strings"
	"testing"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"voice-relay-service/internal/models"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LanguageCode != "en-US" {
		t.Errorf("expected default language 'en-US', got %s", cfg.LanguageCode)
	}
	if cfg.SampleRateHz != 16000 {
		t.Errorf("expected default sample rate 16000, got %d", cfg.SampleRateHz)
	}
	if cfg.AudioEncoding != "OGG_OPUS" {
		t.Errorf("expected default encoding 'OGG_OPUS', got %s", cfg.AudioEncoding)
	}
}

func TestParseAudioEncoding(t *testing.T) {
	tests := []struct {
		input    string
		expected speechpb.RecognitionConfig_AudioEncoding
	}{
		{"LINEAR16", speechpb.RecognitionConfig_LINEAR16},
		{"MULAW", speechpb.RecognitionConfig_MULAW},
		{"FLAC", speechpb.RecognitionConfig_FLAC},
		{"AMR", speechpb.RecognitionConfig_AMR},
		{"AMR_WB", speechpb.RecognitionConfig_AMR_WB},
		{"OGG_OPUS", speechpb.RecognitionConfig_OGG_OPUS},
		{"SPEEX_WITH_HEADER_BYTE", speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE},
		{"WEBM_OPUS", speechpb.RecognitionConfig_WEBM_OPUS},
		{"ogg_opus", speechpb.RecognitionConfig_LINEAR16}, // lowercase -> fallback
		{"invalid", speechpb.RecognitionConfig_LINEAR16},  // fallback
		{"", speechpb.RecognitionConfig_LINEAR16},         // fallback
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseAudioEncoding(tt.input)
			if got != tt.expected {
				t.Errorf("parseAudioEncoding(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func newTestAdapter(fn recognizeFunc) *Adapter {
	return &Adapter{recognize: fn, cfg: DefaultConfig()}
}

func alt(text string) *speechpb.SpeechRecognitionResult {
	return &speechpb.SpeechRecognitionResult{
		Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: text}},
	}
}

func TestTranscribe_JoinsResults(t *testing.T) {
	var gotReq *speechpb.RecognizeRequest
	a := newTestAdapter(func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		gotReq = req
		return &speechpb.RecognizeResponse{
			Results: []*speechpb.SpeechRecognitionResult{alt("what's two"), {}, alt(" plus two ")},
		}, nil
	})

	text, err := a.Transcribe(context.Background(), []byte("audio"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "what's two plus two" {
		t.Errorf("unexpected transcript %q", text)
	}
	if string(gotReq.GetAudio().GetContent()) != "audio" {
		t.Error("audio content not forwarded")
	}
	if gotReq.GetConfig().GetEncoding() != speechpb.RecognitionConfig_OGG_OPUS {
		t.Errorf("unexpected encoding %v", gotReq.GetConfig().GetEncoding())
	}
	if gotReq.GetConfig().GetSampleRateHertz() != 16000 {
		t.Errorf("unexpected sample rate %d", gotReq.GetConfig().GetSampleRateHertz())
	}
}

func TestTranscribe_NoResults(t *testing.T) {
	a := newTestAdapter(func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		return &speechpb.RecognizeResponse{}, nil
	})

	text, err := a.Transcribe(context.Background(), []byte("audio"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "" {
		t.Errorf("expected empty transcript, got %q", text)
	}
}

func TestTranscribe_ErrorCarriesCode(t *testing.T) {
	a := newTestAdapter(func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		return nil, status.Error(codes.DeadlineExceeded, "too slow")
	})

	_, err := a.Transcribe(context.Background(), []byte("audio"))
	if !errors.Is(err, models.ErrRecognition) {
		t.Fatalf("expected ErrRecognition, got %v", err)
	}
	if !strings.Contains(err.Error(), "DeadlineExceeded") {
		t.Errorf("expected status code in error, got %v", err)
	}
}

func TestReady(t *testing.T) {
	if (&Adapter{}).Ready() {
		t.Error("adapter without client should not be ready")
	}
	a := newTestAdapter(func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		return &speechpb.RecognizeResponse{}, nil
	})
	if !a.Ready() {
		t.Error("expected adapter with client to be ready")
	}
}
