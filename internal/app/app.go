// Package app is the composition root: it turns configuration into the
// adapters, event bus and session handler shared by every connection.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"voice-relay-service/internal/config"
	"voice-relay-service/internal/events"
	"voice-relay-service/internal/observability/logging"
	"voice-relay-service/internal/schema"
	"voice-relay-service/internal/service/llm"
	"voice-relay-service/internal/service/llm/gemini"
	llmmock "voice-relay-service/internal/service/llm/mock"
	"voice-relay-service/internal/service/llm/ollama"
	"voice-relay-service/internal/service/pipeline"
	"voice-relay-service/internal/service/session"
	"voice-relay-service/internal/service/stt"
	"voice-relay-service/internal/service/stt/google"
	sttmock "voice-relay-service/internal/service/stt/mock"
	"voice-relay-service/internal/service/stt/whisper"
	"voice-relay-service/internal/service/tts"
	ttsmock "voice-relay-service/internal/service/tts/mock"
	"voice-relay-service/internal/service/tts/remote"
)

// Provider names accepted in configuration.
const (
	ProviderMock    = "mock"
	ProviderGoogle  = "google"
	ProviderWhisper = "whisper"
	ProviderOllama  = "ollama"
	ProviderGemini  = "gemini"
	ProviderRemote  = "remote"
	ProviderNone    = "none"
)

// ErrUnknownProvider is returned by New for an unsupported provider name.
var ErrUnknownProvider = errors.New("unknown provider")

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	Adapters pipeline.Adapters
	Sessions *session.Handler

	bus     *events.Publisher
	closers []io.Closer

	// base is the lifetime of in-flight turns; Shutdown cancels it.
	base   context.Context
	cancel context.CancelFunc
}

// New constructs the Application. ctx is used only for client setup.
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	a := &Application{Cfg: cfg}
	a.setupLogger()

	appLogger := a.Logger.With().
		Str("method", "New").
		Logger()

	rec, err := a.recognizer(ctx)
	if err != nil {
		return nil, err
	}
	conv, err := a.conversation(ctx)
	if err != nil {
		a.closeAll()
		return nil, err
	}
	synth, err := a.synthesizer()
	if err != nil {
		a.closeAll()
		return nil, err
	}

	a.bus = events.New(&events.Config{
		Backend:      cfg.Bus.Backend,
		Brokers:      cfg.Bus.Brokers,
		RedisURL:     cfg.Bus.RedisURL,
		TopicPrefix:  cfg.Bus.TopicPrefix,
		Principal:    cfg.Bus.Principal,
		QueueSize:    cfg.Bus.QueueSize,
		Workers:      cfg.Bus.Workers,
		WriteTimeout: cfg.Bus.WriteTimeout,
	})

	a.Adapters = pipeline.Adapters{
		Recognizer:   stt.WithLimit(rec, cfg.Recognizer.MaxConcurrent),
		Conversation: conv,
		Synthesizer:  synth,
		Bus:          a.bus,
	}

	a.base, a.cancel = context.WithCancel(context.Background())
	a.Sessions = session.NewHandler(a.base, a.Adapters, schema.MustNew(), a.sessionOptions())

	appLogger.Info().
		Str("recognizer", cfg.Recognizer.Provider).
		Str("conversation", cfg.Conversation.Provider).
		Str("synthesis", cfg.Synthesis.Provider).
		Str("bus", cfg.Bus.Backend).
		Msg("Voice relay application created")
	return a, nil
}

// setupLogger configures the global logger. ZEROLOG_LOG_LEVEL and ENV=dev
// override the configured level and format.
func (a *Application) setupLogger() {
	lc := logging.DefaultConfig()
	if a.Cfg.Observability.LogLevel != "" {
		lc.Level = strings.ToLower(a.Cfg.Observability.LogLevel)
	}
	if a.Cfg.Observability.LogFormat != "" {
		lc.Format = a.Cfg.Observability.LogFormat
	}
	if envLevel := os.Getenv("ZEROLOG_LOG_LEVEL"); envLevel != "" {
		lc.Level = strings.ToLower(envLevel)
	}
	if os.Getenv("ENV") == "dev" {
		lc.Format = "console"
	}
	logging.Init(lc)

	a.Logger = logging.WithComponent("application").With().
		Str("service", "voice-relay-service").
		Logger()

	a.Logger.Info().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("environment", os.Getenv("ENV")).
		Msg("Logger setup completed")
}

func (a *Application) recognizer(ctx context.Context) (stt.Recognizer, error) {
	rc := a.Cfg.Recognizer
	switch rc.Provider {
	case ProviderMock, "":
		return sttmock.New(), nil
	case ProviderGoogle:
		g, err := google.New(ctx, google.Config{
			LanguageCode:  rc.LanguageCode,
			SampleRateHz:  rc.SampleRateHz,
			AudioEncoding: rc.AudioEncoding,
			Endpoint:      rc.Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("create google recognizer: %w", err)
		}
		a.closers = append(a.closers, g)
		return g, nil
	case ProviderWhisper:
		return whisper.New(whisper.Config{
			URL:     rc.WhisperURL,
			Model:   rc.WhisperModel,
			Timeout: rc.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("%w: recognizer %q", ErrUnknownProvider, rc.Provider)
	}
}

func (a *Application) conversation(ctx context.Context) (llm.Conversation, error) {
	cc := a.Cfg.Conversation
	switch cc.Provider {
	case ProviderMock, "":
		return llmmock.New(), nil
	case ProviderOllama:
		return ollama.New(ollama.Config{
			URL:     cc.URL,
			Model:   cc.Model,
			Timeout: cc.Timeout,
		}), nil
	case ProviderGemini:
		g, err := gemini.New(ctx, cc.APIKey, cc.Model)
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		return g, nil
	default:
		return nil, fmt.Errorf("%w: conversation %q", ErrUnknownProvider, cc.Provider)
	}
}

// synthesizer returns tts.Nop when synthesis is disabled, which makes
// every reply text-only.
func (a *Application) synthesizer() (tts.Synthesizer, error) {
	sc := a.Cfg.Synthesis
	switch sc.Provider {
	case ProviderNone:
		return tts.Nop{}, nil
	case ProviderMock, "":
		return ttsmock.New(), nil
	case ProviderRemote:
		if sc.URL == "" {
			a.Logger.Warn().Msg("TTS_URL not set, replies will be text only")
			return tts.Nop{}, nil
		}
		r, err := remote.New(sc.URL, sc.Timeout)
		if err != nil {
			return nil, fmt.Errorf("create remote synthesizer: %w", err)
		}
		return r, nil
	default:
		return nil, fmt.Errorf("%w: synthesis %q", ErrUnknownProvider, sc.Provider)
	}
}

func (a *Application) sessionOptions() session.Options {
	sc := a.Cfg.Session
	return session.Options{
		Limits: session.Limits{
			MaxAudioBytes:   sc.MaxAudioBytes,
			MaxMessageBytes: sc.MaxMessageBytes,
		},
		DefaultTemperature:   sc.DefaultTemperature,
		DefaultContextLength: sc.DefaultContextLength,
		Pipeline: pipeline.Config{
			PendingUtterances:   sc.PendingUtterances,
			RelayQueueSize:      sc.RelayQueueSize,
			WriteTimeout:        sc.WriteTimeout,
			PingInterval:        sc.PingInterval,
			DrainTimeout:        sc.DrainTimeout,
			RecognitionTimeout:  a.Cfg.Recognizer.Timeout,
			ConversationTimeout: a.Cfg.Conversation.Timeout,
			SynthesisTimeout:    a.Cfg.Synthesis.Timeout,
		},
	}
}

// RecognizerLoaded reports whether new sessions will be accepted.
func (a *Application) RecognizerLoaded() bool {
	return stt.IsReady(a.Adapters.Recognizer)
}

// Start performs any startup work required before serving traffic.
func (a *Application) Start() error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	a.StartupTime = time.Now().UTC()
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Bool("recognizerLoaded", a.RecognizerLoaded()).
		Msg("Voice relay service starting")

	return nil
}

// Shutdown aborts in-flight turns, drains the event bus until ctx expires
// and releases adapter clients.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	shutdownLogger.Info().Msg("Voice relay service shutting down")
	a.cancel()

	err := a.bus.Close(ctx)
	if cerr := a.closeAll(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	if err != nil {
		shutdownLogger.Warn().Err(err).Msg("Shutdown completed with errors")
	}
	return err
}

func (a *Application) closeAll() error {
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
