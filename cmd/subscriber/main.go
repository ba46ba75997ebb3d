// Command subscriber follows the relay's telemetry bus and logs every
// event. With -port set it also re-broadcasts events to browsers over
// WebSocket.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"voice-relay-service/internal/events"
	"voice-relay-service/internal/models"
	"voice-relay-service/internal/observability/logging"
)

var topics = []string{models.TopicTranscript, models.TopicLLM, models.TopicTTS, models.TopicError}

func main() {
	backend := flag.String("backend", events.BackendRedis, "Bus backend (redis or kafka)")
	redisURL := flag.String("redis-url", "redis://localhost:6379", "Redis URL")
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	prefix := flag.String("prefix", "orion.voice", "Topic prefix")
	group := flag.String("group", "voice-relay-subscriber", "Kafka consumer group")
	port := flag.String("port", "", "Serve a WebSocket feed on this port")
	flag.Parse()

	cfg := logging.DefaultConfig()
	cfg.Format = "console"
	logging.Init(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h := newHub(ctx.Done())
	go h.run()
	if *port != "" {
		go serveFeed(ctx, h, *port)
	}

	var err error
	switch *backend {
	case events.BackendRedis:
		err = consumeRedis(ctx, h, *redisURL, *prefix)
	case events.BackendKafka:
		consumeKafka(ctx, h, strings.Split(*brokers, ","), *group, *prefix)
	default:
		log.Fatal().Str("backend", *backend).Msg("Unknown bus backend")
	}
	if err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("Subscriber stopped")
	}
}

func feedHandler(h *hub) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.serveWS)
	return mux
}

func serveFeed(ctx context.Context, h *hub, port string) {
	srv := &http.Server{Addr: ":" + port, Handler: feedHandler(h), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	log.Info().Str("port", port).Msg("Event feed listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("Event feed server failed")
	}
}

func consumeRedis(ctx context.Context, h *hub, url, prefix string) error {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return err
	}
	client := redis.NewClient(opts)
	defer client.Close()

	pattern := prefix + ".*"
	ps := client.PSubscribe(ctx, pattern)
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		return err
	}
	log.Info().Str("pattern", pattern).Msg("Subscribed to Redis bus")

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			handle(h, msg.Channel, []byte(msg.Payload))
		}
	}
}

// consumeKafka follows every bus topic as one consumer group member, so all
// partitions are covered whatever key the relay hashed on.
func consumeKafka(ctx context.Context, h *hub, brokers []string, group, prefix string) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     group,
		GroupTopics: topicNames(prefix),
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	defer reader.Close()

	log.Info().Strs("topics", topicNames(prefix)).Str("group", group).Msg("Consuming Kafka topics")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("Kafka read error")
			time.Sleep(time.Second)
			continue
		}
		handle(h, msg.Topic, msg.Value)
	}
}

func topicNames(prefix string) []string {
	out := make([]string, len(topics))
	for i, t := range topics {
		out[i] = prefix + "." + t
	}
	return out
}

func handle(h *hub, topic string, payload []byte) {
	ev, err := decode(payload)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Undecodable bus event")
		return
	}
	describe(topic, ev)
	h.publish(ev)
}

func decode(payload []byte) (models.BusEvent, error) {
	var ev models.BusEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return models.BusEvent{}, err
	}
	if ev.Type == "" {
		return models.BusEvent{}, errors.New("missing event type")
	}
	return ev, nil
}

func describe(topic string, ev models.BusEvent) {
	e := log.Info().
		Str("topic", topic).
		Str("type", ev.Type).
		Str("sessionId", ev.SessionID).
		Str("turnId", ev.TurnID)
	switch ev.Type {
	case "transcript":
		e = e.Str("content", truncate(ev.Content, 80))
	case "llm_response":
		e = e.Str("content", truncate(ev.Content, 80)).Int("tokens", ev.Tokens)
	case "audio_response":
		e = e.Int("size", ev.Size)
	case "error":
		e = e.Str("stage", ev.Stage).Str("error", ev.Error)
	}
	e.Msg("Bus event")
}

// truncate cuts s to at most maxLen bytes without splitting a rune.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
