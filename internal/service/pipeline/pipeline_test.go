package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"voice-relay-service/internal/models"
	"voice-relay-service/internal/service/llm"
	llmmock "voice-relay-service/internal/service/llm/mock"
	sttmock "voice-relay-service/internal/service/stt/mock"
	ttsmock "voice-relay-service/internal/service/tts/mock"
)

type fakeConn struct {
	mu       sync.Mutex
	messages [][]byte
	pings    int
	failErr  error
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failErr != nil {
		return c.failErr
	}
	if messageType != websocket.TextMessage {
		return fmt.Errorf("unexpected message type %d", messageType)
	}
	c.messages = append(c.messages, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if messageType == websocket.PingMessage {
		c.pings++
	}
	return c.failErr
}

func (c *fakeConn) setFail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failErr = err
}

// describe renders each written message as a short string for comparison.
func (c *fakeConn) describe(t *testing.T) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.messages))
	for _, raw := range c.messages {
		var m models.OutboundMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("invalid outbound message %s: %v", raw, err)
		}
		switch {
		case m.State != "":
			out = append(out, "state:"+m.State)
		case m.Transcript != "":
			out = append(out, "transcript:"+m.Transcript)
		case m.LLMResponse != nil:
			out = append(out, fmt.Sprintf("llm:%s:%d", *m.LLMResponse, m.Tokens))
		case m.AudioResponse != "":
			audio, err := base64.StdEncoding.DecodeString(m.AudioResponse)
			if err != nil {
				t.Fatalf("invalid base64 audio: %v", err)
			}
			out = append(out, "audio:"+string(audio))
		case m.Error != "":
			out = append(out, "error:"+m.Error)
		default:
			out = append(out, "unknown:"+string(raw))
		}
	}
	return out
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

func waitForMessages(t *testing.T, c *fakeConn, n int) []string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for c.count() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d messages, got %v", n, c.describe(t))
		}
		time.Sleep(5 * time.Millisecond)
	}
	// Give a misbehaving pipeline a moment to write extra messages.
	time.Sleep(20 * time.Millisecond)
	return c.describe(t)
}

func testConfig() Config {
	return Config{
		SessionID:           "session-test",
		PendingUtterances:   8,
		RelayQueueSize:      4,
		WriteTimeout:        time.Second,
		DrainTimeout:        time.Second,
		RecognitionTimeout:  time.Second,
		ConversationTimeout: time.Second,
		SynthesisTimeout:    time.Second,
	}
}

func newTestPipeline(t *testing.T, a Adapters, mutate func(*Config)) (*Pipeline, *fakeConn) {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	conn := &fakeConn{}
	p := New(context.Background(), conn, a, cfg)
	t.Cleanup(p.Close)
	return p, conn
}

func utterance(audio []byte) models.Utterance {
	return models.Utterance{
		Audio:         audio,
		Temperature:   models.DefaultTemperature,
		ContextLength: models.DefaultContextLength,
	}
}

var speech = []byte{1, 2, 3, 4}

func submit(t *testing.T, p *Pipeline, u models.Utterance) {
	t.Helper()
	if err := p.Submit(context.Background(), u); err != nil {
		t.Fatalf("Submit: %v", err)
	}
}

func TestPipeline_Silence(t *testing.T) {
	conv := llmmock.New()
	synth := ttsmock.New()
	p, conn := newTestPipeline(t, Adapters{
		Recognizer:   sttmock.New(),
		Conversation: conv,
		Synthesizer:  synth,
	}, nil)

	submit(t, p, utterance(make([]byte, 320)))

	got := waitForMessages(t, conn, 3)
	want := []string{"state:processing", "llm:I didn't catch that.:0", "state:idle"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("messages = %v, want %v", got, want)
	}
	if len(conv.Calls()) != 0 || len(synth.Sentences()) != 0 {
		t.Error("expected no conversation or synthesis calls for silence")
	}
	if len(p.History()) != 0 {
		t.Errorf("expected empty history, got %v", p.History())
	}
}

func TestPipeline_SilenceOmitsTokens(t *testing.T) {
	p, conn := newTestPipeline(t, Adapters{Recognizer: sttmock.New(), Conversation: llmmock.New()}, nil)
	submit(t, p, utterance(nil))
	waitForMessages(t, conn, 3)

	conn.mu.Lock()
	raw := string(conn.messages[1])
	conn.mu.Unlock()
	if raw != `{"llm_response":"I didn't catch that."}` {
		t.Errorf("unexpected wire message %s", raw)
	}
}

func TestPipeline_Success(t *testing.T) {
	conv := llmmock.NewScripted(llm.Reply{Text: "4.", Tokens: 1})
	p, conn := newTestPipeline(t, Adapters{
		Recognizer:   sttmock.NewScripted("What's 2+2?"),
		Conversation: conv,
		Synthesizer:  ttsmock.New(),
	}, nil)

	submit(t, p, utterance(speech))

	got := waitForMessages(t, conn, 6)
	want := []string{
		"state:processing",
		"transcript:What's 2+2?",
		"state:speaking",
		"llm:4.:1",
		"audio:audio:4.",
		"state:idle",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("messages = %v, want %v", got, want)
	}

	wantHistory := []models.Turn{models.UserTurn("What's 2+2?"), models.AssistantTurn("4.")}
	if h := p.History(); !reflect.DeepEqual(h, wantHistory) {
		t.Errorf("history = %v, want %v", h, wantHistory)
	}
	calls := conv.Calls()
	if len(calls) != 1 || !reflect.DeepEqual(calls[0], []models.Turn{models.UserTurn("What's 2+2?")}) {
		t.Errorf("unexpected conversation input %v", calls)
	}
}

func TestPipeline_ConversationTimeout(t *testing.T) {
	conv := llmmock.New()
	conv.SetDelay(time.Second)
	synth := ttsmock.New()
	p, conn := newTestPipeline(t, Adapters{
		Recognizer:   sttmock.NewScripted("Hello"),
		Conversation: conv,
		Synthesizer:  synth,
	}, func(c *Config) { c.ConversationTimeout = 30 * time.Millisecond })

	submit(t, p, utterance(speech))

	got := waitForMessages(t, conn, 4)
	want := []string{"state:processing", "transcript:Hello", "error:LLM request failed.", "state:idle"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("messages = %v, want %v", got, want)
	}
	if len(synth.Sentences()) != 0 {
		t.Error("expected no synthesis after conversation failure")
	}
	if h := p.History(); !reflect.DeepEqual(h, []models.Turn{models.UserTurn("Hello")}) {
		t.Errorf("expected only the user turn in history, got %v", h)
	}
}

func TestPipeline_RecognitionFailure(t *testing.T) {
	rec := sttmock.New()
	rec.SetError(errors.New("model crashed"))
	conv := llmmock.New()
	p, conn := newTestPipeline(t, Adapters{Recognizer: rec, Conversation: conv}, nil)

	submit(t, p, utterance(speech))

	got := waitForMessages(t, conn, 3)
	want := []string{"state:processing", "error:Could not transcribe audio.", "state:idle"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("messages = %v, want %v", got, want)
	}
	if len(conv.Calls()) != 0 {
		t.Error("expected no conversation call")
	}
}

func TestPipeline_SynthesisPartialFailure(t *testing.T) {
	synth := ttsmock.New()
	synth.FailOn(1, errors.New("voice crashed"))
	p, conn := newTestPipeline(t, Adapters{
		Recognizer:   sttmock.NewScripted("Count please"),
		Conversation: llmmock.NewScripted(llm.Reply{Text: "One. Two. Three.", Tokens: 3}),
		Synthesizer:  synth,
	}, nil)

	submit(t, p, utterance(speech))

	got := waitForMessages(t, conn, 7)
	want := []string{
		"state:processing",
		"transcript:Count please",
		"state:speaking",
		"llm:One. Two. Three.:3",
		"audio:audio:One.",
		"error:Speech synthesis failed.",
		"state:idle",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("messages = %v, want %v", got, want)
	}
	if s := synth.Sentences(); len(s) != 2 {
		t.Errorf("expected synthesis to stop after the failing sentence, got %v", s)
	}
	if h := p.History(); len(h) != 2 {
		t.Errorf("expected assistant turn to be kept despite synthesis failure, got %v", h)
	}
}

func TestPipeline_NextTurnTranscribesDuringSlowConversation(t *testing.T) {
	rec := sttmock.NewScripted("first", "", "third")
	conv := llmmock.NewScripted(
		llm.Reply{Text: "A. B.", Tokens: 2},
		llm.Reply{Text: "C.", Tokens: 1},
	)
	conv.SetDelay(300 * time.Millisecond)
	p, conn := newTestPipeline(t, Adapters{
		Recognizer:   rec,
		Conversation: conv,
		Synthesizer:  ttsmock.New(),
	}, nil)

	for i := 0; i < 3; i++ {
		submit(t, p, utterance(speech))
	}

	// The first Chat is still sleeping; later utterances must not wait for it.
	deadline := time.Now().Add(150 * time.Millisecond)
	for rec.Calls() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := rec.Calls(); n != 3 {
		t.Fatalf("recognizer calls during first conversation = %d, want 3", n)
	}
	if n := len(conv.Calls()); n != 1 {
		t.Errorf("conversation calls so far = %d, want 1", n)
	}

	got := waitForMessages(t, conn, 16)
	want := []string{
		"state:processing",
		"transcript:first",
		"state:speaking",
		"llm:A. B.:2",
		"audio:audio:A.",
		"audio:audio:B.",
		"state:idle",
		"state:processing",
		"llm:I didn't catch that.:0",
		"state:idle",
		"state:processing",
		"transcript:third",
		"state:speaking",
		"llm:C.:1",
		"audio:audio:C.",
		"state:idle",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("messages = %v, want %v", got, want)
	}

	calls := conv.Calls()
	if len(calls) != 2 {
		t.Fatalf("conversation calls = %d, want 2", len(calls))
	}
	wantHistory := []models.Turn{
		models.UserTurn("first"),
		models.AssistantTurn("A. B."),
		models.UserTurn("third"),
	}
	if !reflect.DeepEqual(calls[1], wantHistory) {
		t.Errorf("second conversation saw %v, want %v", calls[1], wantHistory)
	}
}

func TestPipeline_EmptyReply(t *testing.T) {
	synth := ttsmock.New()
	p, conn := newTestPipeline(t, Adapters{
		Recognizer:   sttmock.NewScripted("Hmm"),
		Conversation: llmmock.NewScripted(llm.Reply{}),
		Synthesizer:  synth,
	}, nil)

	submit(t, p, utterance(speech))

	got := waitForMessages(t, conn, 4)
	want := []string{"state:processing", "transcript:Hmm", "llm::0", "state:idle"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("messages = %v, want %v", got, want)
	}
	if h := p.History(); len(h) != 1 {
		t.Errorf("expected empty reply not to be appended, got %v", h)
	}
}

func TestPipeline_BackToBackTurnsStayOrdered(t *testing.T) {
	synth := ttsmock.New()
	synth.SetDelay(40 * time.Millisecond)
	conv := llmmock.NewScripted(
		llm.Reply{Text: "First answer. Still first.", Tokens: 4},
		llm.Reply{Text: "Second answer.", Tokens: 2},
	)
	p, conn := newTestPipeline(t, Adapters{
		Recognizer:   sttmock.NewScripted("first", "second"),
		Conversation: conv,
		Synthesizer:  synth,
	}, nil)

	submit(t, p, utterance(speech))
	submit(t, p, utterance(speech))

	got := waitForMessages(t, conn, 13)
	want := []string{
		"state:processing",
		"transcript:first",
		"state:speaking",
		"llm:First answer. Still first.:4",
		"audio:audio:First answer.",
		"audio:audio:Still first.",
		"state:idle",
		"state:processing",
		"transcript:second",
		"state:speaking",
		"llm:Second answer.:2",
		"audio:audio:Second answer.",
		"state:idle",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("messages = %v, want %v", got, want)
	}

	calls := conv.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 conversation calls, got %d", len(calls))
	}
	wantSecond := []models.Turn{
		models.UserTurn("first"),
		models.AssistantTurn("First answer. Still first."),
		models.UserTurn("second"),
	}
	if !reflect.DeepEqual(calls[1], wantSecond) {
		t.Errorf("second turn saw %v, want %v", calls[1], wantSecond)
	}
}

func TestPipeline_QueuedTurnsAreNotDropped(t *testing.T) {
	rec := sttmock.NewScripted("a", "b", "c", "d", "e")
	p, conn := newTestPipeline(t, Adapters{
		Recognizer:   rec,
		Conversation: llmmock.NewScripted(llm.Reply{}),
	}, nil)

	for i := 0; i < 5; i++ {
		submit(t, p, utterance(speech))
	}

	got := waitForMessages(t, conn, 20)
	var transcripts []string
	for _, m := range got {
		if len(m) > len("transcript:") && m[:len("transcript:")] == "transcript:" {
			transcripts = append(transcripts, m[len("transcript:"):])
		}
	}
	if !reflect.DeepEqual(transcripts, []string{"a", "b", "c", "d", "e"}) {
		t.Errorf("expected all turns in order, got %v", transcripts)
	}
}

func TestPipeline_InstructionsAndContextLength(t *testing.T) {
	conv := llmmock.NewScripted(llm.Reply{Text: "ok", Tokens: 1})
	p, conn := newTestPipeline(t, Adapters{
		Recognizer:   sttmock.NewScripted("one", "two"),
		Conversation: conv,
	}, nil)

	u := utterance(speech)
	u.Instructions = "Be brief."
	u.ContextLength = 2
	submit(t, p, u)
	waitForMessages(t, conn, 5)
	submit(t, p, u)
	waitForMessages(t, conn, 10)

	calls := conv.Calls()
	want := []models.Turn{models.SystemTurn("Be brief."), models.UserTurn("two")}
	if len(calls) != 2 || !reflect.DeepEqual(calls[1], want) {
		t.Errorf("second call saw %v, want %v", calls, want)
	}
	if h := p.History(); len(h) != 2 || h[0].Role != models.RoleSystem {
		t.Errorf("expected history trimmed to system + last turn, got %v", h)
	}
}

type panicRecognizer struct{ calls int }

func (r *panicRecognizer) Transcribe(ctx context.Context, audio []byte) (string, error) {
	r.calls++
	if r.calls == 1 {
		panic("boom")
	}
	return "", nil
}

func TestPipeline_RecoversFromAdapterPanic(t *testing.T) {
	p, conn := newTestPipeline(t, Adapters{Recognizer: &panicRecognizer{}, Conversation: llmmock.New()}, nil)

	submit(t, p, utterance(speech))
	submit(t, p, utterance(speech))

	got := waitForMessages(t, conn, 6)
	want := []string{
		"state:processing", "error:Could not transcribe audio.", "state:idle",
		"state:processing", "llm:I didn't catch that.:0", "state:idle",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("messages = %v, want %v", got, want)
	}
}

func TestPipeline_TransportFailureEndsSession(t *testing.T) {
	p, conn := newTestPipeline(t, Adapters{Recognizer: sttmock.New(), Conversation: llmmock.New()}, nil)
	conn.setFail(errors.New("broken pipe"))

	submit(t, p, utterance(nil))

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected session to end after a write failure")
	}
	if !errors.Is(p.Err(), models.ErrTransportClosed) {
		t.Errorf("expected ErrTransportClosed, got %v", p.Err())
	}
	if err := p.Submit(context.Background(), utterance(nil)); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after session end, got %v", err)
	}
}

func TestPipeline_CloseAbandonsSlowTurns(t *testing.T) {
	conv := llmmock.New()
	conv.SetDelay(2 * time.Second)
	p, conn := newTestPipeline(t, Adapters{
		Recognizer:   sttmock.NewScripted("slow"),
		Conversation: conv,
	}, func(c *Config) {
		c.DrainTimeout = 30 * time.Millisecond
		c.ConversationTimeout = 5 * time.Second
	})

	submit(t, p, utterance(speech))
	waitForMessages(t, conn, 2)

	start := time.Now()
	p.Close()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Close took %v, expected the drain timeout to bound it", elapsed)
	}
	if !errors.Is(p.Err(), ErrClosed) {
		t.Errorf("expected ErrClosed cause, got %v", p.Err())
	}

	before := conn.count()
	time.Sleep(50 * time.Millisecond)
	if conn.count() != before {
		t.Error("expected no writes after Close")
	}
}

func TestPipeline_CloseIdempotent(t *testing.T) {
	p, _ := newTestPipeline(t, Adapters{Recognizer: sttmock.New(), Conversation: llmmock.New()}, nil)
	p.Close()
	p.Close()
}

func TestPipeline_Pings(t *testing.T) {
	_, conn := newTestPipeline(t, Adapters{Recognizer: sttmock.New(), Conversation: llmmock.New()}, func(c *Config) {
		c.PingInterval = 10 * time.Millisecond
	})

	time.Sleep(60 * time.Millisecond)
	conn.mu.Lock()
	pings := conn.pings
	conn.mu.Unlock()
	if pings == 0 {
		t.Error("expected periodic pings")
	}
}

func TestPipeline_EventsPublishedToBus(t *testing.T) {
	bus := &recordingBus{}
	p, conn := newTestPipeline(t, Adapters{
		Recognizer:   sttmock.NewScripted("hi"),
		Conversation: llmmock.NewScripted(llm.Reply{Text: "Hello.", Tokens: 1}),
		Synthesizer:  ttsmock.New(),
		Bus:          bus,
	}, nil)

	submit(t, p, utterance(speech))
	waitForMessages(t, conn, 6)

	want := []string{models.TopicTranscript, models.TopicLLM, models.TopicTTS}
	if got := bus.topics(); !reflect.DeepEqual(got, want) {
		t.Errorf("published topics = %v, want %v", got, want)
	}
}

type recordingBus struct {
	mu     sync.Mutex
	events []string
}

func (b *recordingBus) Publish(ctx context.Context, topic, key string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, topic)
}

func (b *recordingBus) topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.events...)
}

func TestPipeline_NotifyIsOrderedAfterEarlierTurns(t *testing.T) {
	conv := llmmock.NewScripted(llm.Reply{Text: "Hi.", Tokens: 1})
	conv.SetDelay(30 * time.Millisecond)
	p, conn := newTestPipeline(t, Adapters{
		Recognizer:   sttmock.NewScripted("hello"),
		Conversation: conv,
	}, nil)

	submit(t, p, utterance(speech))
	if err := p.Notify(context.Background(), "Audio too large."); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	got := waitForMessages(t, conn, 6)
	want := []string{
		"state:processing", "transcript:hello", "state:speaking", "llm:Hi.:1", "state:idle",
		"error:Audio too large.",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("messages = %v, want %v", got, want)
	}
}
