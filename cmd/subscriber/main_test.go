package main

import (
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"voice-relay-service/internal/models"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    models.BusEvent
		wantErr bool
	}{
		{
			name:    "transcript",
			payload: `{"type":"transcript","sessionId":"s1","turnId":"t1","timestamp":1,"content":"hi"}`,
			want:    models.BusEvent{Type: "transcript", SessionID: "s1", TurnID: "t1", Timestamp: 1, Content: "hi"},
		},
		{name: "not json", payload: `nope`, wantErr: true},
		{name: "no type", payload: `{"sessionId":"s1"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decode([]byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("decode err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("decode = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"abcdefghij", 4, "abcd..."},
		{"héllo", 2, "h..."},
		{"日本語", 4, "日..."},
		{"日本語", 6, "日本..."},
	}
	for _, tt := range tests {
		got := truncate(tt.in, tt.max)
		if got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) produced invalid UTF-8", tt.in, tt.max)
		}
	}
}

func TestTopicNames(t *testing.T) {
	want := []string{"orion.voice.transcript", "orion.voice.llm", "orion.voice.tts", "orion.voice.error"}
	if got := topicNames("orion.voice"); !reflect.DeepEqual(got, want) {
		t.Errorf("topicNames = %v, want %v", got, want)
	}
}

func TestHub_ViewerAfterShutdownDoesNotBlock(t *testing.T) {
	done := make(chan struct{})
	h := newHub(done)
	stopped := make(chan struct{})
	go func() {
		h.run()
		close(stopped)
	}()
	close(done)
	<-stopped

	srv := httptest.NewServer(feedHandler(h))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The handler must give up on registration and drop the viewer.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if err == nil {
		t.Fatal("expected the connection to be closed")
	}
	if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
		t.Errorf("viewer connection left open after shutdown: %v", err)
	}
}

func TestHub_BroadcastsToViewers(t *testing.T) {
	done := make(chan struct{})
	defer close(done)
	h := newHub(done)
	go h.run()

	srv := httptest.NewServer(feedHandler(h))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("viewer never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	handle(h, "orion.voice.llm", []byte(`{"type":"llm_response","sessionId":"s1","content":"4.","tokens":1}`))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got models.BusEvent
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != "llm_response" || got.Content != "4." || got.Tokens != 1 {
		t.Errorf("unexpected event %+v", got)
	}
}
