package mock

import (
	"context"
	"errors"
	"testing"
	"time"

	"voice-relay-service/internal/models"
	"voice-relay-service/internal/service/llm"
)

func TestAdapter_Echo(t *testing.T) {
	a := New()
	reply, err := a.Chat(context.Background(), []models.Turn{models.UserTurn("hello there")}, 0.7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Text != "You said: hello there" || reply.Tokens != 4 {
		t.Errorf("unexpected reply %+v", reply)
	}
}

func TestAdapter_Scripted(t *testing.T) {
	a := NewScripted(llm.Reply{Text: "one"}, llm.Reply{Text: "two"})
	want := []string{"one", "two", "two"}
	for i, w := range want {
		reply, _ := a.Chat(context.Background(), nil, 0.7)
		if reply.Text != w {
			t.Errorf("call %d: expected %q, got %q", i, w, reply.Text)
		}
	}
	if len(a.Calls()) != 3 {
		t.Errorf("expected 3 recorded calls, got %d", len(a.Calls()))
	}
}

func TestAdapter_DelayTimesOut(t *testing.T) {
	a := New()
	a.SetDelay(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := a.Chat(ctx, nil, 0.7)
	if !errors.Is(err, models.ErrConversationService) {
		t.Errorf("expected ErrConversationService, got %v", err)
	}
}

func TestAdapter_Error(t *testing.T) {
	a := New()
	a.SetError(errors.New("boom"))
	if _, err := a.Chat(context.Background(), nil, 0.7); !errors.Is(err, models.ErrConversationService) {
		t.Errorf("expected ErrConversationService, got %v", err)
	}
}
