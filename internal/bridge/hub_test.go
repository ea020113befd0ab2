package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ppiankov/lockwatch/internal/engine"
	"github.com/ppiankov/lockwatch/internal/prompt"
)

func TestHubLaunchWithoutWatcherIsUnresolvable(t *testing.T) {
	h := NewHub(nil)
	if err := h.Launch(context.Background(), "com.example.bank"); !errors.Is(err, prompt.ErrUnresolvable) {
		t.Fatalf("err = %v, want ErrUnresolvable", err)
	}

	signals, cancel := h.Subscribe()
	defer cancel()
	if err := h.Launch(context.Background(), "com.example.bank"); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	sig := <-signals
	if sig.Kind != SignalLaunch || sig.Subject != "com.example.bank" {
		t.Fatalf("signal = %+v", sig)
	}
}

func TestHubUnsubscribe(t *testing.T) {
	h := NewHub(nil)
	_, cancel := h.Subscribe()
	if h.Watchers() != 1 {
		t.Fatal("expected one watcher")
	}
	cancel()
	if h.Watchers() != 0 {
		t.Fatal("expected no watchers after cancel")
	}
}

func TestHubSlowWatcherDoesNotBlock(t *testing.T) {
	h := NewHub(nil)
	_, cancel := h.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		p := prompt.Prompt{ID: "p1", Subject: "com.example.bank"}
		for i := 0; i < subscriberBuffer*2; i++ {
			h.Show(context.Background(), p)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full watcher")
	}
	if h.dropped.Load() != subscriberBuffer {
		t.Fatalf("dropped = %d, want %d", h.dropped.Load(), subscriberBuffer)
	}
}

func TestHubPublishAndKeyguard(t *testing.T) {
	h := NewHub(nil)
	h.Publish("com.example.a")
	h.Publish("com.example.b")
	ev := <-h.Events()
	if ev.Subject != "com.example.b" || ev.Kind != engine.WindowChanged {
		t.Fatalf("event = %+v, want latest", ev)
	}

	h.SetKeyguard(true)
	if locked, _ := h.Locked(context.Background()); !locked {
		t.Fatal("keyguard should read locked")
	}
}

func TestSignalEncoding(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := Signal{
		Kind:    SignalNotify,
		Subject: "com.example.bank",
		Message: "cannot open app",
		Prompt:  prompt.Prompt{ID: "p1", Subject: "com.example.bank", CreatedAt: created},
	}
	msg, err := EncodeSignal(in)
	if err != nil {
		t.Fatal(err)
	}
	out := DecodeSignal(msg)
	if out.Kind != in.Kind || out.Message != in.Message || out.Prompt.ID != "p1" || !out.Prompt.CreatedAt.Equal(created) {
		t.Fatalf("decoded = %+v", out)
	}
}
