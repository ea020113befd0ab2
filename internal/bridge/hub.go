package bridge

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ppiankov/lockwatch/internal/engine"
	"github.com/ppiankov/lockwatch/internal/prompt"
	"github.com/ppiankov/lockwatch/internal/subject"
)

// SignalKind names an instruction for the platform surface.
type SignalKind string

const (
	SignalShow    SignalKind = "show"
	SignalReject  SignalKind = "reject"
	SignalDismiss SignalKind = "dismiss"
	SignalNotify  SignalKind = "notify"
	SignalLaunch  SignalKind = "launch"
)

// subscriberBuffer bounds signals queued for one slow watcher.
const subscriberBuffer = 32

// Signal is one instruction streamed to connected watchers.
type Signal struct {
	Kind    SignalKind    `json:"kind"`
	Prompt  prompt.Prompt `json:"prompt"`
	Subject subject.ID    `json:"subject"`
	Message string        `json:"message,omitempty"`
}

// Hub connects the core to the platform side: it receives foreground and
// keyguard reports, and fans prompt instructions out to watchers.
// It implements prompt.Presenter, prompt.Launcher, engine.Keyguard and
// engine.Source.
type Hub struct {
	box      *engine.Mailbox
	keyguard atomic.Bool
	logger   *slog.Logger

	mu      sync.Mutex
	nextID  uint64
	subs    map[uint64]chan Signal
	dropped atomic.Uint64
}

// NewHub returns a Hub with no watchers.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		box:    engine.NewMailbox(),
		logger: logger,
		subs:   make(map[uint64]chan Signal),
	}
}

// Publish reports a foreground change.
func (h *Hub) Publish(id subject.ID) {
	h.box.Publish(engine.Event{Subject: id, Kind: engine.WindowChanged, At: time.Now().UTC()})
}

// Events implements engine.Source.
func (h *Hub) Events() <-chan engine.Event { return h.box.Events() }

// SetKeyguard records whether the device lock screen is up.
func (h *Hub) SetKeyguard(locked bool) { h.keyguard.Store(locked) }

// Locked implements engine.Keyguard.
func (h *Hub) Locked(context.Context) (bool, error) { return h.keyguard.Load(), nil }

// Subscribe registers a watcher. Call cancel to unregister.
func (h *Hub) Subscribe() (<-chan Signal, func()) {
	ch := make(chan Signal, subscriberBuffer)
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = ch
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

// Watchers reports how many watchers are connected.
func (h *Hub) Watchers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) broadcast(sig Signal) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- sig:
		default:
			h.dropped.Add(1)
			h.logger.Warn("bridge: watcher too slow, signal dropped", "kind", sig.Kind, "subject", sig.Subject)
		}
	}
}

func (h *Hub) Show(_ context.Context, p prompt.Prompt) error {
	h.broadcast(Signal{Kind: SignalShow, Prompt: p, Subject: p.Subject})
	return nil
}

func (h *Hub) Reject(_ context.Context, p prompt.Prompt) error {
	h.broadcast(Signal{Kind: SignalReject, Prompt: p, Subject: p.Subject})
	return nil
}

func (h *Hub) Dismiss(_ context.Context, p prompt.Prompt) error {
	h.broadcast(Signal{Kind: SignalDismiss, Prompt: p, Subject: p.Subject})
	return nil
}

func (h *Hub) Notify(_ context.Context, p prompt.Prompt, msg string) error {
	h.broadcast(Signal{Kind: SignalNotify, Prompt: p, Subject: p.Subject, Message: msg})
	return nil
}

// Launch asks the platform to start id. With no watcher attached nothing
// can start the app, so the target is unresolvable.
func (h *Hub) Launch(_ context.Context, id subject.ID) error {
	if h.Watchers() == 0 {
		return prompt.ErrUnresolvable
	}
	h.broadcast(Signal{Kind: SignalLaunch, Subject: id})
	return nil
}
