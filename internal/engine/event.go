package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ppiankov/lockwatch/internal/subject"
)

// Kind classifies a foreground notification.
type Kind string

// WindowChanged is the only kind the engine acts on.
const WindowChanged Kind = "WINDOW_CHANGED"

// Event reports that Subject came to the foreground.
type Event struct {
	Subject subject.ID `json:"subject"`
	Kind    Kind       `json:"kind"`
	At      time.Time  `json:"at"`
}

// Source delivers foreground events. A closed channel ends Engine.Run.
type Source interface {
	Events() <-chan Event
}

// Keyguard reports whether the device lock screen is up.
type Keyguard interface {
	Locked(ctx context.Context) (bool, error)
}

// KeyguardFunc adapts a function to Keyguard.
type KeyguardFunc func(ctx context.Context) (bool, error)

func (f KeyguardFunc) Locked(ctx context.Context) (bool, error) { return f(ctx) }

// Mailbox is a single-slot Source. Publishing replaces any undelivered
// event, so a slow consumer only ever sees the newest foreground subject.
type Mailbox struct {
	ch      chan Event
	dropped atomic.Uint64
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{ch: make(chan Event, 1)}
}

// Publish never blocks.
func (m *Mailbox) Publish(ev Event) {
	for {
		select {
		case m.ch <- ev:
			return
		default:
		}
		select {
		case <-m.ch:
			m.dropped.Add(1)
		default:
		}
	}
}

// Events implements Source.
func (m *Mailbox) Events() <-chan Event { return m.ch }

// Dropped counts events replaced before delivery.
func (m *Mailbox) Dropped() uint64 { return m.dropped.Load() }
