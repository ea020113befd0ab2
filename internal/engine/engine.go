// Package engine turns foreground-app notifications into lock decisions.
// It keeps at most one evaluation live: a newer event cancels the older
// one, and any failure leaves the app usable.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ppiankov/lockwatch/internal/audit"
	"github.com/ppiankov/lockwatch/internal/storage"
	"github.com/ppiankov/lockwatch/internal/subject"
)

// ErrSourceClosed is returned by Run when the event source closes.
var ErrSourceClosed = errors.New("event source closed")

// Prompter is the part of the prompt coordinator the engine drives.
type Prompter interface {
	// Lock shows a prompt for id and reports whether one is visible.
	Lock(ctx context.Context, id subject.ID) (bool, error)
	// Supersede hides a visible prompt for any subject other than keep.
	Supersede(ctx context.Context, keep subject.ID)
	Showing(id subject.ID) bool
}

// Config wires an Engine.
type Config struct {
	Credentials storage.Credentials
	Sessions    storage.Sessions
	Monitoring  storage.Monitoring
	Prompter    Prompter
	Keyguard    Keyguard
	Audit       audit.Recorder
	Logger      *slog.Logger
	SessionID   string

	// SelfSubject is lockwatch's own identifier; its events never supersede.
	SelfSubject subject.ID
	Ignore      []subject.ID
}

// State is the per-subject view exposed to callers.
type State string

const (
	Unlocked      State = "unlocked"
	Evaluating    State = "evaluating"
	Locked        State = "locked"
	Authenticated State = "authenticated"
)

// Stats counts what the engine did with events since start.
type Stats struct {
	Events     uint64 `json:"events"`
	Ignored    uint64 `json:"ignored"`
	Coalesced  uint64 `json:"coalesced"`
	Superseded uint64 `json:"superseded"`
	Prompted   uint64 `json:"prompted"`
	Suppressed uint64 `json:"suppressed"`
	FailedOpen uint64 `json:"failed_open"`
	Resets     uint64 `json:"resets"`
}

type evaluation struct {
	seq     uint64
	subject subject.ID
	cancel  context.CancelFunc
}

// Engine evaluates foreground events one at a time, latest wins.
type Engine struct {
	cfg Config

	mu      sync.Mutex
	base    context.Context
	ignore  map[subject.ID]bool
	seq     uint64
	current *evaluation
	stats   Stats

	wg sync.WaitGroup
}

// New validates cfg and returns an Engine. Call Run to start consuming.
func New(cfg Config) (*Engine, error) {
	if cfg.Credentials == nil || cfg.Sessions == nil || cfg.Monitoring == nil {
		return nil, fmt.Errorf("engine: credential, session and monitoring stores are required")
	}
	if cfg.Prompter == nil {
		return nil, fmt.Errorf("engine: prompter is required")
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.Discard{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	e := &Engine{cfg: cfg, base: context.Background()}
	e.SetIgnore(cfg.Ignore)
	return e, nil
}

// Start clears every session flag and records the start. Run calls it;
// it is exported for hosts that drive Handle directly.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.cfg.Sessions.ResetAll(ctx); err != nil {
		return fmt.Errorf("engine: clear sessions at start: %w", err)
	}
	e.mu.Lock()
	e.base = ctx
	e.mu.Unlock()
	e.record(audit.EventEngineStarted, "", "", "")
	e.cfg.Logger.Info("engine started", "session", e.cfg.SessionID)
	return nil
}

// Run starts the engine and consumes src until ctx is cancelled or src
// closes. In-flight evaluations are cancelled and awaited before return.
func (e *Engine) Run(ctx context.Context, src Source) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	defer e.stop()

	events := src.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return ErrSourceClosed
			}
			e.Handle(ev)
		}
	}
}

func (e *Engine) stop() {
	e.mu.Lock()
	if e.current != nil {
		e.current.cancel()
		e.current = nil
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// Handle schedules evaluation of ev and returns without blocking on I/O.
func (e *Engine) Handle(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.Events++
	if (ev.Kind != "" && ev.Kind != WindowChanged) || e.ignoredLocked(ev.Subject) {
		e.stats.Ignored++
		return
	}
	if e.current != nil {
		if e.current.subject == ev.Subject {
			e.stats.Coalesced++
			return
		}
		e.current.cancel()
		e.stats.Superseded++
	}

	e.seq++
	ctx, cancel := context.WithCancel(e.base)
	cur := &evaluation{seq: e.seq, subject: ev.Subject, cancel: cancel}
	e.current = cur

	e.wg.Add(1)
	go e.evaluate(ctx, cur)
}

func (e *Engine) ignoredLocked(id subject.ID) bool {
	// Virtual subjects are only reached through Authorize, never a window.
	if subject.Validate(id) != nil || subject.IsVirtual(id) {
		return true
	}
	if e.cfg.SelfSubject != "" && id == e.cfg.SelfSubject {
		return true
	}
	return e.ignore[id]
}

func (e *Engine) evaluate(ctx context.Context, ev *evaluation) {
	defer e.wg.Done()
	defer e.finish(ev.seq)
	defer func() {
		if r := recover(); r != nil {
			e.failOpen(ev.subject, fmt.Errorf("panic: %v", r))
		}
	}()

	e.cfg.Prompter.Supersede(ctx, ev.subject)

	shown, err := e.decide(ctx, ev.subject)
	switch {
	case ctx.Err() != nil:
		e.count(func(s *Stats) { s.Suppressed++ })
	case err != nil:
		e.failOpen(ev.subject, err)
	case shown:
		e.count(func(s *Stats) { s.Prompted++ })
	}
}

// decide runs the lock decision for id and reports whether a prompt is up.
func (e *Engine) decide(ctx context.Context, id subject.ID) (bool, error) {
	on, err := e.cfg.Monitoring.MonitoringEnabled(ctx)
	if err != nil {
		return false, fmt.Errorf("read monitoring flag: %w", err)
	}
	if !on {
		return false, nil
	}

	if e.cfg.Keyguard != nil {
		locked, err := e.cfg.Keyguard.Locked(ctx)
		if err != nil {
			return false, fmt.Errorf("read keyguard: %w", err)
		}
		if locked {
			return false, nil
		}
	}

	authed, err := e.cfg.Sessions.IsAuthenticated(ctx, id)
	if err != nil {
		return false, fmt.Errorf("read session flag: %w", err)
	}
	if authed {
		return false, nil
	}

	if _, err := e.cfg.Credentials.Get(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("look up credential: %w", err)
	}

	// A newer event may have arrived during the lookups above.
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return e.cfg.Prompter.Lock(ctx, id)
}

func (e *Engine) finish(seq uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current != nil && e.current.seq == seq {
		e.current.cancel()
		e.current = nil
	}
}

func (e *Engine) failOpen(id subject.ID, err error) {
	e.count(func(s *Stats) { s.FailedOpen++ })
	e.cfg.Logger.Warn("engine: evaluation failed, leaving app unlocked", "subject", id, "error", err)
	e.record(audit.EventFailOpen, id, "allow", err.Error())
}

func (e *Engine) count(fn func(*Stats)) {
	e.mu.Lock()
	fn(&e.stats)
	e.mu.Unlock()
}

// ResetSessions clears every session flag. Authentications that complete
// after it returns are retained.
func (e *Engine) ResetSessions(ctx context.Context, reason string) error {
	if err := e.cfg.Sessions.ResetAll(ctx); err != nil {
		return fmt.Errorf("engine: reset sessions: %w", err)
	}
	e.count(func(s *Stats) { s.Resets++ })
	e.record(audit.EventSessionsReset, "", "", reason)
	e.cfg.Logger.Info("sessions reset", "reason", reason)
	return nil
}

// State reports where id stands right now.
func (e *Engine) State(ctx context.Context, id subject.ID) (State, error) {
	if e.cfg.Prompter.Showing(id) {
		return Locked, nil
	}
	e.mu.Lock()
	evaluating := e.current != nil && e.current.subject == id
	e.mu.Unlock()
	if evaluating {
		return Evaluating, nil
	}
	ok, err := e.cfg.Sessions.IsAuthenticated(ctx, id)
	if err != nil {
		return Unlocked, err
	}
	if ok {
		return Authenticated, nil
	}
	return Unlocked, nil
}

// Stats returns a snapshot of the counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// SetIgnore replaces the ignore list.
func (e *Engine) SetIgnore(ids []subject.ID) {
	m := make(map[subject.ID]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	e.mu.Lock()
	e.ignore = m
	e.mu.Unlock()
}

// Wait blocks until every in-flight evaluation has returned.
func (e *Engine) Wait() { e.wg.Wait() }

func (e *Engine) record(event string, id subject.ID, decision, reason string) {
	err := e.cfg.Audit.Record(audit.Entry{
		SessionID: e.cfg.SessionID,
		Subject:   string(id),
		Event:     event,
		Decision:  decision,
		Reason:    reason,
	})
	if err != nil {
		e.cfg.Logger.Warn("engine: audit record failed", "event", event, "error", err)
	}
}
