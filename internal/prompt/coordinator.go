package prompt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ppiankov/lockwatch/internal/audit"
	"github.com/ppiankov/lockwatch/internal/secret"
	"github.com/ppiankov/lockwatch/internal/storage"
	"github.com/ppiankov/lockwatch/internal/subject"
)

// cannotOpenMessage is shown when the credential was right but the app is gone.
const cannotOpenMessage = "cannot open app"

// Config wires a Coordinator to its collaborators.
type Config struct {
	Credentials storage.Credentials
	Sessions    storage.Sessions
	Sealer      secret.Sealer
	Presenter   Presenter
	Launcher    Launcher
	Audit       audit.Recorder
	Logger      *slog.Logger
	SessionID   string

	// AttemptsPerMinute limits submissions per prompt. Zero disables the
	// limit, which matches the unhardened behavior.
	AttemptsPerMinute int
	AttemptBurst      int
}

type pending struct {
	prompt   Prompt
	resume   Continuation
	limiter  *rate.Limiter
	checking bool
}

// Coordinator owns the single visible prompt.
type Coordinator struct {
	cfg     Config
	mu      sync.Mutex
	active  *pending
	virtual map[subject.ID]Continuation
}

// New validates cfg and returns a Coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Credentials == nil || cfg.Sessions == nil {
		return nil, fmt.Errorf("prompt: credential and session stores are required")
	}
	if cfg.Presenter == nil {
		return nil, fmt.Errorf("prompt: presenter is required")
	}
	if cfg.Sealer == nil {
		cfg.Sealer = secret.Plain{}
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.Discard{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Coordinator{
		cfg:     cfg,
		virtual: make(map[subject.ID]Continuation),
	}, nil
}

// RegisterVirtual sets the default continuation for a virtual subject.
func (c *Coordinator) RegisterVirtual(id subject.ID, fn Continuation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.virtual[id] = fn
}

// Lock shows a prompt for id that resumes the subject on success. It reports
// whether a prompt for id is visible when it returns.
func (c *Coordinator) Lock(ctx context.Context, id subject.ID) (bool, error) {
	_, shown, err := c.open(ctx, id, nil, true)
	return shown, err
}

// Authorize shows a prompt for a privileged caller and runs fn once the
// secret checks out. A subject with no credential is unprotected, so fn
// runs immediately.
func (c *Coordinator) Authorize(ctx context.Context, id subject.ID, fn Continuation) (Prompt, bool, error) {
	if fn == nil {
		c.mu.Lock()
		fn = c.virtual[id]
		c.mu.Unlock()
	}
	if _, err := c.cfg.Credentials.Get(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			if fn != nil {
				return Prompt{}, false, fn(ctx, id)
			}
			return Prompt{}, false, nil
		}
		return Prompt{}, false, fmt.Errorf("look up credential: %w", err)
	}
	return c.open(ctx, id, fn, false)
}

// open reserves and shows a prompt. skipIfAuthenticated suppresses the
// prompt for subjects already unlocked this session. A repeated request for
// the visible subject keeps the prompt and takes over its continuation.
func (c *Coordinator) open(ctx context.Context, id subject.ID, fn Continuation, skipIfAuthenticated bool) (Prompt, bool, error) {
	c.mu.Lock()
	if c.active != nil && c.active.prompt.Subject == id {
		p := c.reuseLocked(fn)
		c.mu.Unlock()
		return p, true, nil
	}
	c.mu.Unlock()

	if skipIfAuthenticated {
		ok, err := c.cfg.Sessions.IsAuthenticated(ctx, id)
		if err != nil {
			return Prompt{}, false, fmt.Errorf("read session flag: %w", err)
		}
		if ok {
			return Prompt{}, false, nil
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Prompt{}, false, err
	}
	if c.active != nil && c.active.prompt.Subject == id {
		return c.reuseLocked(fn), true, nil
	}
	if c.active != nil {
		c.closeLocked(ctx, "superseded")
	}

	p := &pending{
		prompt: Prompt{
			ID:        uuid.NewString(),
			Subject:   id,
			Virtual:   subject.IsVirtual(id),
			CreatedAt: time.Now().UTC(),
		},
		resume: fn,
	}
	if c.cfg.AttemptsPerMinute > 0 {
		burst := c.cfg.AttemptBurst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(float64(c.cfg.AttemptsPerMinute)/60), burst)
	}

	if err := c.cfg.Presenter.Show(ctx, p.prompt); err != nil {
		return Prompt{}, false, fmt.Errorf("show prompt: %w", err)
	}
	c.active = p
	c.record(audit.EventPromptShown, id, "locked", "")
	return p.prompt, true, nil
}

func (c *Coordinator) reuseLocked(fn Continuation) Prompt {
	if fn != nil {
		c.active.resume = fn
	}
	return c.active.prompt
}

// Submit checks secret against the credential for id. A mismatch leaves
// every piece of state unchanged and the prompt in place.
func (c *Coordinator) Submit(ctx context.Context, id subject.ID, submitted string) (Result, error) {
	c.mu.Lock()
	p := c.active
	if p == nil || p.prompt.Subject != id {
		c.mu.Unlock()
		return Result{}, ErrNoPrompt
	}
	if p.checking {
		c.mu.Unlock()
		return Result{}, ErrCheckInProgress
	}
	if p.limiter != nil && !p.limiter.Allow() {
		c.reject(ctx, p.prompt)
		c.mu.Unlock()
		c.record(audit.EventPromptRejected, id, "throttled", "attempt limit reached")
		return Result{Outcome: Throttled, Prompt: p.prompt}, nil
	}
	p.checking = true
	c.mu.Unlock()

	stored, err := c.cfg.Credentials.Get(ctx, id)
	if err != nil {
		c.release(p)
		return Result{}, fmt.Errorf("look up credential: %w", err)
	}

	if !c.cfg.Sealer.Verify(stored, submitted) {
		c.mu.Lock()
		p.checking = false
		if c.active == p {
			c.reject(ctx, p.prompt)
		}
		c.mu.Unlock()
		c.record(audit.EventPromptRejected, id, "rejected", "secret mismatch")
		return Result{Outcome: Rejected, Prompt: p.prompt}, nil
	}

	// The flag is written while the prompt is still up, so a foreground event
	// for id that arrives once it closes already sees the subject unlocked.
	if err := c.cfg.Sessions.SetAuthenticated(ctx, id); err != nil {
		c.cfg.Logger.Error("prompt: record session authentication", "subject", id, "error", err)
	}

	c.mu.Lock()
	if c.active != p {
		c.mu.Unlock()
		return Result{}, ErrPromptClosed
	}
	c.active = nil
	if err := c.cfg.Presenter.Dismiss(ctx, p.prompt); err != nil {
		c.cfg.Logger.Warn("prompt: dismiss failed", "subject", id, "error", err)
	}
	resume := p.resume
	if resume == nil {
		resume = c.virtual[id]
	}
	c.mu.Unlock()
	c.record(audit.EventPromptAccepted, id, "unlocked", "")

	if err := c.resume(ctx, id, resume); err != nil {
		msg := err.Error()
		if errors.Is(err, ErrUnresolvable) {
			msg = cannotOpenMessage
		}
		if nerr := c.cfg.Presenter.Notify(ctx, p.prompt, msg); nerr != nil {
			c.cfg.Logger.Warn("prompt: notify failed", "subject", id, "error", nerr)
		}
		c.record(audit.EventResumeFailed, id, "unlocked", err.Error())
		c.cfg.Logger.Warn("prompt: resume failed", "subject", id, "error", err)
		return Result{Outcome: ResumeFailed, Prompt: p.prompt, Message: msg}, nil
	}
	return Result{Outcome: Accepted, Prompt: p.prompt}, nil
}

// resume launches app subjects or runs the continuation for virtual ones.
func (c *Coordinator) resume(ctx context.Context, id subject.ID, fn Continuation) error {
	if fn != nil {
		return fn(ctx, id)
	}
	if subject.IsVirtual(id) {
		return nil
	}
	if c.cfg.Launcher == nil {
		return ErrUnresolvable
	}
	return c.cfg.Launcher.Launch(ctx, id)
}

func (c *Coordinator) release(p *pending) {
	c.mu.Lock()
	p.checking = false
	c.mu.Unlock()
}

// Dismiss hides the prompt for id without changing any authentication state.
func (c *Coordinator) Dismiss(ctx context.Context, id subject.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil || c.active.prompt.Subject != id {
		return false
	}
	c.closeLocked(ctx, "dismissed")
	return true
}

// Supersede hides a visible prompt for any subject other than keep.
func (c *Coordinator) Supersede(ctx context.Context, keep subject.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil && c.active.prompt.Subject != keep {
		c.closeLocked(ctx, "superseded")
	}
}

func (c *Coordinator) reject(ctx context.Context, p Prompt) {
	if err := c.cfg.Presenter.Reject(ctx, p); err != nil {
		c.cfg.Logger.Warn("prompt: reject failed", "subject", p.Subject, "error", err)
	}
}

// closeLocked hides the active prompt. Caller holds c.mu.
func (c *Coordinator) closeLocked(ctx context.Context, reason string) {
	p := c.active
	c.active = nil
	if err := c.cfg.Presenter.Dismiss(ctx, p.prompt); err != nil {
		c.cfg.Logger.Warn("prompt: dismiss failed", "subject", p.prompt.Subject, "error", err)
	}
	c.record(audit.EventPromptDismissed, p.prompt.Subject, "locked", reason)
}

// Active returns the visible prompt, if any.
func (c *Coordinator) Active() (Prompt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return Prompt{}, false
	}
	return c.active.prompt, true
}

// Showing reports whether a prompt for id is visible.
func (c *Coordinator) Showing(id subject.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil && c.active.prompt.Subject == id
}

func (c *Coordinator) record(event string, id subject.ID, decision, reason string) {
	err := c.cfg.Audit.Record(audit.Entry{
		SessionID: c.cfg.SessionID,
		Subject:   string(id),
		Event:     event,
		Decision:  decision,
		Reason:    reason,
	})
	if err != nil {
		c.cfg.Logger.Warn("prompt: audit record failed", "event", event, "error", err)
	}
}
