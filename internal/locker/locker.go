// Package locker assembles the stores, prompt coordinator and interception
// engine into one instance and exposes the administrative operations the
// settings surface needs.
package locker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/ppiankov/lockwatch/internal/audit"
	"github.com/ppiankov/lockwatch/internal/config"
	"github.com/ppiankov/lockwatch/internal/engine"
	"github.com/ppiankov/lockwatch/internal/prompt"
	"github.com/ppiankov/lockwatch/internal/secret"
	"github.com/ppiankov/lockwatch/internal/storage"
	"github.com/ppiankov/lockwatch/internal/storage/sqlite"
	"github.com/ppiankov/lockwatch/internal/subject"
)

var (
	// ErrMandatoryMissing is returned when monitoring would run without a
	// credential on every mandatory virtual subject.
	ErrMandatoryMissing = errors.New("mandatory virtual subjects need a credential")
	// ErrEmptySecret rejects blank passwords.
	ErrEmptySecret = errors.New("secret must not be empty")
)

// Options wires a Locker. Store and Audit are opened from Config when nil.
type Options struct {
	Config    *config.Config
	Store     storage.Store
	Audit     audit.Recorder
	Presenter prompt.Presenter
	Launcher  prompt.Launcher
	Keyguard  engine.Keyguard
	Logger    *slog.Logger
}

// Locker is one running lockwatch instance.
type Locker struct {
	cfg       *config.Config
	store     storage.Store
	sealer    secret.Sealer
	audit     audit.Recorder
	logger    *slog.Logger
	sessionID string
	closers   []func() error

	coord  *prompt.Coordinator
	engine *engine.Engine
}

// Open builds a Locker. The caller must Close it.
func Open(opts Options) (*Locker, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sealer, err := secret.New(cfg.SecretScheme)
	if err != nil {
		return nil, err
	}

	l := &Locker{
		cfg:       cfg,
		sealer:    sealer,
		logger:    logger,
		sessionID: uuid.NewString(),
	}

	l.store = opts.Store
	if l.store == nil {
		st, err := sqlite.Open(cfg.DatabasePath())
		if err != nil {
			return nil, err
		}
		l.store = st
		l.closers = append(l.closers, st.Close)
	}

	l.audit = opts.Audit
	if l.audit == nil {
		auditLog, err := audit.Open(cfg.AuditLogPath())
		if err != nil {
			l.Close()
			return nil, err
		}
		l.audit = auditLog
		l.closers = append(l.closers, auditLog.Close)
	}

	l.coord, err = prompt.New(prompt.Config{
		Credentials:       l.store,
		Sessions:          l.store,
		Sealer:            sealer,
		Presenter:         opts.Presenter,
		Launcher:          opts.Launcher,
		Audit:             l.audit,
		Logger:            logger,
		SessionID:         l.sessionID,
		AttemptsPerMinute: cfg.Attempts.PerMinute,
		AttemptBurst:      cfg.Attempts.Burst,
	})
	if err != nil {
		l.Close()
		return nil, err
	}
	l.coord.RegisterVirtual(subject.DisableMonitoring, l.disableMonitoring)
	l.coord.RegisterVirtual(subject.DeleteAllCredentials, l.deleteAll)
	l.coord.RegisterVirtual(subject.CriticalSettings, func(context.Context, subject.ID) error { return nil })

	l.engine, err = engine.New(engine.Config{
		Credentials: l.store,
		Sessions:    l.store,
		Monitoring:  l.store,
		Prompter:    l.coord,
		Keyguard:    opts.Keyguard,
		Audit:       l.audit,
		Logger:      logger,
		SessionID:   l.sessionID,
		SelfSubject: cfg.SelfSubject,
		Ignore:      cfg.Ignore,
	})
	if err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

// Engine returns the interception engine.
func (l *Locker) Engine() *engine.Engine { return l.engine }

// Prompts returns the prompt coordinator.
func (l *Locker) Prompts() *prompt.Coordinator { return l.coord }

// SessionID identifies this instance in audit entries.
func (l *Locker) SessionID() string { return l.sessionID }

// Close releases the stores this Locker opened.
func (l *Locker) Close() error {
	var errs []error
	for i := len(l.closers) - 1; i >= 0; i-- {
		if err := l.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	l.closers = nil
	return errors.Join(errs...)
}

// SetPassword protects id with secret, replacing any previous credential.
// While monitoring is on the change waits behind a critical-settings prompt;
// shown reports whether that prompt is now visible.
func (l *Locker) SetPassword(ctx context.Context, id subject.ID, plain string) (prompt.Prompt, bool, error) {
	if err := subject.Validate(id); err != nil {
		return prompt.Prompt{}, false, err
	}
	sealed, err := l.seal(plain)
	if err != nil {
		return prompt.Prompt{}, false, err
	}
	return l.guard(ctx, func(ctx context.Context, _ subject.ID) error {
		if err := l.store.Put(ctx, id, sealed); err != nil {
			return err
		}
		l.record(audit.EventCredentialsChanged, id, "set")
		return nil
	})
}

// SetDefaultForAll gives every subject in ids the same secret in one batch.
// It is gated like SetPassword.
func (l *Locker) SetDefaultForAll(ctx context.Context, ids []subject.ID, plain string) (prompt.Prompt, bool, error) {
	sealed, err := l.seal(plain)
	if err != nil {
		return prompt.Prompt{}, false, err
	}
	creds := make([]storage.Credential, 0, len(ids))
	for _, id := range ids {
		if err := subject.Validate(id); err != nil {
			return prompt.Prompt{}, false, fmt.Errorf("%q: %w", id, err)
		}
		creds = append(creds, storage.Credential{Subject: id, Secret: sealed})
	}
	return l.guard(ctx, func(ctx context.Context, _ subject.ID) error {
		if err := l.store.BulkUpsert(ctx, creds); err != nil {
			return err
		}
		l.record(audit.EventCredentialsChanged, "", fmt.Sprintf("default set for %d subjects", len(creds)))
		return nil
	})
}

// Remove unprotects id. Mandatory virtual subjects cannot be removed while
// monitoring is on, and other subjects wait behind a critical-settings prompt.
func (l *Locker) Remove(ctx context.Context, id subject.ID) (prompt.Prompt, bool, error) {
	on, err := l.store.MonitoringEnabled(ctx)
	if err != nil {
		return prompt.Prompt{}, false, err
	}
	if on && slices.Contains(subject.Mandatory(), id) {
		return prompt.Prompt{}, false, fmt.Errorf("%w: disable monitoring before removing %s", ErrMandatoryMissing, id)
	}
	return l.guard(ctx, func(ctx context.Context, _ subject.ID) error {
		if err := l.store.Delete(ctx, id); err != nil {
			return err
		}
		l.record(audit.EventCredentialsChanged, id, "removed")
		return nil
	})
}

// guard runs fn at once while monitoring is off. Otherwise it opens a
// critical-settings prompt that runs fn on success.
func (l *Locker) guard(ctx context.Context, fn prompt.Continuation) (prompt.Prompt, bool, error) {
	on, err := l.store.MonitoringEnabled(ctx)
	if err != nil {
		return prompt.Prompt{}, false, err
	}
	if !on {
		return prompt.Prompt{}, false, fn(ctx, subject.CriticalSettings)
	}
	return l.coord.Authorize(ctx, subject.CriticalSettings, fn)
}

// Protected lists every subject with a credential.
func (l *Locker) Protected(ctx context.Context) ([]subject.ID, error) {
	creds, err := l.store.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]subject.ID, 0, len(creds))
	for _, c := range creds {
		ids = append(ids, c.Subject)
	}
	return ids, nil
}

// EnableMonitoring turns interception on once every mandatory virtual
// subject carries a credential.
func (l *Locker) EnableMonitoring(ctx context.Context) error {
	var missing []string
	for _, id := range subject.Mandatory() {
		if _, err := l.store.Get(ctx, id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				missing = append(missing, string(id))
				continue
			}
			return err
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMandatoryMissing, strings.Join(missing, ", "))
	}
	return l.setMonitoring(ctx, true)
}

// DisableMonitoring asks for the disable-monitoring credential and turns
// interception off once it is supplied.
func (l *Locker) DisableMonitoring(ctx context.Context) (prompt.Prompt, bool, error) {
	return l.coord.Authorize(ctx, subject.DisableMonitoring, l.disableMonitoring)
}

// DeleteAll wipes every credential once the user authenticates. Deleting
// also switches monitoring off, so while monitoring is on the prompt is for
// the disable-monitoring subject; otherwise it is for the delete-all one.
func (l *Locker) DeleteAll(ctx context.Context) (prompt.Prompt, bool, error) {
	gate, err := l.deleteAllGate(ctx)
	if err != nil {
		return prompt.Prompt{}, false, err
	}
	return l.coord.Authorize(ctx, gate, l.deleteAll)
}

func (l *Locker) deleteAllGate(ctx context.Context) (subject.ID, error) {
	on, err := l.store.MonitoringEnabled(ctx)
	if err != nil {
		return "", err
	}
	if on {
		return subject.DisableMonitoring, nil
	}
	return subject.DeleteAllCredentials, nil
}

// Authorize opens a prompt for a virtual subject and runs its registered
// action once the secret is supplied.
func (l *Locker) Authorize(ctx context.Context, id subject.ID) (prompt.Prompt, bool, error) {
	if !subject.IsVirtual(id) {
		return prompt.Prompt{}, false, fmt.Errorf("%w: %s is not a virtual subject", subject.ErrInvalid, id)
	}
	if id == subject.DeleteAllCredentials {
		return l.DeleteAll(ctx)
	}
	return l.coord.Authorize(ctx, id, nil)
}

// Submit checks a secret against the visible prompt for id.
func (l *Locker) Submit(ctx context.Context, id subject.ID, plain string) (prompt.Result, error) {
	return l.coord.Submit(ctx, id, plain)
}

// Dismiss hides the prompt for id without authenticating.
func (l *Locker) Dismiss(ctx context.Context, id subject.ID) bool {
	return l.coord.Dismiss(ctx, id)
}

// MonitoringEnabled reports the persisted toggle.
func (l *Locker) MonitoringEnabled(ctx context.Context) (bool, error) {
	return l.store.MonitoringEnabled(ctx)
}

// ResetSessions clears all session authentication.
func (l *Locker) ResetSessions(ctx context.Context, reason string) error {
	return l.engine.ResetSessions(ctx, reason)
}

// Status is a point-in-time summary.
type Status struct {
	SessionID  string         `json:"session_id"`
	Monitoring bool           `json:"monitoring"`
	Protected  int            `json:"protected"`
	Prompt     *prompt.Prompt `json:"prompt,omitempty"`
	Stats      engine.Stats   `json:"stats"`
}

// Status reports monitoring, protected count, visible prompt and counters.
func (l *Locker) Status(ctx context.Context) (Status, error) {
	on, err := l.store.MonitoringEnabled(ctx)
	if err != nil {
		return Status{}, err
	}
	creds, err := l.store.GetAll(ctx)
	if err != nil {
		return Status{}, err
	}
	st := Status{
		SessionID:  l.sessionID,
		Monitoring: on,
		Protected:  len(creds),
		Stats:      l.engine.Stats(),
	}
	if p, ok := l.coord.Active(); ok {
		st.Prompt = &p
	}
	return st, nil
}

func (l *Locker) disableMonitoring(ctx context.Context, _ subject.ID) error {
	return l.setMonitoring(ctx, false)
}

func (l *Locker) deleteAll(ctx context.Context, _ subject.ID) error {
	if err := l.setMonitoring(ctx, false); err != nil {
		return err
	}
	if err := l.store.DeleteAll(ctx); err != nil {
		return err
	}
	l.record(audit.EventCredentialsChanged, "", "all credentials deleted")
	return nil
}

func (l *Locker) setMonitoring(ctx context.Context, on bool) error {
	if err := l.store.SetMonitoring(ctx, on); err != nil {
		return err
	}
	reason := "disabled"
	if on {
		reason = "enabled"
	}
	l.record(audit.EventMonitoringChanged, "", reason)
	l.logger.Info("monitoring changed", "enabled", on)
	return nil
}

func (l *Locker) seal(plain string) (string, error) {
	if plain == "" {
		return "", ErrEmptySecret
	}
	return l.sealer.Seal(plain)
}

func (l *Locker) record(event string, id subject.ID, reason string) {
	err := l.audit.Record(audit.Entry{
		SessionID: l.sessionID,
		Subject:   string(id),
		Event:     event,
		Reason:    reason,
	})
	if err != nil {
		l.logger.Warn("locker: audit record failed", "event", event, "error", err)
	}
}
