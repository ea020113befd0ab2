package locker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ppiankov/lockwatch/internal/audit"
	"github.com/ppiankov/lockwatch/internal/config"
	"github.com/ppiankov/lockwatch/internal/engine"
	"github.com/ppiankov/lockwatch/internal/prompt"
	"github.com/ppiankov/lockwatch/internal/secret"
	"github.com/ppiankov/lockwatch/internal/storage"
	"github.com/ppiankov/lockwatch/internal/storage/memory"
	"github.com/ppiankov/lockwatch/internal/subject"
)

const bank subject.ID = "com.example.bank"

type nopPresenter struct {
	mu    sync.Mutex
	shown []subject.ID
}

func (n *nopPresenter) Show(_ context.Context, p prompt.Prompt) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shown = append(n.shown, p.Subject)
	return nil
}
func (*nopPresenter) Reject(context.Context, prompt.Prompt) error          { return nil }
func (*nopPresenter) Dismiss(context.Context, prompt.Prompt) error         { return nil }
func (*nopPresenter) Notify(context.Context, prompt.Prompt, string) error { return nil }

type nopLauncher struct{}

func (nopLauncher) Launch(context.Context, subject.ID) error { return nil }

func newTestLocker(t *testing.T, mutate func(*config.Config)) (*Locker, *memory.Store) {
	t.Helper()
	cfg := config.Default()
	cfg.StateDir = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}
	store := memory.New()
	l, err := Open(Options{
		Config:    cfg,
		Store:     store,
		Audit:     audit.Discard{},
		Presenter: &nopPresenter{},
		Launcher:  nopLauncher{},
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l, store
}

func TestEnableMonitoringRequiresMandatorySubjects(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLocker(t, nil)

	if err := l.EnableMonitoring(ctx); !errors.Is(err, ErrMandatoryMissing) {
		t.Fatalf("err = %v, want ErrMandatoryMissing", err)
	}
	l.SetPassword(ctx, subject.DisableMonitoring, "0000")
	if err := l.EnableMonitoring(ctx); !errors.Is(err, ErrMandatoryMissing) {
		t.Fatalf("one mandatory subject missing: err = %v", err)
	}
	l.SetPassword(ctx, subject.CriticalSettings, "0000")
	if err := l.EnableMonitoring(ctx); err != nil {
		t.Fatalf("EnableMonitoring: %v", err)
	}
	if on, _ := l.MonitoringEnabled(ctx); !on {
		t.Fatal("monitoring should be on")
	}
}

func TestDisableMonitoringNeedsCredential(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLocker(t, nil)
	l.SetPassword(ctx, subject.DisableMonitoring, "0000")
	l.SetPassword(ctx, subject.CriticalSettings, "0000")
	l.EnableMonitoring(ctx)

	_, shown, err := l.DisableMonitoring(ctx)
	if err != nil || !shown {
		t.Fatalf("DisableMonitoring = %v, %v", shown, err)
	}
	if on, _ := l.MonitoringEnabled(ctx); !on {
		t.Fatal("monitoring must stay on until the secret is supplied")
	}

	res, _ := l.Prompts().Submit(ctx, subject.DisableMonitoring, "wrong")
	if res.Outcome != prompt.Rejected {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	res, err = l.Prompts().Submit(ctx, subject.DisableMonitoring, "0000")
	if err != nil || res.Outcome != prompt.Accepted {
		t.Fatalf("Submit = %+v, %v", res, err)
	}
	if on, _ := l.MonitoringEnabled(ctx); on {
		t.Fatal("monitoring should be off after the secret")
	}
}

func TestDeleteAllThroughVirtualPrompt(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLocker(t, nil)
	l.SetPassword(ctx, bank, "1234")
	l.SetPassword(ctx, subject.DeleteAllCredentials, "9999")

	if _, shown, _ := l.DeleteAll(ctx); !shown {
		t.Fatal("delete-all should prompt when its credential exists")
	}
	if ids, _ := l.Protected(ctx); len(ids) != 2 {
		t.Fatalf("credentials deleted before confirmation: %v", ids)
	}
	l.Prompts().Submit(ctx, subject.DeleteAllCredentials, "9999")
	if ids, _ := l.Protected(ctx); len(ids) != 0 {
		t.Fatalf("protected = %v, want none", ids)
	}
}

func TestSetDefaultForAll(t *testing.T) {
	ctx := context.Background()
	l, store := newTestLocker(t, nil)

	ids := []subject.ID{bank, "com.example.mail", "com.example.chat"}
	if _, _, err := l.SetDefaultForAll(ctx, ids, "2468"); err != nil {
		t.Fatalf("SetDefaultForAll: %v", err)
	}
	for _, id := range ids {
		if got, err := store.Get(ctx, id); err != nil || got != "2468" {
			t.Fatalf("Get(%s) = %q, %v", id, got, err)
		}
	}

	_, _, err := l.SetDefaultForAll(ctx, []subject.ID{"com.example.new", ""}, "1111")
	if !errors.Is(err, subject.ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
	if _, err := store.Get(ctx, "com.example.new"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatal("invalid batch must not be partially applied")
	}
}

func TestSetPasswordRejectsEmptySecret(t *testing.T) {
	l, _ := newTestLocker(t, nil)
	if _, _, err := l.SetPassword(context.Background(), bank, ""); !errors.Is(err, ErrEmptySecret) {
		t.Fatalf("err = %v, want ErrEmptySecret", err)
	}
}

func TestBcryptSchemeSealsAndVerifies(t *testing.T) {
	ctx := context.Background()
	l, store := newTestLocker(t, func(c *config.Config) { c.SecretScheme = secret.SchemeBcrypt })
	l.SetPassword(ctx, bank, "1234")

	stored, _ := store.Get(ctx, bank)
	if stored == "1234" {
		t.Fatal("bcrypt scheme must not store plaintext")
	}

	store.SetMonitoring(ctx, true)
	if shown, err := l.Prompts().Lock(ctx, bank); err != nil || !shown {
		t.Fatalf("Lock = %v, %v", shown, err)
	}
	res, err := l.Prompts().Submit(ctx, bank, "1234")
	if err != nil || res.Outcome != prompt.Accepted {
		t.Fatalf("Submit = %+v, %v", res, err)
	}
}

func TestRemoveMandatoryWhileMonitoring(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLocker(t, nil)
	l.SetPassword(ctx, subject.DisableMonitoring, "0000")
	l.SetPassword(ctx, subject.CriticalSettings, "0000")
	l.EnableMonitoring(ctx)

	if _, _, err := l.Remove(ctx, subject.CriticalSettings); !errors.Is(err, ErrMandatoryMissing) {
		t.Fatalf("err = %v, want ErrMandatoryMissing", err)
	}
	if _, err := l.store.Get(ctx, subject.CriticalSettings); err != nil {
		t.Fatalf("mandatory credential removed: %v", err)
	}
}

func TestCredentialChangesNeedCriticalSettingsWhileMonitoring(t *testing.T) {
	ctx := context.Background()
	l, store := newTestLocker(t, nil)
	l.SetPassword(ctx, subject.DisableMonitoring, "0000")
	l.SetPassword(ctx, subject.CriticalSettings, "1111")
	l.SetPassword(ctx, bank, "1234")
	l.EnableMonitoring(ctx)

	p, shown, err := l.SetPassword(ctx, subject.DisableMonitoring, "5555")
	if err != nil || !shown || p.Subject != subject.CriticalSettings {
		t.Fatalf("SetPassword = %+v, %v, %v; want critical-settings prompt", p, shown, err)
	}
	if got, _ := store.Get(ctx, subject.DisableMonitoring); got != "0000" {
		t.Fatalf("credential replaced before confirmation: %q", got)
	}
	if res, _ := l.Submit(ctx, subject.CriticalSettings, "0000"); res.Outcome != prompt.Rejected {
		t.Fatalf("outcome = %s, want rejected", res.Outcome)
	}
	if res, err := l.Submit(ctx, subject.CriticalSettings, "1111"); err != nil || res.Outcome != prompt.Accepted {
		t.Fatalf("Submit = %+v, %v", res, err)
	}
	if got, _ := store.Get(ctx, subject.DisableMonitoring); got != "5555" {
		t.Fatalf("credential = %q, want 5555", got)
	}

	if _, shown, _ := l.Remove(ctx, bank); !shown {
		t.Fatal("remove should prompt while monitoring is on")
	}
	l.Submit(ctx, subject.CriticalSettings, "1111")
	if _, err := store.Get(ctx, bank); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Get after remove = %v, want ErrNotFound", err)
	}

	if _, shown, _ := l.SetDefaultForAll(ctx, []subject.ID{bank}, "2468"); !shown {
		t.Fatal("bulk set should prompt while monitoring is on")
	}
	l.Dismiss(ctx, subject.CriticalSettings)
	if _, err := store.Get(ctx, bank); !errors.Is(err, storage.ErrNotFound) {
		t.Fatal("dismissed bulk set must not apply")
	}
}

func TestDeleteAllWhileMonitoringNeedsDisableCredential(t *testing.T) {
	ctx := context.Background()
	l, store := newTestLocker(t, nil)
	l.SetPassword(ctx, subject.DisableMonitoring, "0000")
	l.SetPassword(ctx, subject.CriticalSettings, "1111")
	l.SetPassword(ctx, bank, "1234")
	l.EnableMonitoring(ctx)

	p, shown, err := l.DeleteAll(ctx)
	if err != nil || !shown || p.Subject != subject.DisableMonitoring {
		t.Fatalf("DeleteAll = %+v, %v, %v; want disable-monitoring prompt", p, shown, err)
	}
	if on, _ := store.MonitoringEnabled(ctx); !on {
		t.Fatal("monitoring switched off before authentication")
	}
	if ids, _ := l.Protected(ctx); len(ids) != 3 {
		t.Fatalf("credentials deleted before authentication: %v", ids)
	}

	// The remote path goes through the same gate.
	l.Dismiss(ctx, subject.DisableMonitoring)
	p, shown, err = l.Authorize(ctx, subject.DeleteAllCredentials)
	if err != nil || !shown || p.Subject != subject.DisableMonitoring {
		t.Fatalf("Authorize = %+v, %v, %v", p, shown, err)
	}

	if res, err := l.Submit(ctx, subject.DisableMonitoring, "0000"); err != nil || res.Outcome != prompt.Accepted {
		t.Fatalf("Submit = %+v, %v", res, err)
	}
	if on, _ := store.MonitoringEnabled(ctx); on {
		t.Fatal("monitoring should be off after delete-all")
	}
	if ids, _ := l.Protected(ctx); len(ids) != 0 {
		t.Fatalf("protected = %v, want none", ids)
	}
}

func TestEndToEndForegroundLock(t *testing.T) {
	ctx := context.Background()
	l, store := newTestLocker(t, nil)
	l.SetPassword(ctx, bank, "1234")
	store.SetMonitoring(ctx, true)

	if err := l.Engine().Start(ctx); err != nil {
		t.Fatal(err)
	}
	l.Engine().Handle(engine.Event{Subject: bank, Kind: engine.WindowChanged})
	l.Engine().Wait()

	st, err := l.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Prompt == nil || st.Prompt.Subject != bank {
		t.Fatalf("status prompt = %+v", st.Prompt)
	}

	l.Prompts().Submit(ctx, bank, "1234")
	l.Engine().Handle(engine.Event{Subject: bank, Kind: engine.WindowChanged})
	l.Engine().Wait()
	if s, _ := l.Engine().State(ctx, bank); s != engine.Authenticated {
		t.Fatalf("state = %s, want authenticated", s)
	}

	l.ResetSessions(ctx, "user")
	if s, _ := l.Engine().State(ctx, bank); s != engine.Unlocked {
		t.Fatalf("state after reset = %s, want unlocked", s)
	}
}

func TestOpenWithSQLite(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.StateDir = dir
	l, err := Open(Options{Config: cfg, Presenter: &nopPresenter{}})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	if _, _, err := l.SetPassword(ctx, bank, "1234"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if res := audit.Verify(filepath.Join(dir, "audit.jsonl")); !res.Valid || res.Lines != 1 {
		t.Fatalf("audit = %+v", res)
	}
}
