package client

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/ppiankov/lockwatch/internal/audit"
	"github.com/ppiankov/lockwatch/internal/bridge"
	"github.com/ppiankov/lockwatch/internal/config"
	"github.com/ppiankov/lockwatch/internal/engine"
	"github.com/ppiankov/lockwatch/internal/locker"
	"github.com/ppiankov/lockwatch/internal/prompt"
	"github.com/ppiankov/lockwatch/internal/storage/memory"
	"github.com/ppiankov/lockwatch/internal/subject"
)

const bank subject.ID = "com.example.bank"

type testEnv struct {
	c     *Client
	l     *locker.Locker
	store *memory.Store
	hub   *bridge.Hub
}

// startTestServer runs a full instance behind a bufconn bridge.
func startTestServer(t *testing.T) testEnv {
	t.Helper()

	hub := bridge.NewHub(nil)
	store := memory.New()
	cfg := config.Default()
	cfg.StateDir = t.TempDir()
	l, err := locker.Open(locker.Options{
		Config:    cfg,
		Store:     store,
		Audit:     audit.Discard{},
		Presenter: hub,
		Launcher:  hub,
		Keyguard:  hub,
	})
	if err != nil {
		t.Fatalf("locker.Open: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Engine().Run(ctx, hub)
		close(done)
	}()

	lis := bufconn.Listen(1 << 20)
	srv := bridge.NewServer(l, hub, nil)
	go srv.Serve(lis)

	c, err := New("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	t.Cleanup(func() {
		c.Close()
		srv.Stop()
		cancel()
		<-done
		l.Close()
	})
	return testEnv{c: c, l: l, store: store, hub: hub}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestForegroundLockAndUnlockOverBridge(t *testing.T) {
	env := startTestServer(t)
	c, l, store, hub := env.c, env.l, env.store, env.hub
	ctx := context.Background()
	l.SetPassword(ctx, bank, "1234")
	store.SetMonitoring(ctx, true)

	signals := make(chan bridge.Signal, 16)
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go c.WatchPrompts(watchCtx, func(sig bridge.Signal) { signals <- sig })

	waitFor(t, "watcher", func() bool { return hub.Watchers() == 1 })

	if err := c.ForegroundChanged(ctx, bank); err != nil {
		t.Fatalf("ForegroundChanged: %v", err)
	}

	select {
	case sig := <-signals:
		if sig.Kind != bridge.SignalShow || sig.Subject != bank || sig.Prompt.ID == "" {
			t.Fatalf("signal = %+v, want show for %s", sig, bank)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no show signal")
	}

	res, err := c.Submit(ctx, bank, "0000")
	if err != nil || res.Outcome != prompt.Rejected {
		t.Fatalf("Submit wrong = %+v, %v", res, err)
	}
	res, err = c.Submit(ctx, bank, "1234")
	if err != nil || res.Outcome != prompt.Accepted {
		t.Fatalf("Submit right = %+v, %v", res, err)
	}

	waitFor(t, "prompt count", func() bool { return l.Engine().Stats().Prompted == 1 })
	st, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !st.Monitoring || st.Protected != 1 || st.Prompt != nil || st.Stats.Prompted != 1 {
		t.Fatalf("status = %+v", st)
	}

	ids, err := c.Protected(ctx)
	if err != nil || len(ids) != 1 || ids[0] != bank {
		t.Fatalf("Protected = %v, %v", ids, err)
	}
}

func TestKeyguardSuppressesPrompt(t *testing.T) {
	env := startTestServer(t)
	c, l, store := env.c, env.l, env.store
	ctx := context.Background()
	l.SetPassword(ctx, bank, "1234")
	store.SetMonitoring(ctx, true)

	if err := c.SetKeyguard(ctx, true); err != nil {
		t.Fatalf("SetKeyguard: %v", err)
	}
	c.ForegroundChanged(ctx, bank)
	waitFor(t, "event", func() bool { return l.Engine().Stats().Events == 1 })
	l.Engine().Wait()

	if _, ok := l.Prompts().Active(); ok {
		t.Fatal("keyguard up must not prompt")
	}
}

func TestSubmitWithoutPromptIsFailedPrecondition(t *testing.T) {
	c := startTestServer(t).c
	_, err := c.Submit(context.Background(), bank, "1234")
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("code = %v, want FailedPrecondition", status.Code(err))
	}
}

func TestInvalidSubjectRejected(t *testing.T) {
	c := startTestServer(t).c
	err := c.ForegroundChanged(context.Background(), "")
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("code = %v, want InvalidArgument", status.Code(err))
	}
	_, _, err = c.Authorize(context.Background(), bank)
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("authorize app subject: code = %v, want InvalidArgument", status.Code(err))
	}
}

func TestAuthorizeAndDismissVirtual(t *testing.T) {
	env := startTestServer(t)
	c, l := env.c, env.l
	ctx := context.Background()
	l.SetPassword(ctx, subject.DisableMonitoring, "0000")
	l.SetPassword(ctx, subject.CriticalSettings, "0000")
	if err := l.EnableMonitoring(ctx); err != nil {
		t.Fatal(err)
	}

	p, shown, err := c.Authorize(ctx, subject.DisableMonitoring)
	if err != nil || !shown || !p.Virtual {
		t.Fatalf("Authorize = %+v, %v, %v", p, shown, err)
	}
	ok, err := c.Dismiss(ctx, subject.DisableMonitoring)
	if err != nil || !ok {
		t.Fatalf("Dismiss = %v, %v", ok, err)
	}
	if on, _ := l.MonitoringEnabled(ctx); !on {
		t.Fatal("dismissed prompt must leave monitoring on")
	}

	c.Authorize(ctx, subject.DisableMonitoring)
	res, err := c.Submit(ctx, subject.DisableMonitoring, "0000")
	if err != nil || res.Outcome != prompt.Accepted {
		t.Fatalf("Submit = %+v, %v", res, err)
	}
	if on, _ := l.MonitoringEnabled(ctx); on {
		t.Fatal("monitoring should be off")
	}
}

func TestResetSessionsOverBridge(t *testing.T) {
	env := startTestServer(t)
	c, l, store := env.c, env.l, env.store
	ctx := context.Background()
	store.SetAuthenticated(ctx, bank)

	if err := c.ResetSessions(ctx); err != nil {
		t.Fatalf("ResetSessions: %v", err)
	}
	if s, _ := l.Engine().State(ctx, bank); s != engine.Unlocked {
		t.Fatalf("state = %s, want unlocked", s)
	}
}

func TestUnreachableServer(t *testing.T) {
	c, err := New("passthrough:///nowhere", grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
		return nil, errors.New("refused")
	}))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := c.ResetSessions(ctx); err == nil {
		t.Fatal("expected error from unreachable server")
	}
}
