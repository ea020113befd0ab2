package audit

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func newTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open audit log: %v", err)
	}
	return l, path
}

func testEntry(event string) Entry {
	return Entry{SessionID: "sess-test", Subject: "com.example.bank", Event: event}
}

func TestSequentialWritesProduceValidChain(t *testing.T) {
	l, path := newTestLog(t)
	for i := 0; i < 5; i++ {
		if err := l.Record(testEntry(EventPromptShown)); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	l.Close()

	res := Verify(path)
	if !res.Valid {
		t.Fatalf("expected valid chain, got error at line %d: %s", res.ErrorLine, res.Error)
	}
	if res.Lines != 5 {
		t.Fatalf("expected 5 lines, got %d", res.Lines)
	}
	if res.Events[EventPromptShown] != 5 {
		t.Fatalf("expected 5 prompt_shown events, got %d", res.Events[EventPromptShown])
	}
}

func TestVerifyDetectsTamperedEntry(t *testing.T) {
	l, path := newTestLog(t)
	l.Record(testEntry(EventPromptShown))
	l.Record(testEntry(EventPromptRejected))
	l.Record(testEntry(EventPromptAccepted))
	l.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	tampered := strings.Replace(string(data), EventPromptRejected, EventPromptAccepted, 1)
	if err := os.WriteFile(path, []byte(tampered), 0600); err != nil {
		t.Fatal(err)
	}

	res := Verify(path)
	if res.Valid {
		t.Fatal("expected tampering to be detected")
	}
	if res.ErrorLine != 3 {
		t.Fatalf("expected break at line 3, got %d", res.ErrorLine)
	}
}

func TestReopenContinuesChain(t *testing.T) {
	l, path := newTestLog(t)
	l.Record(testEntry(EventEngineStarted))
	l.Close()

	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	l.Record(testEntry(EventSessionsReset))
	l.Close()

	if res := Verify(path); !res.Valid || res.Lines != 2 {
		t.Fatalf("expected valid 2-line chain, got %+v", res)
	}
}

func TestConcurrentWrites(t *testing.T) {
	l, path := newTestLog(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Record(testEntry(EventPromptShown))
		}()
	}
	wg.Wait()
	l.Close()

	if res := Verify(path); !res.Valid || res.Lines != 20 {
		t.Fatalf("expected valid 20-line chain, got %+v", res)
	}
}

func TestTail(t *testing.T) {
	l, path := newTestLog(t)
	for _, ev := range []string{EventEngineStarted, EventPromptShown, EventPromptAccepted} {
		l.Record(testEntry(ev))
	}
	l.Close()

	entries, err := Tail(path, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Event != EventPromptShown || entries[1].Event != EventPromptAccepted {
		t.Fatalf("unexpected tail: %+v", entries)
	}
}
