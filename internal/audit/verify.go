package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// VerifyResult is the outcome of walking a log's hash chain.
type VerifyResult struct {
	Valid     bool           `json:"valid"`
	Lines     int            `json:"lines"`
	Events    map[string]int `json:"events,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorLine int            `json:"error_line,omitempty"`
}

// Verify checks that every entry references the hash of the line before it
// and tallies entries by event kind. It stops at the first broken link.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	res := VerifyResult{Events: make(map[string]int)}
	expected := GenesisHash

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		res.Lines++
		line := scanner.Bytes()

		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return fail(res, fmt.Sprintf("parse error: %v", err))
		}
		if entry.PrevHash != expected {
			return fail(res, fmt.Sprintf("hash mismatch: expected %s, got %s", expected, entry.PrevHash))
		}

		res.Events[entry.Event]++
		expected = HashLine(line)
	}
	if err := scanner.Err(); err != nil {
		return VerifyResult{Error: fmt.Sprintf("scan: %v", err)}
	}

	res.Valid = true
	return res
}

func fail(res VerifyResult, msg string) VerifyResult {
	return VerifyResult{Lines: res.Lines, Error: msg, ErrorLine: res.Lines}
}

// Tail returns the last n entries of the log in file order.
func Tail(path string, n int) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
		if n > 0 && len(entries) > n {
			entries = entries[1:]
		}
	}
	return entries, scanner.Err()
}
