package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ppiankov/lockwatch/internal/locker"
	"github.com/ppiankov/lockwatch/internal/prompt"
)

const maxAttempts = 3

var errNotAuthorized = errors.New("not authorized")

// secretReader reads secrets from one command's input. Terminals get a
// no-echo read; pipes are read line by line through a single buffer so
// consecutive reads don't lose buffered bytes.
type secretReader struct {
	cmd *cobra.Command
	buf *bufio.Reader
}

func newSecretReader(cmd *cobra.Command) *secretReader {
	return &secretReader{cmd: cmd}
}

func (s *secretReader) read(label string) (string, error) {
	in := s.cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprintf(s.cmd.ErrOrStderr(), "%s: ", label)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(s.cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read secret: %w", err)
		}
		return string(b), nil
	}
	if s.buf == nil {
		s.buf = bufio.NewReader(in)
	}
	return readLine(s.buf)
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// terminalPresenter renders prompts as lines on stderr for offline commands.
type terminalPresenter struct {
	out io.Writer
}

func (t terminalPresenter) Show(_ context.Context, p prompt.Prompt) error {
	fmt.Fprintf(t.out, "Password required for %s\n", p.Subject)
	return nil
}

func (t terminalPresenter) Reject(_ context.Context, p prompt.Prompt) error {
	fmt.Fprintln(t.out, "Wrong password.")
	return nil
}

func (t terminalPresenter) Dismiss(context.Context, prompt.Prompt) error { return nil }

func (t terminalPresenter) Notify(_ context.Context, p prompt.Prompt, msg string) error {
	fmt.Fprintf(t.out, "%s: %s\n", p.Subject, msg)
	return nil
}

// openOffline opens the state directory directly. It refuses while a
// server is running.
func openOffline(cmd *cobra.Command) (*locker.Locker, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := ensureOffline(cfg.StateDir); err != nil {
		return nil, err
	}
	l, err := locker.Open(locker.Options{
		Config:    cfg,
		Presenter: terminalPresenter{out: cmd.ErrOrStderr()},
		Logger:    newLogger(cfg),
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// confirm collects the secret for an open virtual prompt.
func confirm(cmd *cobra.Command, sr *secretReader, l *locker.Locker, p prompt.Prompt) error {
	ctx := cmd.Context()
	for i := 0; i < maxAttempts; i++ {
		secret, err := sr.read("Password")
		if err != nil {
			l.Dismiss(ctx, p.Subject)
			return err
		}
		res, err := l.Submit(ctx, p.Subject, secret)
		if err != nil {
			return err
		}
		switch res.Outcome {
		case prompt.Accepted, prompt.ResumeFailed:
			return nil
		case prompt.Throttled:
			fmt.Fprintln(cmd.ErrOrStderr(), "Too many attempts.")
			l.Dismiss(ctx, p.Subject)
			return errNotAuthorized
		}
	}
	l.Dismiss(ctx, p.Subject)
	return errNotAuthorized
}
