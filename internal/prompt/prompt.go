// Package prompt coordinates the full-screen credential prompt: it keeps at
// most one prompt visible, verifies submitted secrets, records session
// authentication, and resumes the subject the user was trying to reach.
package prompt

import (
	"context"
	"errors"
	"time"

	"github.com/ppiankov/lockwatch/internal/subject"
)

var (
	// ErrNoPrompt is returned when a submission names a subject with no visible prompt.
	ErrNoPrompt = errors.New("no prompt is visible for subject")
	// ErrPromptClosed is returned when the prompt was dismissed or superseded
	// while its submission was being checked.
	ErrPromptClosed = errors.New("prompt closed before submission completed")
	// ErrCheckInProgress rejects a second concurrent submission for one prompt.
	ErrCheckInProgress = errors.New("credential check already in progress")
	// ErrUnresolvable is returned by a Launcher when the subject has no
	// launchable entry point (for example, the app was uninstalled).
	ErrUnresolvable = errors.New("resume target cannot be resolved")
)

// Prompt is one visible credential-entry surface.
type Prompt struct {
	ID        string     `json:"id"`
	Subject   subject.ID `json:"subject"`
	Virtual   bool       `json:"virtual"`
	CreatedAt time.Time  `json:"created_at"`
}

// Presenter draws and hides prompts. Calls are made while the coordinator
// holds its state lock, so implementations must return promptly and must not
// call back into the Coordinator.
type Presenter interface {
	Show(ctx context.Context, p Prompt) error
	Reject(ctx context.Context, p Prompt) error
	Dismiss(ctx context.Context, p Prompt) error
	Notify(ctx context.Context, p Prompt, message string) error
}

// Launcher starts the default entry point of an app subject.
type Launcher interface {
	Launch(ctx context.Context, id subject.ID) error
}

// Continuation runs after a successful check in place of launching an app.
type Continuation func(ctx context.Context, id subject.ID) error

// Outcome classifies a submission.
type Outcome string

const (
	Accepted     Outcome = "accepted"
	Rejected     Outcome = "rejected"
	Throttled    Outcome = "throttled"
	ResumeFailed Outcome = "resume_failed"
)

// Result describes what a submission did.
type Result struct {
	Outcome Outcome `json:"outcome"`
	Prompt  Prompt  `json:"prompt"`
	Message string  `json:"message,omitempty"`
}
