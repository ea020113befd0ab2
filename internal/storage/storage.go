// Package storage defines the persistence contracts the interception engine
// depends on. Implementations live in the memory and sqlite subpackages.
package storage

import (
	"context"
	"errors"

	"github.com/ppiankov/lockwatch/internal/subject"
)

// ErrNotFound is returned when no credential exists for a subject.
var ErrNotFound = errors.New("credential not found")

// Credential pairs a subject with its stored secret. Secret holds whatever
// the configured sealer produced (plaintext under the default scheme).
type Credential struct {
	Subject subject.ID `json:"subject"`
	Secret  string     `json:"secret"`
}

// Credentials is the durable subject → secret mapping. One record per subject.
type Credentials interface {
	// Put inserts or replaces the credential for id.
	Put(ctx context.Context, id subject.ID, secret string) error
	// Get returns ErrNotFound when id has no credential.
	Get(ctx context.Context, id subject.ID) (string, error)
	GetAll(ctx context.Context) ([]Credential, error)
	Delete(ctx context.Context, id subject.ID) error
	DeleteAll(ctx context.Context) error
	// BulkUpsert applies every record or none of them.
	BulkUpsert(ctx context.Context, creds []Credential) error
}

// Sessions records which subjects were authenticated in the current session.
//
// ResetAll establishes a cut point: authentications recorded before it are
// cleared, authentications recorded after it are retained.
type Sessions interface {
	IsAuthenticated(ctx context.Context, id subject.ID) (bool, error)
	SetAuthenticated(ctx context.Context, id subject.ID) error
	ResetAll(ctx context.Context) error
}

// Monitoring is the single persistent "should the engine intercept" flag.
// An absent record reads as false.
type Monitoring interface {
	MonitoringEnabled(ctx context.Context) (bool, error)
	SetMonitoring(ctx context.Context, enabled bool) error
}

// Store bundles the three contracts behind one backend.
type Store interface {
	Credentials
	Sessions
	Monitoring
	Close() error
}
