// Package secret seals credentials for storage and verifies submitted
// secrets against stored values.
package secret

import (
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Scheme names a sealing scheme in configuration.
type Scheme string

const (
	// SchemePlain stores secrets verbatim and compares by exact match.
	SchemePlain Scheme = "plain"
	// SchemeBcrypt stores bcrypt hashes. Opt-in hardening.
	SchemeBcrypt Scheme = "bcrypt"
)

// Sealer converts a user secret into its stored form and checks submissions.
type Sealer interface {
	Seal(secret string) (string, error)
	Verify(stored, submitted string) bool
	Scheme() Scheme
}

// New returns the sealer for scheme. Empty means plain.
func New(scheme Scheme) (Sealer, error) {
	switch scheme {
	case "", SchemePlain:
		return Plain{}, nil
	case SchemeBcrypt:
		return Bcrypt{Cost: bcrypt.DefaultCost}, nil
	default:
		return nil, fmt.Errorf("unknown secret scheme %q", scheme)
	}
}

// Plain keeps secrets as-is. Comparison is exact and case-sensitive.
type Plain struct{}

func (Plain) Seal(secret string) (string, error) { return secret, nil }

func (Plain) Verify(stored, submitted string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(submitted)) == 1
}

func (Plain) Scheme() Scheme { return SchemePlain }

// Bcrypt stores salted bcrypt hashes.
type Bcrypt struct {
	Cost int
}

func (b Bcrypt) Seal(secret string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return string(hash), nil
}

func (Bcrypt) Verify(stored, submitted string) bool {
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(submitted)) == nil
}

func (Bcrypt) Scheme() Scheme { return SchemeBcrypt }
