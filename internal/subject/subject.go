// Package subject names the things lockwatch protects: installed apps
// (by package identifier) and virtual functionalities that reuse the same
// credential machinery.
package subject

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ID identifies a protected subject. IDs are opaque and case-sensitive.
type ID string

// Virtual subjects guard lockwatch's own critical operations.
const (
	DisableMonitoring    ID = "lockwatch.virtual.disable-monitoring"
	DeleteAllCredentials ID = "lockwatch.virtual.delete-all-credentials"
	CriticalSettings     ID = "lockwatch.virtual.critical-settings"
)

const virtualPrefix = "lockwatch.virtual."

// maxLen bounds identifiers well above the longest Android package name.
const maxLen = 255

// ErrInvalid is returned for identifiers that cannot name a subject.
var ErrInvalid = errors.New("invalid subject id")

// Validate rejects empty, oversized, or control-character identifiers.
func Validate(id ID) error {
	if id == "" {
		return fmt.Errorf("%w: must not be empty", ErrInvalid)
	}
	if len(id) > maxLen {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalid, maxLen)
	}
	if strings.TrimSpace(string(id)) != string(id) {
		return fmt.Errorf("%w: leading or trailing whitespace", ErrInvalid)
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: contains control characters", ErrInvalid)
		}
	}
	return nil
}

// IsVirtual reports whether id names a virtual functionality rather than an app.
func IsVirtual(id ID) bool {
	return strings.HasPrefix(string(id), virtualPrefix)
}

// Mandatory returns the virtual subjects that must carry a credential
// before monitoring can be switched on.
func Mandatory() []ID {
	return []ID{DisableMonitoring, CriticalSettings}
}

// Virtual returns all built-in virtual subjects.
func Virtual() []ID {
	return []ID{DisableMonitoring, DeleteAllCredentials, CriticalSettings}
}

func (id ID) String() string { return string(id) }
