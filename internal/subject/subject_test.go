package subject

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateAcceptsPackageNames(t *testing.T) {
	for _, id := range []ID{"com.example.bank", "org.telegram.messenger", DisableMonitoring} {
		if err := Validate(id); err != nil {
			t.Errorf("Validate(%q) = %v, want nil", id, err)
		}
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]ID{
		"empty":      "",
		"whitespace": " com.example",
		"control":    "com.example\x00bank",
		"oversized":  ID(strings.Repeat("a", maxLen+1)),
	}
	for name, id := range cases {
		t.Run(name, func(t *testing.T) {
			err := Validate(id)
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestIsVirtual(t *testing.T) {
	for _, id := range Virtual() {
		if !IsVirtual(id) {
			t.Errorf("expected %q to be virtual", id)
		}
	}
	if IsVirtual("com.example.bank") {
		t.Error("app package must not be virtual")
	}
}

func TestCaseSensitive(t *testing.T) {
	if ID("com.Example") == ID("com.example") {
		t.Fatal("ids must compare case-sensitively")
	}
}

func TestMandatoryIsSubsetOfVirtual(t *testing.T) {
	all := map[ID]bool{}
	for _, id := range Virtual() {
		all[id] = true
	}
	for _, id := range Mandatory() {
		if !all[id] {
			t.Errorf("mandatory subject %q is not a built-in virtual subject", id)
		}
	}
}
