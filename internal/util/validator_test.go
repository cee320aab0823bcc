package util

import (
	"strings"
	"testing"
)

func TestParseAmount_Valid(t *testing.T) {
	testCases := map[string]string{
		"5":             "5",
		"5.0":           "5",
		" 0.1 ":         "0.1",
		"100":           "100",
		"3.14159265358": "3.14159265358",
		"-1":            "-1",
	}

	for in, want := range testCases {
		got, err := ParseAmount(in)
		if err != nil {
			t.Errorf("ParseAmount(%q) error = %v, want nil", in, err)
			continue
		}
		if got.String() != want {
			t.Errorf("ParseAmount(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestParseAmount_Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", "abc", "1,5", "5π"} {
		if _, err := ParseAmount(in); err == nil {
			t.Errorf("ParseAmount(%q) error = nil, want error", in)
		}
	}
}

func TestValidateUsername(t *testing.T) {
	if err := ValidateUsername("alice"); err != nil {
		t.Errorf("ValidateUsername(alice) = %v", err)
	}
	if err := ValidateUsername(""); err == nil {
		t.Error("empty username should be rejected")
	}
	if err := ValidateUsername(strings.Repeat("π", 129)); err == nil {
		t.Error("129-rune username should be rejected")
	}
	if err := ValidateUsername(strings.Repeat("π", 128)); err != nil {
		t.Errorf("128-rune username rejected: %v", err)
	}
}
