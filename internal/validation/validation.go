// Package validation provides input validation for identifiers and labels
// received at the ingest and admin boundaries.
package validation

import (
	"fmt"
	"strings"
	"unicode"
)

// =============================================================================
// Identifier Validation
// =============================================================================

// MaxMachineIDLength bounds machine identifiers.
const MaxMachineIDLength = 128

// MaxLabelLength bounds free-text identity fields.
const MaxLabelLength = 255

// IDRules defines the validation rules for identifiers.
type IDRules struct {
	MinLength    int
	MaxLength    int
	AllowDots    bool
	AllowHyphens bool
	AllowUnders  bool
	AllowColons  bool
}

// MachineIDRules returns the rules for machine identifiers. Identifiers
// appear as a single URL path segment, so separators are rejected.
func MachineIDRules() IDRules {
	return IDRules{
		MinLength:    1,
		MaxLength:    MaxMachineIDLength,
		AllowDots:    true,
		AllowHyphens: true,
		AllowUnders:  true,
		AllowColons:  true,
	}
}

// ValidateID validates an identifier according to the given rules.
func ValidateID(id string, rules IDRules) error {
	if len(id) < rules.MinLength {
		return fmt.Errorf("too short: minimum %d characters required", rules.MinLength)
	}
	if len(id) > rules.MaxLength {
		return fmt.Errorf("too long: maximum %d characters allowed", rules.MaxLength)
	}

	if id == "." || id == ".." {
		return fmt.Errorf("cannot be '.' or '..'")
	}
	if strings.HasPrefix(id, ".") {
		return fmt.Errorf("cannot start with '.'")
	}

	for i, r := range id {
		if r < 32 || r == 127 {
			return fmt.Errorf("control character at position %d", i)
		}
		if r == '/' || r == '\\' {
			return fmt.Errorf("path separator at position %d", i)
		}
		if !isAllowedIDChar(r, rules) {
			return fmt.Errorf("invalid character '%c' at position %d", r, i)
		}
	}

	return nil
}

func isAllowedIDChar(r rune, rules IDRules) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '.':
		return rules.AllowDots
	case '-':
		return rules.AllowHyphens
	case '_':
		return rules.AllowUnders
	case ':':
		return rules.AllowColons
	}
	return false
}

// MachineID validates a machine identifier.
func MachineID(id string) error {
	return ValidateID(id, MachineIDRules())
}

// =============================================================================
// Label Validation
// =============================================================================

// Label validates a free-text identity field such as a hostname or display
// name. Empty labels are valid and mean "keep the stored value".
func Label(s string) error {
	if len(s) > MaxLabelLength {
		return fmt.Errorf("too long: maximum %d characters allowed", MaxLabelLength)
	}
	for i, r := range s {
		if r == unicode.ReplacementChar {
			return fmt.Errorf("invalid UTF-8 at position %d", i)
		}
		if unicode.IsControl(r) {
			return fmt.Errorf("control character at position %d", i)
		}
	}
	return nil
}
