package password

import (
	"errors"
	"fmt"
	"unicode"

	"github.com/aloks98/deskauth"
)

// Policy describes the strength rules a new password must satisfy.
type Policy struct {
	// MinLength is the minimum number of characters.
	MinLength int

	// MaxLength is the maximum length in bytes. bcrypt ignores input past
	// 72 bytes, so longer passwords are rejected rather than truncated.
	MaxLength int

	RequireLower bool
	RequireUpper bool
	RequireDigit bool
}

// DefaultPolicy returns the signup password policy: at least 8 characters
// with a lower-case letter, an upper-case letter and a digit.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:    8,
		MaxLength:    72,
		RequireLower: true,
		RequireUpper: true,
		RequireDigit: true,
	}
}

// Validate checks password against the policy. All violations are reported
// together, wrapped in deskauth.ErrInvalidInput.
func (p Policy) Validate(password string) error {
	problems := p.Check(password)
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", deskauth.ErrInvalidInput, errors.Join(problems...))
}

// Check returns every rule password violates, or nil.
func (p Policy) Check(password string) []error {
	var problems []error

	if n := len([]rune(password)); n < p.MinLength {
		problems = append(problems, fmt.Errorf("password must be at least %d characters", p.MinLength))
	}
	if p.MaxLength > 0 && len(password) > p.MaxLength {
		problems = append(problems, fmt.Errorf("password must be at most %d bytes", p.MaxLength))
	}

	var lower, upper, digit bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if p.RequireLower && !lower {
		problems = append(problems, errors.New("password must contain a lower-case letter"))
	}
	if p.RequireUpper && !upper {
		problems = append(problems, errors.New("password must contain an upper-case letter"))
	}
	if p.RequireDigit && !digit {
		problems = append(problems, errors.New("password must contain a digit"))
	}
	return problems
}
