package authcore

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/aloks98/deskauth"
	"github.com/aloks98/deskauth/password"
)

// MaxNameLength is the longest display name accepted at signup.
const MaxNameLength = 100

// maxEmailLength follows the SMTP path limit.
const maxEmailLength = 254

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidEmail reports whether email has a plausible address format.
func ValidEmail(email string) bool {
	return len(email) <= maxEmailLength && emailPattern.MatchString(email)
}

// SignupInput is the data submitted by a new user.
type SignupInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`

	// Role is optional; the service default applies when empty.
	Role string `json:"role,omitempty"`
}

// Validate checks the input against the email format, the password policy,
// the name length and the closed role set. Every problem is reported,
// wrapped in deskauth.ErrInvalidInput.
func (in *SignupInput) Validate(policy password.Policy) error {
	var problems []error

	if !ValidEmail(strings.TrimSpace(in.Email)) {
		problems = append(problems, errors.New("email is not a valid address"))
	}
	problems = append(problems, policy.Check(in.Password)...)
	if utf8.RuneCountInString(strings.TrimSpace(in.Name)) > MaxNameLength {
		problems = append(problems, fmt.Errorf("name must be at most %d characters", MaxNameLength))
	}
	if in.Role != "" && !deskauth.ValidRole(in.Role) {
		problems = append(problems, fmt.Errorf("role %q is not allowed", in.Role))
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", deskauth.ErrInvalidInput, errors.Join(problems...))
}
