// Package authcore implements login, signup, OAuth completion and logout.
// Every successful authentication yields a session token.
package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aloks98/deskauth"
	"github.com/aloks98/deskauth/password"
	"github.com/aloks98/deskauth/store"
	"github.com/aloks98/deskauth/token"
)

// Security event names written to the log.
const (
	EventLoginSuccess = "login_success"
	EventLoginFailure = "login_failure"
	EventRegistration = "registration"
	EventOAuthLogin   = "oauth_login"
	EventLogout       = "logout"
)

// Config holds configuration for the auth service.
type Config struct {
	// DefaultRole is assigned to new accounts. Defaults to member.
	DefaultRole string

	// Policy is the password strength policy applied at signup.
	// Defaults to password.DefaultPolicy().
	Policy *password.Policy

	// Logger receives security events. Defaults to a no-op logger.
	Logger *zap.Logger

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Session is the outcome of a successful authentication.
type Session struct {
	Token *store.Token
	User  *store.User
}

// Service implements the authentication operations.
type Service struct {
	users  store.CredentialStore
	tokens *token.Service
	hasher password.Hasher

	defaultRole string
	policy      password.Policy
	logger      *zap.Logger
	now         func() time.Time

	// dummyHash is verified against when the account does not exist, so
	// unknown emails cost the same as wrong passwords.
	dummyHash string
}

// NewService creates a new auth service.
func NewService(cfg *Config, users store.CredentialStore, tokens *token.Service, hasher password.Hasher) (*Service, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	s := &Service{
		users:       users,
		tokens:      tokens,
		hasher:      hasher,
		defaultRole: cfg.DefaultRole,
		logger:      cfg.Logger,
		now:         cfg.Now,
	}
	if s.defaultRole == "" {
		s.defaultRole = deskauth.RoleMember
	}
	if !deskauth.ValidRole(s.defaultRole) {
		return nil, fmt.Errorf("%w: unknown default role %q", deskauth.ErrConfigInvalid, s.defaultRole)
	}
	if cfg.Policy != nil {
		s.policy = *cfg.Policy
	} else {
		s.policy = password.DefaultPolicy()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}

	dummy, err := hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}
	s.dummyHash = dummy

	return s, nil
}

// Login authenticates with email and password. Unknown email, wrong
// password and password-less accounts all fail with
// deskauth.ErrInvalidCredentials after a full hash verification.
func (s *Service) Login(ctx context.Context, email, pw string) (*Session, error) {
	email = store.NormalizeEmail(email)

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deskauth.ErrStoreUnavailable, err)
	}

	hash := s.dummyHash
	if user != nil && user.HasPassword() {
		hash = user.PasswordHash
	}

	ok, verr := s.hasher.Verify(pw, hash)
	if verr != nil {
		s.logger.Error("password verification failed", zap.String("email", email), zap.Error(verr))
	}
	if user == nil || !user.HasPassword() || !ok {
		s.securityEvent(EventLoginFailure, email, "")
		return nil, deskauth.ErrInvalidCredentials
	}

	tok, err := s.tokens.IssueSession(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	s.securityEvent(EventLoginSuccess, email, user.ID)
	return &Session{Token: tok, User: user}, nil
}

// Signup validates the input, creates the account and logs it in.
func (s *Service) Signup(ctx context.Context, in SignupInput) (*Session, error) {
	if err := in.Validate(s.policy); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	role := in.Role
	if role == "" {
		role = s.defaultRole
	}

	user := &store.User{
		ID:           uuid.NewString(),
		Email:        store.NormalizeEmail(in.Email),
		Name:         strings.TrimSpace(in.Name),
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    s.now().UTC(),
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, deskauth.ErrAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", deskauth.ErrStoreUnavailable, err)
	}

	tok, err := s.tokens.IssueSession(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	s.securityEvent(EventRegistration, user.Email, user.ID)
	return &Session{Token: tok, User: user}, nil
}

// CompleteOAuth finds or creates the account for an identity that an
// external collaborator has already verified, then logs it in. Concurrent
// completions for the same email resolve to a single account.
func (s *Service) CompleteOAuth(ctx context.Context, id *Identity) (*Session, error) {
	if id == nil || !ValidEmail(strings.TrimSpace(id.Email)) {
		return nil, fmt.Errorf("%w: identity has no usable email", deskauth.ErrOAuthFailed)
	}
	email := store.NormalizeEmail(id.Email)

	user, err := s.findOrCreate(ctx, email, id)
	if err != nil {
		return nil, err
	}

	tok, err := s.tokens.IssueSession(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	s.securityEvent(EventOAuthLogin, email, user.ID, zap.String("provider", id.Provider))
	return &Session{Token: tok, User: user}, nil
}

func (s *Service) findOrCreate(ctx context.Context, email string, id *Identity) (*store.User, error) {
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", deskauth.ErrStoreUnavailable, err)
	}
	if user != nil {
		return user, nil
	}

	user = &store.User{
		ID:        uuid.NewString(),
		Email:     email,
		Name:      strings.TrimSpace(id.Name),
		Role:      s.defaultRole,
		Provider:  id.Provider,
		CreatedAt: s.now().UTC(),
	}
	err = s.users.CreateUser(ctx, user)
	switch {
	case err == nil:
		s.securityEvent(EventRegistration, email, user.ID, zap.String("provider", id.Provider))
		return user, nil
	case errors.Is(err, deskauth.ErrAlreadyExists):
		// Lost the race to a concurrent completion; use the winner's record.
		existing, gerr := s.users.GetUserByEmail(ctx, email)
		if gerr != nil {
			return nil, fmt.Errorf("%w: %v", deskauth.ErrStoreUnavailable, gerr)
		}
		if existing == nil {
			return nil, fmt.Errorf("%w: account vanished during creation", deskauth.ErrOAuthFailed)
		}
		return existing, nil
	default:
		return nil, fmt.Errorf("%w: %v", deskauth.ErrStoreUnavailable, err)
	}
}

// Logout revokes a session token.
func (s *Service) Logout(ctx context.Context, sessionToken string) error {
	tok, user, err := s.tokens.ValidateSession(ctx, sessionToken)
	if err != nil {
		if errors.Is(err, deskauth.ErrTokenExpired) {
			// Already unusable; dropping it is still correct.
			return s.tokens.Revoke(ctx, sessionToken)
		}
		return err
	}

	if err := s.tokens.Revoke(ctx, sessionToken); err != nil {
		return err
	}

	s.securityEvent(EventLogout, user.Email, tok.UserID)
	return nil
}

// SetRole changes a user's role. It is the privileged role-change capability
// and performs no authorization of its own.
func (s *Service) SetRole(ctx context.Context, userID, role string) error {
	if !deskauth.ValidRole(role) {
		return fmt.Errorf("%w: role %q is not allowed", deskauth.ErrInvalidInput, role)
	}
	return s.users.SetUserRole(ctx, userID, role)
}

func (s *Service) securityEvent(event, email, userID string, extra ...zap.Field) {
	fields := append([]zap.Field{
		zap.String("event", event),
		zap.String("email", email),
	}, extra...)
	if userID != "" {
		fields = append(fields, zap.String("user_id", userID))
	}
	if event == EventLoginFailure {
		s.logger.Warn("security event", fields...)
		return
	}
	s.logger.Info("security event", fields...)
}
