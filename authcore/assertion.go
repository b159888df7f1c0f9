package authcore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aloks98/deskauth"
)

// Identity is an external identity established by an OAuth collaborator.
type Identity struct {
	Email    string
	Name     string
	Provider string
	Subject  string
}

// AssertionClaims is the payload of a signed identity assertion.
type AssertionClaims struct {
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Provider string `json:"provider"`
	jwt.RegisteredClaims
}

// AssertionVerifier turns a raw assertion received on the OAuth callback into
// an Identity. Implementations fail with deskauth.ErrOAuthFailed.
type AssertionVerifier interface {
	Verify(raw string) (*Identity, error)
}

// JWTVerifier verifies HS256 identity assertions signed with a shared secret.
// The OAuth collaborator negotiates with the provider and signs the outcome;
// the broker only checks that the hop was not forged.
type JWTVerifier struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// NewJWTVerifier creates a verifier. issuer is optional; when set it must
// match the assertion's iss claim.
func NewJWTVerifier(secret, issuer string) *JWTVerifier {
	return &JWTVerifier{
		secret: []byte(secret),
		issuer: issuer,
		leeway: 30 * time.Second,
		now:    time.Now,
	}
}

// Verify parses and validates the assertion.
func (v *JWTVerifier) Verify(raw string) (*Identity, error) {
	if len(v.secret) == 0 {
		return nil, fmt.Errorf("%w: oauth callback is not configured", deskauth.ErrOAuthFailed)
	}
	if raw == "" {
		return nil, fmt.Errorf("%w: assertion is missing", deskauth.ErrOAuthFailed)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &AssertionClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, mapJWTError(err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%w: assertion is not valid", deskauth.ErrOAuthFailed)
	}

	email := strings.TrimSpace(claims.Email)
	if !ValidEmail(email) {
		return nil, fmt.Errorf("%w: assertion carries no usable email", deskauth.ErrOAuthFailed)
	}

	return &Identity{
		Email:    email,
		Name:     claims.Name,
		Provider: claims.Provider,
		Subject:  claims.Subject,
	}, nil
}

// SignAssertion produces an assertion the JWTVerifier accepts. It is what
// an OAuth collaborator calls after completing provider negotiation.
func SignAssertion(secret string, id Identity, issuer string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &AssertionClaims{
		Email:    id.Email,
		Name:     id.Name,
		Provider: id.Provider,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   id.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// mapJWTError maps JWT library errors onto ErrOAuthFailed with a short reason.
func mapJWTError(err error) error {
	reason := "assertion is malformed"
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		reason = "assertion has expired"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		reason = "assertion has no expiry"
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		reason = "assertion is not yet valid"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		reason = "assertion issuer is not trusted"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		reason = "assertion signature is invalid"
	}
	return fmt.Errorf("%w: %s", deskauth.ErrOAuthFailed, reason)
}
