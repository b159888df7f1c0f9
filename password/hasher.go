// Package password provides password hashing, verification and strength rules.
package password

import (
	"fmt"

	"github.com/aloks98/deskauth"
)

// Hasher defines the interface for password hashing algorithms.
type Hasher interface {
	// Hash creates a hash from a password.
	Hash(password string) (string, error)

	// Verify checks if a password matches a hash. A mismatch is reported
	// as (false, nil); an error means the hash itself could not be used.
	Verify(password, hash string) (bool, error)
}

// New returns the hasher selected by cfg.PasswordHasher, configured with
// the matching cost settings.
func New(cfg *deskauth.Config) (Hasher, error) {
	switch cfg.PasswordHasher {
	case deskauth.HasherBcrypt, "":
		return NewBcryptHasher(&BcryptConfig{Cost: cfg.BcryptCost}), nil
	case deskauth.HasherArgon2id:
		return NewArgon2Hasher(Argon2ConfigFrom(cfg)), nil
	default:
		return nil, fmt.Errorf("%w: unsupported password hasher: %s", deskauth.ErrConfigInvalid, cfg.PasswordHasher)
	}
}
