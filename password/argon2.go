package password

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/aloks98/deskauth"
	"github.com/aloks98/deskauth/internal/crypto"
	"github.com/aloks98/deskauth/internal/hash"
)

// ErrMalformedHash is returned by Verify when a stored argon2id hash cannot
// be parsed or carries unusable parameters.
var ErrMalformedHash = errors.New("malformed argon2id hash")

const (
	argon2SaltBytes = 16
	argon2KeyBytes  = 32
)

var b64 = base64.RawStdEncoding

// Argon2Config holds the Argon2id cost parameters.
type Argon2Config struct {
	// Memory is the memory cost in KiB.
	Memory uint32

	// Iterations is the number of passes over the memory.
	Iterations uint32

	// Parallelism is the number of lanes.
	Parallelism uint8

	// SaltLength and KeyLength are in bytes. Zero means 16 and 32.
	SaltLength uint32
	KeyLength  uint32
}

// Argon2ConfigFrom takes the cost parameters from the broker config.
func Argon2ConfigFrom(cfg *deskauth.Config) *Argon2Config {
	return &Argon2Config{
		Memory:      cfg.Argon2Memory,
		Iterations:  cfg.Argon2Iterations,
		Parallelism: cfg.Argon2Parallelism,
	}
}

// DefaultArgon2Config returns the default Argon2id parameters.
func DefaultArgon2Config() *Argon2Config {
	return Argon2ConfigFrom(deskauth.NewConfig())
}

// Argon2Hasher hashes passwords with Argon2id. Hashes are PHC strings:
// $argon2id$v=19$m=65536,t=3,p=2$<salt>$<key>
type Argon2Hasher struct {
	config Argon2Config
}

// NewArgon2Hasher creates an Argon2id hasher. A nil config uses
// DefaultArgon2Config.
func NewArgon2Hasher(config *Argon2Config) *Argon2Hasher {
	if config == nil {
		config = DefaultArgon2Config()
	}
	c := *config
	if c.SaltLength == 0 {
		c.SaltLength = argon2SaltBytes
	}
	if c.KeyLength == 0 {
		c.KeyLength = argon2KeyBytes
	}
	return &Argon2Hasher{config: c}
}

// Hash derives a key from password with a fresh random salt.
func (h *Argon2Hasher) Hash(password string) (string, error) {
	salt, err := crypto.GenerateRandomBytes(int(h.config.SaltLength))
	if err != nil {
		return "", err
	}

	c := h.config
	key := argon2.IDKey([]byte(password), salt, c.Iterations, c.Memory, c.Parallelism, c.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$%s$%s$%s",
		argon2.Version, c.params(), b64.EncodeToString(salt), b64.EncodeToString(key)), nil
}

// Verify re-derives the key with the parameters stored in encoded, so
// hashes made under older settings keep working.
func (h *Argon2Hasher) Verify(password, encoded string) (bool, error) {
	p, err := parseArgon2Hash(encoded)
	if err != nil {
		return false, err
	}

	key := argon2.IDKey([]byte(password), p.salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)
	return hash.ConstantTimeCompare(b64.EncodeToString(key), p.key), nil
}

func (c Argon2Config) params() string {
	return fmt.Sprintf("m=%d,t=%d,p=%d", c.Memory, c.Iterations, c.Parallelism)
}

type parsedArgon2 struct {
	Argon2Config
	salt []byte
	key  string
}

func parseArgon2Hash(encoded string) (*parsedArgon2, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, fmt.Errorf("%w: expected 5 fields", ErrMalformedHash)
	}
	if parts[1] != "argon2id" {
		return nil, fmt.Errorf("%w: algorithm %q", ErrMalformedHash, parts[1])
	}
	if parts[2] != "v="+strconv.Itoa(argon2.Version) {
		return nil, fmt.Errorf("%w: version %q", ErrMalformedHash, parts[2])
	}

	var p parsedArgon2
	for _, kv := range strings.Split(parts[3], ",") {
		name, value, _ := strings.Cut(kv, "=")
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: parameter %q", ErrMalformedHash, kv)
		}
		switch name {
		case "m":
			p.Memory = uint32(n)
		case "t":
			p.Iterations = uint32(n)
		case "p":
			if n > 255 {
				return nil, fmt.Errorf("%w: parallelism %d", ErrMalformedHash, n)
			}
			p.Parallelism = uint8(n)
		default:
			return nil, fmt.Errorf("%w: parameter %q", ErrMalformedHash, kv)
		}
	}
	if p.Iterations == 0 || p.Parallelism == 0 || p.Memory < 8*uint32(p.Parallelism) {
		return nil, fmt.Errorf("%w: parameters %s", ErrMalformedHash, parts[3])
	}
	if p.Memory > deskauth.MaxArgon2Memory {
		return nil, fmt.Errorf("%w: memory %d KiB exceeds %d", ErrMalformedHash, p.Memory, deskauth.MaxArgon2Memory)
	}

	salt, err := b64.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return nil, fmt.Errorf("%w: salt", ErrMalformedHash)
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return nil, fmt.Errorf("%w: key", ErrMalformedHash)
	}

	p.salt = salt
	p.key = parts[5]
	p.SaltLength = uint32(len(salt)) //nolint:gosec // bounded by the encoded length
	p.KeyLength = uint32(len(key))   //nolint:gosec // bounded by the encoded length
	return &p, nil
}

var _ Hasher = (*Argon2Hasher)(nil)
