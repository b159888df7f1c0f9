package deskauth

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"
)

// Role is a user role. The set of roles is closed.
type Role = string

// Roles known to the broker.
const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// ValidRole reports whether r is one of the known roles.
func ValidRole(r string) bool {
	return r == RoleMember || r == RoleAdmin
}

// Store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Password hashing algorithms.
const (
	HasherBcrypt   = "bcrypt"
	HasherArgon2id = "argon2id"
)

// Default configuration values.
const (
	DefaultAddr              = ":3000"
	DefaultSessionTTL        = 7 * 24 * time.Hour
	DefaultExchangeTTL       = 2 * time.Minute
	DefaultTokenRetention    = 10 * time.Minute
	DefaultCleanupInterval   = 1 * time.Minute
	DefaultBcryptCost        = 12
	DefaultArgon2Memory      = 64 * 1024
	DefaultArgon2Iterations  = 3
	DefaultArgon2Parallelism = 2
	DefaultRedisKeyPrefix    = "deskauth:"
	DefaultRateLimitRequests = 5
	DefaultRateLimitWindow   = 15 * time.Minute
	DefaultAPIRateLimit      = 10
	DefaultAPIRateBurst      = 20
	DefaultMaxBodyBytes      = 64 << 10
	DefaultShutdownTimeout   = 30 * time.Second
	DefaultCORSOrigin        = "*"

	// MaxExchangeTTL bounds the lifetime of a token that travels inside a URI.
	MaxExchangeTTL = 15 * time.Minute

	// MaxArgon2Memory bounds the argon2id memory cost, in KiB, both in
	// config and in stored hashes.
	MaxArgon2Memory = 4 * 1024 * 1024

	// MinOAuthSecretLength is the minimum length of the assertion signing secret.
	MinOAuthSecretLength = 32
)

// Config holds all configuration for the broker. Fields carry env tags so
// the environment can overlay the defaults returned by NewConfig.
type Config struct {
	// Addr is the TCP address the front door listens on.
	Addr string `env:"DESKAUTH_ADDR"`

	// PublicURL is the externally reachable base URL used in startup logs and
	// pages. Derived from Addr when empty.
	PublicURL string `env:"DESKAUTH_PUBLIC_URL"`

	// SessionTTL is how long session tokens are valid.
	SessionTTL time.Duration `env:"DESKAUTH_SESSION_TTL"`

	// ExchangeTTL is how long a handoff exchange token is valid.
	// Keep it on the order of a login flow.
	ExchangeTTL time.Duration `env:"DESKAUTH_EXCHANGE_TTL"`

	// TokenRetention is how long expired or consumed tokens are kept before
	// they are swept. While retained they report Expired or AlreadyConsumed
	// instead of Invalid.
	TokenRetention time.Duration `env:"DESKAUTH_TOKEN_RETENTION"`

	// CleanupInterval is how often expired tokens are swept.
	// Set to 0 to disable background cleanup.
	CleanupInterval time.Duration `env:"DESKAUTH_CLEANUP_INTERVAL"`

	// DefaultRole is assigned to new accounts that do not request one.
	DefaultRole string `env:"DESKAUTH_DEFAULT_ROLE"`

	// PasswordHasher selects the hashing algorithm ("bcrypt" or "argon2id").
	PasswordHasher string `env:"DESKAUTH_PASSWORD_HASHER"`

	// BcryptCost is the bcrypt work factor.
	BcryptCost int `env:"DESKAUTH_BCRYPT_COST"`

	// Argon2id cost parameters: memory in KiB, passes and lanes.
	Argon2Memory      uint32 `env:"DESKAUTH_ARGON2_MEMORY_KIB"`
	Argon2Iterations  uint32 `env:"DESKAUTH_ARGON2_ITERATIONS"`
	Argon2Parallelism uint8  `env:"DESKAUTH_ARGON2_PARALLELISM"`

	// StoreBackend selects where users and tokens live ("memory" or "redis").
	StoreBackend string `env:"DESKAUTH_STORE"`

	// Redis connection settings, used when StoreBackend is "redis".
	RedisAddr      string `env:"DESKAUTH_REDIS_ADDR"`
	RedisPassword  string `env:"DESKAUTH_REDIS_PASSWORD"`
	RedisDB        int    `env:"DESKAUTH_REDIS_DB"`
	RedisKeyPrefix string `env:"DESKAUTH_REDIS_KEY_PREFIX"`

	// OAuthAssertionSecret verifies identity assertions posted to the OAuth
	// callback. Empty disables the callback.
	OAuthAssertionSecret string `env:"DESKAUTH_OAUTH_ASSERTION_SECRET"`

	// OAuthAssertionIssuer, when set, must match the assertion's iss claim.
	OAuthAssertionIssuer string `env:"DESKAUTH_OAUTH_ASSERTION_ISSUER"`

	// RateLimitEnabled turns per-IP limiting of auth endpoints on/off.
	RateLimitEnabled bool `env:"DESKAUTH_RATE_LIMIT_ENABLED"`

	// RateLimitRequests is the number of auth attempts allowed per window.
	RateLimitRequests int `env:"DESKAUTH_RATE_LIMIT_REQUESTS"`

	// RateLimitWindow is the auth rate limit window.
	RateLimitWindow time.Duration `env:"DESKAUTH_RATE_LIMIT_WINDOW"`

	// APIRateLimit is the sustained per-IP request rate for /api routes.
	APIRateLimit float64 `env:"DESKAUTH_API_RATE_LIMIT"`

	// APIRateBurst is the burst size for /api routes.
	APIRateBurst int `env:"DESKAUTH_API_RATE_BURST"`

	// TrustedProxies lists proxy addresses or CIDR ranges whose
	// X-Forwarded-For and X-Real-IP headers identify the client. Empty means
	// the connection peer is always the client.
	TrustedProxies []string `env:"DESKAUTH_TRUSTED_PROXIES" envSeparator:","`

	// MaxBodyBytes caps the size of request bodies.
	MaxBodyBytes int64 `env:"DESKAUTH_MAX_BODY_BYTES"`

	// ClientsFile is an optional YAML file adding desktop clients to the
	// built-in registry.
	ClientsFile string `env:"DESKAUTH_CLIENTS_FILE"`

	// MetricsEnabled exposes Prometheus metrics on /metrics.
	MetricsEnabled bool `env:"DESKAUTH_METRICS_ENABLED"`

	// CORSOrigin is the value of Access-Control-Allow-Origin.
	CORSOrigin string `env:"DESKAUTH_CORS_ORIGIN"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `env:"DESKAUTH_SHUTDOWN_TIMEOUT"`

	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string `env:"DESKAUTH_LOG_LEVEL"`

	// LogFormat is "json" or "console".
	LogFormat string `env:"DESKAUTH_LOG_FORMAT"`
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		Addr:              DefaultAddr,
		SessionTTL:        DefaultSessionTTL,
		ExchangeTTL:       DefaultExchangeTTL,
		TokenRetention:    DefaultTokenRetention,
		CleanupInterval:   DefaultCleanupInterval,
		DefaultRole:       RoleMember,
		PasswordHasher:    HasherBcrypt,
		BcryptCost:        DefaultBcryptCost,
		Argon2Memory:      DefaultArgon2Memory,
		Argon2Iterations:  DefaultArgon2Iterations,
		Argon2Parallelism: DefaultArgon2Parallelism,
		StoreBackend:      BackendMemory,
		RedisAddr:         "localhost:6379",
		RedisKeyPrefix:    DefaultRedisKeyPrefix,
		RateLimitEnabled:  true,
		RateLimitRequests: DefaultRateLimitRequests,
		RateLimitWindow:   DefaultRateLimitWindow,
		APIRateLimit:      DefaultAPIRateLimit,
		APIRateBurst:      DefaultAPIRateBurst,
		MaxBodyBytes:      DefaultMaxBodyBytes,
		MetricsEnabled:    true,
		CORSOrigin:        DefaultCORSOrigin,
		ShutdownTimeout:   DefaultShutdownTimeout,
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: listen address is required", ErrConfigInvalid)
	}

	// Validate TTL values
	if c.SessionTTL <= 0 {
		return fmt.Errorf("%w: session TTL must be positive", ErrConfigInvalid)
	}
	if c.ExchangeTTL <= 0 {
		return fmt.Errorf("%w: exchange TTL must be positive", ErrConfigInvalid)
	}
	if c.ExchangeTTL > MaxExchangeTTL {
		return fmt.Errorf("%w: exchange TTL must not exceed %s", ErrConfigInvalid, MaxExchangeTTL)
	}
	if c.SessionTTL <= c.ExchangeTTL {
		return fmt.Errorf("%w: session TTL must be greater than exchange TTL", ErrConfigInvalid)
	}
	if c.TokenRetention < 0 {
		return fmt.Errorf("%w: token retention cannot be negative", ErrConfigInvalid)
	}
	if c.CleanupInterval < 0 {
		return fmt.Errorf("%w: cleanup interval cannot be negative", ErrConfigInvalid)
	}

	if !ValidRole(c.DefaultRole) {
		return fmt.Errorf("%w: unknown default role %q", ErrConfigInvalid, c.DefaultRole)
	}

	switch c.PasswordHasher {
	case HasherBcrypt:
	case HasherArgon2id:
		if c.Argon2Iterations == 0 || c.Argon2Parallelism == 0 {
			return fmt.Errorf("%w: argon2 iterations and parallelism must be positive", ErrConfigInvalid)
		}
		if c.Argon2Memory < 8*uint32(c.Argon2Parallelism) || c.Argon2Memory > MaxArgon2Memory {
			return fmt.Errorf("%w: argon2 memory must be between 8 KiB per lane and %d KiB", ErrConfigInvalid, MaxArgon2Memory)
		}
	default:
		return fmt.Errorf("%w: unsupported password hasher: %s", ErrConfigInvalid, c.PasswordHasher)
	}

	switch c.StoreBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("%w: redis address is required for the redis backend", ErrConfigInvalid)
		}
	default:
		return fmt.Errorf("%w: unsupported store backend: %s", ErrConfigInvalid, c.StoreBackend)
	}

	if c.OAuthAssertionSecret != "" && len(c.OAuthAssertionSecret) < MinOAuthSecretLength {
		return fmt.Errorf("%w: oauth assertion secret must be at least %d characters", ErrConfigInvalid, MinOAuthSecretLength)
	}

	if c.RateLimitEnabled {
		if c.RateLimitRequests <= 0 {
			return fmt.Errorf("%w: rate limit requests must be positive", ErrConfigInvalid)
		}
		if c.RateLimitWindow <= 0 {
			return fmt.Errorf("%w: rate limit window must be positive", ErrConfigInvalid)
		}
		if c.APIRateLimit <= 0 || c.APIRateBurst <= 0 {
			return fmt.Errorf("%w: api rate limit and burst must be positive", ErrConfigInvalid)
		}
	}

	for _, p := range c.TrustedProxies {
		if p = strings.TrimSpace(p); p != "" && !validProxy(p) {
			return fmt.Errorf("%w: trusted proxy %q is not an IP address or CIDR range", ErrConfigInvalid, p)
		}
	}

	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("%w: max body bytes must be positive", ErrConfigInvalid)
	}

	return nil
}

// IsOAuthEnabled returns true if the OAuth callback can verify assertions.
func (c *Config) IsOAuthEnabled() bool {
	return c.OAuthAssertionSecret != ""
}

// BaseURL returns PublicURL, or a localhost URL derived from Addr.
func (c *Config) BaseURL() string {
	if c.PublicURL != "" {
		return strings.TrimRight(c.PublicURL, "/")
	}
	host, port, err := net.SplitHostPort(c.Addr)
	if err != nil {
		return "http://" + c.Addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func validProxy(v string) bool {
	if strings.Contains(v, "/") {
		_, err := netip.ParsePrefix(v)
		return err == nil
	}
	_, err := netip.ParseAddr(v)
	return err == nil
}
