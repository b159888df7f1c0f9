package deskauth

import (
	"time"
)

// Option is a function that modifies the configuration.
type Option func(*Config)

// Apply applies opts to c in order.
func (c *Config) Apply(opts ...Option) *Config {
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(c *Config) {
		c.Addr = addr
	}
}

// WithPublicURL sets the externally reachable base URL.
func WithPublicURL(u string) Option {
	return func(c *Config) {
		c.PublicURL = u
	}
}

// WithSessionTTL sets the session token time-to-live.
func WithSessionTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.SessionTTL = ttl
	}
}

// WithExchangeTTL sets the exchange token time-to-live.
func WithExchangeTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.ExchangeTTL = ttl
	}
}

// WithTokenRetention sets how long expired or consumed tokens are retained.
func WithTokenRetention(d time.Duration) Option {
	return func(c *Config) {
		c.TokenRetention = d
	}
}

// WithCleanupInterval sets how often expired tokens are swept.
// Set to 0 to disable background cleanup.
func WithCleanupInterval(interval time.Duration) Option {
	return func(c *Config) {
		c.CleanupInterval = interval
	}
}

// WithDefaultRole sets the role given to new accounts.
func WithDefaultRole(role string) Option {
	return func(c *Config) {
		c.DefaultRole = role
	}
}

// WithBcrypt selects bcrypt password hashing with the given cost.
func WithBcrypt(cost int) Option {
	return func(c *Config) {
		c.PasswordHasher = HasherBcrypt
		c.BcryptCost = cost
	}
}

// WithArgon2id selects argon2id password hashing.
func WithArgon2id() Option {
	return func(c *Config) {
		c.PasswordHasher = HasherArgon2id
	}
}

// WithArgon2Params selects argon2id hashing with the given memory (KiB),
// iterations and parallelism.
func WithArgon2Params(memory, iterations uint32, parallelism uint8) Option {
	return func(c *Config) {
		c.PasswordHasher = HasherArgon2id
		c.Argon2Memory = memory
		c.Argon2Iterations = iterations
		c.Argon2Parallelism = parallelism
	}
}

// WithMemoryStore keeps users and tokens in process memory.
func WithMemoryStore() Option {
	return func(c *Config) {
		c.StoreBackend = BackendMemory
	}
}

// WithRedisStore keeps users and tokens in Redis.
func WithRedisStore(addr, password string, db int) Option {
	return func(c *Config) {
		c.StoreBackend = BackendRedis
		c.RedisAddr = addr
		c.RedisPassword = password
		c.RedisDB = db
	}
}

// WithOAuthAssertions enables the OAuth callback. Assertions must be signed
// with secret and, when issuer is non-empty, carry it as iss.
func WithOAuthAssertions(secret, issuer string) Option {
	return func(c *Config) {
		c.OAuthAssertionSecret = secret
		c.OAuthAssertionIssuer = issuer
	}
}

// WithRateLimit configures per-IP limiting of auth endpoints.
func WithRateLimit(requests int, window time.Duration) Option {
	return func(c *Config) {
		c.RateLimitEnabled = true
		c.RateLimitRequests = requests
		c.RateLimitWindow = window
	}
}

// WithoutRateLimit disables rate limiting.
func WithoutRateLimit() Option {
	return func(c *Config) {
		c.RateLimitEnabled = false
	}
}

// WithMaxBodyBytes caps request body size.
func WithMaxBodyBytes(n int64) Option {
	return func(c *Config) {
		c.MaxBodyBytes = n
	}
}

// WithClientsFile extends the desktop client registry from a YAML file.
func WithClientsFile(path string) Option {
	return func(c *Config) {
		c.ClientsFile = path
	}
}

// WithMetrics toggles the /metrics endpoint.
func WithMetrics(enabled bool) Option {
	return func(c *Config) {
		c.MetricsEnabled = enabled
	}
}

// WithLogLevel sets the minimum log level.
func WithLogLevel(level string) Option {
	return func(c *Config) {
		c.LogLevel = level
	}
}

// WithLogFormat sets the log encoding ("json" or "console").
func WithLogFormat(format string) Option {
	return func(c *Config) {
		c.LogFormat = format
	}
}

// WithStoreBackend selects the store backend by name.
func WithStoreBackend(backend string) Option {
	return func(c *Config) {
		c.StoreBackend = backend
	}
}

// WithTrustedProxies sets the proxies whose forwarding headers are honoured.
func WithTrustedProxies(proxies ...string) Option {
	return func(c *Config) {
		c.TrustedProxies = proxies
	}
}

// WithCORSOrigin sets the allowed cross-origin value.
func WithCORSOrigin(origin string) Option {
	return func(c *Config) {
		c.CORSOrigin = origin
	}
}
