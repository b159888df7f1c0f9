package app

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aloks98/deskauth"
	broker "github.com/aloks98/deskauth/internal/app"
	"github.com/aloks98/deskauth/internal/logging"
)

type serveFlags struct {
	addr        string
	publicURL   string
	store       string
	redisAddr   string
	clientsFile string
	logLevel    string
	logFormat   string
	noRateLimit bool
	metrics     bool
	proxies     []string
}

func newServeCmd() *cobra.Command {
	var f serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the sign-in server",
		Long:  `Starts the HTTP server and listens until interrupted, then shuts down gracefully.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := broker.LoadConfig(f.options(cmd)...)
			if err != nil {
				return err
			}

			logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := broker.New(ctx, cfg, logger)
			if err != nil {
				logger.Error("startup failed", zap.Error(err))
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					logger.Error("closing broker", zap.Error(err))
				}
			}()

			return a.Run(ctx)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.addr, "addr", deskauth.DefaultAddr, "Address to listen on")
	flags.StringVar(&f.publicURL, "public-url", "", "Externally reachable base URL")
	flags.StringVar(&f.store, "store", deskauth.BackendMemory, "Store backend (memory or redis)")
	flags.StringVar(&f.redisAddr, "redis-addr", "localhost:6379", "Redis address for the redis backend")
	flags.StringVar(&f.clientsFile, "clients-file", "", "YAML file adding desktop clients")
	flags.StringVar(&f.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.StringVar(&f.logFormat, "log-format", logging.FormatJSON, "Log format (json or console)")
	flags.BoolVar(&f.noRateLimit, "no-rate-limit", false, "Disable rate limiting")
	flags.BoolVar(&f.metrics, "metrics", true, "Expose Prometheus metrics on /metrics")
	flags.StringSliceVar(&f.proxies, "trusted-proxies", nil, "Proxy IPs or CIDR ranges allowed to set X-Forwarded-For")

	return cmd
}

// options turns the flags the user set into config options, leaving the
// environment in charge of everything else.
func (f *serveFlags) options(cmd *cobra.Command) []deskauth.Option {
	changed := cmd.Flags().Changed
	var opts []deskauth.Option

	if changed("addr") {
		opts = append(opts, deskauth.WithAddr(f.addr))
	}
	if changed("public-url") {
		opts = append(opts, deskauth.WithPublicURL(f.publicURL))
	}
	if changed("store") {
		opts = append(opts, deskauth.WithStoreBackend(f.store))
	}
	if changed("redis-addr") {
		opts = append(opts, func(c *deskauth.Config) { c.RedisAddr = f.redisAddr })
	}
	if changed("clients-file") {
		opts = append(opts, deskauth.WithClientsFile(f.clientsFile))
	}
	if changed("log-level") {
		opts = append(opts, deskauth.WithLogLevel(f.logLevel))
	}
	if changed("log-format") {
		opts = append(opts, deskauth.WithLogFormat(f.logFormat))
	}
	if changed("no-rate-limit") && f.noRateLimit {
		opts = append(opts, deskauth.WithoutRateLimit())
	}
	if changed("metrics") {
		opts = append(opts, deskauth.WithMetrics(f.metrics))
	}
	if changed("trusted-proxies") {
		opts = append(opts, deskauth.WithTrustedProxies(f.proxies...))
	}
	return opts
}
