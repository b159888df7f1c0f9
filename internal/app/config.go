package app

import (
	"fmt"

	"github.com/caarlos0/env/v11"

	"github.com/aloks98/deskauth"
)

// LoadConfig starts from the defaults, overlays DESKAUTH_* environment
// variables, applies opts and validates the result. Options win over the
// environment so command line flags can override it.
func LoadConfig(opts ...deskauth.Option) (*deskauth.Config, error) {
	cfg := deskauth.NewConfig()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("%w: parse env: %v", deskauth.ErrConfigInvalid, err)
	}
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
