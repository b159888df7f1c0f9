package handoff

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aloks98/deskauth"
	"github.com/aloks98/deskauth/store"
	"github.com/aloks98/deskauth/token"
)

// Handoff is a prepared transfer of a session to a desktop client.
type Handoff struct {
	Client        Client
	ExchangeToken string
	URI           string
	ExpiresAt     time.Time
}

// Redemption is the session obtained by redeeming an exchange token.
type Redemption struct {
	Token *store.Token
	User  *store.User
}

// Dispatcher prepares handoffs and redeems exchange tokens.
type Dispatcher struct {
	registry *Registry
	tokens   *token.Service
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher. A nil logger disables logging.
func NewDispatcher(registry *Registry, tokens *token.Service, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{registry: registry, tokens: tokens, logger: logger}
}

// Registry returns the client registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// PrepareHandoff mints an exchange token for the owner of sessionToken and
// embeds it in the client's custom URI. The session token itself never
// appears in the URI. An unregistered clientID fails with
// deskauth.ErrUnknownClient before any token is checked or minted.
func (d *Dispatcher) PrepareHandoff(ctx context.Context, sessionToken, clientID string) (*Handoff, error) {
	client, ok := d.registry.Lookup(clientID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", deskauth.ErrUnknownClient, clientID)
	}

	user, err := d.tokens.Validate(ctx, sessionToken)
	if err != nil {
		return nil, err
	}

	exchange, err := d.tokens.IssueExchange(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	d.logger.Info("handoff prepared",
		zap.String("client", client.ID),
		zap.String("user_id", user.ID),
		zap.Time("expires_at", exchange.ExpiresAt),
	)

	return &Handoff{
		Client:        client,
		ExchangeToken: exchange.Value,
		URI:           client.HandoffURI(exchange.Value),
		ExpiresAt:     exchange.ExpiresAt,
	}, nil
}

// Redeem consumes an exchange token and issues a fresh session token for
// the same user. It succeeds once per exchange token.
func (d *Dispatcher) Redeem(ctx context.Context, exchangeToken string) (*Redemption, error) {
	exchange, err := d.tokens.Consume(ctx, exchangeToken)
	if err != nil {
		return nil, err
	}

	// The exchange token is spent from here on.
	session, err := d.tokens.IssueSession(ctx, exchange.UserID)
	if err != nil {
		d.logger.Error("exchange token consumed but no session issued",
			zap.String("user_id", exchange.UserID),
			zap.Error(err),
		)
		return nil, err
	}

	user, err := d.tokens.Validate(ctx, session.Value)
	if err != nil {
		d.logger.Error("exchange token consumed but session did not validate",
			zap.String("user_id", exchange.UserID),
			zap.Error(err),
		)
		return nil, err
	}

	d.logger.Info("handoff redeemed", zap.String("user_id", user.ID))
	return &Redemption{Token: session, User: user}, nil
}
