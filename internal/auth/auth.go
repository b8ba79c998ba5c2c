// Package auth owns the service-level Spotify access token: it exchanges the
// application credentials for a bearer token and keeps that token fresh in the
// background so request handlers never reason about expiry.
package auth

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// defaultLifetime is assumed when the authorization service omits expires_in.
const defaultLifetime = time.Hour

var (
	// ErrMissingCredentials is returned when the client id or secret is empty.
	ErrMissingCredentials = errors.New("missing Spotify client id or client secret")

	// ErrNotReady is returned by reads before any renewal has succeeded, or
	// after the held token expired without being replaced.
	ErrNotReady = errors.New("service token not ready")
)

// Grant is the result of one credential exchange.
type Grant struct {
	AccessToken string
	Lifetime    time.Duration
}

// Exchanger trades the application credentials for a fresh access token.
type Exchanger interface {
	Exchange(ctx context.Context) (Grant, error)
}

// ClientCredentials exchanges credentials using the OAuth2 client credentials
// grant, authenticating with HTTP Basic auth.
type ClientCredentials struct {
	config *clientcredentials.Config
}

// ExchangerOption configures a ClientCredentials exchanger.
type ExchangerOption func(*clientcredentials.Config)

// WithTokenURL overrides the authorization service token endpoint.
func WithTokenURL(url string) ExchangerOption {
	return func(c *clientcredentials.Config) {
		c.TokenURL = url
	}
}

// NewClientCredentials creates an exchanger for the given application credentials.
// Returns ErrMissingCredentials if either value is empty.
func NewClientCredentials(clientID, clientSecret string, opts ...ExchangerOption) (*ClientCredentials, error) {
	if clientID == "" || clientSecret == "" {
		return nil, ErrMissingCredentials
	}

	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     spotifyauth.TokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &ClientCredentials{config: cfg}, nil
}

// Exchange performs a single token request against the authorization service.
func (c *ClientCredentials) Exchange(ctx context.Context) (Grant, error) {
	token, err := c.config.Token(ctx)
	if err != nil {
		return Grant{}, errors.Wrap(err, "client credentials exchange")
	}
	if token.AccessToken == "" {
		return Grant{}, errors.New("client credentials exchange: empty access token")
	}

	lifetime := defaultLifetime
	if !token.Expiry.IsZero() {
		lifetime = time.Until(token.Expiry).Round(time.Second)
	}

	return Grant{AccessToken: token.AccessToken, Lifetime: lifetime}, nil
}
