package token

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/dataaccess/pkg/credential"
	"golang.org/x/oauth2"
)

// OAuthConfig describes the authorization server.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RedirectURL  string
	Scopes       []string

	// DefaultLifetime is assumed when a token response has no expires_in.
	DefaultLifetime time.Duration
}

// OAuth2Client is a Refresher backed by golang.org/x/oauth2.
type OAuth2Client struct {
	cfg        *oauth2.Config
	httpClient *http.Client
	lifetime   time.Duration
}

// NewOAuth2Client creates a client. httpClient may be nil.
func NewOAuth2Client(cfg OAuthConfig, httpClient *http.Client) (*OAuth2Client, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client id is required")
	}
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("token url is required")
	}
	lifetime := cfg.DefaultLifetime
	if lifetime <= 0 {
		lifetime = 20 * time.Minute
	}
	return &OAuth2Client{
		cfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
			RedirectURL: cfg.RedirectURL,
			Scopes:      cfg.Scopes,
		},
		httpClient: httpClient,
		lifetime:   lifetime,
	}, nil
}

// Refresh implements Refresher with a refresh_token grant.
func (c *OAuth2Client) Refresh(ctx context.Context, refreshToken string) (credential.Credential, error) {
	src := c.cfg.TokenSource(c.context(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return credential.Credential{}, fmt.Errorf("refresh token: %w", err)
	}
	return c.credential(tok), nil
}

// Exchange implements Refresher with an authorization_code grant.
func (c *OAuth2Client) Exchange(ctx context.Context, code string) (credential.Credential, error) {
	tok, err := c.cfg.Exchange(c.context(ctx), code)
	if err != nil {
		return credential.Credential{}, fmt.Errorf("exchange code: %w", err)
	}
	return c.credential(tok), nil
}

// AuthCodeURL implements Refresher. Offline access is requested so the
// server issues a refresh token.
func (c *OAuth2Client) AuthCodeURL(state string) string {
	return c.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

func (c *OAuth2Client) context(ctx context.Context) context.Context {
	if c.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func (c *OAuth2Client) credential(tok *oauth2.Token) credential.Credential {
	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = time.Now().Add(c.lifetime)
	}
	return credential.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.Type(),
		Expiry:       expiry,
	}
}
