package token

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")

		switch r.PostForm.Get("grant_type") {
		case "refresh_token":
			if r.PostForm.Get("refresh_token") != "valid-refresh" {
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "refreshed-access",
				"token_type":    "Bearer",
				"refresh_token": "rotated-refresh",
				"expires_in":    1200,
			})
		case "authorization_code":
			json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "code-access",
				"token_type":    "Bearer",
				"refresh_token": "code-refresh",
			})
		default:
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "unsupported_grant_type"})
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewOAuth2Client_Validation(t *testing.T) {
	_, err := NewOAuth2Client(OAuthConfig{TokenURL: "http://x"}, nil)
	assert.EqualError(t, err, "client id is required")

	_, err = NewOAuth2Client(OAuthConfig{ClientID: "id"}, nil)
	assert.EqualError(t, err, "token url is required")
}

func TestOAuth2Client_Refresh(t *testing.T) {
	srv := newTokenServer(t)
	client, err := NewOAuth2Client(OAuthConfig{ClientID: "id", ClientSecret: "secret", TokenURL: srv.URL}, srv.Client())
	require.NoError(t, err)

	c, err := client.Refresh(context.Background(), "valid-refresh")
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access", c.AccessToken)
	assert.Equal(t, "rotated-refresh", c.RefreshToken)
	assert.Equal(t, "Bearer", c.TokenType)
	assert.WithinDuration(t, time.Now().Add(20*time.Minute), c.Expiry, 5*time.Second)

	_, err = client.Refresh(context.Background(), "revoked")
	assert.ErrorContains(t, err, "refresh token")
}

func TestOAuth2Client_ExchangeDefaultsLifetime(t *testing.T) {
	srv := newTokenServer(t)
	client, err := NewOAuth2Client(OAuthConfig{
		ClientID:        "id",
		TokenURL:        srv.URL,
		DefaultLifetime: time.Hour,
	}, srv.Client())
	require.NoError(t, err)

	c, err := client.Exchange(context.Background(), "any-code")
	require.NoError(t, err)
	assert.Equal(t, "code-access", c.AccessToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), c.Expiry, 5*time.Second)
}

func TestOAuth2Client_AuthCodeURL(t *testing.T) {
	client, err := NewOAuth2Client(OAuthConfig{
		ClientID:    "id",
		AuthURL:     "https://auth.example.com/authorize",
		TokenURL:    "https://auth.example.com/token",
		RedirectURL: "http://localhost:8080/auth/callback",
		Scopes:      []string{"read"},
	}, nil)
	require.NoError(t, err)

	u, err := url.Parse(client.AuthCodeURL("state-1"))
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "state-1", q.Get("state"))
	assert.Equal(t, "id", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "read", q.Get("scope"))
}
