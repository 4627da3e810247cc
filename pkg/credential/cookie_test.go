package credential

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCookieStore_ReadsRequestCookies(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: "da_access_token", Value: "abc"})
	w := httptest.NewRecorder()

	s := NewCookieStore(w, r, CookieConfig{})
	v, err := s.Get(context.Background(), KeyAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "abc", v)

	_, err = s.Get(context.Background(), KeyRefreshToken)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCookieStore_WritesHTTPOnlyCookies(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: "x_refresh_token", Value: "old"})
	w := httptest.NewRecorder()
	ctx := context.Background()

	s := NewCookieStore(w, r, CookieConfig{Prefix: "x_", Secure: true, Domain: "example.com"})
	require.NoError(t, s.Set(ctx, KeyAccessToken, "new-access", SetOptions{TTL: time.Hour}))
	require.NoError(t, s.Delete(ctx, KeyRefreshToken))

	// pending writes shadow the request
	v, err := s.Get(ctx, KeyAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "new-access", v)
	_, err = s.Get(ctx, KeyRefreshToken)
	assert.ErrorIs(t, err, ErrNotFound)

	cookies := map[string]*http.Cookie{}
	for _, c := range w.Result().Cookies() {
		cookies[c.Name] = c
	}
	require.Contains(t, cookies, "x_access_token")
	access := cookies["x_access_token"]
	assert.Equal(t, "new-access", access.Value)
	assert.True(t, access.HttpOnly)
	assert.True(t, access.Secure)
	assert.Equal(t, 3600, access.MaxAge)
	assert.Equal(t, http.SameSiteLaxMode, access.SameSite)

	require.Contains(t, cookies, "x_refresh_token")
	assert.Equal(t, -1, cookies["x_refresh_token"].MaxAge)
}

func TestCookieStore_RoundTripThroughCredential(t *testing.T) {
	w := httptest.NewRecorder()
	s := NewCookieStore(w, httptest.NewRequest(http.MethodGet, "/", nil), CookieConfig{})
	ctx := context.Background()

	require.NoError(t, Save(ctx, s, Credential{AccessToken: "a", RefreshToken: "r"}, SetOptions{}))

	next := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range w.Result().Cookies() {
		if c.MaxAge >= 0 {
			next.AddCookie(c)
		}
	}
	c, err := Load(ctx, NewCookieStore(httptest.NewRecorder(), next, CookieConfig{}))
	require.NoError(t, err)
	assert.Equal(t, "a", c.AccessToken)
	assert.Equal(t, "r", c.RefreshToken)
}
