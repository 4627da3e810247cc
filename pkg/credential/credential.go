// Package credential models an upstream OAuth credential and the key-value
// collaborators it is persisted in.
//
// A credential is stored as four independent fields so any Get/Set/Delete
// store works: http-only cookies for browser sessions, Redis for CLI and
// background sessions, memory for tests.
package credential

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Field keys a credential is persisted under.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyExpiry       = "token_expiry"
	KeyTokenType    = "token_type"
)

// ErrNotFound is returned by Store.Get for a missing key.
var ErrNotFound = errors.New("credential field not found")

// SetOptions tune a single Set.
type SetOptions struct {
	// TTL bounds how long the value is kept; 0 keeps it until deleted.
	TTL time.Duration
}

// Store is a key-value collaborator holding credential fields.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, opts SetOptions) error
	Delete(ctx context.Context, key string) error
}

// Credential is an access token with its refresh token and absolute expiry.
type Credential struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Expiry       time.Time
}

// IsZero reports whether nothing is stored.
func (c Credential) IsZero() bool {
	return c.AccessToken == "" && c.RefreshToken == ""
}

// ExpiresWithin reports whether the access token expires within buffer of
// now. A credential without an expiry is treated as expiring.
func (c Credential) ExpiresWithin(now time.Time, buffer time.Duration) bool {
	if c.Expiry.IsZero() {
		return true
	}
	return !now.Before(c.Expiry.Add(-buffer))
}

// Load reads a credential from s. Missing fields stay empty and an
// unparsable expiry is dropped, which forces a refresh.
func Load(ctx context.Context, s Store) (Credential, error) {
	var c Credential
	fields := []struct {
		key string
		dst *string
	}{
		{KeyAccessToken, &c.AccessToken},
		{KeyRefreshToken, &c.RefreshToken},
		{KeyTokenType, &c.TokenType},
	}
	for _, f := range fields {
		v, err := get(ctx, s, f.key)
		if err != nil {
			return Credential{}, err
		}
		*f.dst = v
	}

	raw, err := get(ctx, s, KeyExpiry)
	if err != nil {
		return Credential{}, err
	}
	if raw != "" {
		if exp, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			c.Expiry = exp
		}
	}
	return c, nil
}

// Save writes every field of c to s. Empty fields are deleted so a
// rotation never leaves a stale value behind.
func Save(ctx context.Context, s Store, c Credential, opts SetOptions) error {
	expiry := ""
	if !c.Expiry.IsZero() {
		expiry = c.Expiry.UTC().Format(time.RFC3339Nano)
	}
	fields := []struct{ key, value string }{
		{KeyAccessToken, c.AccessToken},
		{KeyRefreshToken, c.RefreshToken},
		{KeyTokenType, c.TokenType},
		{KeyExpiry, expiry},
	}
	for _, f := range fields {
		var err error
		if f.value == "" {
			err = s.Delete(ctx, f.key)
		} else {
			err = s.Set(ctx, f.key, f.value, opts)
		}
		if err != nil {
			return fmt.Errorf("save %s: %w", f.key, err)
		}
	}
	return nil
}

// Clear deletes every field. All deletes are attempted.
func Clear(ctx context.Context, s Store) error {
	var errs []error
	for _, key := range []string{KeyAccessToken, KeyRefreshToken, KeyTokenType, KeyExpiry} {
		if err := s.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("clear %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func get(ctx context.Context, s Store, key string) (string, error) {
	v, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load %s: %w", key, err)
	}
	return v, nil
}
