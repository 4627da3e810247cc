package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// Key identifies a cached page.
type Key struct {
	// Scope separates the pages of different credentials. See
	// CredentialScope.
	Scope string

	// URL is the absolute page URL.
	URL string
}

// String generates a deterministic Redis key. Query parameters are sorted
// so equivalent URLs share an entry.
//
// Format: dataaccess:page:<scope>:<sha256 of normalized url>
func (k Key) String() string {
	sum := sha256.Sum256([]byte(normalizeURL(k.URL)))
	return "dataaccess:page:" + k.Scope + ":" + hex.EncodeToString(sum[:])
}

func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Host = strings.ToLower(u.Host)
	u.Scheme = strings.ToLower(u.Scheme)
	u.Fragment = ""
	u.RawQuery = u.Query().Encode()
	return u.String()
}

// CredentialScope derives the scope of the pages fetched with bearer. The
// token itself never appears in a key.
func CredentialScope(bearer string) string {
	sum := sha256.Sum256([]byte("dataaccess:bearer:" + bearer))
	return hex.EncodeToString(sum[:16])
}
