package credential

import (
	"context"
	"net/http"
	"sync"
)

// CookieConfig controls the attributes of credential cookies.
type CookieConfig struct {
	Prefix string // cookie name prefix, default "da_"
	Domain string
	Path   string
	Secure bool
}

// CookieStore reads credential fields from a request's cookies and writes
// changes as http-only cookies on the response. It lives for one request.
// Values written during the request are visible to later Gets.
type CookieStore struct {
	r   *http.Request
	w   http.ResponseWriter
	cfg CookieConfig

	mu      sync.Mutex
	pending map[string]*string // nil value marks a deletion
}

// NewCookieStore binds a store to one request/response pair.
func NewCookieStore(w http.ResponseWriter, r *http.Request, cfg CookieConfig) *CookieStore {
	if cfg.Prefix == "" {
		cfg.Prefix = "da_"
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	return &CookieStore{r: r, w: w, cfg: cfg, pending: make(map[string]*string)}
}

// Get implements Store.
func (c *CookieStore) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.pending[key]; ok {
		if v == nil {
			return "", ErrNotFound
		}
		return *v, nil
	}
	cookie, err := c.r.Cookie(c.cfg.Prefix + key)
	if err != nil || cookie.Value == "" {
		return "", ErrNotFound
	}
	return cookie.Value, nil
}

// Set implements Store.
func (c *CookieStore) Set(_ context.Context, key, value string, opts SetOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending[key] = &value
	http.SetCookie(c.w, c.cookie(key, value, int(opts.TTL.Seconds())))
	return nil
}

// Delete implements Store.
func (c *CookieStore) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending[key] = nil
	http.SetCookie(c.w, c.cookie(key, "", -1))
	return nil
}

func (c *CookieStore) cookie(key, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     c.cfg.Prefix + key,
		Value:    value,
		Path:     c.cfg.Path,
		Domain:   c.cfg.Domain,
		HttpOnly: true,
		Secure:   c.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	}
}
