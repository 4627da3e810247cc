package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/dataaccess/internal/syncer"
	"github.com/Sternrassler/dataaccess/pkg/credential"
	"github.com/Sternrassler/dataaccess/pkg/fault"
	"github.com/Sternrassler/dataaccess/pkg/logging"
	"github.com/Sternrassler/dataaccess/pkg/metrics"
	"github.com/Sternrassler/dataaccess/pkg/store"
	"github.com/Sternrassler/dataaccess/pkg/token"
	"github.com/Sternrassler/dataaccess/pkg/upstream"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const stateCookie = "oauth_state"

type recordReader interface {
	Get(ctx context.Context, owner, typ, id string) (store.Record, error)
	ListByOwner(ctx context.Context, owner string, limit int) ([]store.Record, error)
}

type syncRunner interface {
	Run(ctx context.Context, creds credential.Store, owner, initialURL string, opts ...upstream.FetchOption) (syncer.Report, error)
}

type authFlow interface {
	AuthCodeURL(state string) string
	Authorize(ctx context.Context, store credential.Store, code string) (token.Validation, error)
	State(ctx context.Context, store credential.Store) (token.State, error)
}

type server struct {
	records    recordReader
	sync       syncRunner
	auth       authFlow
	cookies    credential.CookieConfig
	collection func(path string) (string, error)
	ready      map[string]func(ctx context.Context) error
	timeout    time.Duration
	logger     zerolog.Logger
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /records", s.handleListRecords)
	mux.HandleFunc("GET /records/{type}/{id}", s.handleGetRecord)
	mux.HandleFunc("GET /auth/login", s.handleLogin)
	mux.HandleFunc("GET /auth/callback", s.handleCallback)
	mux.HandleFunc("GET /auth/status", s.handleAuthStatus)
	mux.HandleFunc("POST /auth/logout", s.handleLogout)
	mux.HandleFunc("POST /sync", s.handleSync)
	return logging.Middleware(s.logger)(mux)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.ready))
	status := http.StatusOK
	for name, check := range s.ready {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	writeJSON(w, status, checks)
}

func (s *server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	rec, err := s.records.Get(ctx, r.URL.Query().Get("owner"), r.PathValue("type"), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, r, fault.New(fault.KindCallerInput, "records.list", "limit must be a number"))
			return
		}
		limit = n
	}

	recs, err := s.records.ListByOwner(ctx, r.URL.Query().Get("owner"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []store.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	http.SetCookie(w, s.cookie(stateCookie, state, 600))
	http.Redirect(w, r, s.auth.AuthCodeURL(state), http.StatusFound)
}

func (s *server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		s.writeError(w, r, fault.New(fault.KindCallerInput, "auth.callback", "authorization denied: "+e))
		return
	}

	expected, err := r.Cookie(s.cookies.Prefix + stateCookie)
	if err != nil || expected.Value == "" || expected.Value != q.Get("state") {
		s.writeError(w, r, fault.New(fault.KindCallerInput, "auth.callback", "state mismatch"))
		return
	}
	http.SetCookie(w, s.cookie(stateCookie, "", -1))

	ctx, cancel := s.requestContext(r)
	defer cancel()

	v, err := s.auth.Authorize(ctx, s.credentials(w, r), q.Get("code"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": v.State.String()})
}

func (s *server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	state, err := s.auth.State(r.Context(), s.credentials(w, r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": state.String()})
}

func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := credential.Clear(r.Context(), s.credentials(w, r)); err != nil {
		s.writeError(w, r, fault.Wrap(fault.KindInternal, "auth.logout", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type syncResponse struct {
	syncer.Report
	LoginURL string `json:"login_url,omitempty"`
	Error    string `json:"error,omitempty"`
}

// handleSync answers 200 for a complete sync, 206 for a partial one and
// the status of the error kind otherwise.
func (s *server) handleSync(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	initialURL, err := s.collection(q.Get("path"))
	if err != nil {
		s.writeError(w, r, fault.Wrap(fault.KindCallerInput, "sync", err))
		return
	}

	report, err := s.sync.Run(r.Context(), s.credentials(w, r), q.Get("owner"), initialURL)
	resp := syncResponse{Report: report}

	switch {
	case err != nil:
		resp.Error = err.Error()
		if fault.Is(err, fault.KindAuthorizationExpired) {
			resp.LoginURL = "/auth/login"
		}
		status := fault.HTTPStatus(fault.KindOf(err))
		if status >= 500 {
			logger := logging.FromContext(r.Context())
			logger.Error().Err(err).Str("owner", q.Get("owner")).Msg("Sync failed")
		}
		writeJSON(w, status, resp)
	case report.Partial:
		writeJSON(w, http.StatusPartialContent, resp)
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *server) credentials(w http.ResponseWriter, r *http.Request) credential.Store {
	return credential.NewCookieStore(w, r, s.cookies)
}

func (s *server) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     s.cookies.Prefix + name,
		Value:    value,
		Path:     "/",
		Domain:   s.cookies.Domain,
		HttpOnly: true,
		Secure:   s.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	}
}

func (s *server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), s.timeout)
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := fault.KindOf(err)
	status := fault.HTTPStatus(kind)
	if status >= 500 {
		logger := logging.FromContext(r.Context())
		logger.Error().Err(err).Str("error_kind", string(kind)).Msg("Request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "kind": string(kind)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
