package logging

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestMiddleware_GeneratesRequestID(t *testing.T) {
	prev := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	buf := &bytes.Buffer{}
	base := zerolog.New(buf).Level(zerolog.DebugLevel)

	h := Middleware(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := FromContext(r.Context())
		logger.Info().Msg("inside handler")
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/records", nil))

	id := rec.Header().Get(RequestIDHeader)
	if len(id) != 36 {
		t.Fatalf("expected a generated uuid, got %q", id)
	}

	output := buf.String()
	if strings.Count(output, id) != 2 {
		t.Errorf("both log lines should carry the request id, got %q", output)
	}
	if !strings.Contains(output, `"status":418`) {
		t.Errorf("expected the recorded status in %q", output)
	}
}

func TestMiddleware_KeepsIncomingRequestID(t *testing.T) {
	h := Middleware(zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Errorf("request id = %q, want abc-123", got)
	}
}

func TestFromContext_FallsBackToGlobal(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: zerolog.InfoLevel, Output: buf})

	logger := FromContext(context.Background())
	logger.Info().Msg("global message")

	if !strings.Contains(buf.String(), "global message") {
		t.Errorf("expected global logger output, got %q", buf.String())
	}
}
