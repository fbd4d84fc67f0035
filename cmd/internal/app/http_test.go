package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"protoimsg/cmd/internal/auth/session"
)

type fakeIssuer struct {
	did, handle string
	err         error
}

func (f *fakeIssuer) Issue(_ context.Context, did, handle string) (session.Issued, error) {
	f.did, f.handle = did, handle
	if f.err != nil {
		return session.Issued{}, f.err
	}
	return session.Issued{SessionID: "01SESSION", Token: "tok", ExpiresAt: time.Unix(0, 0).UTC()}, nil
}

func newTestMux(cfg Config, ready func(context.Context) error, hasDB bool, issuer SessionIssuer) *http.ServeMux {
	mux := http.NewServeMux()
	registerHTTP(mux, routes{
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		cfg:    cfg,
		ready:  ready,
		hasDB:  hasDB,
		ws:     http.NotFoundHandler(),
		issuer: issuer,
	})
	return mux
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	ok := newTestMux(Config{}, func(context.Context) error { return nil }, false, nil)
	if rr := do(ok, http.MethodGet, "/readyz", ""); rr.Code != http.StatusOK {
		t.Fatalf("ready backends: status=%d", rr.Code)
	}

	down := newTestMux(Config{}, func(context.Context) error { return errors.New("redis down") }, true, nil)
	if rr := do(down, http.MethodGet, "/readyz", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("failing backend: status=%d", rr.Code)
	}

	noDB := newTestMux(Config{ReadinessRequireDB: true}, nil, false, nil)
	if rr := do(noDB, http.MethodGet, "/readyz", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("db required but absent: status=%d", rr.Code)
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	t.Parallel()

	mux := newTestMux(Config{}, nil, false, nil)
	if rr := do(mux, http.MethodGet, "/healthz", ""); rr.Code != http.StatusOK {
		t.Fatalf("healthz status=%d", rr.Code)
	}
	rr := do(mux, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "go_goroutines") {
		t.Fatalf("metrics status=%d", rr.Code)
	}
}

func TestDevSessions(t *testing.T) {
	t.Parallel()

	issuer := &fakeIssuer{}
	off := newTestMux(Config{}, nil, false, issuer)
	if rr := do(off, http.MethodPost, "/v1/dev/sessions", `{"did":"did:plc:a"}`); rr.Code != http.StatusNotFound {
		t.Fatalf("dev sessions must be hidden when disabled, status=%d", rr.Code)
	}

	on := newTestMux(Config{DevSessions: true}, nil, false, issuer)
	rr := do(on, http.MethodPost, "/v1/dev/sessions", `{"did":"did:plc:a","handle":"a.test"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if issuer.did != "did:plc:a" || issuer.handle != "a.test" {
		t.Fatalf("issuer got %q %q", issuer.did, issuer.handle)
	}
	if !strings.Contains(rr.Body.String(), `"token":"tok"`) {
		t.Fatalf("missing token in %s", rr.Body.String())
	}
	if got := rr.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("Cache-Control=%q", got)
	}

	if rr := do(on, http.MethodPost, "/v1/dev/sessions", `{"did":"did:plc:a","extra":1}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown fields must be rejected, status=%d", rr.Code)
	}
}

func TestDevSessions_InvalidIdentity(t *testing.T) {
	t.Parallel()

	svc := session.NewService(session.DefaultConfig(), session.NewMemoryStore(), nil)
	mux := newTestMux(Config{DevSessions: true}, nil, false, svc)

	rr := do(mux, http.MethodPost, "/v1/dev/sessions", `{"did":"not-a-did"}`)
	if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), "invalid_identity") {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}
