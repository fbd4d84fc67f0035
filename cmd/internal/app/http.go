package app

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const pingTimeout = 2 * time.Second

// routes are the collaborators the HTTP surface needs.
type routes struct {
	log    Logger
	cfg    Config
	ready  func(ctx context.Context) error
	hasDB  bool
	ws     http.Handler
	issuer SessionIssuer
}

func registerHTTP(mux *http.ServeMux, rt routes) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if rt.cfg.ReadinessRequireDB && !rt.hasDB {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}
		if rt.ready != nil {
			if err := rt.ready(r.Context()); err != nil {
				http.Error(w, "backend not ready", http.StatusServiceUnavailable)
				rt.log.Info("readyz.not_ready", "err", err)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /ws", rt.ws)

	if rt.cfg.DevSessions && rt.issuer != nil {
		rt.log.Warn("dev_sessions.enabled", "path", "/v1/dev/sessions")
		mux.Handle("POST /v1/dev/sessions", devSessionHandler(rt.issuer, rt.log))
	}
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}
