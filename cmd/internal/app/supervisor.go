package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// tree is the process supervisor. Layers isolate failures: a crashing stream consumer
// is restarted without touching the websocket server.
type tree struct {
	root        *suture.Supervisor
	api         *suture.Supervisor
	ingest      *suture.Supervisor
	maintenance *suture.Supervisor
}

func newTree(log Logger, shutdownTimeout time.Duration) *tree {
	hook := (&sutureslog.Handler{Logger: log}).MustHook()

	spec := suture.Spec{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          shutdownTimeout,
	}
	rootSpec := spec
	rootSpec.EventHook = hook

	t := &tree{
		root:        suture.New("protoimsg", rootSpec),
		api:         suture.New("api-layer", spec),
		ingest:      suture.New("ingest-layer", spec),
		maintenance: suture.New("maintenance-layer", spec),
	}
	t.root.Add(t.api)
	t.root.Add(t.ingest)
	t.root.Add(t.maintenance)
	return t
}

// httpService runs an http.Server under the supervisor. beforeShutdown runs once the
// context is cancelled and before the listener is closed.
type httpService struct {
	server          *http.Server
	shutdownTimeout time.Duration
	beforeShutdown  func(ctx context.Context)
}

func (h *httpService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()

		if h.beforeShutdown != nil {
			h.beforeShutdown(shutdownCtx)
		}
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *httpService) String() string { return "http-server" }
