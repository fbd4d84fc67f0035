package realtime

import (
	"sync"
	"testing"

	"github.com/coder/websocket"

	v1 "protoimsg/shared/contracts/realtime/v1"
)

type closeRecorder struct {
	mu    sync.Mutex
	codes []websocket.StatusCode
}

func (r *closeRecorder) fn(code websocket.StatusCode, _ string) {
	r.mu.Lock()
	r.codes = append(r.codes, code)
	r.mu.Unlock()
}

func (r *closeRecorder) got() []websocket.StatusCode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]websocket.StatusCode(nil), r.codes...)
}

func TestClientCloseBeforeCloserIsApplied(t *testing.T) {
	t.Parallel()

	c := newTestClient("c1", "", 4)
	c.Close(websocket.StatusGoingAway, "server shutting down")
	if !c.Closed() {
		t.Fatal("Closed()=false after Close")
	}

	var rec closeRecorder
	c.setCloser(rec.fn)
	c.Close(websocket.StatusCode(v1.CloseAuthTimeout), "auth timeout")

	got := rec.got()
	if len(got) != 1 || got[0] != websocket.StatusGoingAway {
		t.Fatalf("socket closes=%v want exactly [%d]", got, websocket.StatusGoingAway)
	}
	if c.Enqueue([]byte(`{}`)) {
		t.Fatal("Enqueue accepted a frame on a closed client")
	}
}

func TestClientCloseRunsOnce(t *testing.T) {
	t.Parallel()

	c := newTestClient("c1", "did:plc:alice", 4)
	var rec closeRecorder
	c.setCloser(rec.fn)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Close(websocket.StatusNormalClosure, "bye")
		}()
	}
	wg.Wait()

	if got := rec.got(); len(got) != 1 {
		t.Fatalf("socket closes=%v want exactly one", got)
	}
}
