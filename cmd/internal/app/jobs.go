package app

import (
	"context"
	"time"
)

const jobTimeout = 30 * time.Second

// job runs fn on a fixed interval until its context ends. Failures are logged and the
// next tick runs normally.
type job struct {
	name  string
	every time.Duration
	fn    func(ctx context.Context) (int, error)
	log   Logger
}

func (j *job) Serve(ctx context.Context) error {
	t := time.NewTicker(j.every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			j.runOnce(ctx)
		}
	}
}

func (j *job) runOnce(ctx context.Context) {
	rctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	n, err := j.fn(rctx)
	if err != nil {
		j.log.Error("job.fail", "job", j.name, "err", err)
		return
	}
	if n > 0 {
		j.log.Info("job.ok", "job", j.name, "removed", n)
	}
}

func (j *job) String() string { return "job-" + j.name }
