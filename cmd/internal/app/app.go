// Package app wires the server runtime: config, logging, storage backends, the
// websocket gateway, the event stream consumer and the supervisor tree.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"protoimsg/cmd/internal/auth/session"
	"protoimsg/cmd/internal/dm"
	"protoimsg/cmd/internal/firehose"
	"protoimsg/cmd/internal/moderation"
	"protoimsg/cmd/internal/presence"
	"protoimsg/cmd/internal/realtime"
)

const (
	ratePruneEvery    = time.Minute
	sessionPruneEvery = 10 * time.Minute
	dmPruneEvery      = time.Hour
	blockSweepEvery   = 5 * time.Minute
)

// App is the server runtime. It owns every backend and tears them down in order.
type App struct {
	cfg Config
	log Logger

	be       *backends
	sessions *session.Service
	blocks   *moderation.BlockService
	dms      *dm.Service
	reg      *realtime.Registry
	consumer *firehose.Consumer

	handler http.Handler
}

// New constructs a fully wired App from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if err := ValidateSecurityConfig(cfg, sessCfg); err != nil {
		return nil, err
	}
	gwCfg := realtime.LoadGatewayConfigFromEnv()

	var filter moderation.ContentFilter
	if len(cfg.FilterPatterns) > 0 {
		pf, err := moderation.NewPatternFilter(cfg.FilterPatterns, cfg.FilterReason)
		if err != nil {
			return nil, err
		}
		filter = pf
	}

	be, err := openBackends(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a, err := wire(ctx, cfg, log, be, sessCfg, gwCfg, filter)
	if err != nil {
		be.Close()
		return nil, err
	}
	return a, nil
}

func wire(ctx context.Context, cfg Config, log Logger, be *backends, sessCfg session.Config, gwCfg realtime.GatewayConfig, filter moderation.ContentFilter) (*App, error) {
	var tokens session.AccessTokenManager
	if sessCfg.PasetoV4SecretKeyHex != "" {
		m, err := session.NewPasetoV4PublicManager(sessCfg)
		if err != nil {
			return nil, err
		}
		tokens = m
		log.Info("auth.access_tokens.enabled", "public_key", m.PublicKeyHex())
	}
	sessions := session.NewService(sessCfg, be.sessions, tokens)

	bans := moderation.NewGlobalBans(be.bans, log)
	if err := bans.Load(ctx); err != nil {
		return nil, err
	}

	blocks := moderation.NewBlockService()
	dms := dm.NewService(be.dms, filter, dm.WithLogger(log))

	reg, err := realtime.NewRegistry(realtime.Deps{
		Presence:  presence.NewService(be.tracker, be.community, blocks, log),
		Rooms:     be.rooms,
		DMs:       dms,
		Community: be.community,
		Blocks:    blocks,
		Log:       log,

		MaxConnsPerOrigin: gwCfg.MaxConnsPerOrigin,
	})
	if err != nil {
		return nil, err
	}
	ws := realtime.NewWSGateway(log, reg, sessions, bans, be.limiter, gwCfg)

	var consumer *firehose.Consumer
	if cfg.FirehoseURL != "" {
		ix, err := firehose.NewIndexer(firehose.Deps{
			Records:   be.records,
			Rooms:     be.rooms,
			Community: be.community,
			Filter:    filter,
			Bans:      bans,
			Sessions:  sessions,
			Sink:      reg,
			Log:       log,
		})
		if err != nil {
			return nil, err
		}
		consumer, err = firehose.NewConsumer(firehose.Config{
			URL:            cfg.FirehoseURL,
			ReconnectDelay: cfg.FirehoseReconnectDelay,
		}, ix, be.cursors, log)
		if err != nil {
			return nil, err
		}
	} else {
		log.Warn("firehose.disabled", "reason", "IMSG_FIREHOSE_URL not set")
	}

	mux := http.NewServeMux()
	registerHTTP(mux, routes{
		log:    log,
		cfg:    cfg,
		ready:  be.ready,
		hasDB:  be.pool != nil,
		ws:     ws,
		issuer: sessions,
	})

	return &App{
		cfg:      cfg,
		log:      log,
		be:       be,
		sessions: sessions,
		blocks:   blocks,
		dms:      dms,
		reg:      reg,
		consumer: consumer,
		handler:  WithSecurityHeaders(WithRequestLogging(mux, log)),
	}, nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run serves until ctx is cancelled, then drains websocket connections before
// releasing storage.
func (a *App) Run(ctx context.Context) error {
	t := newTree(a.log, a.cfg.ShutdownTimeout)

	t.api.Add(&httpService{
		server: &http.Server{
			Addr:              a.cfg.HTTPAddr,
			Handler:           a.handler,
			ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
			ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
			WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
			IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
			MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
		},
		shutdownTimeout: nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second),
		beforeShutdown:  func(ctx context.Context) { _ = a.reg.Shutdown(ctx) },
	})
	if a.consumer != nil {
		t.ingest.Add(a.consumer)
	}
	for _, j := range a.jobs() {
		t.maintenance.Add(j)
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"ws_url", wsBaseURL(base)+"/ws",
		"db_enabled", a.be.pool != nil,
		"redis_enabled", a.be.redis != nil,
		"firehose_enabled", a.consumer != nil,
	)

	err := t.root.Serve(ctx)
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		a.log.Error("server.fail", "err", err)
	}

	// The HTTP service drains the registry on its way out; repeat in case it was
	// never started or timed out, so no handler touches a closed pool.
	drainCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()
	_ = a.reg.Shutdown(drainCtx)
	a.be.Close()

	a.log.Info("server.stopped")
	return err
}

func (a *App) jobs() []*job {
	return []*job{
		{name: "rate-limit-prune", every: ratePruneEvery, log: a.log, fn: a.be.limiter.Prune},
		{name: "session-prune", every: sessionPruneEvery, log: a.log, fn: a.sessions.Prune},
		{name: "dm-prune", every: dmPruneEvery, log: a.log, fn: func(ctx context.Context) (int, error) {
			return 0, a.dms.PruneExpired(ctx)
		}},
		{name: "block-sweep", every: blockSweepEvery, log: a.log, fn: func(context.Context) (int, error) {
			return a.blocks.Sweep(), nil
		}},
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
