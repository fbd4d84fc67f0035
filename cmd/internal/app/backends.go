package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"protoimsg/cmd/internal/auth/session"
	"protoimsg/cmd/internal/community"
	"protoimsg/cmd/internal/dm"
	"protoimsg/cmd/internal/firehose"
	"protoimsg/cmd/internal/moderation"
	"protoimsg/cmd/internal/presence"
	"protoimsg/cmd/internal/redisx"
	"protoimsg/cmd/internal/rooms"
)

// backends holds the storage chosen at startup. Durable projections live in Postgres
// when IMSG_DATABASE_URL is set; shared ephemeral state lives in Redis when
// IMSG_REDIS_URL is set. Either falls back to process memory.
type backends struct {
	pool  *pgxpool.Pool
	redis *redis.Client

	rooms     rooms.Store
	community community.Store
	dms       dm.Store
	records   firehose.RecordStore
	cursors   firehose.CursorStore
	bans      moderation.BanStore

	tracker  presence.Tracker
	sessions session.Store
	limiter  moderation.RateLimiter
}

func openBackends(ctx context.Context, cfg Config, log Logger) (*backends, error) {
	b := &backends{}
	if err := b.openDurable(ctx, cfg, log); err != nil {
		b.Close()
		return nil, err
	}
	if err := b.openShared(ctx, cfg, log); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *backends) openDurable(ctx context.Context, cfg Config, log Logger) error {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		mem := firehose.NewMemoryStore()
		b.rooms = rooms.NewMemoryStore()
		b.community = community.NewMemoryStore()
		b.dms = dm.NewMemoryStore()
		b.records, b.cursors = mem, mem
		return nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	b.pool = pool
	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)

	if b.rooms, err = rooms.NewPostgresStore(pool, rooms.WithSchema(cfg.DBSchema)); err != nil {
		return err
	}
	if b.community, err = community.NewPostgresStore(pool, community.WithSchema(cfg.DBSchema)); err != nil {
		return err
	}
	if b.dms, err = dm.NewPostgresStore(pool, dm.WithSchema(cfg.DBSchema)); err != nil {
		return err
	}
	fh, err := firehose.NewPostgresStore(pool, firehose.WithSchema(cfg.DBSchema))
	if err != nil {
		return err
	}
	b.records, b.cursors = fh, fh
	if b.bans, err = moderation.NewPostgresBanStore(pool, cfg.DBSchema); err != nil {
		return err
	}
	return nil
}

func (b *backends) openShared(ctx context.Context, cfg Config, log Logger) error {
	if cfg.RedisURL == "" {
		log.Info("redis.disabled.inmemory_state")
		b.tracker = presence.NewMemoryTracker()
		b.sessions = session.NewMemoryStore()
		b.limiter = moderation.NewMemoryRateLimiter(cfg.RateLimit, cfg.RateWindow)
		return nil
	}

	client, err := redisx.Open(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	b.redis = client
	log.Info("redis.enabled.shared_state", "prefix", cfg.RedisKeyPrefix)

	if b.tracker, err = presence.NewRedisTracker(client, presence.WithKeyPrefix(cfg.RedisKeyPrefix)); err != nil {
		return err
	}
	if b.sessions, err = session.NewRedisStore(client, session.WithKeyPrefix(cfg.RedisKeyPrefix)); err != nil {
		return err
	}
	b.limiter = moderation.NewRedisRateLimiter(client, cfg.RateLimit, cfg.RateWindow, moderation.WithRateKeyPrefix(cfg.RedisKeyPrefix))
	return nil
}

// ready pings whichever remote backends are configured.
func (b *backends) ready(ctx context.Context) error {
	if b.pool != nil {
		if err := PingDB(ctx, b.pool, pingTimeout); err != nil {
			return fmt.Errorf("db: %w", err)
		}
	}
	if b.redis != nil {
		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := redisx.Ping(pctx, b.redis); err != nil {
			return err
		}
	}
	return nil
}

// Close releases pools. Callers must have drained every store user first.
func (b *backends) Close() {
	if b.redis != nil {
		_ = b.redis.Close()
	}
	if b.pool != nil {
		b.pool.Close()
	}
}
