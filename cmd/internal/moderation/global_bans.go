package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"protoimsg/cmd/internal/pgstore"
)

// GlobalBan is one service-wide ban.
type GlobalBan struct {
	DID     string
	Handle  string
	Reason  string
	AddedBy string
}

// BanStore persists global bans.
type BanStore interface {
	ListGlobalBans(ctx context.Context) ([]string, error)
	PutGlobalBan(ctx context.Context, ban GlobalBan) error
	DeleteGlobalBan(ctx context.Context, did string) error
}

// GlobalBans is an in-memory set of banned DIDs, loaded once and kept in sync on writes.
// A nil store keeps the set purely in memory.
type GlobalBans struct {
	store BanStore
	log   *slog.Logger

	mu     sync.RWMutex
	banned map[string]struct{}
}

func NewGlobalBans(store BanStore, log *slog.Logger) *GlobalBans {
	if log == nil {
		log = slog.Default()
	}
	return &GlobalBans{store: store, log: log, banned: make(map[string]struct{})}
}

// Load replaces the in-memory set with the store contents.
func (g *GlobalBans) Load(ctx context.Context) error {
	if g.store == nil {
		return nil
	}
	dids, err := g.store.ListGlobalBans(ctx)
	if err != nil {
		return fmt.Errorf("moderation: load global bans: %w", err)
	}
	set := make(map[string]struct{}, len(dids))
	for _, d := range dids {
		set[d] = struct{}{}
	}
	g.mu.Lock()
	g.banned = set
	g.mu.Unlock()
	g.log.Info("moderation.global_bans.loaded", "count", len(set))
	return nil
}

func (g *GlobalBans) IsBanned(did string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.banned[did]
	return ok
}

func (g *GlobalBans) Add(ctx context.Context, ban GlobalBan) error {
	if ban.DID == "" {
		return errors.New("moderation: empty did")
	}
	if g.store != nil {
		if err := g.store.PutGlobalBan(ctx, ban); err != nil {
			return err
		}
	}
	g.mu.Lock()
	g.banned[ban.DID] = struct{}{}
	g.mu.Unlock()
	g.log.Info("moderation.global_ban.added", "did", ban.DID, "reason", ban.Reason)
	return nil
}

func (g *GlobalBans) Remove(ctx context.Context, did string) error {
	if g.store != nil {
		if err := g.store.DeleteGlobalBan(ctx, did); err != nil {
			return err
		}
	}
	g.mu.Lock()
	delete(g.banned, did)
	g.mu.Unlock()
	g.log.Info("moderation.global_ban.removed", "did", did)
	return nil
}

// PostgresBanStore is a BanStore on the global_bans table.
type PostgresBanStore struct {
	pool   *pgxpool.Pool
	schema string
}

func NewPostgresBanStore(pool *pgxpool.Pool, schema string) (*PostgresBanStore, error) {
	if pool == nil {
		return nil, errors.New("moderation: nil pool")
	}
	schema, err := pgstore.CheckSchema(schema)
	if err != nil {
		return nil, err
	}
	return &PostgresBanStore{pool: pool, schema: schema}, nil
}

func (s *PostgresBanStore) ListGlobalBans(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT did FROM `+pgstore.Ident(s.schema, "global_bans"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var did string
		if err := rows.Scan(&did); err != nil {
			return nil, err
		}
		out = append(out, did)
	}
	return out, rows.Err()
}

func (s *PostgresBanStore) PutGlobalBan(ctx context.Context, ban GlobalBan) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+pgstore.Ident(s.schema, "global_bans")+` (did, handle, reason, added_by)
		 VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4)
		 ON CONFLICT (did) DO UPDATE SET handle = EXCLUDED.handle, reason = EXCLUDED.reason, added_by = EXCLUDED.added_by`,
		ban.DID, ban.Handle, ban.Reason, ban.AddedBy,
	)
	return err
}

func (s *PostgresBanStore) DeleteGlobalBan(ctx context.Context, did string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM `+pgstore.Ident(s.schema, "global_bans")+` WHERE did = $1`, did)
	return err
}
