package community

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"protoimsg/cmd/internal/pgstore"
)

// PostgresStore keeps the list as JSONB plus a flattened member table for O(1) lookups.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "protoimsg").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		v, err := pgstore.CheckSchema(schema)
		if err != nil {
			return err
		}
		s.schema = v
		return nil
	}
}

func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: pgstore.DefaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("community: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) Put(ctx context.Context, owner string, groups []Group) error {
	groups = Dedupe(groups)
	raw, err := json.Marshal(groups)
	if err != nil {
		return fmt.Errorf("community: encode groups: %w", err)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lists := pgstore.Ident(s.schema, "community_lists")
	members := pgstore.Ident(s.schema, "community_members")

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+lists+` (owner_did, groups, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (owner_did) DO UPDATE SET groups = EXCLUDED.groups, updated_at = now()`,
		owner, raw,
	); err != nil {
		return fmt.Errorf("community: upsert list: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM `+members+` WHERE owner_did = $1`, owner); err != nil {
		return fmt.Errorf("community: clear members: %w", err)
	}

	flat := Flatten(groups)
	if len(flat) > 0 {
		rows := make([][]any, 0, len(flat))
		for did, inner := range flat {
			rows = append(rows, []any{owner, did, inner})
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{s.schema, "community_members"},
			[]string{"owner_did", "member_did", "is_inner_circle"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return fmt.Errorf("community: copy members: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Get(ctx context.Context, owner string) ([]Group, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT groups FROM `+pgstore.Ident(s.schema, "community_lists")+` WHERE owner_did = $1`, owner,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var groups []Group
	if err := json.Unmarshal(raw, &groups); err != nil {
		return nil, fmt.Errorf("community: decode groups: %w", err)
	}
	return groups, nil
}

func (s *PostgresStore) Delete(ctx context.Context, owner string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM `+pgstore.Ident(s.schema, "community_lists")+` WHERE owner_did = $1`, owner)
	return err
}

func (s *PostgresStore) IsCommunityMember(ctx context.Context, owner, did string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+pgstore.Ident(s.schema, "community_members")+` WHERE owner_did = $1 AND member_did = $2)`,
		owner, did,
	).Scan(&ok)
	return ok, err
}

func (s *PostgresStore) IsInnerCircle(ctx context.Context, owner, did string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+pgstore.Ident(s.schema, "community_members")+`
		 WHERE owner_did = $1 AND member_did = $2 AND is_inner_circle)`,
		owner, did,
	).Scan(&ok)
	return ok, err
}
