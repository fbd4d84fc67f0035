package firehose

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"protoimsg/cmd/internal/pgstore"
)

// PostgresStore implements RecordStore and CursorStore. It does not own the pool.
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
		return nil, errors.New("firehose: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) UpsertRecord(ctx context.Context, r StoredRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+pgstore.Ident(s.schema, "records")+` (uri, did, collection, rkey, cid, record, indexed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (uri) DO UPDATE SET
		   cid = EXCLUDED.cid,
		   record = EXCLUDED.record,
		   indexed_at = EXCLUDED.indexed_at`,
		r.URI, r.DID, r.Collection, r.RKey, r.CID, []byte(r.Record), r.IndexedAt,
	)
	return err
}

func (s *PostgresStore) DeleteRecord(ctx context.Context, uri string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM `+pgstore.Ident(s.schema, "records")+` WHERE uri = $1`, uri)
	return err
}

func (s *PostgresStore) LoadCursor(ctx context.Context) (int64, bool, error) {
	var cursor int64
	err := s.pool.QueryRow(ctx,
		`SELECT cursor FROM `+pgstore.Ident(s.schema, "firehose_cursor")+` WHERE id = 1`,
	).Scan(&cursor)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return cursor, true, nil
}

func (s *PostgresStore) SaveCursor(ctx context.Context, cursor int64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+pgstore.Ident(s.schema, "firehose_cursor")+` (id, cursor, updated_at)
		 VALUES (1, $1, now())
		 ON CONFLICT (id) DO UPDATE SET cursor = EXCLUDED.cursor, updated_at = now()`,
		cursor,
	)
	return err
}
