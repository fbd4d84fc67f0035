package dm

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"protoimsg/cmd/internal/pgstore"
)

// PostgresStore is a Store backed by PostgreSQL. It does not own the pool.
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
		return nil, errors.New("dm: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) convs() string    { return pgstore.Ident(s.schema, "dm_conversations") }
func (s *PostgresStore) messages() string { return pgstore.Ident(s.schema, "dm_messages") }

const convColumns = `id, participant1, participant2, persist, created_at, updated_at`

func scanConversation(row pgx.Row) (Conversation, error) {
	var c Conversation
	if err := row.Scan(&c.ID, &c.Participant1, &c.Participant2, &c.Persist, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

func (s *PostgresStore) UpsertConversation(ctx context.Context, id, p1, p2 string, now time.Time) (Conversation, error) {
	return scanConversation(s.pool.QueryRow(ctx,
		`INSERT INTO `+s.convs()+` (id, participant1, participant2, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (id) DO UPDATE SET updated_at = EXCLUDED.updated_at
		 RETURNING `+convColumns,
		id, p1, p2, now,
	))
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	return scanConversation(s.pool.QueryRow(ctx,
		`SELECT `+convColumns+` FROM `+s.convs()+` WHERE id = $1`, id))
}

func (s *PostgresStore) InsertMessage(ctx context.Context, m Message) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE `+s.convs()+` SET updated_at = $2 WHERE id = $1`, m.ConversationID, m.CreatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+s.messages()+` (id, conversation_id, sender_did, text, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.ConversationID, m.SenderDID, m.Text, m.CreatedAt,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Messages(ctx context.Context, id string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = HistoryLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, sender_did, text, created_at FROM (
		   SELECT id, conversation_id, sender_did, text, created_at FROM `+s.messages()+`
		   WHERE conversation_id = $1
		   ORDER BY created_at DESC
		   LIMIT $2
		 ) newest ORDER BY created_at ASC`,
		id, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderDID, &m.Text, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.CreatedAt = m.CreatedAt.UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetPersist(ctx context.Context, id string, persist bool, now time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.convs()+` SET persist = $2, updated_at = $3 WHERE id = $1`, id, persist, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteConversation(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM `+s.convs()+` WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) PruneMessages(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.messages()+`
		 WHERE created_at < $1
		   AND conversation_id IN (SELECT id FROM `+s.convs()+` WHERE persist)`,
		cutoff,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) PruneEmpty(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.convs()+` c
		 WHERE c.persist
		   AND NOT EXISTS (SELECT 1 FROM `+s.messages()+` m WHERE m.conversation_id = c.id)`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
