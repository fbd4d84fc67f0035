package rooms

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
		return nil, errors.New("rooms: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) table(name string) string { return pgstore.Ident(s.schema, name) }

func (s *PostgresStore) UpsertRoom(ctx context.Context, r Room) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table("rooms")+`
		   (id, uri, did, name, topic, description, purpose, visibility,
		    min_account_age_days, slow_mode_seconds, allowlist_enabled, created_at, indexed_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12, now())
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name,
		   topic = EXCLUDED.topic,
		   description = EXCLUDED.description,
		   purpose = EXCLUDED.purpose,
		   visibility = EXCLUDED.visibility,
		   min_account_age_days = EXCLUDED.min_account_age_days,
		   slow_mode_seconds = EXCLUDED.slow_mode_seconds,
		   allowlist_enabled = EXCLUDED.allowlist_enabled,
		   indexed_at = now()
		 WHERE `+s.table("rooms")+`.did = EXCLUDED.did`,
		r.ID, r.URI, r.OwnerDID, r.Name, r.Topic, r.Description, r.Purpose, r.Visibility,
		r.MinAccountAgeDays, r.SlowModeSeconds, r.AllowlistEnabled, r.CreatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRoomIDCollision
	}
	return nil
}

func (s *PostgresStore) GetRoom(ctx context.Context, id string) (Room, error) {
	var r Room
	err := s.pool.QueryRow(ctx,
		`SELECT id, uri, did, name, topic, description, purpose, visibility,
		        min_account_age_days, slow_mode_seconds, allowlist_enabled, created_at
		 FROM `+s.table("rooms")+` WHERE id = $1`, id,
	).Scan(&r.ID, &r.URI, &r.OwnerDID, &r.Name, &r.Topic, &r.Description, &r.Purpose, &r.Visibility,
		&r.MinAccountAgeDays, &r.SlowModeSeconds, &r.AllowlistEnabled, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Room{}, ErrNotFound
	}
	if err != nil {
		return Room{}, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}

func (s *PostgresStore) DeleteRoomByURI(ctx context.Context, uri string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM `+s.table("rooms")+` WHERE uri = $1`, uri)
	return err
}

func (s *PostgresStore) InsertMessage(ctx context.Context, m Message) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table("room_messages")+`
		   (uri, cid, room_id, did, text, reply_root, reply_parent, created_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8)
		 ON CONFLICT (uri) DO NOTHING`,
		m.URI, m.CID, m.RoomID, m.DID, m.Text, m.ReplyRoot, m.ReplyParent, m.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) DeleteMessageByURI(ctx context.Context, uri string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM `+s.table("room_messages")+` WHERE uri = $1`, uri)
	return err
}

func (s *PostgresStore) PreviousMessageAt(ctx context.Context, roomID, did string, at time.Time, exceptURI string) (time.Time, bool, error) {
	var last *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT max(created_at) FROM `+s.table("room_messages")+`
		 WHERE room_id = $1 AND did = $2 AND created_at <= $3 AND uri <> $4`,
		roomID, did, at, exceptURI,
	).Scan(&last)
	if err != nil {
		return time.Time{}, false, err
	}
	if last == nil {
		return time.Time{}, false, nil
	}
	return last.UTC(), true, nil
}

func (s *PostgresStore) RecordModAction(ctx context.Context, a ModAction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table("mod_actions")+`
		   (uri, room_id, actor_did, subject_did, action, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (uri) DO NOTHING`,
		a.URI, a.RoomID, a.ActorDID, a.SubjectDID, a.Action, a.Reason, a.CreatedAt,
	)
	return err
}

func (s *PostgresStore) DeleteModActionByURI(ctx context.Context, uri string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM `+s.table("mod_actions")+` WHERE uri = $1`, uri)
	return err
}

func (s *PostgresStore) IsBanned(ctx context.Context, roomID, did string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+s.table("mod_actions")+`
		 WHERE room_id = $1 AND subject_did = $2 AND action = $3)`,
		roomID, did, ActionBan,
	).Scan(&ok)
	return ok, err
}

// upsertMember writes a (room, subject) row keyed by record URI. A record that moved to
// another subject first releases its old row so the URI stays unique.
func (s *PostgresStore) upsertMember(ctx context.Context, table, uri, roomID, subject string, extra string, args ...any) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`DELETE FROM `+s.table(table)+` WHERE uri = $1 AND NOT (room_id = $2 AND subject_did = $3)`,
		uri, roomID, subject,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, extra, args...); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) UpsertRole(ctx context.Context, r Role) error {
	return s.upsertMember(ctx, "room_roles", r.URI, r.RoomID, r.SubjectDID,
		`INSERT INTO `+s.table("room_roles")+` (room_id, subject_did, uri, role, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (room_id, subject_did) DO UPDATE SET uri = EXCLUDED.uri, role = EXCLUDED.role, created_at = EXCLUDED.created_at`,
		r.RoomID, r.SubjectDID, r.URI, r.Role, r.CreatedAt,
	)
}

func (s *PostgresStore) DeleteRoleByURI(ctx context.Context, uri string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM `+s.table("room_roles")+` WHERE uri = $1`, uri)
	return err
}

func (s *PostgresStore) GetRole(ctx context.Context, roomID, did string) (string, error) {
	var role string
	err := s.pool.QueryRow(ctx,
		`SELECT role FROM `+s.table("room_roles")+` WHERE room_id = $1 AND subject_did = $2`,
		roomID, did,
	).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return role, err
}

func (s *PostgresStore) UpsertAllowlist(ctx context.Context, e AllowlistEntry) error {
	return s.upsertMember(ctx, "room_allowlist", e.URI, e.RoomID, e.SubjectDID,
		`INSERT INTO `+s.table("room_allowlist")+` (room_id, subject_did, uri, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (room_id, subject_did) DO UPDATE SET uri = EXCLUDED.uri, created_at = EXCLUDED.created_at`,
		e.RoomID, e.SubjectDID, e.URI, e.CreatedAt,
	)
}

func (s *PostgresStore) DeleteAllowlistByURI(ctx context.Context, uri string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM `+s.table("room_allowlist")+` WHERE uri = $1`, uri)
	return err
}

func (s *PostgresStore) IsAllowlisted(ctx context.Context, roomID, did string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+s.table("room_allowlist")+` WHERE room_id = $1 AND subject_did = $2)`,
		roomID, did,
	).Scan(&ok)
	return ok, err
}
