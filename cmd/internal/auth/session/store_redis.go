package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"protoimsg/cmd/internal/redisx"
)

const (
	redisSessionPrefix = "session:"
	redisTokenPrefix   = "session:token:"
	redisDIDPrefix     = "session:did:"
)

var setIfExistsScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return 1
`)

// RedisStore shares sessions between server instances. Session and token keys expire on
// their own; the per-DID index is cleaned lazily when it points at expired sessions.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// RedisStoreOption configures RedisStore.
type RedisStoreOption func(*RedisStore)

// WithKeyPrefix namespaces every key, mainly for isolated tests.
func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

func NewRedisStore(client redis.UniversalClient, opts ...RedisStoreOption) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("session: nil redis client")
	}
	s := &RedisStore{client: client}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

func (s *RedisStore) sessionKey(id string) string { return redisx.JoinKey(s.prefix, redisSessionPrefix, id) }
func (s *RedisStore) tokenKey(hash string) string { return redisx.JoinKey(s.prefix, redisTokenPrefix, hash) }
func (s *RedisStore) didKey(did string) string    { return redisx.JoinKey(s.prefix, redisDIDPrefix, did) }

func (s *RedisStore) Create(ctx context.Context, sess Session) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		key := s.sessionKey(sess.ID)
		p.HSet(ctx, key,
			"did", sess.DID,
			"handle", sess.Handle,
			"token_hash", sess.TokenHash,
			"created_at", sess.CreatedAt.UTC().Format(time.RFC3339Nano),
			"expires_at", sess.ExpiresAt.UTC().Format(time.RFC3339Nano),
		)
		p.ExpireAt(ctx, key, sess.ExpiresAt)
		p.Set(ctx, s.tokenKey(sess.TokenHash), sess.ID, 0)
		p.ExpireAt(ctx, s.tokenKey(sess.TokenHash), sess.ExpiresAt)
		p.SAdd(ctx, s.didKey(sess.DID), sess.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("session: create: %w", err)
	}
	return nil
}

func (s *RedisStore) GetByTokenHash(ctx context.Context, hash string) (Session, error) {
	id, err := s.client.Get(ctx, s.tokenKey(hash)).Result()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("session: get: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *RedisStore) GetByID(ctx context.Context, id string) (Session, error) {
	vals, err := s.client.HGetAll(ctx, s.sessionKey(id)).Result()
	if err != nil {
		return Session{}, fmt.Errorf("session: get: %w", err)
	}
	if len(vals) == 0 {
		return Session{}, ErrSessionNotFound
	}
	sess := Session{
		ID:        id,
		TokenHash: vals["token_hash"],
		DID:       vals["did"],
		Handle:    vals["handle"],
	}
	sess.CreatedAt, _ = time.Parse(time.RFC3339Nano, vals["created_at"])
	sess.ExpiresAt, err = time.Parse(time.RFC3339Nano, vals["expires_at"])
	if err != nil || sess.Expired(time.Now()) {
		return Session{}, ErrSessionNotFound
	}
	return sess, nil
}

// liveIDs returns the session IDs of did whose hashes still exist, dropping the rest
// from the index.
func (s *RedisStore) liveIDs(ctx context.Context, did string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.didKey(did)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	cmds := make([]*redis.IntCmd, len(ids))
	if _, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.Exists(ctx, s.sessionKey(id))
		}
		return nil
	}); err != nil {
		return nil, err
	}

	live := ids[:0]
	var stale []any
	for i, id := range ids {
		if cmds[i].Val() == 1 {
			live = append(live, id)
		} else {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		_ = s.client.SRem(ctx, s.didKey(did), stale...).Err()
	}
	return live, nil
}

func (s *RedisStore) HasIdentity(ctx context.Context, did string) (bool, error) {
	ids, err := s.liveIDs(ctx, did)
	if err != nil {
		return false, fmt.Errorf("session: has identity: %w", err)
	}
	return len(ids) > 0, nil
}

func (s *RedisStore) UpdateHandle(ctx context.Context, did, handle string) error {
	ids, err := s.liveIDs(ctx, did)
	if err != nil {
		return fmt.Errorf("session: update handle: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	for _, id := range ids {
		if err := setIfExistsScript.Run(ctx, s.client, []string{s.sessionKey(id)}, "handle", handle).Err(); err != nil {
			return fmt.Errorf("session: update handle: %w", err)
		}
	}
	return nil
}

func (s *RedisStore) RevokeByIdentity(ctx context.Context, did string) (int, error) {
	ids, err := s.liveIDs(ctx, did)
	if err != nil {
		return 0, fmt.Errorf("session: revoke: %w", err)
	}
	hashes := make([]*redis.StringCmd, len(ids))
	if _, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			hashes[i] = p.HGet(ctx, s.sessionKey(id), "token_hash")
		}
		return nil
	}); err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("session: revoke: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			p.Del(ctx, s.sessionKey(id))
			if h := hashes[i].Val(); h != "" {
				p.Del(ctx, s.tokenKey(h))
			}
		}
		p.Del(ctx, s.didKey(did))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("session: revoke: %w", err)
	}
	return len(ids), nil
}

func (s *RedisStore) Revoke(ctx context.Context, id string) error {
	sess, err := s.GetByID(ctx, id)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.sessionKey(id), s.tokenKey(sess.TokenHash))
		p.SRem(ctx, s.didKey(sess.DID), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("session: revoke: %w", err)
	}
	return nil
}

// Prune is a no-op: Redis expires session and token keys itself.
func (s *RedisStore) Prune(context.Context, time.Time) (int, error) { return 0, nil }
