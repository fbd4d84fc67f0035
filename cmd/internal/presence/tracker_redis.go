package presence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisUserPrefix = "presence:user:"
	redisRoomPrefix = "presence:room:"
	redisOnlineSet  = "presence:online"
)

// Lua guards keep "no-op unless online" atomic with respect to SetOffline.
var (
	setStatusScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'awayMessage', ARGV[2], 'lastSeen', ARGV[4])
if ARGV[3] ~= '' then
  redis.call('HSET', KEYS[1], 'visibleTo', ARGV[3])
end
return 1
`)

	joinRoomScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('SADD', KEYS[2], ARGV[1])
redis.call('SADD', KEYS[3], ARGV[2])
return 1
`)
)

// RedisTracker is the shared Tracker. Index reads verify that the referenced user
// hashes still exist and prune entries that point at nothing.
type RedisTracker struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// RedisTrackerOption configures RedisTracker.
type RedisTrackerOption func(*RedisTracker)

// WithKeyPrefix namespaces every key, mainly for isolated tests.
func WithKeyPrefix(prefix string) RedisTrackerOption {
	return func(t *RedisTracker) { t.prefix = prefix }
}

func NewRedisTracker(client redis.UniversalClient, opts ...RedisTrackerOption) (*RedisTracker, error) {
	if client == nil {
		return nil, errors.New("presence: nil redis client")
	}
	t := &RedisTracker{client: client, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t, nil
}

func (t *RedisTracker) userKey(did string) string      { return t.prefix + redisUserPrefix + did }
func (t *RedisTracker) userRoomsKey(did string) string { return t.prefix + redisUserPrefix + did + ":rooms" }
func (t *RedisTracker) roomKey(roomID string) string   { return t.prefix + redisRoomPrefix + roomID }
func (t *RedisTracker) onlineKey() string              { return t.prefix + redisOnlineSet }

func (t *RedisTracker) stamp() string { return t.now().UTC().Format(time.RFC3339Nano) }

func (t *RedisTracker) SetOnline(ctx context.Context, did string) error {
	key := t.userKey(did)
	_, err := t.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, "status", string(StatusOnline), "awayMessage", "", "lastSeen", t.stamp())
		p.HSetNX(ctx, key, "visibleTo", string(DefaultVisibility))
		p.SAdd(ctx, t.onlineKey(), did)
		return nil
	})
	if err != nil {
		return fmt.Errorf("presence: set online: %w", err)
	}
	return nil
}

func (t *RedisTracker) SetOffline(ctx context.Context, did string) error {
	rooms, err := t.client.SMembers(ctx, t.userRoomsKey(did)).Result()
	if err != nil {
		return fmt.Errorf("presence: set offline: %w", err)
	}
	_, err = t.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, roomID := range rooms {
			p.SRem(ctx, t.roomKey(roomID), did)
		}
		p.Del(ctx, t.userKey(did), t.userRoomsKey(did))
		p.SRem(ctx, t.onlineKey(), did)
		return nil
	})
	if err != nil {
		return fmt.Errorf("presence: set offline: %w", err)
	}
	return nil
}

func (t *RedisTracker) SetStatus(ctx context.Context, did string, status Status, awayMessage string, visibility Visibility) error {
	err := setStatusScript.Run(ctx, t.client, []string{t.userKey(did)},
		string(status), awayMessageFor(status, awayMessage), string(visibility), t.stamp(),
	).Err()
	if err != nil {
		return fmt.Errorf("presence: set status: %w", err)
	}
	return nil
}

func (t *RedisTracker) JoinRoom(ctx context.Context, did, roomID string) error {
	err := joinRoomScript.Run(ctx, t.client,
		[]string{t.userKey(did), t.userRoomsKey(did), t.roomKey(roomID)},
		roomID, did,
	).Err()
	if err != nil {
		return fmt.Errorf("presence: join room: %w", err)
	}
	return nil
}

func (t *RedisTracker) LeaveRoom(ctx context.Context, did, roomID string) error {
	_, err := t.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SRem(ctx, t.userRoomsKey(did), roomID)
		p.SRem(ctx, t.roomKey(roomID), did)
		return nil
	})
	if err != nil {
		return fmt.Errorf("presence: leave room: %w", err)
	}
	return nil
}

func (t *RedisTracker) Presence(ctx context.Context, did string) (Record, error) {
	vals, err := t.client.HMGet(ctx, t.userKey(did), "status", "awayMessage", "visibleTo").Result()
	if err != nil {
		return Record{}, fmt.Errorf("presence: get: %w", err)
	}
	return recordFromHash(vals), nil
}

func (t *RedisTracker) BulkPresence(ctx context.Context, dids []string) (map[string]Record, error) {
	out := make(map[string]Record, len(dids))
	if len(dids) == 0 {
		return out, nil
	}
	cmds := make([]*redis.SliceCmd, len(dids))
	_, err := t.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, did := range dids {
			cmds[i] = p.HMGet(ctx, t.userKey(did), "status", "awayMessage", "visibleTo")
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("presence: bulk get: %w", err)
	}
	for i, did := range dids {
		vals, err := cmds[i].Result()
		if err != nil {
			out[did] = Offline()
			continue
		}
		out[did] = recordFromHash(vals)
	}
	return out, nil
}

func (t *RedisTracker) UserRooms(ctx context.Context, did string) ([]string, error) {
	exists, err := t.client.Exists(ctx, t.userKey(did)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence: user rooms: %w", err)
	}
	if exists == 0 {
		// Orphaned room list from a crashed instance.
		_ = t.client.Del(ctx, t.userRoomsKey(did)).Err()
		return nil, nil
	}
	rooms, err := t.client.SMembers(ctx, t.userRoomsKey(did)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence: user rooms: %w", err)
	}
	sort.Strings(rooms)
	return rooms, nil
}

func (t *RedisTracker) RoomMembers(ctx context.Context, roomID string) ([]string, error) {
	return t.liveMembers(ctx, t.roomKey(roomID))
}

func (t *RedisTracker) OnlineUsers(ctx context.Context) ([]string, error) {
	return t.liveMembers(ctx, t.onlineKey())
}

// liveMembers returns set members whose user hash exists and removes the rest.
func (t *RedisTracker) liveMembers(ctx context.Context, setKey string) ([]string, error) {
	dids, err := t.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, fmt.Errorf("presence: members %s: %w", setKey, err)
	}
	if len(dids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.IntCmd, len(dids))
	_, err = t.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, did := range dids {
			cmds[i] = p.Exists(ctx, t.userKey(did))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("presence: members %s: %w", setKey, err)
	}

	live := make([]string, 0, len(dids))
	var stale []any
	for i, did := range dids {
		if cmds[i].Val() > 0 {
			live = append(live, did)
			continue
		}
		stale = append(stale, did)
	}
	if len(stale) > 0 {
		_ = t.client.SRem(ctx, setKey, stale...).Err()
	}
	sort.Strings(live)
	return live, nil
}

func recordFromHash(vals []any) Record {
	rec := Offline()
	if len(vals) < 3 {
		return rec
	}
	status, _ := vals[0].(string)
	if status == "" {
		return rec
	}
	rec.Status = ParseStatus(status)
	rec.AwayMessage, _ = vals[1].(string)
	if vis, _ := vals[2].(string); vis != "" {
		rec.Visibility = ParseVisibility(vis)
	}
	return rec
}
