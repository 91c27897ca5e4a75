// Package presence keeps a redis index of which node currently holds each
// miner's connection.
package presence

import (
	"context"
	"strconv"
	"time"

	"MinerWs/module/miner/model"
	"MinerWs/service/session"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "miner:online:"

// Tracker is called by the server on connection lifecycle changes.
type Tracker interface {
	Online(ctx context.Context, s session.Session) error
	Touch(ctx context.Context, s session.Session) error
	Offline(ctx context.Context, s session.Session) error
	Get(ctx context.Context, clientID string) (*model.MinerPresence, error)
}

func Key(clientID string) string { return keyPrefix + clientID }

// 仅当 conn_id 仍然匹配时续期
// KEYS[1] = presence key
// ARGV[1] = conn id, ARGV[2] = last_active(ms), ARGV[3] = ttl(ms)
// 返回：1 已续期；0 已被其他连接接管或不存在
const luaTouch = `
if redis.call("HGET", KEYS[1], "conn_id") ~= ARGV[1] then
  return 0
end
redis.call("HSET", KEYS[1], "last_active", ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return 1
`

// 仅当 conn_id 仍然匹配时删除，避免旧连接的关闭删掉新连接的记录
// KEYS[1] = presence key
// ARGV[1] = conn id
const luaOffline = `
if redis.call("HGET", KEYS[1], "conn_id") == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var (
	touchScript   = redis.NewScript(luaTouch)
	offlineScript = redis.NewScript(luaOffline)
)

type RedisTracker struct {
	rdb    redis.UniversalClient
	nodeID string
	ttl    time.Duration
}

var _ Tracker = (*RedisTracker)(nil)

func NewRedisTracker(rdb redis.UniversalClient, nodeID string, ttl time.Duration) *RedisTracker {
	if ttl <= 0 {
		ttl = 3 * time.Minute
	}
	return &RedisTracker{rdb: rdb, nodeID: nodeID, ttl: ttl}
}

func (t *RedisTracker) Online(ctx context.Context, s session.Session) error {
	key := Key(s.ClientID)
	_, err := t.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		p.HSet(ctx, key,
			"conn_id", s.ConnectionID,
			"login_name", s.LoginName,
			"node_id", t.nodeID,
			"since", s.CreatedAt.UnixMilli(),
			"last_active", s.LastActiveAt.UnixMilli(),
		)
		p.PExpire(ctx, key, t.ttl)
		return nil
	})
	return err
}

func (t *RedisTracker) Touch(ctx context.Context, s session.Session) error {
	return touchScript.Run(ctx, t.rdb, []string{Key(s.ClientID)},
		s.ConnectionID, s.LastActiveAt.UnixMilli(), t.ttl.Milliseconds()).Err()
}

func (t *RedisTracker) Offline(ctx context.Context, s session.Session) error {
	return offlineScript.Run(ctx, t.rdb, []string{Key(s.ClientID)}, s.ConnectionID).Err()
}

// Get returns the presence record, or nil when the miner is offline.
func (t *RedisTracker) Get(ctx context.Context, clientID string) (*model.MinerPresence, error) {
	m, err := t.rdb.HGetAll(ctx, Key(clientID)).Result()
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, nil
	}
	return &model.MinerPresence{
		ClientID:   clientID,
		ConnID:     m["conn_id"],
		LoginName:  m["login_name"],
		NodeID:     m["node_id"],
		Since:      parseMillis(m["since"]),
		LastActive: parseMillis(m["last_active"]),
	}, nil
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// Noop is used when no redis is configured.
type Noop struct{}

var _ Tracker = Noop{}

func (Noop) Online(context.Context, session.Session) error  { return nil }
func (Noop) Touch(context.Context, session.Session) error   { return nil }
func (Noop) Offline(context.Context, session.Session) error { return nil }
func (Noop) Get(context.Context, string) (*model.MinerPresence, error) {
	return nil, nil
}
