package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"workspaceCollab/backend/internal/protocol"
)

// PresenceCache mirrors hub membership into redis so that every hub instance
// and the HTTP presence endpoint see the same roster.
type PresenceCache interface {
	AddMember(ctx context.Context, workspaceID string, s protocol.Session, ttl time.Duration) error
	RemoveMember(ctx context.Context, workspaceID, sessionID string) error
	GetAliveMembers(ctx context.Context, workspaceID string) ([]protocol.Session, error)
	GetWorkspaces(ctx context.Context) ([]string, error)
}

// 具体实现：基于 redis 的 PresenceCache
type redisPresence struct {
	rdb redis.UniversalClient
	now func() time.Time
}

func NewRedisPresence(rdb redis.UniversalClient) PresenceCache {
	return &redisPresence{rdb: rdb, now: time.Now}
}

func (p *redisPresence) AddMember(ctx context.Context, workspaceID string, s protocol.Session, ttl time.Duration) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	// 刷新TTL也直接调用AddMember即可
	// ZSET score 使用 expireAt（Unix 秒），用于表达"逻辑 TTL"
	expireAt := p.now().Add(ttl).Unix()
	pipe := p.rdb.Pipeline()
	pipe.ZAdd(ctx, roomKey(workspaceID), redis.Z{Score: float64(expireAt), Member: s.SessionID})
	pipe.HSet(ctx, sessionsKey(workspaceID), s.SessionID, b)
	pipe.SAdd(ctx, workspacesKey(), workspaceID)
	_, err = pipe.Exec(ctx)
	return err
}

const removeMemberScript = `
-- KEYS[1] = roomKey(wsID)
-- KEYS[2] = sessionsKey(wsID)
-- ARGV[1] = sessionId
redis.call("ZREM", KEYS[1], ARGV[1])
redis.call("HDEL", KEYS[2], ARGV[1])
return redis.call("ZCARD", KEYS[1])
`

func (p *redisPresence) RemoveMember(ctx context.Context, workspaceID, sessionID string) error {
	left, err := redis.NewScript(removeMemberScript).Run(ctx, p.rdb,
		[]string{roomKey(workspaceID), sessionsKey(workspaceID)}, sessionID).Int64()
	if err != nil {
		return err
	}
	// 工作区已经没人了，从索引里摘掉（不同 slot，单独一条命令）
	if left == 0 {
		return p.rdb.SRem(ctx, workspacesKey(), workspaceID).Err()
	}
	return nil
}

func (p *redisPresence) GetWorkspaces(ctx context.Context) ([]string, error) {
	ids, err := p.rdb.SMembers(ctx, workspacesKey()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	return ids, nil
}

const purgeExpiredScript = `
-- KEYS[1] = roomKey(wsID)
-- KEYS[2] = sessionsKey(wsID)
-- ARGV[1] = now (unix seconds)
local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
if #expired > 0 then
	redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
	redis.call("HDEL", KEYS[2], unpack(expired))
end
return #expired
`

// GetAliveMembers returns the non-expired sessions ordered by expiry, after
// purging expired ones.
func (p *redisPresence) GetAliveMembers(ctx context.Context, workspaceID string) ([]protocol.Session, error) {
	// step1: 清理过期成员
	now := p.now().Unix()
	_, err := redis.NewScript(purgeExpiredScript).Run(ctx, p.rdb,
		[]string{roomKey(workspaceID), sessionsKey(workspaceID)}, now).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	// step2: 查询在线成员
	aliveIDs, err := p.rdb.ZRangeByScore(ctx, roomKey(workspaceID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now, 10), // > now
		Max: "+inf",
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	if len(aliveIDs) == 0 {
		return []protocol.Session{}, nil
	}

	// step3: 批量取会话详情
	vals, err := p.rdb.HMGet(ctx, sessionsKey(workspaceID), aliveIDs...).Result()
	if err != nil {
		return nil, err
	}
	members := make([]protocol.Session, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var s protocol.Session
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("decode session %s: %w", aliveIDs[i], err)
		}
		members = append(members, s)
	}
	return members, nil
}
