// Package redisstore provides the Redis-backed portion of collab.Store
// that the core is explicitly allowed to own: McpHttpSession
// rows, shared across gateway replicas, and the hierarchical usage
// counters, which must accumulate correctly under concurrent writers.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/archestra-ai/gateway/pkg/collab"
	"github.com/archestra-ai/gateway/pkg/errors"
)

// SessionStore implements the McpHttpSession portion of collab.Store.
type SessionStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSessionStore wraps an existing redis.Client. ttl is the session's
// expiry window; sessions not refreshed within ttl are considered gone.
func NewSessionStore(rdb *redis.Client, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &SessionStore{rdb: rdb, ttl: ttl}
}

func sessionRedisKey(connectionKey string) string {
	return "mcp:session:" + connectionKey
}

// GetMcpHttpSession returns nil, nil if the session is absent or expired.
func (s *SessionStore) GetMcpHttpSession(ctx context.Context, connectionKey string) (*collab.McpHttpSession, error) {
	raw, err := s.rdb.Get(ctx, sessionRedisKey(connectionKey)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewNetworkError("redis get mcp session", err)
	}

	var sess collab.McpHttpSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, errors.NewServerError("decoding mcp session", err)
	}
	return &sess, nil
}

// PutMcpHttpSession upserts the session row, refreshing its TTL.
func (s *SessionStore) PutMcpHttpSession(ctx context.Context, session *collab.McpHttpSession) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return errors.NewServerError("encoding mcp session", err)
	}
	if err := s.rdb.Set(ctx, sessionRedisKey(session.ConnectionKey), raw, s.ttl).Err(); err != nil {
		return errors.NewNetworkError("redis set mcp session", err)
	}
	return nil
}

// DeleteMcpHttpSession evicts the session row.
func (s *SessionStore) DeleteMcpHttpSession(ctx context.Context, connectionKey string) error {
	if err := s.rdb.Del(ctx, sessionRedisKey(connectionKey)).Err(); err != nil {
		return errors.NewNetworkError("redis del mcp session", err)
	}
	return nil
}

// DisassociateSessionsForProcess scans every session row and clears
// SessionEndpointPodName for those tagged with processInstanceID. Uses
// SCAN rather than KEYS so it never blocks the Redis event loop on a
// large session set.
func (s *SessionStore) DisassociateSessionsForProcess(ctx context.Context, processInstanceID string) error {
	iter := s.rdb.Scan(ctx, 0, "mcp:session:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := s.rdb.Get(ctx, key).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return errors.NewNetworkError("redis scan get", err)
		}

		var sess collab.McpHttpSession
		if err := json.Unmarshal(raw, &sess); err != nil {
			continue
		}
		if sess.SessionEndpointPodName == nil || *sess.SessionEndpointPodName != processInstanceID {
			continue
		}
		sess.SessionEndpointPodName = nil

		updated, err := json.Marshal(&sess)
		if err != nil {
			continue
		}
		if err := s.rdb.Set(ctx, key, updated, s.ttl).Err(); err != nil {
			return errors.NewNetworkError("redis set during disassociate", err)
		}
	}
	return iter.Err()
}

// CounterStore implements the hierarchical per-model usage counters
// portion of collab.Store with Redis HINCRBY, so concurrent gateway
// replicas accumulate correctly without a distributed lock.
type CounterStore struct {
	rdb *redis.Client
}

// NewCounterStore wraps an existing redis.Client.
func NewCounterStore(rdb *redis.Client) *CounterStore {
	return &CounterStore{rdb: rdb}
}

func counterHashKey(limitID string) string {
	return "mcp:limit-counters:" + limitID
}

const (
	fieldIn  = "tokens_in"
	fieldOut = "tokens_out"
)

func modelField(model, suffix string) string {
	return model + ":" + suffix
}

// IncrementModelCounter atomically adds to the per-model counter via a
// single pipelined HINCRBY pair.
func (c *CounterStore) IncrementModelCounter(ctx context.Context, limitID, model string, inDelta, outDelta int64) error {
	key := counterHashKey(limitID)
	_, err := c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, modelField(model, fieldIn), inDelta)
		pipe.HIncrBy(ctx, key, modelField(model, fieldOut), outDelta)
		return nil
	})
	if err != nil {
		return errors.NewNetworkError("redis hincrby usage counter", err)
	}
	return nil
}

// GetOrCreateModelCounter reads the current counter value, treating an
// absent hash field as zero (Redis HINCRBY itself creates it lazily on
// first increment, matching the "created lazily" invariant).
func (c *CounterStore) GetOrCreateModelCounter(ctx context.Context, limitID, model string) (*collab.LimitModelCounter, error) {
	key := counterHashKey(limitID)
	vals, err := c.rdb.HMGet(ctx, key, modelField(model, fieldIn), modelField(model, fieldOut)).Result()
	if err != nil {
		return nil, errors.NewNetworkError("redis hmget usage counter", err)
	}

	counter := &collab.LimitModelCounter{LimitID: limitID, Model: model}
	counter.CurrentUsageTokensIn = parseCounterValue(vals[0])
	counter.CurrentUsageTokensOut = parseCounterValue(vals[1])
	return counter, nil
}

func parseCounterValue(v any) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	var n int64
	_, _ = fmt.Sscan(s, &n)
	return n
}

// resetCountersScript zeroes every hash field on a limit's counter hash in
// a single atomic round trip, avoiding a read-then-write race with
// concurrent IncrementModelCounter calls.
var resetCountersScript = redis.NewScript(`
local key = KEYS[1]
local fields = redis.call('HKEYS', key)
for _, f in ipairs(fields) do
  redis.call('HSET', key, f, 0)
end
return #fields
`)

// ResetLimitCounters atomically zeroes all per-model counters for limitID.
func (c *CounterStore) ResetLimitCounters(ctx context.Context, limitID string) error {
	key := counterHashKey(limitID)
	if err := resetCountersScript.Run(ctx, c.rdb, []string{key}).Err(); err != nil && err != redis.Nil {
		return errors.NewNetworkError("redis reset usage counters", err)
	}
	return nil
}
