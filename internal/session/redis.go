package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fjwyyds6668/ai-tourguide/internal/domain"
	"github.com/fjwyyds6668/ai-tourguide/pkg/logger"
)

const redisKeyPrefix = "session:"

// minRedisTTL keeps sessions around for at least an hour even when
// configured lower.
const minRedisTTL = time.Hour

// Redis stores each session as a list of JSON turns under session:{id}.
// Expiry is left to the key TTL, refreshed on every append.
type Redis struct {
	rdb      redis.UniversalClient
	maxTurns int
	ttl      time.Duration
}

func NewRedis(rdb redis.UniversalClient, maxTurns int, ttl time.Duration) *Redis {
	if maxTurns < 1 {
		maxTurns = DefaultMaxTurns
	}
	if ttl < minRedisTTL {
		ttl = minRedisTTL
	}
	return &Redis{rdb: rdb, maxTurns: maxTurns, ttl: ttl}
}

func (r *Redis) Append(ctx context.Context, sessionID string, turns ...domain.Turn) (string, error) {
	if sessionID == "" {
		sessionID = NewID()
	}
	if len(turns) == 0 {
		return sessionID, nil
	}

	values := make([]any, 0, len(turns))
	for _, t := range turns {
		data, err := json.Marshal(t)
		if err != nil {
			return "", fmt.Errorf("failed to marshal turn: %w", err)
		}
		values = append(values, data)
	}

	key := redisKeyPrefix + sessionID
	// MULTI/EXEC keeps the push and the trim together, so concurrent appends
	// to one session land whole and in arrival order.
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		pipe.LTrim(ctx, key, int64(-r.maxTurns), -1)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to append session turns: %w", err)
	}
	return sessionID, nil
}

func (r *Redis) History(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	raw, err := r.rdb.LRange(ctx, redisKeyPrefix+sessionID, 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read session history: %w", err)
	}

	turns := make([]domain.Turn, 0, len(raw))
	for _, item := range raw {
		var t domain.Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			logger.Warn("skipping corrupt session turn", zap.String("session_id", sessionID), zap.Error(err))
			continue
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// ExpireIdle is a no-op: Redis expires idle sessions through key TTLs.
func (r *Redis) ExpireIdle(context.Context, time.Duration) (int, error) {
	return 0, nil
}

func (r *Redis) Delete(ctx context.Context, sessionID string) error {
	if err := r.rdb.Del(ctx, redisKeyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
