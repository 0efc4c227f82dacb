package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Wattine-core-poc/server/internal/assistant/model"
	errx "github.com/Wattine-core-poc/server/internal/core/error"
	logx "github.com/Wattine-core-poc/server/pkg/logger"
	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"
)

// RedisFollowUpMemory stores the follow-up state as one JSON value with the
// TTL enforced by Redis itself, plus a created_at check at read time so a
// misconfigured server TTL can never serve stale slots.
type RedisFollowUpMemory struct {
	rdb redis.Cmdable
	ttl time.Duration
	now func() time.Time
}

func NewRedisFollowUpMemory(rdb redis.Cmdable, ttl time.Duration) *RedisFollowUpMemory {
	if ttl < 5*time.Second {
		ttl = 5 * time.Second
	}
	return &RedisFollowUpMemory{rdb: rdb, ttl: ttl, now: time.Now}
}

func (r *RedisFollowUpMemory) key(userID string) string {
	return fmt.Sprintf("assistant:%s:followup", userID)
}

func (r *RedisFollowUpMemory) GetIfFresh(ctx context.Context, userID string) (*model.FollowUpState, error) {
	raw, err := r.rdb.Get(ctx, r.key(userID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		logx.Error().Err(err).Str("userID", userID).Msg("failed to load follow-up state from redis")
		return nil, errx.WrapRedis(err)
	}

	var st model.FollowUpState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		logx.Error().Err(err).Str("userID", userID).Msg("failed to unmarshal follow-up state")
		return nil, fmt.Errorf("unmarshal follow-up state: %w", err)
	}
	if r.now().Sub(st.CreatedAt) > r.ttl {
		if err := r.rdb.Del(ctx, r.key(userID)).Err(); err != nil {
			logx.Warn().Err(err).Str("userID", userID).Msg("failed to evict stale follow-up state")
		}
		return nil, nil
	}
	return &st, nil
}

func (r *RedisFollowUpMemory) Set(ctx context.Context, userID string, state *model.FollowUpState) error {
	if state == nil {
		return nil
	}
	cp := *state
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = r.now()
	}
	b, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("marshal follow-up state: %w", err)
	}
	if err := r.rdb.Set(ctx, r.key(userID), b, r.ttl).Err(); err != nil {
		logx.Error().Err(err).Str("userID", userID).Msg("failed to store follow-up state")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisFollowUpMemory) Clear(ctx context.Context, userID string) error {
	if err := r.rdb.Del(ctx, r.key(userID)).Err(); err != nil {
		return errx.WrapRedis(err)
	}
	return nil
}

// RedisRecapMemory keeps the recap ring as a Redis list trimmed to its bound.
type RedisRecapMemory struct {
	rdb      redis.Cmdable
	maxLines int
	ttl      time.Duration
}

func NewRedisRecapMemory(rdb redis.Cmdable, maxLines int, ttl time.Duration) *RedisRecapMemory {
	if maxLines < 4 {
		maxLines = 4
	}
	return &RedisRecapMemory{rdb: rdb, maxLines: maxLines, ttl: ttl}
}

func (r *RedisRecapMemory) key(userID string) string {
	return fmt.Sprintf("assistant:%s:recap", userID)
}

func (r *RedisRecapMemory) AppendLine(ctx context.Context, userID string, line string) error {
	if line == "" {
		return nil
	}
	key := r.key(userID)

	// Consecutive-duplicate check; racing writers may rarely duplicate a
	// line, which is acceptable for advisory state.
	last, err := r.rdb.LRange(ctx, key, -1, -1).Result()
	if err != nil && err != redis.Nil {
		return errx.WrapRedis(err)
	}
	if len(last) > 0 && last[0] == line {
		return nil
	}

	if err := r.rdb.RPush(ctx, key, line).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to push recap line")
		return errx.WrapRedis(err)
	}
	if err := r.rdb.LTrim(ctx, key, int64(-r.maxLines), -1).Err(); err != nil {
		return errx.WrapRedis(err)
	}
	if r.ttl > 0 {
		if err := r.rdb.Expire(ctx, key, r.ttl).Err(); err != nil {
			logx.Warn().Err(err).Str("key", key).Msg("failed to refresh recap TTL")
		}
	}
	return nil
}

func (r *RedisRecapMemory) Recap(ctx context.Context, userID string) (string, error) {
	lines, err := r.rdb.LRange(ctx, r.key(userID), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return "", errx.WrapRedis(err)
	}
	return renderRecap(lines), nil
}

func (r *RedisRecapMemory) Clear(ctx context.Context, userID string) error {
	if err := r.rdb.Del(ctx, r.key(userID)).Err(); err != nil {
		return errx.WrapRedis(err)
	}
	return nil
}

// RedisHistoryBuffer keeps the chat window as a list of JSON messages,
// trimmed to the window bound, with the TTL extended on touch.
type RedisHistoryBuffer struct {
	rdb         redis.Cmdable
	maxMessages int
	ttl         time.Duration
}

func NewRedisHistoryBuffer(rdb redis.Cmdable, maxMessages int, ttl time.Duration) *RedisHistoryBuffer {
	if maxMessages < 4 {
		maxMessages = 4
	}
	return &RedisHistoryBuffer{rdb: rdb, maxMessages: maxMessages, ttl: ttl}
}

func (r *RedisHistoryBuffer) key(userID string) string {
	return fmt.Sprintf("assistant:%s:history", userID)
}

func (r *RedisHistoryBuffer) AppendMessage(ctx context.Context, userID string, msg *schema.Message) error {
	if msg == nil || msg.Content == "" {
		return nil
	}
	b, err := json.Marshal(msg)
	if err != nil {
		logx.Error().Err(err).Str("userID", userID).Msg("failed to marshal history message")
		return fmt.Errorf("marshal message: %w", err)
	}
	key := r.key(userID)

	if err := r.rdb.RPush(ctx, key, b).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to push message to redis")
		return errx.WrapRedis(err)
	}
	if err := r.rdb.LTrim(ctx, key, int64(-r.maxMessages), -1).Err(); err != nil {
		return errx.WrapRedis(err)
	}
	if r.ttl > 0 {
		if ok, err := r.rdb.Expire(ctx, key, r.ttl).Result(); err != nil {
			logx.Error().Err(err).Str("key", key).Msg("failed to set expire")
			return errx.WrapRedis(err)
		} else if !ok {
			logx.Warn().Str("key", key).Dur("ttl", r.ttl).Msg("failed to set TTL on history key")
		}
	}
	return nil
}

func (r *RedisHistoryBuffer) Window(ctx context.Context, userID string) ([]*schema.Message, error) {
	rows, err := r.rdb.LRange(ctx, r.key(userID), 0, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return []*schema.Message{}, nil
		}
		return nil, errx.WrapRedis(err)
	}

	msgs := make([]*schema.Message, 0, len(rows))
	for i, s := range rows {
		var m schema.Message
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			logx.Error().Err(err).Str("userID", userID).Int("index", i).Msg("failed to unmarshal history message")
			return nil, fmt.Errorf("unmarshal message at index %d: %w", i, err)
		}
		msgs = append(msgs, &m)
	}
	return msgs, nil
}

func (r *RedisHistoryBuffer) Clear(ctx context.Context, userID string) error {
	if err := r.rdb.Del(ctx, r.key(userID)).Err(); err != nil {
		return errx.WrapRedis(err)
	}
	return nil
}
