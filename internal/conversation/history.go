package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	historyMaxEntries = 50
	historyTTL        = 24 * time.Hour
)

// HistoryCache keeps each session's most recent turns in a Redis list so
// prompt assembly avoids a DB read on the hot path. The database stays the
// source of truth; a cache miss falls back to it.
type HistoryCache struct {
	client redis.Cmdable
}

func NewHistoryCache(client redis.Cmdable) *HistoryCache {
	return &HistoryCache{client: client}
}

type historyEntry struct {
	Role           string `json:"role"`
	Content        string `json:"content"`
	SequenceNumber int    `json:"sequence_number"`
}

func historyKey(sessionID uuid.UUID) string {
	return "conv:history:" + sessionID.String()
}

// Recent returns the last `limit` cached turns in sequence order, or nil
// when the cache holds nothing for the session.
func (c *HistoryCache) Recent(ctx context.Context, sessionID uuid.UUID, limit int) ([]historyEntry, error) {
	vals, err := c.client.LRange(ctx, historyKey(sessionID), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", historyKey(sessionID), err)
	}

	entries := make([]historyEntry, 0, len(vals))
	for _, v := range vals {
		var entry historyEntry
		if err := json.Unmarshal([]byte(v), &entry); err != nil {
			continue // skip malformed entries
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Append pushes a turn onto the session's list, trimming to the cap.
func (c *HistoryCache) Append(ctx context.Context, sessionID uuid.UUID, msg *Message) error {
	data, err := json.Marshal(historyEntry{
		Role:           msg.Role,
		Content:        msg.Content,
		SequenceNumber: msg.SequenceNumber,
	})
	if err != nil {
		return fmt.Errorf("marshaling history entry: %w", err)
	}

	key := historyKey(sessionID)
	pipe := c.client.Pipeline()
	pipe.RPush(ctx, key, string(data))
	pipe.LTrim(ctx, key, -historyMaxEntries, -1)
	pipe.Expire(ctx, key, historyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pipeline exec for %s: %w", key, err)
	}
	return nil
}

// Invalidate drops the cached history, forcing the next read through to
// the database.
func (c *HistoryCache) Invalidate(ctx context.Context, sessionID uuid.UUID) error {
	return c.client.Del(ctx, historyKey(sessionID)).Err()
}
