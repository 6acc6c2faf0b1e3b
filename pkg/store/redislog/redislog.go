// Package redislog keeps the conversation log in Redis lists, one list per
// (agent, conversation key), capped to a maximum length.
package redislog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/wilhg/agentsim/pkg/store"
)

// Log implements store.ConversationLog.
type Log struct {
	rdb    redis.UniversalClient
	prefix string
	maxLen int64
}

// Option configures a Log.
type Option func(*Log)

// WithPrefix sets the key prefix. Default "agentsim:conv:".
func WithPrefix(p string) Option { return func(l *Log) { l.prefix = p } }

// WithMaxLen caps each list. Zero disables trimming. Default 500.
func WithMaxLen(n int64) Option { return func(l *Log) { l.maxLen = n } }

// New wraps an existing client.
func New(rdb redis.UniversalClient, opts ...Option) *Log {
	l := &Log{rdb: rdb, prefix: "agentsim:conv:", maxLen: 500}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Log) key(agentID, conversationKey string) string {
	return l.prefix + agentID + ":" + conversationKey
}

// AppendMessage pushes the row and trims the list in one transaction.
func (l *Log) AppendMessage(ctx context.Context, row store.ConversationRow) error {
	b, err := json.Marshal(row)
	if err != nil {
		return err
	}
	k := l.key(row.AgentID, row.ConversationKey)
	pipe := l.rdb.TxPipeline()
	pipe.RPush(ctx, k, b)
	if l.maxLen > 0 {
		pipe.LTrim(ctx, k, -l.maxLen, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis append: %w", err)
	}
	return nil
}

// RecentMessages returns the newest limit rows, oldest first.
func (l *Log) RecentMessages(ctx context.Context, agentID, conversationKey string, limit int) ([]store.ConversationRow, error) {
	if limit <= 0 {
		limit = 50
	}
	vals, err := l.rdb.LRange(ctx, l.key(agentID, conversationKey), -int64(limit), -1).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis range: %w", err)
	}
	out := make([]store.ConversationRow, 0, len(vals))
	for _, v := range vals {
		var r store.ConversationRow
		if err := json.Unmarshal([]byte(v), &r); err != nil {
			return nil, fmt.Errorf("decode row: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}
