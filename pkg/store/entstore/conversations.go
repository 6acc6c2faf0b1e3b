package entstore

import (
	"context"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/wilhg/agentsim/pkg/store"
)

// AppendMessage appends one row to the conversation log. Row ids are
// monotonically increasing, which gives the log its order.
func (s *Store) AppendMessage(ctx context.Context, row store.ConversationRow) error {
	var sender any
	if row.SenderID != "" {
		sender = row.SenderID
	}
	query, args := s.builder().Insert(conversationsTable).
		Columns("agent_id", "conversation_key", "sender_id", "role", "content", "created_at").
		Values(row.AgentID, row.ConversationKey, sender, row.Role, row.Content, row.CreatedAt.UTC()).
		Query()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// RecentMessages returns the newest limit rows for a key in ascending order.
func (s *Store) RecentMessages(ctx context.Context, agentID, conversationKey string, limit int) ([]store.ConversationRow, error) {
	if limit <= 0 {
		limit = 50
	}
	query, args := s.builder().
		Select("agent_id", "conversation_key", "sender_id", "role", "content", "created_at").
		From(entsql.Table(conversationsTable)).
		Where(entsql.And(entsql.EQ("agent_id", agentID), entsql.EQ("conversation_key", conversationKey))).
		OrderExpr(entsql.Expr("id DESC")).
		Limit(limit).
		Query()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	var out []store.ConversationRow
	for rows.Next() {
		var (
			r      store.ConversationRow
			sender *string
		)
		if err := rows.Scan(&r.AgentID, &r.ConversationKey, &sender, &r.Role, &r.Content, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if sender != nil {
			r.SenderID = *sender
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
