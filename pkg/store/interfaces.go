package store

import (
	"context"
	"time"
)

// ConversationRow is one message in the durable conversation log.
type ConversationRow struct {
	AgentID         string    `json:"agentId"`
	ConversationKey string    `json:"conversationKey"`
	SenderID        string    `json:"senderId,omitempty"`
	Role            string    `json:"role"`
	Content         string    `json:"content"`
	CreatedAt       time.Time `json:"createdAt"`
}

// ConversationLog persists raw conversation turns so an in-process cache can
// be rehydrated without loss after a restart.
type ConversationLog interface {
	AppendMessage(ctx context.Context, row ConversationRow) error
	// RecentMessages returns at most limit rows for the key, oldest first.
	RecentMessages(ctx context.Context, agentID, conversationKey string, limit int) ([]ConversationRow, error)
}
