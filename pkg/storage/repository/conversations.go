package repository

import (
	"context"
	"time"
)

// Event kinds stored for a conversation.
const (
	EventStatus   = "status"
	EventMessage  = "message"
	EventChunk    = "chunk"
	EventComplete = "complete"
	EventError    = "error"
)

// ConversationEvent is one persisted callback of an upstream stream.
type ConversationEvent struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	AgentID        string    `json:"agent_id,omitempty"`
	Kind           string    `json:"kind"`
	Status         string    `json:"status,omitempty"`
	Role           string    `json:"role,omitempty"`
	Content        string    `json:"content,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ConversationRepository stores stream events per conversation.
type ConversationRepository interface {
	// AppendEvent stores ev, filling in ID and CreatedAt when they are empty.
	// An event whose ID is already stored is skipped.
	AppendEvent(ctx context.Context, ev *ConversationEvent) error

	// ListEvents returns the most recent events of a conversation in arrival order.
	// A limit of zero or less returns all of them.
	ListEvents(ctx context.Context, conversationID string, limit int) ([]ConversationEvent, error)

	// LatestStatus returns the last status recorded for a conversation, or "".
	LatestStatus(ctx context.Context, conversationID string) (string, error)

	// ListConversations returns the ids of every conversation with stored events.
	ListConversations(ctx context.Context) ([]string, error)

	// PruneBefore deletes events created before cutoff and reports how many went.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
