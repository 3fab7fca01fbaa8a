// Package history records the turns exchanged between collaborators and the
// agent runtime, independent of any live session. Sessions are ephemeral;
// history is what survives a session teardown and lets a chat surface show
// what happened before.
package history

import (
	"context"
	"time"

	"github.com/agentrelay/agentrelay/core"
)

// Turn roles.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// Turn is one recorded message within a chat.
type Turn struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// NewTurn constructs a Turn with a fresh id and timestamp.
func NewTurn(chatID, role, text string) Turn {
	return Turn{
		ID:        core.NewID(),
		ChatID:    chatID,
		Role:      role,
		Text:      text,
		CreatedAt: time.Now(),
	}
}

// Store persists chat turns. Implementations must be safe for concurrent use.
type Store interface {
	// Append records one turn at the end of the chat's history.
	Append(ctx context.Context, turn Turn) error
	// Recent returns up to n most recent turns in chronological order.
	Recent(ctx context.Context, chatID string, n int) ([]Turn, error)
	// Count returns the number of retained turns for the chat.
	Count(ctx context.Context, chatID string) (int, error)
	// Clear drops all turns for the chat.
	Clear(ctx context.Context, chatID string) error
}
