// Package sessions implements the session half of the dispatcher's identity
// and session collaborators (§3): a thread of conversation keyed by
// (channel_type, channel_id, chat_id, scope) supporting append-message,
// recent-N-messages, mark-completion-status, and reset.
package sessions

import (
	"context"

	"github.com/starkbot-agent/core/pkg/models"
)

// Store is the session persistence contract the dispatcher depends on.
type Store interface {
	// GetOrCreate resolves the session for key, creating a fresh one the
	// first time that key is seen.
	GetOrCreate(ctx context.Context, key string, channelType models.ChannelType, channelID int64, chatID string, scope models.Scope) (*models.Session, error)

	// AppendMessage records one message in the session's history.
	AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error

	// RecentMessages returns up to limit of the most recent messages, oldest
	// first, as the dispatcher assembles them into an LLM request.
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]*models.Message, error)

	// MarkStatus updates a session's completion status, so a second message
	// arriving mid-dispatch can be told the session is busy.
	MarkStatus(ctx context.Context, sessionID string, status models.CompletionStatus) error

	// Reset archives the session at key and creates a fresh one in its
	// place, used by the /reset command.
	Reset(ctx context.Context, key string, channelType models.ChannelType, channelID int64, chatID string, scope models.Scope) (*models.Session, error)
}

// KeyFor builds the lookup key the dispatcher uses to resolve a session,
// mirroring models.SessionKey.
func KeyFor(channelType models.ChannelType, channelID int64, chatID string, scope models.Scope) string {
	return models.SessionKey(channelType, channelID, chatID, scope)
}
