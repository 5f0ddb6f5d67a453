// Package models holds the data shapes shared across the dispatch,
// execution-tracking, and wallet subsystems: normalized inbound messages,
// session/identity records, execution tasks, queued transactions, and the
// gateway events that tie them together.
package models

import (
	"encoding/json"
	"time"
)

// ChannelType identifies the messaging platform a message or session
// belongs to.
type ChannelType string

const (
	ChannelTelegram ChannelType = "telegram"
	ChannelDiscord  ChannelType = "discord"
	ChannelSlack    ChannelType = "slack"
	ChannelTwitter  ChannelType = "twitter"
	ChannelWeb      ChannelType = "web"
)

// Scope distinguishes a direct message thread from a group/channel thread.
// Derived from whether chat_id equals user_id.
type Scope string

const (
	ScopeDM    Scope = "dm"
	ScopeGroup Scope = "group"
)

// ScopeFor derives the session Scope from the raw chat and user identifiers.
func ScopeFor(chatID, userID string) Scope {
	if chatID == userID {
		return ScopeDM
	}
	return ScopeGroup
}

// Role indicates the message author type in a session history.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry of session history, persisted by a sessions.Store.
type Message struct {
	ID        string      `json:"id"`
	SessionID string      `json:"session_id"`
	Role      Role        `json:"role"`
	Content   string      `json:"content"`
	UserID    string      `json:"user_id,omitempty"`
	UserName  string      `json:"user_name,omitempty"`
	MessageID string      `json:"message_id,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// CompletionStatus tracks whether a dispatch is actively running against a
// session, so a second message arriving mid-dispatch can be told to wait.
type CompletionStatus string

const (
	CompletionIdle    CompletionStatus = "idle"
	CompletionRunning CompletionStatus = "running"
)

// Session is a thread of conversation identified by
// (channel_type, channel_id, chat_id, scope).
type Session struct {
	ID         string           `json:"id"`
	ChannelType ChannelType     `json:"channel_type"`
	ChannelID  int64            `json:"channel_id"`
	ChatID     string           `json:"chat_id"`
	Scope      Scope            `json:"scope"`
	Status     CompletionStatus `json:"status"`
	Archived   bool             `json:"archived"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// Key returns the stable lookup key for a session: channel_type, channel_id,
// chat_id and scope uniquely identify one conversation thread.
func (s *Session) Key() string {
	return SessionKey(s.ChannelType, s.ChannelID, s.ChatID, s.Scope)
}

// SessionKey builds the session lookup key from its component parts.
func SessionKey(channelType ChannelType, channelID int64, chatID string, scope Scope) string {
	return string(channelType) + ":" + itoa64(channelID) + ":" + chatID + ":" + string(scope)
}

func itoa64(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// ToolCall represents a model's request to execute a tool, either from a
// native tool-calling API or parsed out of the mandatory JSON envelope.
type ToolCall struct {
	ToolName   string          `json:"tool_name"`
	ToolParams json.RawMessage `json:"tool_params"`
}

// ToolResult is the contract every tool's Execute returns. The dispatcher
// treats Success=false as a normal, model-observable event rather than a
// hard error.
type ToolResult struct {
	Success  bool           `json:"success"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
