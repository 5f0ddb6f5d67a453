package models

// NormalizedMessage is the single shape every channel listener (C9) produces
// and the dispatcher (C8) consumes. It is immutable once constructed.
type NormalizedMessage struct {
	ChannelID     int64  `json:"channel_id"`
	ChannelType   string `json:"channel_type"`
	ChatID        string `json:"chat_id"`
	UserID        string `json:"user_id"`
	UserName      string `json:"user_name"`
	Text          string `json:"text"`
	MessageID     string `json:"message_id,omitempty"`
	ForceSafeMode bool   `json:"force_safe_mode"`
}

// Scope derives the session scope for this message.
func (m NormalizedMessage) ScopeValue() Scope {
	return ScopeFor(m.ChatID, m.UserID)
}

// DispatchResult is the dispatcher's output for one dispatch call.
type DispatchResult struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// Success builds a successful DispatchResult.
func Success(response string) DispatchResult {
	return DispatchResult{Response: response}
}

// Errorf builds a failed DispatchResult carrying a user-visible message.
func Errorf(msg string) DispatchResult {
	return DispatchResult{Error: msg}
}

// AgentSettings is the active configuration the dispatcher uses to build an
// LLM client for a given message. Its absence is a terminal dispatch error.
type AgentSettings struct {
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	RogueMode bool   `json:"rogue_mode"`
}
