package config

import (
	"fmt"
	"os"

	"github.com/starkbot-agent/core/pkg/models"
)

// Config is the root of StarkBot's runtime configuration, loaded from a
// YAML (or JSON5) file via Load and overridable by environment variables
// for secrets that should never live on disk.
type Config struct {
	Agent        AgentConfig              `yaml:"agent"`
	Channels     ChannelsConfig           `yaml:"channels"`
	Tools        ToolsConfig              `yaml:"tools"`
	Wallet       WalletConfig             `yaml:"wallet"`
	SafeMode     SafeModeConfig           `yaml:"safe_mode"`
	Observability ObservabilityConfig     `yaml:"observability"`
}

// AgentConfig is the default models.AgentSettings the dispatcher falls back
// to when a per-channel override isn't present.
type AgentConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
	RogueMode bool   `yaml:"rogue_mode"`
}

// Settings resolves this AgentConfig into models.AgentSettings, reading the
// API key out of the environment rather than the config file.
func (a AgentConfig) Settings() models.AgentSettings {
	return models.AgentSettings{
		Provider:  a.Provider,
		Model:     a.Model,
		APIKey:    os.Getenv(a.APIKeyEnv),
		RogueMode: a.RogueMode,
	}
}

// ChannelsConfig enables/configures each listener (C9).
type ChannelsConfig struct {
	Discord  DiscordConfig  `yaml:"discord"`
	Telegram TelegramConfig `yaml:"telegram"`
	Slack    SlackConfig    `yaml:"slack"`
	Twitter  TwitterConfig  `yaml:"twitter"`
	Web      WebConfig      `yaml:"web"`
}

type DiscordConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Token       string `yaml:"token_env"`
	ChannelID   int64  `yaml:"channel_id"`
	AdminUserID string `yaml:"admin_user_id"`
}

type TelegramConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Token       string `yaml:"token_env"`
	ChannelID   int64  `yaml:"channel_id"`
	AdminUserID string `yaml:"admin_user_id"`
}

type SlackConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BotToken    string `yaml:"bot_token_env"`
	AppToken    string `yaml:"app_token_env"`
	ChannelID   int64  `yaml:"channel_id"`
	AdminUserID string `yaml:"admin_user_id"`
}

// TwitterConfig configures the poll-based mention listener (§4.9): a poll
// interval, reply-chance dice roll, and OAuth1 credential env var names.
type TwitterConfig struct {
	Enabled         bool    `yaml:"enabled"`
	BotHandle       string  `yaml:"bot_handle"`
	BotUserID       string  `yaml:"bot_user_id"`
	ChannelID       int64   `yaml:"channel_id"`
	PollIntervalSec int     `yaml:"poll_interval_sec"`
	ReplyChance     float64 `yaml:"reply_chance"`
	IsPro           bool    `yaml:"is_pro"`
	MaxMentionsPerHour int  `yaml:"max_mentions_per_hour"`
	AdminUserID     string  `yaml:"admin_user_id"`

	ConsumerKeyEnv    string `yaml:"consumer_key_env"`
	ConsumerSecretEnv string `yaml:"consumer_secret_env"`
	AccessTokenEnv    string `yaml:"access_token_env"`
	AccessSecretEnv   string `yaml:"access_secret_env"`
	BearerTokenEnv    string `yaml:"bearer_token_env"`
}

type WebConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	BasePath string `yaml:"base_path"`
}

// ToolsConfig seeds the default models.ToolConfig profile applied when a
// channel has no explicit override.
type ToolsConfig struct {
	Profile       string   `yaml:"profile"`
	AllowList     []string `yaml:"allow_list"`
	DenyList      []string `yaml:"deny_list"`
	AllowedGroups []string `yaml:"allowed_groups"`
}

// ToolConfig resolves this ToolsConfig into models.ToolConfig.
func (t ToolsConfig) ToolConfig() models.ToolConfig {
	groups := make([]models.ToolGroup, 0, len(t.AllowedGroups))
	for _, g := range t.AllowedGroups {
		groups = append(groups, models.ToolGroup(g))
	}
	profile := models.Profile(t.Profile)
	if profile == "" {
		profile = models.ProfileFull
	}
	return models.ToolConfig{
		Profile:       profile,
		AllowList:     t.AllowList,
		DenyList:      t.DenyList,
		AllowedGroups: groups,
	}
}

// WalletConfig selects between the local-key and Flash remote wallet
// providers (C1).
type WalletConfig struct {
	Mode             string `yaml:"mode"` // "standard" | "flash"
	PrivateKeyEnv    string `yaml:"private_key_env"`
	ControlPlaneURL  string `yaml:"control_plane_url"`
	TenantIDEnv      string `yaml:"tenant_id_env"`
	InstanceTokenEnv string `yaml:"instance_token_env"`
	Network          string `yaml:"network"` // label used in explorer links, e.g. "base"
	ChainID          int64  `yaml:"chain_id"`
	ExplorerURLFmt   string `yaml:"explorer_url_fmt"` // e.g. "https://basescan.org/tx/%s"
	RPCURLEnv        string `yaml:"rpc_url_env"`
}

// SafeModeConfig tunes the C10 rate limiter's two gates.
type SafeModeConfig struct {
	QueryWindowMinutes    int `yaml:"query_window_minutes"`
	MaxQueriesPerWindow   int `yaml:"max_queries_per_window"`
	ChannelCreationMaxQueue int `yaml:"channel_creation_max_queue"`
}

// ObservabilityConfig configures structured logging and metrics.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // "json" | "text"
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns a Config with sane defaults for local development.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{Provider: "anthropic", Model: "claude-sonnet-4-20250514", APIKeyEnv: "ANTHROPIC_API_KEY"},
		Tools: ToolsConfig{Profile: string(models.ProfileFull)},
		Wallet: WalletConfig{
			Mode:           "standard",
			PrivateKeyEnv:  "STARKBOT_WALLET_PRIVATE_KEY",
			Network:        "base",
			ExplorerURLFmt: "https://basescan.org/tx/%s",
			RPCURLEnv:      "STARKBOT_RPC_URL",
		},
		Channels: ChannelsConfig{
			Twitter: TwitterConfig{
				PollIntervalSec:    30,
				ReplyChance:        1.0,
				MaxMentionsPerHour: 20,
			},
			Web: WebConfig{Addr: ":8089", BasePath: "/api/v1/chat"},
		},
		SafeMode: SafeModeConfig{
			QueryWindowMinutes:      10,
			MaxQueriesPerWindow:     20,
			ChannelCreationMaxQueue: 50,
		},
		Observability: ObservabilityConfig{LogLevel: "info", LogFormat: "json"},
	}
}

// Load reads and parses the config file at path, resolving $include
// directives and applying defaults for unset fields.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Agent.Provider == "" {
		cfg.Agent.Provider = def.Agent.Provider
	}
	if cfg.Agent.Model == "" {
		cfg.Agent.Model = def.Agent.Model
	}
	if cfg.Agent.APIKeyEnv == "" {
		cfg.Agent.APIKeyEnv = def.Agent.APIKeyEnv
	}
	if cfg.Tools.Profile == "" {
		cfg.Tools.Profile = def.Tools.Profile
	}
	if cfg.SafeMode.QueryWindowMinutes == 0 {
		cfg.SafeMode.QueryWindowMinutes = def.SafeMode.QueryWindowMinutes
	}
	if cfg.SafeMode.MaxQueriesPerWindow == 0 {
		cfg.SafeMode.MaxQueriesPerWindow = def.SafeMode.MaxQueriesPerWindow
	}
	if cfg.SafeMode.ChannelCreationMaxQueue == 0 {
		cfg.SafeMode.ChannelCreationMaxQueue = def.SafeMode.ChannelCreationMaxQueue
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = def.Observability.LogLevel
	}
	if cfg.Observability.LogFormat == "" {
		cfg.Observability.LogFormat = def.Observability.LogFormat
	}
	if cfg.Wallet.Mode == "" {
		cfg.Wallet.Mode = def.Wallet.Mode
	}
	if cfg.Wallet.Network == "" {
		cfg.Wallet.Network = def.Wallet.Network
	}
	if cfg.Wallet.ExplorerURLFmt == "" {
		cfg.Wallet.ExplorerURLFmt = def.Wallet.ExplorerURLFmt
	}
	if cfg.Channels.Twitter.PollIntervalSec == 0 {
		cfg.Channels.Twitter.PollIntervalSec = def.Channels.Twitter.PollIntervalSec
	}
	if cfg.Channels.Twitter.MaxMentionsPerHour == 0 {
		cfg.Channels.Twitter.MaxMentionsPerHour = def.Channels.Twitter.MaxMentionsPerHour
	}
	if cfg.Channels.Web.Addr == "" {
		cfg.Channels.Web.Addr = def.Channels.Web.Addr
	}
	if cfg.Channels.Web.BasePath == "" {
		cfg.Channels.Web.BasePath = def.Channels.Web.BasePath
	}
}
