package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/starkbot-agent/core/internal/channels"
	"github.com/starkbot-agent/core/internal/channels/discord"
	"github.com/starkbot-agent/core/internal/channels/slack"
	"github.com/starkbot-agent/core/internal/channels/telegram"
	"github.com/starkbot-agent/core/internal/channels/twitter"
	"github.com/starkbot-agent/core/internal/channels/web"
	"github.com/starkbot-agent/core/internal/config"
	"github.com/starkbot-agent/core/internal/dispatcher"
	"github.com/starkbot-agent/core/internal/events"
	"github.com/starkbot-agent/core/internal/identity"
	"github.com/starkbot-agent/core/internal/observability"
	"github.com/starkbot-agent/core/internal/registers"
	"github.com/starkbot-agent/core/internal/safemode"
	"github.com/starkbot-agent/core/internal/sessions"
	"github.com/starkbot-agent/core/internal/tools"
	"github.com/starkbot-agent/core/internal/tools/builtin"
	"github.com/starkbot-agent/core/internal/tracker"
	"github.com/starkbot-agent/core/internal/txqueue"
	"github.com/starkbot-agent/core/pkg/models"
)

func buildRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the agent runtime and every enabled channel listener",
		Long: `run loads the configured wallet, tool registry and channel listeners and
drives them until a SIGINT/SIGTERM shuts the process down gracefully.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context())
		},
	}
}

// dispatchFunc is the narrow slice of dispatcher.Dispatcher that every
// channel adapter's local Dispatcher interface structurally satisfies.
type dispatchFunc interface {
	Dispatch(ctx context.Context, msg models.NormalizedMessage) models.DispatchResult
}

// rateLimitedDispatcher enforces C10's per-user-per-platform query window
// in front of every channel, since internal/dispatcher.Dispatch itself
// stays agnostic of safe-mode gating (it only honors NormalizedMessage's
// ForceSafeMode, set by the channel listeners themselves).
type rateLimitedDispatcher struct {
	inner       dispatchFunc
	queryWindow *safemode.QueryWindow
	maxCalls    int
}

func (d *rateLimitedDispatcher) Dispatch(ctx context.Context, msg models.NormalizedMessage) models.DispatchResult {
	if d.queryWindow != nil {
		if err := d.queryWindow.CheckAndRecord(msg.ChannelType, msg.UserID, d.maxCalls); err != nil {
			return models.Errorf(err.Error())
		}
	}
	return d.inner.Dispatch(ctx, msg)
}

func runRun(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logLevel := observability.LogLevelFromString(cfg.Observability.LogLevel)
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler
	if cfg.Observability.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	logger.Info("starting starkbot",
		"version", version,
		"commit", commit,
		"config", configPath,
		"agent_provider", cfg.Agent.Provider,
		"agent_model", cfg.Agent.Model,
	)

	walletProvider, err := buildWalletProvider(ctx, cfg)
	if err != nil {
		return fmt.Errorf("constructing wallet provider: %w", err)
	}
	if addr, err := walletProvider.Address(ctx); err == nil {
		logger.Info("wallet ready", "mode", walletProvider.ModeName(), "address", addr.Hex())
	} else {
		logger.Warn("wallet address unavailable at startup", "error", err)
	}

	sessionStore := sessions.NewMemoryStore()
	identities := identity.NewMemoryStore()
	broadcaster := events.NewBroadcaster()
	trk := tracker.New(broadcaster)
	registry := tools.NewRegistry()
	registerTools(registry, cfg, broadcaster, logger)

	disp := dispatcher.New(sessionStore, identities, trk, broadcaster, registry, walletProvider, cfg.Agent.Settings(), cfg.Tools.ToolConfig())

	queryWindow := safemode.NewQueryWindow(time.Duration(cfg.SafeMode.QueryWindowMinutes)*time.Minute, cfg.SafeMode.MaxQueriesPerWindow)
	gated := &rateLimitedDispatcher{inner: disp, queryWindow: queryWindow, maxCalls: cfg.SafeMode.MaxQueriesPerWindow}

	pacer := safemode.NewChannelCreationPacer()
	pacer.Start(ctx)

	channelRegistry := channels.NewRegistry()
	registerChannels(channelRegistry, cfg, gated, logger)

	metricsServer := startMetricsServer(cfg, channelRegistry, logger)

	runCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := channelRegistry.StartAll(runCtx); err != nil {
		return fmt.Errorf("starting channels: %w", err)
	}
	logger.Info("starkbot started", "subscribers", broadcaster.SubscriberCount())

	<-runCtx.Done()
	logger.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := channelRegistry.StopAll(shutdownCtx); err != nil {
		logger.Error("error stopping channels", "error", err)
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	logger.Info("starkbot stopped gracefully")
	return nil
}

// registerTools seeds C5's tool registry with every builtin tool, wiring in
// C3 (txqueue), register/context-bank storage, and an ethclient.Client for
// on-chain broadcast when an RPC URL is configured.
func registerTools(registry *tools.Registry, cfg *config.Config, broadcaster *events.Broadcaster, logger *slog.Logger) {
	queue := txqueue.New()
	regs := registers.New()

	registry.Register(&builtin.QueueTransaction{
		Queue:     queue,
		Registers: regs,
		Network:   cfg.Wallet.Network,
		ChainID:   cfg.Wallet.ChainID,
	})

	if rpcURL := os.Getenv(cfg.Wallet.RPCURLEnv); rpcURL != "" {
		client, err := ethclient.Dial(rpcURL)
		if err != nil {
			logger.Warn("broadcast_web3_tx unavailable: failed to dial RPC", "error", err)
		} else {
			registry.Register(&builtin.BroadcastWeb3Tx{
				Queue:       queue,
				Client:      client,
				Broadcaster: broadcaster,
				ExplorerFmt: cfg.Wallet.ExplorerURLFmt,
			})
		}
	} else {
		logger.Warn("broadcast_web3_tx unavailable: no rpc_url_env configured")
	}

	registry.Register(builtin.NewExec())
	registry.Register(&builtin.ReadFile{Root: "."})
	registry.Register(&builtin.WriteFile{Root: "."})
	registry.Register(builtin.NewModifyKanban())
	registry.Register(builtin.NewTokenLookup())
	registry.Register(builtin.NewWebFetch())
}

// registerChannels wires up every enabled C9 listener. Every adapter
// normalizes its platform's native message into a NormalizedMessage and
// dispatches through the shared, rate-limited dispatcher.
func registerChannels(registry *channels.Registry, cfg *config.Config, disp dispatchFunc, logger *slog.Logger) {
	if cfg.Channels.Discord.Enabled {
		dc := cfg.Channels.Discord
		registry.Register(discord.New(discord.Config{
			Token:       os.Getenv(dc.Token),
			ChannelID:   dc.ChannelID,
			AdminUserID: dc.AdminUserID,
			Logger:      logger.With("channel", "discord"),
		}, disp))
	}

	if cfg.Channels.Telegram.Enabled {
		tc := cfg.Channels.Telegram
		registry.Register(telegram.New(telegram.Config{
			Token:       os.Getenv(tc.Token),
			ChannelID:   tc.ChannelID,
			AdminUserID: tc.AdminUserID,
			Logger:      logger.With("channel", "telegram"),
		}, disp))
	}

	if cfg.Channels.Slack.Enabled {
		sc := cfg.Channels.Slack
		registry.Register(slack.New(slack.Config{
			BotToken:    os.Getenv(sc.BotToken),
			AppToken:    os.Getenv(sc.AppToken),
			ChannelID:   sc.ChannelID,
			AdminUserID: sc.AdminUserID,
			Logger:      logger.With("channel", "slack"),
		}, disp))
	}

	if cfg.Channels.Twitter.Enabled {
		tc := cfg.Channels.Twitter
		registry.Register(twitter.New(twitter.Config{
			BotHandle:          tc.BotHandle,
			BotUserID:          tc.BotUserID,
			ChannelID:          tc.ChannelID,
			PollInterval:       time.Duration(tc.PollIntervalSec) * time.Second,
			IsPro:              tc.IsPro,
			ReplyChance:        int(tc.ReplyChance * 100),
			MaxMentionsPerHour: tc.MaxMentionsPerHour,
			AdminUserID:        tc.AdminUserID,
			BearerToken:        os.Getenv(tc.BearerTokenEnv),
			Credentials: twitter.Credentials{
				ConsumerKey:       os.Getenv(tc.ConsumerKeyEnv),
				ConsumerSecret:    os.Getenv(tc.ConsumerSecretEnv),
				AccessToken:       os.Getenv(tc.AccessTokenEnv),
				AccessTokenSecret: os.Getenv(tc.AccessSecretEnv),
			},
			Logger: logger.With("channel", "twitter"),
		}, disp))
	}

	if cfg.Channels.Web.Enabled {
		registry.Register(web.New(web.Config{
			Addr:     cfg.Channels.Web.Addr,
			BasePath: cfg.Channels.Web.BasePath,
			Logger:   logger.With("channel", "web"),
		}, disp))
	}
}

// startMetricsServer exposes C11's prometheus registry over HTTP when
// metrics_addr is configured. The Metrics type itself registers its
// collectors via promauto at construction time. It also serves /healthz,
// reporting each channel adapter's connection status and counters from its
// embedded channels.BaseHealthAdapter.
func startMetricsServer(cfg *config.Config, channelRegistry *channels.Registry, logger *slog.Logger) *http.Server {
	if cfg.Observability.MetricsAddr == "" {
		return nil
	}
	_ = observability.NewMetrics()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", healthzHandler(channelRegistry))
	server := &http.Server{Addr: cfg.Observability.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()
	logger.Info("metrics listening", "addr", cfg.Observability.MetricsAddr)
	return server
}

// healthzHandler reports the status, degraded flag, and metrics snapshot of
// every channel adapter that implements channels.HealthAdapter.
func healthzHandler(channelRegistry *channels.Registry) http.HandlerFunc {
	type channelHealth struct {
		Status  channels.Status          `json:"status"`
		Metrics channels.MetricsSnapshot `json:"metrics"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		report := make(map[string]channelHealth)
		allHealthy := true
		for channelType, adapter := range channelRegistry.HealthAdapters() {
			health := adapter.HealthCheck(r.Context())
			if !health.Healthy {
				allHealthy = false
			}
			report[string(channelType)] = channelHealth{Status: adapter.Status(), Metrics: adapter.Metrics()}
		}

		w.Header().Set("Content-Type", "application/json")
		if !allHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(report)
	}
}
