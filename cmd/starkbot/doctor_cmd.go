package main

import (
	"fmt"
	"os"

	"github.com/starkbot-agent/core/internal/config"
	"github.com/spf13/cobra"
)

// buildDoctorCmd verifies that the configured wallet, LLM provider and
// enabled channels are reachable before a real run is attempted: a
// deliberately narrow check (wallet key loads and signs, the LLM API key
// env var is set, each enabled channel's credentials are present), unlike
// the teacher's doctor command which also migrates config files and audits
// security posture — out of scope for this runtime.
func buildDoctorCmd() *cobra.Command {
	var repair bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Verify wallet, LLM and channel configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, repair)
		},
	}
	cmd.Flags().BoolVar(&repair, "repair", false, "reserved for future config auto-repair")
	return cmd
}

type doctorCheck struct {
	name string
	err  error
}

func runDoctor(cmd *cobra.Command, repair bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	ctx := cmd.Context()

	var checks []doctorCheck

	provider, err := buildWalletProvider(ctx, cfg)
	if err != nil {
		checks = append(checks, doctorCheck{"wallet: construct provider", err})
	} else if _, err := provider.Address(ctx); err != nil {
		checks = append(checks, doctorCheck{"wallet: fetch address", err})
	} else {
		checks = append(checks, doctorCheck{fmt.Sprintf("wallet: %s provider reachable", provider.ModeName()), nil})
	}

	if apiKey := os.Getenv(cfg.Agent.APIKeyEnv); apiKey == "" {
		checks = append(checks, doctorCheck{"llm: api key", fmt.Errorf("%s is not set", cfg.Agent.APIKeyEnv)})
	} else {
		checks = append(checks, doctorCheck{fmt.Sprintf("llm: %s/%s configured", cfg.Agent.Provider, cfg.Agent.Model), nil})
	}

	checks = append(checks, checkChannels(cfg)...)

	failed := 0
	for _, c := range checks {
		if c.err != nil {
			failed++
			fmt.Printf("FAIL  %-45s %v\n", c.name, c.err)
		} else {
			fmt.Printf("OK    %s\n", c.name)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}

func checkChannels(cfg *config.Config) []doctorCheck {
	var checks []doctorCheck
	requireEnv := func(channel, envVar string) doctorCheck {
		if envVar == "" {
			return doctorCheck{channel, fmt.Errorf("no env var configured for credential")}
		}
		if os.Getenv(envVar) == "" {
			return doctorCheck{channel, fmt.Errorf("%s is not set", envVar)}
		}
		return doctorCheck{channel, nil}
	}

	if cfg.Channels.Discord.Enabled {
		checks = append(checks, requireEnv("discord: bot token", cfg.Channels.Discord.Token))
	}
	if cfg.Channels.Telegram.Enabled {
		checks = append(checks, requireEnv("telegram: bot token", cfg.Channels.Telegram.Token))
	}
	if cfg.Channels.Slack.Enabled {
		checks = append(checks, requireEnv("slack: bot token", cfg.Channels.Slack.BotToken))
		checks = append(checks, requireEnv("slack: app token", cfg.Channels.Slack.AppToken))
	}
	if cfg.Channels.Twitter.Enabled {
		checks = append(checks, requireEnv("twitter: consumer key", cfg.Channels.Twitter.ConsumerKeyEnv))
		checks = append(checks, requireEnv("twitter: consumer secret", cfg.Channels.Twitter.ConsumerSecretEnv))
		checks = append(checks, requireEnv("twitter: access token", cfg.Channels.Twitter.AccessTokenEnv))
		checks = append(checks, requireEnv("twitter: access secret", cfg.Channels.Twitter.AccessSecretEnv))
		if cfg.Channels.Twitter.BotHandle == "" {
			checks = append(checks, doctorCheck{"twitter: bot_handle", fmt.Errorf("must be set")})
		}
	}
	if cfg.Channels.Web.Enabled && cfg.Channels.Web.Addr == "" {
		checks = append(checks, doctorCheck{"web: addr", fmt.Errorf("must be set")})
	}
	return checks
}
