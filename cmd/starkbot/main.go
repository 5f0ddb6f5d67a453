// Package main provides the CLI entry point for StarkBot, a multi-channel
// autonomous agent that dispatches chat messages from Twitter, Discord,
// Telegram, Slack and a web endpoint into a single tool-using LLM loop,
// with an onboard EVM wallet for signing and broadcasting transactions.
//
// # Basic Usage
//
// Start the agent:
//
//	starkbot run --config starkbot.yaml
//
// Check wallet/LLM/channel reachability:
//
//	starkbot doctor --config starkbot.yaml
//
// Inspect the onboard wallet:
//
//	starkbot wallet address --config starkbot.yaml
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

var configPath string

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "starkbot",
		Short: "StarkBot - multi-channel autonomous agent runtime",
		Long: `StarkBot connects Twitter, Discord, Telegram, Slack and a web endpoint
to an LLM-driven tool loop with an onboard EVM wallet.

Documentation: https://github.com/starkbot-agent/core`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "starkbot.yaml", "Path to YAML configuration file")

	rootCmd.AddCommand(
		buildRunCmd(),
		buildDoctorCmd(),
		buildWalletCmd(),
	)

	return rootCmd
}
