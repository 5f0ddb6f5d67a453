package main

import (
	"fmt"

	"github.com/starkbot-agent/core/internal/config"
	"github.com/spf13/cobra"
)

// buildWalletCmd exposes C1 read-only wallet operations: the address the
// agent signs from, and the deterministic backup-encryption key derived
// from it.
func buildWalletCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Inspect the onboard wallet",
	}
	cmd.AddCommand(buildWalletAddressCmd(), buildWalletEncryptionKeyCmd())
	return cmd
}

func buildWalletAddressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "Print the wallet's public address",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			ctx := cmd.Context()
			provider, err := buildWalletProvider(ctx, cfg)
			if err != nil {
				return fmt.Errorf("constructing wallet provider: %w", err)
			}
			addr, err := provider.Address(ctx)
			if err != nil {
				return fmt.Errorf("fetching address: %w", err)
			}
			fmt.Printf("%s (%s)\n", addr.Hex(), provider.ModeName())
			return nil
		},
	}
}

func buildWalletEncryptionKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encryption-key",
		Short: "Print the wallet's deterministic backup-encryption key",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			ctx := cmd.Context()
			provider, err := buildWalletProvider(ctx, cfg)
			if err != nil {
				return fmt.Errorf("constructing wallet provider: %w", err)
			}
			key, err := provider.EncryptionKey(ctx)
			if err != nil {
				return fmt.Errorf("deriving encryption key: %w", err)
			}
			fmt.Println(key)
			return nil
		},
	}
}
