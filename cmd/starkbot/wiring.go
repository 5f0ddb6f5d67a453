package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/starkbot-agent/core/internal/config"
	"github.com/starkbot-agent/core/internal/wallet"
)

// buildWalletProvider constructs the C1 wallet provider for cfg.Wallet.Mode:
// "standard" signs locally from an in-process ECDSA key, "flash" proxies to
// a remote Privy-backed keystore.
func buildWalletProvider(ctx context.Context, cfg *config.Config) (wallet.Provider, error) {
	switch cfg.Wallet.Mode {
	case "", "standard":
		key := os.Getenv(cfg.Wallet.PrivateKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("wallet: %s is not set", cfg.Wallet.PrivateKeyEnv)
		}
		return wallet.NewLocalProvider(key)
	case "flash":
		return wallet.NewFlashProvider(ctx, wallet.FlashConfig{
			KeystoreURL:    cfg.Wallet.ControlPlaneURL,
			TenantID:       os.Getenv(cfg.Wallet.TenantIDEnv),
			InstanceToken:  os.Getenv(cfg.Wallet.InstanceTokenEnv),
			RequestTimeout: 30 * time.Second,
		})
	default:
		return nil, fmt.Errorf("wallet: unknown mode %q (want \"standard\" or \"flash\")", cfg.Wallet.Mode)
	}
}
