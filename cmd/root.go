package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cocorobi/cardpool/internal/config"
	"github.com/cocorobi/cardpool/internal/store"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "cardpool",
	Short: "Business-card CSV ingestion and shared-pool service",
	Long:  "Ingests scanned business-card CSV exports, deduplicates them per contributor and across the shared pool, and serves tag and profile queries over an authenticated API.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// openStore opens the configured store backend.
func openStore(ctx context.Context) (store.Store, error) {
	return store.Open(ctx, cfg.Store)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
