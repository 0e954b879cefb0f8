package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nkkko/docsync/internal/config"
	"github.com/nkkko/docsync/internal/engine"
	"github.com/nkkko/docsync/internal/logging"
	"github.com/nkkko/docsync/internal/store"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "docsync",
		Short:         "Mirror a remote document collection and follow its live changes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("config", os.Getenv("DOCSYNC_CONFIG"), "Path to a YAML configuration file")
	rootCmd.PersistentFlags().String("collection", "", "Collection to sync (overrides store.collection)")
	rootCmd.PersistentFlags().String("store", "", "Remote store: memory|firestore|http")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug|info|warn|error")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch the collection, subscribe to every document and serve the status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			mirrorDir, _ := cmd.Flags().GetString("mirror-dir")

			cfg, err := loadConfig(cmd, config.Overrides{Addr: addr, MirrorDir: mirrorDir})
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			e, err := engine.New(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to create engine: %w", err)
			}
			return e.Run(ctx)
		},
	}
	runCmd.Flags().String("addr", "", "Status API listen address (overrides server.addr)")
	runCmd.Flags().String("mirror-dir", "", "Enable the badger mirror in this directory")
	rootCmd.AddCommand(runCmd)

	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "List the collection once, print it as JSON and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, config.Overrides{})
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			remote, err := store.New(ctx, cfg.ToStoreConfig())
			if err != nil {
				return fmt.Errorf("failed to create %s store: %w", cfg.Store.Type, err)
			}
			defer remote.Close()

			collection := cfg.Store.CollectionName()
			docs, err := remote.ListDocuments(ctx, collection)
			if err != nil {
				return fmt.Errorf("failed to list %s: %w", collection, err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(docs)
		},
	}
	rootCmd.AddCommand(fetchCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("docsync failed")
		os.Exit(1)
	}
}

// loadConfig resolves file, environment and flags, then configures logging
func loadConfig(cmd *cobra.Command, overrides config.Overrides) (*config.Config, error) {
	configFile, _ := cmd.Flags().GetString("config")
	overrides.Collection, _ = cmd.Flags().GetString("collection")
	overrides.StoreType, _ = cmd.Flags().GetString("store")
	overrides.LogLevel, _ = cmd.Flags().GetString("log-level")

	cfg, err := config.LoadConfig(configFile, overrides)
	if err != nil {
		return nil, err
	}

	logCfg := cfg.ToLoggingConfig()
	if cmd.Name() == "fetch" {
		// stdout carries the documents
		logCfg.Output = os.Stderr
	}
	if err := logging.Setup(logCfg); err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	return cfg, nil
}
