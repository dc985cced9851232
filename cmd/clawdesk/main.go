package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/caam1406/clawdesk/pkg/config"
	"github.com/caam1406/clawdesk/pkg/logger"
	"github.com/caam1406/clawdesk/pkg/storage"
)

const version = "0.1.0"

var (
	// Global flags
	configPath string
	verbose    bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "clawdesk",
	Short: "ClawDesk - agent console and WhatsApp onboarding",
	Long: `ClawDesk streams conversations and agent edits from the agent API and
onboards WhatsApp Business accounts through embedded signup.

The config is read from an encrypted database by default; pass a .json or
.yaml path with --config to use a plain file instead.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded

		logger.SetOutput(os.Stderr, cfg.Log.Console)
		logger.SetLevel(cfg.Log.Level)
		if verbose {
			logger.SetLevel("debug")
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "clawdesk %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (.json/.yaml) or config database path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(
		versionCmd,
		serveCmd,
		chatCmd,
		editCmd,
		historyCmd,
		tokenCmd,
		migrateCmd,
		pruneCmd,
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// openStorage connects the configured storage backend, sealing account codes with the
// config master key.
func openStorage(ctx context.Context, sc config.StorageConfig) (storage.Storage, error) {
	box, err := config.MasterSecretBox()
	if err != nil {
		return nil, err
	}
	storeCfg := storage.ConfigFrom(sc)
	storeCfg.Sealer = box

	store, err := storage.NewStorage(storeCfg)
	if err != nil {
		return nil, err
	}
	if err := store.Connect(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}
