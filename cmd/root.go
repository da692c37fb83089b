package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/luojunlin1223/VibeVtuber/internal/config"
	"github.com/luojunlin1223/VibeVtuber/internal/log"
	"github.com/luojunlin1223/VibeVtuber/internal/store"
)

var (
	// Cfg is the loaded configuration shared by subcommands.
	Cfg *config.Config
	// DB is opened on first use by commands that need persistence.
	DB *store.Store

	configPath string
	logLevel   string
	dbURL      string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:           "facetracker",
	Short:         "Stream face tracking telemetry to an avatar renderer over UDP",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log.Init(logLevel)

		path := configPath
		explicit := cmd.Flags().Changed("config")
		if path == "" {
			path = config.DefaultPath
		}
		cfg, err := config.Load(path, explicit)
		if err != nil {
			return err
		}
		if dbURL != "" {
			cfg.Database.URL = dbURL
		}
		Cfg = cfg
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// The command context may already be cancelled by Ctrl+C.
			DB.Close(context.Background())
			DB = nil
		}
	},
}

// openStore connects to PostgreSQL on first use.
func openStore(ctx context.Context) (*store.Store, error) {
	if DB != nil {
		return DB, nil
	}
	s, err := store.New(ctx, Cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	DB = s
	return DB, nil
}

func Execute() {
	// Ctrl+C (SIGINT) or kill (SIGTERM) stops the frame loop between iterations.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config (default: ./"+config.DefaultPath+" if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: from config or POSTGRES_* env)")
}
