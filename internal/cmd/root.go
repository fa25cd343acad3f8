// Package cmd wires a small administrative CLI directly onto the domain
// services. The agent-facing tool dispatcher and its transport are
// external collaborators and live outside this module; this package is
// only the thin, directly-callable edge used for setup and diagnostics.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/cuemby/specvault/internal/config"
	"github.com/cuemby/specvault/internal/domain"
	"github.com/cuemby/specvault/internal/storage/lock"
	"github.com/cuemby/specvault/internal/storage/plan"
	"github.com/spf13/cobra"
)

var (
	cfg     *config.Config
	logger  *slog.Logger
	plans   *plan.Repository
	factory *domain.Factory
)

var rootCmd = &cobra.Command{
	Use:   "specvault",
	Short: "Administer a local planning knowledge store",
	Long: `specvault manages the on-disk tree behind the planning knowledge store:
projects, plans, and the entities inside them. It does not speak the
agent-facing tool protocol; that lives in the host application.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded

		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: parseLogLevel(cfg.Log.Level),
		}))

		plans = plan.NewRepository(cfg.Storage.BaseDir, lock.Options{Logger: logger}, nil)
		factory = domain.NewFactory(plans, cfg.Storage.CacheSize, nil)
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default: ./specvault.toml)")
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
