/*
main.go - Application entry point

PURPOSE:
  Command-line entry for the settlement engine. Subcommands:
    serve      Run the HTTP API and the background drift scheduler
    reconcile  Plan (and optionally apply) a reconciliation, print JSON
    suggest    Print ranked (quantity, rate) pairs for a target amount

CONFIGURATION ORDER:
  1. Built-in defaults (config.Default)
  2. TOML file given by --config
  3. SETTLE_* environment variables
  4. Command-line flags (--db, --port, --log-level)

EXAMPLES:
  # Run with file database
  settlement serve --db ./data/settlement.db

  # Run with in-memory database
  settlement serve --db ":memory:"

  # Preview repairs, then apply them
  settlement reconcile --db ./data/settlement.db
  settlement reconcile --db ./data/settlement.db --apply

  # Suggest payment amounts under 5000
  settlement suggest --target 5000 --min-rate 50 --max-rate 200

SEE ALSO:
  - config/config.go: Configuration sources
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/warp/settlement-engine/config"
)

var rootCmd = &cobra.Command{
	Use:   "settlement",
	Short: "Payment allocation and reconciliation engine",
	Long: `Allocates payments across debt records, suggests payment amounts that
match banking conventions, and detects and repairs over-allocated ledgers.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to TOML config file")
	rootCmd.PersistentFlags().String("db", "", "SQLite database path (\":memory:\" for in-memory)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves configuration and applies persistent flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	if db, _ := cmd.Flags().GetString("db"); db != "" {
		cfg.Database.Path = db
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logger.Level = level
	}
	return cfg, cfg.Validate()
}

// newLogger builds a zap logger from the logger section.
func newLogger(cfg config.LoggerConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}
