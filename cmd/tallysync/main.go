// Command tallysync synchronizes accounting vouchers from a Tally-style
// engine into a local SQLite store, per company, over a date range.
package main

import (
	"fmt"
	"os"

	"github.com/ganeshchavan786/TallyConnect-sub000/internal/audit"
	"github.com/ganeshchavan786/TallyConnect-sub000/internal/config"
	"github.com/ganeshchavan786/TallyConnect-sub000/internal/logging"
	"github.com/ganeshchavan786/TallyConnect-sub000/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tallysync",
	Short: "Sync accounting vouchers into a local store",
	Long: `tallysync pulls voucher ledger lines from an accounting engine's
ODBC interface into a local SQLite database, one company version at a time.

The engine is slow and paginated; jobs are resumable across crashes,
persistence is idempotent, and every lifecycle event lands in a durable
audit log.`,
}

// env bundles what every subcommand needs.
type env struct {
	cfg    *config.Config
	logger *logrus.Logger
	db     *store.DB
	audit  *audit.Writer

	secondaryClose func() error
}

// openEnv loads config, opens the store (creating schema) and the audit
// writer on its secondary connection.
func openEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.New(cfg.LogPath, cfg.LogLevel)

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.InitSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	secondary, err := store.OpenSecondary(cfg.DatabasePath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open audit connection: %w", err)
	}

	return &env{
		cfg:            cfg,
		logger:         logger,
		db:             db,
		audit:          audit.NewWriter(secondary, cfg.BackupLogPath, logger),
		secondaryClose: secondary.Close,
	}, nil
}

func (e *env) close() {
	if e.secondaryClose != nil {
		_ = e.secondaryClose()
	}
	_ = e.db.Close()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
