package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ganeshchavan786/TallyConnect-sub000/internal/engine"
	"github.com/ganeshchavan786/TallyConnect-sub000/internal/pipeline"
	"github.com/ganeshchavan786/TallyConnect-sub000/internal/source"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the auto-sync scheduler",
	Long: `Run in the background: reclassify jobs interrupted by a previous
crash, then periodically re-sync every synced company and sweep old audit
log entries. Stops on SIGINT/SIGTERM.`,
	Run: func(cmd *cobra.Command, args []string) {
		e, err := openEnv()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer e.close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		connector := &source.ODBCConnector{ConnectTimeout: e.cfg.SourceConnectTimeout}
		runner := pipeline.NewRunner(e.db, e.audit, connector, e.logger)
		orch := engine.New(e.db, e.audit, runner, e.logger)

		n, err := orch.RecoverInterrupted(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: startup recovery failed: %v\n", err)
			os.Exit(1)
		}
		if n > 0 {
			e.logger.Warnf("%d interrupted companies marked incomplete", n)
		}

		if !e.cfg.AutoSyncEnabled {
			e.logger.Warn("auto_sync.enabled is false; serving recovery and retention only")
		}

		sched := engine.NewScheduler(orch, e.db, engine.SchedulerConfig{
			Interval:     e.cfg.AutoSyncInterval,
			LookbackDays: e.cfg.AutoSyncLookback,
			BatchSize:    e.cfg.BatchSize,
		}, e.logger)

		if e.cfg.AutoSyncEnabled {
			if err := sched.Start(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			defer sched.Stop()
		}

		// Daily retention sweep.
		go func() {
			ticker := time.NewTicker(24 * time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					horizon := time.Now().AddDate(0, 0, -e.cfg.LogRetentionDays)
					if n, err := e.audit.Sweep(ctx, horizon); err != nil {
						e.logger.Warnf("retention sweep failed: %v", err)
					} else if n > 0 {
						e.logger.Infof("retention sweep removed %d audit entries", n)
					}
				}
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		e.logger.Info("shutdown signal received")
		cancel()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
