package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one catalog and price sync and print the result as JSON",
	RunE:  runSync,
}

var syncOutbox bool

func init() {
	syncCmd.Flags().BoolVar(&syncOutbox, "outbox", false, "Also push due outbox operations once")
}

func runSync(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	result, runErr := a.runner.Run(ctx)
	if result != nil {
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("encode sync result: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
	}
	if runErr != nil {
		return runErr
	}

	if syncOutbox {
		n, err := a.worker.ProcessDue(ctx)
		if err != nil {
			return fmt.Errorf("process outbox: %w", err)
		}
		logger.Info("Outbox processed", zap.Int("operations", n))
	}
	return nil
}
