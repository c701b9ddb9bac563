package cli

import (
	"fmt"
	"log"

	"cvpay-svc/config"
	"cvpay-svc/reconcile"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sweepBatch int

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Poll the gateway once for payments stuck in processing",
	RunE:  runSweep,
}

func init() {
	sweepCmd.Flags().IntVar(&sweepBatch, "batch", 0, "Maximum payments to poll (defaults to SWEEP_BATCH_SIZE)")
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if sweepBatch > 0 {
		cfg.Sweep.BatchSize = sweepBatch
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	resolved, err := reconcile.NewSweeper(a.coord, cfg.Sweep, logger).RunOnce(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "resolved %d stale payment(s)\n", resolved)
	return nil
}
