package main

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"ytfetch/internal/runlog"
	"ytfetch/internal/shared"
	"ytfetch/internal/sidecar"
	"ytfetch/internal/tasks"
)

// Reconcile replays deferred segment-removal work from sidecar records. No
// URL is needed: the on-disk records plus the run logs are the complete input.
func (r *Runner) Reconcile(ctx context.Context, cmd *cli.Command) error {
	cfg, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := shared.WithLogger(r.logger, "run", shared.GenerateRunID())
	if cmd.Bool("verbose") {
		shared.SetLogLevel(logger, log.DebugLevel)
	}

	logs := runlog.New(cfg.Library.LogDir)
	ledger := sidecar.NewLedger(logger)
	reconciler := tasks.NewReconciler(cfg, logs, ledger, r.segmentRemover(cfg, logger), logger)

	r.writePlain("Reconciling deferred segment removal under %s...\n\n", cfg.SidecarScanRoot())

	summary, err := reconciler.Run(ctx)
	if err != nil {
		return err
	}

	r.writePlainHeader("Reconcile Complete")
	r.writePlain("Bootstrapped: %d\n", summary.Bootstrapped)
	r.writePlain("Trimmed:      %d\n", summary.Trimmed)
	r.writePlain("Resolved:     %d\n", summary.Resolved)
	r.writePlain("Kept:         %d\n", summary.Kept)
	if summary.Outstanding() > 0 {
		r.writePlain("\n%d file(s) still pending; run again once the segment service recovers.\n", summary.Outstanding())
	}

	return nil
}
