package tasks

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"

	"ytfetch/internal/runlog"
	"ytfetch/internal/shared"
	"ytfetch/internal/sidecar"
	"ytfetch/internal/sponsorblock"
)

// ReconcileSummary aggregates one reconciliation pass.
type ReconcileSummary struct {
	// Bootstrapped counts sidecars reconstructed from historical logs.
	Bootstrapped int
	// Trimmed counts files whose segments were removed this pass.
	Trimmed int
	// Resolved counts files confirmed to have no segments; their exclusion
	// marker guarantees they are never retried again.
	Resolved int
	// Kept counts files whose sidecar survives for the next pass.
	Kept int
}

// Outstanding returns the number of sidecars still pending after the pass.
func (s ReconcileSummary) Outstanding() int { return s.Kept }

// Reconciler replays deferred segment-removal work, independently of any
// download run. It needs no URL list: the sidecar records on disk plus the
// historical run logs are the complete input. Each pass only shrinks or
// leaves unchanged the set of outstanding sidecars.
type Reconciler struct {
	cfg     *shared.Config
	logs    *runlog.Logs
	ledger  *sidecar.Ledger
	remover SegmentRemover
	logger  *log.Logger
}

// NewReconciler wires a reconciler to its ledger, logs, and remover.
func NewReconciler(cfg *shared.Config, logs *runlog.Logs, ledger *sidecar.Ledger, remover SegmentRemover, logger *log.Logger) *Reconciler {
	return &Reconciler{cfg: cfg, logs: logs, ledger: ledger, remover: remover, logger: logger}
}

// Run performs one reconciliation pass: clean up temporary artifacts,
// rebuild sidecars that predate the ledger from the run logs, then retry the
// deferred trim for every outstanding record. Safe to invoke any number of
// times.
func (r *Reconciler) Run(ctx context.Context) (ReconcileSummary, error) {
	var summary ReconcileSummary
	base := r.cfg.SidecarScanRoot()

	r.ledger.CleanupTemp(base)

	boot := sidecar.NewBootstrapper(base, r.logs, r.ledger, r.logger)
	created, err := boot.Run()
	if err != nil {
		return summary, err
	}
	summary.Bootstrapped = created

	records, err := r.ledger.Scan(base, sidecar.TaskSegmentRemoval)
	if err != nil {
		return summary, err
	}
	if len(records) == 0 {
		r.logger.Info("no outstanding segment-removal work")
		return summary, nil
	}
	r.logger.Info("retrying deferred segment removal", "count", len(records))

	policy := Policy{
		MaxAttempts: segmentRetryAttempts,
		IsFatal:     func(err error) bool { return errors.Is(err, shared.ErrInvalidInput) },
		Delay:       SleepRange(r.cfg.Download.SleepInterval, r.cfg.Download.MaxSleepInterval),
	}
	for _, rec := range records {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		var outcome sponsorblock.Outcome
		err := policy.Do(ctx, func(ctx context.Context) error {
			var opErr error
			outcome, opErr = r.remover.Process(ctx, rec.AudioFile, rec.SourceURL)
			return opErr
		})
		if err != nil {
			summary.Kept++
			if logErr := r.logs.Kept(rec.OutputStem); logErr != nil {
				r.logger.Warn("could not append kept marker", "err", logErr)
			}
			r.logger.Warn("retry failed, sidecar kept", "stem", rec.OutputStem, "err", err)
			continue
		}

		if err := r.ledger.RemoveTask(rec, sidecar.TaskSegmentRemoval); err != nil {
			r.logger.Warn("could not clear sidecar", "stem", rec.OutputStem, "err", err)
		}
		if outcome.NoSegments {
			summary.Resolved++
			if err := r.logs.Resolved(rec.OutputStem); err != nil {
				r.logger.Warn("could not append resolved marker", "err", err)
			}
			r.logger.Info("resolved, nothing to remove", "stem", rec.OutputStem)
		} else {
			summary.Trimmed++
			r.logger.Info("segments removed", "stem", rec.OutputStem, "count", outcome.Removed)
		}
	}

	r.logger.Info("reconciliation complete",
		"trimmed", summary.Trimmed,
		"resolved", summary.Resolved,
		"kept", summary.Kept,
	)
	return summary, nil
}
