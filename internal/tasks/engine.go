package tasks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/charmbracelet/log"

	"ytfetch/internal/archive"
	"ytfetch/internal/media"
	"ytfetch/internal/runlog"
	"ytfetch/internal/shared"
	"ytfetch/internal/sidecar"
	"ytfetch/internal/sponsorblock"
	"ytfetch/internal/ytdlp"
)

// How often the post-run segment retry pass attempts each deferred file.
const segmentRetryAttempts = 3

// Downloader performs one external download.
type Downloader interface {
	Download(ctx context.Context, req ytdlp.Request) error
}

// SegmentRemover resolves deferred segment-removal work for one file.
type SegmentRemover interface {
	Process(ctx context.Context, audioFile, sourceURL string) (sponsorblock.Outcome, error)
}

// Summary aggregates per-item outcomes for operator-facing output.
type Summary struct {
	Succeeded int
	Skipped   int
	Failed    int
	// Deferred counts files whose audio landed but whose segment removal
	// is still outstanding after the in-run retry pass.
	Deferred int
}

// Engine drains a job list through a fixed-size worker pool. Per-item
// failures never abort sibling jobs; a failed segment trim never fails the
// owning job.
type Engine struct {
	cfg        *shared.Config
	logs       *runlog.Logs
	archive    *archive.Store
	ledger     *sidecar.Ledger
	downloader Downloader
	remover    SegmentRemover
	logger     *log.Logger
}

// NewEngine wires the engine to its stores and external collaborators.
func NewEngine(
	cfg *shared.Config,
	logs *runlog.Logs,
	store *archive.Store,
	ledger *sidecar.Ledger,
	downloader Downloader,
	remover SegmentRemover,
	logger *log.Logger,
) *Engine {
	return &Engine{
		cfg:        cfg,
		logs:       logs,
		archive:    store,
		ledger:     ledger,
		downloader: downloader,
		remover:    remover,
		logger:     logger,
	}
}

type jobStatus int

const (
	statusSucceeded jobStatus = iota
	statusSkipped
	statusFailed
	statusDeferred
)

type jobResult struct {
	job    Job
	status jobStatus
	// rec is the sidecar written on deferral, retried after the pool drains.
	rec *sidecar.Sidecar
}

// Run executes the jobs. The archive scrub completes before any job starts,
// so entries whose files were deleted out-of-band are re-downloaded in the
// same invocation.
func (e *Engine) Run(ctx context.Context, jobs []Job) (Summary, error) {
	var summary Summary
	if len(jobs) == 0 {
		return summary, nil
	}

	e.scrub(jobs)

	concurrency := e.cfg.Download.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	if concurrency > len(jobs) {
		concurrency = len(jobs)
	}

	queue := make(chan Job, len(jobs))
	results := make(chan jobResult, len(jobs))

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go e.worker(ctx, &wg, queue, results)
	}
	for _, job := range jobs {
		queue <- job
	}
	close(queue)

	go func() {
		wg.Wait()
		close(results)
	}()

	var deferred []jobResult
	for res := range results {
		switch res.status {
		case statusSucceeded:
			summary.Succeeded++
		case statusSkipped:
			summary.Skipped++
		case statusFailed:
			summary.Failed++
		case statusDeferred:
			summary.Succeeded++
			deferred = append(deferred, res)
		}
	}

	summary.Deferred = e.retryDeferred(ctx, deferred)
	return summary, nil
}

// scrub removes archive entries for the current job set whose output file
// has vanished. Entries belonging to other playlists are left alone.
func (e *Engine) scrub(jobs []Job) {
	byID := make(map[string]Job, len(jobs))
	for _, job := range jobs {
		if id := job.VideoID(); id != "" {
			byID[id] = job
		}
	}
	removed, err := e.archive.Scrub(
		func(id string) (string, string, bool) {
			job, ok := byID[id]
			return job.OutputDir, job.OutputStem, ok
		},
		func(dir, stem string) bool {
			return media.FindExistingFile(dir, stem) != ""
		},
	)
	if err != nil {
		e.logger.Warn("archive scrub failed", "err", err)
		return
	}
	if removed > 0 {
		e.logger.Info("archive scrub removed stale entries", "count", removed)
	}
}

func (e *Engine) worker(ctx context.Context, wg *sync.WaitGroup, queue <-chan Job, results chan<- jobResult) {
	defer wg.Done()
	for job := range queue {
		select {
		case <-ctx.Done():
			return
		default:
		}
		results <- e.runJob(ctx, job)
	}
}

func (e *Engine) runJob(ctx context.Context, job Job) jobResult {
	if id := job.VideoID(); id != "" && e.archive.Contains(id) {
		e.skipExisting(job)
		return jobResult{job: job, status: statusSkipped}
	}

	if err := os.MkdirAll(job.OutputDir, 0755); err != nil {
		e.logger.Error("could not create output directory", "dir", job.OutputDir, "err", err)
		return jobResult{job: job, status: statusFailed}
	}

	if existing := media.FindExistingFile(job.OutputDir, job.OutputStem); existing != "" {
		if actual, mismatch := CompareMetadata(existing, job.Meta); mismatch {
			if err := e.logs.Mismatch(existing, describeExpected(job.Meta), actual); err != nil {
				e.logger.Warn("could not append to mismatch log", "err", err)
			}
			e.logger.Warn("metadata mismatch, keeping existing file", "file", existing)
		}
		e.skipExisting(job)
		return jobResult{job: job, status: statusSkipped}
	}

	policy := Policy{
		MaxAttempts: e.retries(),
		IsFatal:     downloadShortCircuit,
		Delay:       SleepRange(e.cfg.Download.SleepInterval, e.cfg.Download.MaxSleepInterval),
		OnRetry: func(attempt int) {
			if err := e.logs.Retry(job.OutputStem, attempt, e.retries(), job.SourceURL); err != nil {
				e.logger.Warn("could not append to retries log", "err", err)
			}
			e.logger.Debug("retrying download", "stem", job.OutputStem, "attempt", attempt)
		},
	}
	err := policy.Do(ctx, func(ctx context.Context) error {
		return e.downloader.Download(ctx, ytdlp.Request{
			SourceURL:      job.SourceURL,
			OutputTemplate: job.OutputTemplate(),
		})
	})

	switch {
	case err == nil:
		return e.completeJob(job)
	case errors.Is(err, shared.ErrSegmentServiceUnreachable):
		return e.deferSegments(job)
	case errors.Is(err, shared.ErrContentUnavailable):
		e.logger.Error("content unavailable", "stem", job.OutputStem, "err", err)
		e.appendError(job.OutputStem, err.Error(), job.SourceURL)
		return jobResult{job: job, status: statusFailed}
	default:
		e.logger.Error("download failed", "stem", job.OutputStem, "err", err)
		e.appendError(job.OutputStem, fmt.Sprintf("failed after %d retries", e.retries()), job.SourceURL)
		return jobResult{job: job, status: statusFailed}
	}
}

func (e *Engine) completeJob(job Job) jobResult {
	e.logger.Info("completed", "stem", job.OutputStem)
	if err := e.logs.Success(job.OutputStem, job.OutputDir, job.SourceURL); err != nil {
		e.logger.Warn("could not append to success log", "err", err)
	}
	if id := job.VideoID(); id != "" {
		if err := e.archive.Add(id); err != nil {
			e.logger.Warn("could not record archive entry", "id", id, "err", err)
		}
	}
	return jobResult{job: job, status: statusSucceeded}
}

// deferSegments handles the download-succeeded, trim-failed case. The audio
// file is on disk, so the job counts as a success; the outstanding trim is
// written to the sidecar ledger and retried after the pool drains.
func (e *Engine) deferSegments(job Job) jobResult {
	audio := media.FindExistingFile(job.OutputDir, job.OutputStem)
	if audio == "" {
		e.appendError(job.OutputStem, "segment service unreachable and no audio file found", job.SourceURL)
		return jobResult{job: job, status: statusFailed}
	}
	res := e.completeJob(job)
	if !e.cfg.SegmentRemovalEnabled() {
		return res
	}
	rec, err := e.ledger.Write(audio, job.SourceURL, job.OutputStem, []string{sidecar.TaskSegmentRemoval})
	if err != nil {
		e.logger.Error("could not write sidecar", "stem", job.OutputStem, "err", err)
		return res
	}
	e.logger.Warn("segment service unreachable, queued for retry", "stem", job.OutputStem)
	return jobResult{job: job, status: statusDeferred, rec: rec}
}

// retryDeferred runs the post-pool segment retry pass and returns how many
// files remain outstanding.
func (e *Engine) retryDeferred(ctx context.Context, deferred []jobResult) int {
	if len(deferred) == 0 {
		return 0
	}
	e.logger.Info("retrying segment removal", "count", len(deferred))

	outstanding := 0
	for _, d := range deferred {
		outcome, err := e.retrySegmentsFor(ctx, d.rec)
		if err != nil {
			outstanding++
			e.appendError(d.job.OutputStem, runlog.RetriesExhaustedMarker+" — segments not removed", d.job.SourceURL)
			e.logger.Warn("segments still pending", "stem", d.job.OutputStem, "err", err)
			continue
		}
		if err := e.ledger.RemoveTask(d.rec, sidecar.TaskSegmentRemoval); err != nil {
			e.logger.Warn("could not clear sidecar", "stem", d.job.OutputStem, "err", err)
		}
		if outcome.NoSegments {
			if err := e.logs.Resolved(d.job.OutputStem); err != nil {
				e.logger.Warn("could not append resolved marker", "err", err)
			}
		}
	}
	return outstanding
}

func (e *Engine) retrySegmentsFor(ctx context.Context, rec *sidecar.Sidecar) (sponsorblock.Outcome, error) {
	var outcome sponsorblock.Outcome
	policy := Policy{
		MaxAttempts: segmentRetryAttempts,
		IsFatal:     func(err error) bool { return errors.Is(err, shared.ErrInvalidInput) },
		Delay:       SleepRange(e.cfg.Download.SleepInterval, e.cfg.Download.MaxSleepInterval),
	}
	err := policy.Do(ctx, func(ctx context.Context) error {
		var opErr error
		outcome, opErr = e.remover.Process(ctx, rec.AudioFile, rec.SourceURL)
		return opErr
	})
	return outcome, err
}

func (e *Engine) skipExisting(job Job) {
	existing := media.FindExistingFile(job.OutputDir, job.OutputStem)
	e.logger.Info("skipping, already exists", "stem", job.OutputStem)
	if err := e.logs.Skip(job.OutputStem, existing, job.SourceURL); err != nil {
		e.logger.Warn("could not append to skipped log", "err", err)
	}
}

func (e *Engine) appendError(stem, reason, url string) {
	if err := e.logs.Error(stem, reason, url); err != nil {
		e.logger.Warn("could not append to errors log", "err", err)
	}
}

func (e *Engine) retries() int {
	if e.cfg.Download.Retries < 1 {
		return 1
	}
	return e.cfg.Download.Retries
}

// downloadShortCircuit stops the retry loop for errors more attempts cannot
// fix: content that can never be fetched, and the trim-skipped case where
// the audio is already on disk.
func downloadShortCircuit(err error) bool {
	return errors.Is(err, shared.ErrContentUnavailable) ||
		errors.Is(err, shared.ErrSegmentServiceUnreachable)
}
