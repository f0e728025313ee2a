package tasks

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"ytfetch/internal/archive"
	"ytfetch/internal/media"
	"ytfetch/internal/runlog"
	"ytfetch/internal/shared"
	"ytfetch/internal/sidecar"
	"ytfetch/internal/sponsorblock"
	"ytfetch/internal/ytdlp"
)

// fakeDownloader simulates the external downloader. Unless told otherwise it
// drops an audio file where the output template points and reports success.
type fakeDownloader struct {
	mu    sync.Mutex
	calls int
	// errFor maps a source URL to the error its download should return.
	// The audio file is still created unless createFile is false, matching
	// the trim-skipped case where audio lands despite the error.
	errFor     map[string]error
	createFile map[string]bool
}

func (d *fakeDownloader) Download(_ context.Context, req ytdlp.Request) error {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()

	create := true
	if v, ok := d.createFile[req.SourceURL]; ok {
		create = v
	}
	if create {
		path := strings.Replace(req.OutputTemplate, "%(ext)s", "opus", 1)
		if err := os.WriteFile(path, []byte("audio"), 0644); err != nil {
			return err
		}
	}
	if d.errFor != nil {
		return d.errFor[req.SourceURL]
	}
	return nil
}

func (d *fakeDownloader) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// fakeRemover simulates the segment service with a fixed outcome.
type fakeRemover struct {
	mu      sync.Mutex
	calls   int
	outcome sponsorblock.Outcome
	err     error
}

func (r *fakeRemover) Process(context.Context, string, string) (sponsorblock.Outcome, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if r.err != nil {
		return sponsorblock.Outcome{}, r.err
	}
	return r.outcome, nil
}

type engineFixture struct {
	cfg        *shared.Config
	logs       *runlog.Logs
	archive    *archive.Store
	ledger     *sidecar.Ledger
	downloader *fakeDownloader
	remover    *fakeRemover
	engine     *Engine
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	base := t.TempDir()
	cfg := shared.DefaultConfig()
	cfg.Library.BaseDir = base
	cfg.Library.LogDir = filepath.Join(base, "logs")
	cfg.Library.ArchivePath = filepath.Join(base, "archive.txt")
	cfg.Download.Retries = 2
	cfg.Download.Concurrency = 2
	cfg.Download.SleepInterval = 0
	cfg.Download.MaxSleepInterval = 0

	logger := shared.NewLogger(io.Discard)
	logs := runlog.New(cfg.Library.LogDir)
	store, err := archive.Open(cfg.Library.ArchivePath, logger)
	if err != nil {
		t.Fatal(err)
	}
	ledger := sidecar.NewLedger(logger)
	downloader := &fakeDownloader{}
	remover := &fakeRemover{}

	return &engineFixture{
		cfg:        cfg,
		logs:       logs,
		archive:    store,
		ledger:     ledger,
		downloader: downloader,
		remover:    remover,
		engine:     NewEngine(cfg, logs, store, ledger, downloader, remover, logger),
	}
}

func (f *engineFixture) job(t *testing.T, stem, videoID string) Job {
	t.Helper()
	dir := filepath.Join(f.cfg.Library.BaseDir, "Playlist")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	return Job{
		Key:        stem,
		SourceURL:  media.WatchURL(videoID),
		OutputDir:  dir,
		OutputStem: stem,
		Meta:       media.TrackMeta{Title: stem},
	}
}

func (f *engineFixture) errorsLogContains(t *testing.T, marker string) bool {
	t.Helper()
	lines, err := f.logs.ReadLines(runlog.ErrorsLog)
	if err != nil {
		t.Fatal(err)
	}
	for _, line := range lines {
		if line.Contains(marker) {
			return true
		}
	}
	return false
}

func TestEngineRun(t *testing.T) {
	ctx := context.Background()

	t.Run("DownloadSuccess", func(t *testing.T) {
		f := newEngineFixture(t)
		job := f.job(t, "001-Song", "vid1")

		summary, err := f.engine.Run(ctx, []Job{job})
		if err != nil {
			t.Fatal(err)
		}
		if summary.Succeeded != 1 || summary.Failed != 0 {
			t.Errorf("unexpected summary: %+v", summary)
		}
		if !f.archive.Contains("vid1") {
			t.Error("successful download should be archived")
		}
		if media.FindExistingFile(job.OutputDir, job.OutputStem) == "" {
			t.Error("audio file should exist")
		}
	})

	t.Run("ArchivedItemSkipsWithoutDownloading", func(t *testing.T) {
		f := newEngineFixture(t)
		job := f.job(t, "001-Song", "vid1")
		audio := filepath.Join(job.OutputDir, "001-Song.opus")
		if err := os.WriteFile(audio, []byte("audio"), 0644); err != nil {
			t.Fatal(err)
		}
		if err := f.archive.Add("vid1"); err != nil {
			t.Fatal(err)
		}

		summary, err := f.engine.Run(ctx, []Job{job})
		if err != nil {
			t.Fatal(err)
		}
		if summary.Skipped != 1 {
			t.Errorf("expected a skip, got %+v", summary)
		}
		if f.downloader.callCount() != 0 {
			t.Error("archived items must not touch the network")
		}
	})

	t.Run("ScrubRestoresDownloadability", func(t *testing.T) {
		f := newEngineFixture(t)
		job := f.job(t, "001-Song", "vid1")
		// Archived but the file was deleted out-of-band.
		if err := f.archive.Add("vid1"); err != nil {
			t.Fatal(err)
		}

		summary, err := f.engine.Run(ctx, []Job{job})
		if err != nil {
			t.Fatal(err)
		}
		if summary.Succeeded != 1 {
			t.Errorf("expected re-download after scrub, got %+v", summary)
		}
		if f.downloader.callCount() != 1 {
			t.Errorf("expected 1 download call, got %d", f.downloader.callCount())
		}
	})

	t.Run("ExistingFileSkipsWithoutArchiveEntry", func(t *testing.T) {
		f := newEngineFixture(t)
		job := f.job(t, "001-Song", "vid1")
		audio := filepath.Join(job.OutputDir, "001-Song.opus")
		if err := os.WriteFile(audio, []byte("downloaded out of band"), 0644); err != nil {
			t.Fatal(err)
		}

		summary, err := f.engine.Run(ctx, []Job{job})
		if err != nil {
			t.Fatal(err)
		}
		if summary.Skipped != 1 || f.downloader.callCount() != 0 {
			t.Errorf("existing file should skip the download, got %+v", summary)
		}
	})

	t.Run("FatalContentFailsWithoutRetry", func(t *testing.T) {
		f := newEngineFixture(t)
		job := f.job(t, "001-Song", "vid1")
		f.downloader.errFor = map[string]error{job.SourceURL: shared.ErrContentUnavailable}
		f.downloader.createFile = map[string]bool{job.SourceURL: false}

		summary, err := f.engine.Run(ctx, []Job{job})
		if err != nil {
			t.Fatal(err)
		}
		if summary.Failed != 1 {
			t.Errorf("expected a failure, got %+v", summary)
		}
		if f.downloader.callCount() != 1 {
			t.Errorf("fatal failures must not retry, got %d calls", f.downloader.callCount())
		}
		if f.archive.Contains("vid1") {
			t.Error("failed items must not be archived")
		}
	})

	t.Run("TransientFailureExhaustsBudget", func(t *testing.T) {
		f := newEngineFixture(t)
		job := f.job(t, "001-Song", "vid1")
		f.downloader.errFor = map[string]error{job.SourceURL: os.ErrDeadlineExceeded}
		f.downloader.createFile = map[string]bool{job.SourceURL: false}

		summary, err := f.engine.Run(ctx, []Job{job})
		if err != nil {
			t.Fatal(err)
		}
		if summary.Failed != 1 {
			t.Errorf("expected a failure, got %+v", summary)
		}
		if f.downloader.callCount() != f.cfg.Download.Retries {
			t.Errorf("expected %d attempts, got %d", f.cfg.Download.Retries, f.downloader.callCount())
		}
		if !f.errorsLogContains(t, "failed after") {
			t.Error("expected terminal failure line in errors log")
		}
		retries, err := f.logs.ReadLines(runlog.RetriesLog)
		if err != nil {
			t.Fatal(err)
		}
		if len(retries) != f.cfg.Download.Retries-1 {
			t.Errorf("expected %d retry lines, got %d", f.cfg.Download.Retries-1, len(retries))
		}
	})

	t.Run("DeferredTrimStillOutstanding", func(t *testing.T) {
		// Scenario: download lands, trim fails, in-run retry also fails.
		f := newEngineFixture(t)
		job := f.job(t, "001-Song", "vid1")
		f.downloader.errFor = map[string]error{job.SourceURL: shared.ErrSegmentServiceUnreachable}
		f.remover.err = shared.ErrSegmentServiceUnreachable

		summary, err := f.engine.Run(ctx, []Job{job})
		if err != nil {
			t.Fatal(err)
		}
		if summary.Succeeded != 1 {
			t.Errorf("deferred trim must still count as success, got %+v", summary)
		}
		if summary.Deferred != 1 {
			t.Errorf("expected 1 outstanding deferral, got %+v", summary)
		}
		if media.FindExistingFile(job.OutputDir, job.OutputStem) == "" {
			t.Error("audio file should exist")
		}
		recs, err := f.ledger.Scan(f.cfg.Library.BaseDir, sidecar.TaskSegmentRemoval)
		if err != nil {
			t.Fatal(err)
		}
		if len(recs) != 1 || recs[0].OutputStem != "001-Song" {
			t.Errorf("expected one sidecar for the deferred file, got %v", recs)
		}
		if !f.errorsLogContains(t, runlog.RetriesExhaustedMarker) {
			t.Error("expected exhausted-retries marker in errors log")
		}
	})

	t.Run("DeferredTrimResolvedInRun", func(t *testing.T) {
		f := newEngineFixture(t)
		job := f.job(t, "001-Song", "vid1")
		f.downloader.errFor = map[string]error{job.SourceURL: shared.ErrSegmentServiceUnreachable}
		f.remover.outcome = sponsorblock.Outcome{NoSegments: true}

		summary, err := f.engine.Run(ctx, []Job{job})
		if err != nil {
			t.Fatal(err)
		}
		if summary.Deferred != 0 || summary.Succeeded != 1 {
			t.Errorf("resolved deferral should leave nothing outstanding: %+v", summary)
		}
		recs, _ := f.ledger.Scan(f.cfg.Library.BaseDir, "")
		if len(recs) != 0 {
			t.Errorf("sidecar should be cleared, got %v", recs)
		}
		if !f.errorsLogContains(t, runlog.ResolvedMarker) {
			t.Error("expected resolved-exclusion marker in errors log")
		}
	})

	t.Run("ConcurrentDeferralsWriteIndependentSidecars", func(t *testing.T) {
		f := newEngineFixture(t)
		jobA := f.job(t, "001-SongA", "vidA")
		jobB := f.job(t, "002-SongB", "vidB")
		f.downloader.errFor = map[string]error{
			jobA.SourceURL: shared.ErrSegmentServiceUnreachable,
			jobB.SourceURL: shared.ErrSegmentServiceUnreachable,
		}
		f.remover.err = shared.ErrSegmentServiceUnreachable

		summary, err := f.engine.Run(ctx, []Job{jobA, jobB})
		if err != nil {
			t.Fatal(err)
		}
		if summary.Succeeded != 2 || summary.Deferred != 2 {
			t.Errorf("unexpected summary: %+v", summary)
		}
		recs, err := f.ledger.Scan(f.cfg.Library.BaseDir, sidecar.TaskSegmentRemoval)
		if err != nil {
			t.Fatal(err)
		}
		if len(recs) != 2 {
			t.Errorf("expected two independent sidecars, got %d", len(recs))
		}
	})

	t.Run("PerItemFailureDoesNotAbortSiblings", func(t *testing.T) {
		f := newEngineFixture(t)
		bad := f.job(t, "001-Bad", "vidBad")
		good := f.job(t, "002-Good", "vidGood")
		f.downloader.errFor = map[string]error{bad.SourceURL: shared.ErrContentUnavailable}
		f.downloader.createFile = map[string]bool{bad.SourceURL: false}

		summary, err := f.engine.Run(ctx, []Job{bad, good})
		if err != nil {
			t.Fatal(err)
		}
		if summary.Failed != 1 || summary.Succeeded != 1 {
			t.Errorf("unexpected summary: %+v", summary)
		}
	})

	t.Run("EmptyJobList", func(t *testing.T) {
		f := newEngineFixture(t)
		summary, err := f.engine.Run(ctx, nil)
		if err != nil {
			t.Fatal(err)
		}
		if summary != (Summary{}) {
			t.Errorf("expected zero summary, got %+v", summary)
		}
	})
}
