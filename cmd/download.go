package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"ytfetch/internal/archive"
	"ytfetch/internal/m3u"
	"ytfetch/internal/runlog"
	"ytfetch/internal/shared"
	"ytfetch/internal/sidecar"
	"ytfetch/internal/tasks"
	"ytfetch/internal/ytdlp"
)

// Download resolves a URL into jobs, drains them through the engine, then
// rewrites the playlist M3U from whatever landed on disk.
func (r *Runner) Download(ctx context.Context, cmd *cli.Command) error {
	url := cmd.StringArg("url")
	if url == "" {
		return fmt.Errorf("a video or playlist URL is required")
	}

	cfg, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.IsSet("concurrency") {
		cfg.Download.Concurrency = cmd.Int("concurrency")
	}
	if cmd.Bool("no-cache") {
		cfg.Cache.Enabled = false
	}

	logger := shared.WithLogger(r.logger, "run", shared.GenerateRunID())
	if cmd.Bool("verbose") {
		shared.SetLogLevel(logger, log.DebugLevel)
	}

	yt := ytdlp.NewClient(cfg, r.cache(cfg, logger), logger)
	if err := yt.CheckDependencies(); err != nil {
		return err
	}

	logger.Info("resolving metadata", "url", url)
	info, err := yt.FetchJSON(ctx, url, true)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", url, err)
	}

	logs := runlog.New(cfg.Library.LogDir)
	builder := tasks.NewJobBuilder(cfg, yt, logs, logger)
	jobs, playlist, err := builder.Build(ctx, info)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		r.writePlain("Nothing to download.\n")
		return nil
	}

	store, err := archive.Open(cfg.Library.ArchivePath, logger)
	if err != nil {
		return err
	}
	ledger := sidecar.NewLedger(logger)

	engine := tasks.NewEngine(cfg, logs, store, ledger, yt, r.segmentRemover(cfg, logger), logger)

	if playlist != nil {
		r.writePlain("Playlist: %s (%d tracks)\n", playlist.Title, len(jobs))
	}
	r.writePlain("Downloading %d item(s)...\n\n", len(jobs))

	summary, err := engine.Run(ctx, jobs)
	if err != nil {
		return err
	}

	if playlist != nil && !cmd.Bool("skip-m3u") {
		if err := m3u.RewriteFromDir(playlist.Dir, cfg.Library.BaseDir, playlist.URL, logger); err != nil {
			logger.Warn("m3u rewrite failed", "dir", playlist.Dir, "error", err)
		}
	}

	r.writePlainHeader("Download Complete")
	r.writePlain("Succeeded: %d\n", summary.Succeeded)
	r.writePlain("Skipped:   %d\n", summary.Skipped)
	r.writePlain("Failed:    %d\n", summary.Failed)
	if summary.Deferred > 0 {
		r.writePlain("Deferred:  %d (run 'reconcile' to retry segment removal)\n", summary.Deferred)
	}
	if summary.Failed > 0 {
		r.writePlain("\nSee %s for failure details.\n", logs.Dir())
	}

	return nil
}
