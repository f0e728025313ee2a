package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"ytfetch/internal/m3u"
	"ytfetch/internal/media"
	"ytfetch/internal/shared"
)

// CachePurge deletes expired metadata cache entries.
func (r *Runner) CachePurge(ctx context.Context, cmd *cli.Command) error {
	cfg, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	removed := r.cache(cfg, r.logger).Purge()
	r.writePlain("Purged %d cache entr%s.\n", removed, pluralY(removed))
	return nil
}

// PlaylistRewrite rebuilds the M3U for a single album directory.
func (r *Runner) PlaylistRewrite(ctx context.Context, cmd *cli.Command) error {
	dir := cmd.StringArg("dir")
	if dir == "" {
		return fmt.Errorf("an album directory is required")
	}

	cfg, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := m3u.RewriteFromDir(dir, cfg.Library.BaseDir, media.CleanPlaylistURL(cmd.String("url")), r.logger); err != nil {
		return err
	}
	r.writePlain("Rewrote %s\n", filepath.Join(dir, filepath.Base(dir)+".m3u"))
	return nil
}

// PlaylistRewriteAll rebuilds the M3U for every album directory in the library.
func (r *Runner) PlaylistRewriteAll(ctx context.Context, cmd *cli.Command) error {
	cfg, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := m3u.RewriteAll(cfg.Library.BaseDir, r.logger); err != nil {
		return err
	}
	r.writePlain("Rewrote playlists under %s\n", cfg.Library.BaseDir)
	return nil
}

// ConfigInit writes a starter configuration file.
func (r *Runner) ConfigInit(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("output")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("refusing to overwrite existing file: %s", path)
	}

	if err := shared.CreateConfigFile(path); err != nil {
		return err
	}
	r.writePlain("Wrote %s\n", path)
	return nil
}

func pluralY(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
