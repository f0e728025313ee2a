// Package tasks contains the download engine: job preparation, the
// bounded-concurrency scheduler, retry policy, and the reconciliation
// driver for deferred segment-removal work.
package tasks

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"ytfetch/internal/media"
	"ytfetch/internal/runlog"
	"ytfetch/internal/shared"
)

// Job is one immutable unit of download work.
type Job struct {
	Key        string
	SourceURL  string
	OutputDir  string
	OutputStem string
	Meta       media.TrackMeta
}

// OutputTemplate returns the yt-dlp output template for this job.
func (j Job) OutputTemplate() string {
	return filepath.Join(j.OutputDir, j.OutputStem+".%(ext)s")
}

// VideoID returns the archive identifier for this job.
func (j Job) VideoID() string {
	return media.ExtractVideoID(j.SourceURL)
}

// Playlist carries run-level facts about the playlist the jobs came from,
// used after the run to write the M3U file.
type Playlist struct {
	Title   string
	Dir     string
	M3UPath string
	URL     string
}

// MetadataFetcher resolves a URL to its metadata document.
type MetadataFetcher interface {
	FetchJSON(ctx context.Context, url string, flat bool) (media.Info, error)
}

// JobBuilder expands a resolved info document into concrete jobs. Per-entry
// metadata fetches go through the fetcher, which is expected to cache and
// pace them.
type JobBuilder struct {
	cfg     *shared.Config
	fetcher MetadataFetcher
	logs    *runlog.Logs
	logger  *log.Logger
}

// NewJobBuilder wires a builder to its config, fetcher, and run logs.
func NewJobBuilder(cfg *shared.Config, fetcher MetadataFetcher, logs *runlog.Logs, logger *log.Logger) *JobBuilder {
	return &JobBuilder{cfg: cfg, fetcher: fetcher, logs: logs, logger: logger}
}

// Titles that mean the upstream metadata is garbage, not a real track.
var invalidTitles = map[string]bool{"index": true, "videoplayback": true}

// Build turns an info document into jobs. Playlists yield one job per
// usable entry; entries with missing or non-public metadata are logged and
// dropped, never fatal. Single items yield exactly one job.
func (b *JobBuilder) Build(ctx context.Context, info media.Info) ([]Job, *Playlist, error) {
	if !info.IsPlaylist() {
		job := b.buildSingle(info)
		return []Job{job}, nil, nil
	}
	return b.buildPlaylist(ctx, info)
}

func (b *JobBuilder) buildSingle(info media.Info) Job {
	meta := media.BuildTrackMeta(info, 0, "", false)
	outputDir := filepath.Join(
		b.cfg.Library.BaseDir,
		media.Sanitize(meta.Artist),
		media.Sanitize(firstNonEmpty(meta.Album, "Unknown Album")),
	)
	stem := media.MakeOutputStem(meta, "")
	return Job{
		Key:        media.Sanitize(meta.Title),
		SourceURL:  meta.SourceURL,
		OutputDir:  outputDir,
		OutputStem: stem,
		Meta:       meta,
	}
}

func (b *JobBuilder) buildPlaylist(ctx context.Context, info media.Info) ([]Job, *Playlist, error) {
	entries := info.Entries()
	if len(entries) == 0 {
		return nil, nil, fmt.Errorf("%w: playlist is empty or unavailable", shared.ErrMetadataMissing)
	}
	total := len(entries)
	b.logger.Info("preparing playlist items", "total", total)

	title := media.Sanitize(firstNonEmpty(info.Str("title"), "playlist"))
	dir := filepath.Join(b.cfg.Library.BaseDir, title)
	pl := &Playlist{
		Title:   title,
		Dir:     dir,
		M3UPath: filepath.Join(dir, title+".m3u"),
		URL:     media.CleanPlaylistURL(info.SourceURL()),
	}

	width := len(strconv.Itoa(total))
	if width < 2 {
		width = 2
	}

	var jobs []Job
	for i, entry := range entries {
		index := i + 1
		entryURL := entryWatchURL(entry)
		if entryURL == "" {
			b.logger.Warn("skipping entry with no URL", "index", index)
			continue
		}

		metaInfo, reason := b.entryMetadata(ctx, info, entry, entryURL)
		if metaInfo == nil {
			b.logger.Warn("skipping entry", "url", entryURL, "reason", reason)
			continue
		}

		playlistIndex := media.SafeInt(entry["playlist_index"], index)
		meta := media.BuildTrackMeta(metaInfo, playlistIndex, title, true)
		if invalidTitles[strings.ToLower(meta.Title)] {
			b.appendPrepError("metadata invalid title", entryURL, meta.Title)
			continue
		}

		sourceURL := firstNonEmpty(metaInfo.SourceURL(), entryURL)
		if id := metaInfo.Str("id"); id != "" {
			sourceURL = media.WatchURL(id)
		}

		trackNumber := meta.TrackNumber
		if trackNumber == 0 {
			trackNumber = playlistIndex
		}
		prefix := fmt.Sprintf("%0*d", width, trackNumber)
		stem := media.MakeOutputStem(meta, prefix)

		jobs = append(jobs, Job{
			Key:        prefix + "-" + media.Sanitize(meta.Title),
			SourceURL:  sourceURL,
			OutputDir:  dir,
			OutputStem: stem,
			Meta:       meta,
		})
	}
	return jobs, pl, nil
}

// entryMetadata returns the full metadata document for one playlist entry,
// or nil with a reason when the entry should be dropped. Flat entries that
// already carry a title are used as-is; everything else goes through the
// fetcher. Every drop is appended to the errors log so the run is auditable.
func (b *JobBuilder) entryMetadata(ctx context.Context, playlist media.Info, entry media.Info, entryURL string) (media.Info, string) {
	var metaInfo media.Info
	if entry.Str("title") != "" || entry.Str("track") != "" {
		metaInfo = make(media.Info, len(entry)+2)
		for k, v := range entry {
			metaInfo[k] = v
		}
		metaInfo["webpage_url"] = entryURL
		if t := playlist.Str("title"); t != "" && metaInfo.Str("playlist") == "" {
			metaInfo["playlist"] = t
		}
	} else {
		fetched, err := b.fetcher.FetchJSON(ctx, entryURL, false)
		if err != nil {
			b.appendPrepError("metadata failed", entryURL, err.Error())
			return nil, "fetch failed"
		}
		metaInfo = fetched
	}

	if len(metaInfo) == 0 {
		b.appendPrepError("metadata missing", entryURL, "")
		return nil, "no metadata"
	}
	if metaInfo.Str("title") == "" {
		b.appendPrepError("metadata missing title", entryURL, "")
		return nil, "missing title"
	}
	if avail := metaInfo.Str("availability"); avail != "" && !strings.EqualFold(avail, "public") {
		b.appendPrepError("metadata unavailable", entryURL, avail)
		return nil, avail
	}
	return metaInfo, ""
}

func (b *JobBuilder) appendPrepError(kind, url, detail string) {
	line := kind + " | " + url
	if detail != "" {
		line += " | " + detail
	}
	if err := b.logs.Append(runlog.ErrorsLog, line); err != nil {
		b.logger.Warn("could not append to errors log", "err", err)
	}
}

// entryWatchURL normalizes a flat playlist entry to a watch URL. Entries
// may carry a full URL or just a bare video id.
func entryWatchURL(entry media.Info) string {
	raw := firstNonEmpty(entry.Str("url"), entry.Str("id"))
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "http") {
		return raw
	}
	return media.WatchURL(raw)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
