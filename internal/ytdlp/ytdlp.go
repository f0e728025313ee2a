// Package ytdlp shells out to the yt-dlp binary for metadata fetches and
// audio downloads.
package ytdlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"ytfetch/internal/media"
	"ytfetch/internal/metacache"
	"ytfetch/internal/shared"
)

// Phrase yt-dlp prints when its SponsorBlock post-processor cannot reach the
// segment API. The download itself completed; only the trim was skipped.
const sponsorblockErrorPhrase = "Unable to communicate with SponsorBlock API"

// lastLineCount bounds how much trailing output is kept for failure
// classification.
const lastLineCount = 20

// Client runs yt-dlp. A single shared rate limiter paces metadata requests
// across all workers so bulk playlist resolution does not trip upstream
// throttling.
type Client struct {
	cfg     *shared.Config
	cache   *metacache.Cache
	limiter *rate.Limiter
	logger  *log.Logger
}

// NewClient builds a Client around cfg. The metadata cache may be nil, in
// which case every fetch goes to the network.
func NewClient(cfg *shared.Config, cache *metacache.Cache, logger *log.Logger) *Client {
	interval := time.Duration(cfg.Download.SleepRequests) * time.Second
	if interval <= 0 {
		interval = time.Second
	}
	return &Client{
		cfg:     cfg,
		cache:   cache,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		logger:  logger,
	}
}

// CheckDependencies verifies the external binaries are on PATH before any
// work starts.
func (c *Client) CheckDependencies() error {
	for _, bin := range []string{c.cfg.Download.YTDLPBin, c.cfg.Download.FFmpegBin} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("%w: %s not found on PATH", shared.ErrMissingDependency, bin)
		}
	}
	return nil
}

// FetchJSON resolves url to a yt-dlp info document. Cache hits skip the
// network entirely, except for playlists cached with fewer entries than
// their declared count, which are refetched. flat requests --flat-playlist
// so large playlists resolve without per-entry extraction.
func (c *Client) FetchJSON(ctx context.Context, url string, flat bool) (media.Info, error) {
	if c.cache != nil {
		if data := c.cache.Get(url); data != nil {
			var info media.Info
			if err := json.Unmarshal(data, &info); err == nil {
				if !playlistIncomplete(info) {
					return info, nil
				}
				c.logger.Warn("cached playlist metadata incomplete, refetching", "url", url)
			}
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	args := []string{"-J", url, "--ignore-errors"}
	if flat {
		args = append(args, "--flat-playlist")
	}
	if c.cookiesExist() {
		args = append(args, "--cookies", c.cfg.Download.CookiesPath)
	}

	c.logger.Debug("fetching metadata", "url", url)
	cmd := exec.CommandContext(ctx, c.cfg.Download.YTDLPBin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()
	if runErr != nil && stdout.Len() == 0 {
		return nil, fmt.Errorf("%w: %s", shared.ErrMetadataFetch, lastLine(stderr.String()))
	}

	var info media.Info
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		return nil, fmt.Errorf("%w: %s", shared.ErrMetadataFetch, lastLine(stderr.String()))
	}

	if c.cache != nil {
		if err := c.cache.Put(url, stdout.Bytes()); err != nil {
			c.logger.Warn("could not cache metadata", "url", url, "err", err)
		}
	}
	return info, nil
}

// playlistIncomplete reports whether a cached playlist document carries fewer
// entries than it claims to have. Interrupted fetches leave such documents
// behind and they must not satisfy later lookups.
func playlistIncomplete(info media.Info) bool {
	if !info.IsPlaylist() {
		return false
	}
	actual := len(info.Entries())
	for _, key := range []string{"playlist_count", "entry_count", "entries_count"} {
		if expected := media.SafeInt(info[key], 0); expected > 0 && actual < expected {
			return true
		}
	}
	return false
}

// Request describes a single audio download.
type Request struct {
	SourceURL      string
	OutputTemplate string
}

// Download runs yt-dlp for one file. The returned error is classified:
// [shared.ErrSegmentServiceUnreachable] means the audio landed on disk but
// segment trimming was skipped, [shared.ErrContentUnavailable] means the
// content can never be fetched, anything else is transient and worth a
// retry. A nil error is a fully completed download.
func (c *Client) Download(ctx context.Context, req Request) error {
	args := c.downloadArgs(req.OutputTemplate)
	args = append(args, req.SourceURL)

	cmd := exec.CommandContext(ctx, c.cfg.Download.YTDLPBin, args...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Run(); err == nil {
		return nil
	}

	lines := tail(output.String(), lastLineCount)
	return classify(lines, cmd.ProcessState.ExitCode())
}

// downloadArgs assembles the yt-dlp argument list for an audio download.
// The archive file is deliberately not passed through; skip decisions belong
// to the orchestrator so scrubbed entries re-download without yt-dlp's own
// bookkeeping getting in the way.
func (c *Client) downloadArgs(outputTemplate string) []string {
	d := c.cfg.Download
	args := []string{
		"--newline",
		"--continue",
		"--no-overwrites",
		"--extract-audio",
		"--audio-format", c.cfg.Library.AudioFormat,
		"--embed-metadata",
		"--embed-thumbnail",
		"--add-metadata",
		"-f", "bestaudio",
		"-o", outputTemplate,
	}
	if d.RateLimit != "" {
		args = append(args, "--rate-limit", d.RateLimit)
	}
	args = append(args,
		"--sleep-interval", strconv.Itoa(d.SleepInterval),
		"--max-sleep-interval", strconv.Itoa(d.MaxSleepInterval),
	)
	if c.cookiesExist() {
		args = append(args, "--cookies", d.CookiesPath)
	}
	if c.cfg.SegmentRemovalEnabled() {
		args = append(args, "--sponsorblock-remove", strings.Join(c.cfg.SponsorBlock.Categories, ","))
	}
	return args
}

func (c *Client) cookiesExist() bool {
	if c.cfg.Download.CookiesPath == "" {
		return false
	}
	_, err := os.Stat(c.cfg.Download.CookiesPath)
	return err == nil
}
