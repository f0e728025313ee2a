// package runlog maintains the append-only, timestamp-prefixed run logs.
//
// One event per line, pipe-delimited:
//
//	2026-02-19T14:32:01 048-Artist-Song | /media/music/Playlist | https://...
//
// These files are both an operator-facing audit trail and a durable input:
// the sidecar bootstrapper reconstructs deferred work from errors.log and
// success.log, so the line format is a stable interface.
package runlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Log file names under the configured log directory.
const (
	SuccessLog  = "success.log"
	ErrorsLog   = "errors.log"
	SkippedLog  = "skipped.log"
	RetriesLog  = "retries.log"
	MismatchLog = "metadata_mismatch.log"
)

// Markers recognized in errors.log. FailureMarkers flag a deferred
// segment-removal failure; ResolvedMarker permanently excludes a stem from
// any future sidecar creation.
const (
	// Emitted by the external downloader when the segment service is down.
	APIUnreachableMarker = "Unable to communicate with SponsorBlock API"
	// Written by our own retry path after the budget is exhausted.
	RetriesExhaustedMarker = "SponsorBlock API unreachable after retries"
	// Written by reconciliation when a retry fails again.
	KeptMarker = "SponsorBlock retry failed — sidecar kept for next attempt"
	// Written when the service confirmed there is nothing to remove.
	ResolvedMarker = "SponsorBlock resolved — no segments in database"
)

// FailureMarkers lists every marker that makes a stem a candidate for
// sidecar reconstruction. The kept-for-next-attempt marker is deliberately
// absent: a kept stem still has its sidecar, so there is nothing to rebuild.
var FailureMarkers = []string{APIUnreachableMarker, RetriesExhaustedMarker}

// Logs appends events to the run log files in a directory.
// Appends are durable per write; the file handle is not held open.
type Logs struct {
	dir string
}

// New returns a Logs writing under dir.
func New(dir string) *Logs {
	return &Logs{dir: dir}
}

// Dir returns the log directory.
func (l *Logs) Dir() string { return l.dir }

// Append writes one timestamped line to the named log file, creating the
// directory and file as needed.
func (l *Logs) Append(name, message string) error {
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("failed to create log dir: %w", err)
	}
	path := filepath.Join(l.dir, name)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log %s: %w", name, err)
	}
	defer f.Close()
	timestamp := time.Now().Format("2006-01-02T15:04:05")
	if _, err := fmt.Fprintf(f, "%s %s\n", timestamp, message); err != nil {
		return fmt.Errorf("failed to append to log %s: %w", name, err)
	}
	return nil
}

// Success records a completed item: stem, output directory, source URL.
func (l *Logs) Success(stem, outputDir, sourceURL string) error {
	return l.Append(SuccessLog, fmt.Sprintf("%s | %s | %s", stem, outputDir, sourceURL))
}

// Skip records a deliberately skipped item with a reason.
func (l *Logs) Skip(stem, path, sourceURL string) error {
	return l.Append(SkippedLog, fmt.Sprintf("%s | %s | %s", stem, path, sourceURL))
}

// Error records a classified per-item failure.
func (l *Logs) Error(stem, reason, sourceURL string) error {
	if sourceURL == "" {
		return l.Append(ErrorsLog, fmt.Sprintf("%s | %s", stem, reason))
	}
	return l.Append(ErrorsLog, fmt.Sprintf("%s | %s | %s", stem, reason, sourceURL))
}

// Retry records one retry attempt for an item.
func (l *Logs) Retry(stem string, attempt, budget int, sourceURL string) error {
	return l.Append(RetriesLog, fmt.Sprintf("%s | attempt %d/%d | %s", stem, attempt, budget, sourceURL))
}

// Mismatch records an existing file whose embedded tags disagree with the
// freshly fetched metadata.
func (l *Logs) Mismatch(path, expected, actual string) error {
	return l.Append(MismatchLog, fmt.Sprintf("%s | expected: %s | actual: %s", path, expected, actual))
}

// Resolved writes the permanent exclusion marker for a stem: its deferred
// task is confirmed complete and must never be retried again.
func (l *Logs) Resolved(stem string) error {
	return l.Append(ErrorsLog, fmt.Sprintf("%s | %s", stem, ResolvedMarker))
}

// Kept writes the kept-for-next-attempt marker for a stem.
func (l *Logs) Kept(stem string) error {
	return l.Append(ErrorsLog, fmt.Sprintf("%s | %s", stem, KeptMarker))
}

// Line is one parsed run log line.
type Line struct {
	Raw    string
	Fields []string
}

// Stem returns the first field, the output stem the line is keyed by.
func (ln Line) Stem() string {
	if len(ln.Fields) == 0 {
		return ""
	}
	return ln.Fields[0]
}

// Contains reports whether the raw line carries the given marker.
func (ln Line) Contains(marker string) bool {
	return strings.Contains(ln.Raw, marker)
}

// ParseLine splits a run log line into its pipe-delimited fields, dropping
// the leading timestamp. Malformed lines yield an empty stem rather than an
// error; callers skip them.
func ParseLine(raw string) Line {
	rest := raw
	if _, after, ok := strings.Cut(raw, " "); ok {
		rest = after
	}
	parts := strings.Split(rest, " | ")
	fields := make([]string, 0, len(parts))
	for _, p := range parts {
		fields = append(fields, strings.TrimSpace(p))
	}
	return Line{Raw: raw, Fields: fields}
}

// ReadLines parses every line of the named log file. A missing file is not
// an error; it returns an empty slice.
func (l *Logs) ReadLines(name string) ([]Line, error) {
	data, err := os.ReadFile(filepath.Join(l.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read log %s: %w", name, err)
	}
	var lines []Line
	for _, raw := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		lines = append(lines, ParseLine(raw))
	}
	return lines, nil
}
