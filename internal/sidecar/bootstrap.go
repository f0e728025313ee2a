package sidecar

import (
	"os"
	"strings"

	"github.com/charmbracelet/log"

	"ytfetch/internal/media"
	"ytfetch/internal/runlog"
)

// Bootstrapper reconstructs missing sidecars from historical run logs.
//
// Failures recorded before the sidecar ledger existed live only as lines in
// errors.log. The bootstrapper parses those lines, recovers the output
// directory and source URL from success.log for the same stem, and writes a
// sidecar for every affected audio file still on disk. Stems carrying the
// resolved-exclusion marker are permanently skipped; running this any
// number of times never resurrects them and never duplicates a record.
type Bootstrapper struct {
	baseDir string
	logs    *runlog.Logs
	ledger  *Ledger
	logger  *log.Logger
}

// NewBootstrapper returns a Bootstrapper over the library at baseDir.
func NewBootstrapper(baseDir string, logs *runlog.Logs, ledger *Ledger, logger *log.Logger) *Bootstrapper {
	return &Bootstrapper{baseDir: baseDir, logs: logs, ledger: ledger, logger: logger}
}

// Run performs the one-shot recovery pass. Returns the number of sidecars
// created. Idempotent: existing sidecars are left alone (merge semantics
// would keep them identical anyway).
func (b *Bootstrapper) Run() (int, error) {
	errorLines, err := b.logs.ReadLines(runlog.ErrorsLog)
	if err != nil {
		return 0, err
	}
	if len(errorLines) == 0 {
		return 0, nil
	}

	stemToURL := make(map[string]string)
	resolved := make(map[string]bool)
	for _, line := range errorLines {
		stem := line.Stem()
		if stem == "" {
			continue
		}
		if line.Contains(runlog.ResolvedMarker) {
			resolved[stem] = true
			continue
		}
		if !hasFailureMarker(line) {
			continue
		}
		// The source URL is the last field when present; older lines omit it.
		url := ""
		if last := line.Fields[len(line.Fields)-1]; strings.HasPrefix(last, "http") {
			url = last
		}
		stemToURL[stem] = url
	}
	for stem := range resolved {
		delete(stemToURL, stem)
	}
	if len(stemToURL) == 0 {
		return 0, nil
	}

	// Supplement missing directories and URLs from success.log.
	stemToDir := make(map[string]string)
	successLines, err := b.logs.ReadLines(runlog.SuccessLog)
	if err != nil {
		return 0, err
	}
	for _, line := range successLines {
		if len(line.Fields) < 3 {
			continue
		}
		stem := line.Stem()
		if _, wanted := stemToURL[stem]; !wanted {
			continue
		}
		if stemToURL[stem] == "" {
			stemToURL[stem] = line.Fields[2]
		}
		stemToDir[stem] = line.Fields[1]
	}

	created := 0
	for stem, sourceURL := range stemToURL {
		audioFile := ""
		if dir, ok := stemToDir[stem]; ok {
			audioFile = media.FindExistingFile(dir, stem)
		} else {
			audioFile = media.FindFileUnder(b.baseDir, stem)
		}
		if audioFile == "" {
			b.logger.Debug("bootstrap: audio file not found, skipping", "stem", stem)
			continue
		}
		if _, err := os.Stat(PathFor(audioFile)); err == nil {
			b.logger.Debug("bootstrap: sidecar already exists, skipping", "stem", stem)
			continue
		}
		if _, err := b.ledger.Write(audioFile, sourceURL, stem, []string{TaskSegmentRemoval}); err != nil {
			return created, err
		}
		b.logger.Info("bootstrap: created sidecar", "stem", stem)
		created++
	}
	return created, nil
}

func hasFailureMarker(line runlog.Line) bool {
	for _, marker := range runlog.FailureMarkers {
		if line.Contains(marker) {
			return true
		}
	}
	return false
}
