// package sidecar persists deferred post-processing work as `.pending.json`
// records next to the audio files they describe.
//
// When a download completes but a post-processing step fails (e.g. the
// segment-removal API was unreachable), a small JSON sidecar is written
// alongside the audio file recording what still needs to happen. A later
// reconciliation run picks these up without re-downloading anything.
//
// Sidecar filename convention:
//
//	<audio-stem>.pending.json
//
// File format (version 1):
//
//	{
//	    "version": 1,
//	    "source_url": "https://music.youtube.com/watch?v=abc123",
//	    "output_stem": "048-Artist-Song",
//	    "pending": ["sponsorblock"],
//	    "created": "2026-02-19T14:32:01"
//	}
//
// pending holds opaque task tokens, removed one by one as they succeed; the
// record is deleted once the list is empty. Unknown fields in an existing
// record survive a rewrite. The directory scan is the only index: the
// on-disk record co-located with its audio file is the source of truth.
package sidecar

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"ytfetch/internal/media"
)

// TaskSegmentRemoval is the task token for deferred sponsor-segment removal,
// the only token currently defined.
const TaskSegmentRemoval = "sponsorblock"

// Suffix is the sidecar filename suffix. Media servers ignore these files.
const Suffix = media.SidecarSuffix

const formatVersion = 1

// Sidecar is the in-memory form of one `.pending.json` record.
type Sidecar struct {
	SourceURL  string
	OutputStem string
	Pending    []string
	Created    string
	// AudioFile is the absolute path of the corresponding audio file.
	AudioFile string

	// extra preserves fields this version does not understand.
	extra map[string]json.RawMessage
}

// Path returns the on-disk location of the record.
func (s *Sidecar) Path() string {
	return PathFor(s.AudioFile)
}

// HasTask reports whether the token is pending.
func (s *Sidecar) HasTask(task string) bool {
	for _, t := range s.Pending {
		if t == task {
			return true
		}
	}
	return false
}

// PathFor returns the sidecar path for an audio file path.
func PathFor(audioFile string) string {
	ext := filepath.Ext(audioFile)
	return strings.TrimSuffix(audioFile, ext) + Suffix
}

// PathForStem returns the sidecar path given a directory and stem.
func PathForStem(dir, stem string) string {
	return filepath.Join(dir, stem+Suffix)
}

// Ledger serializes sidecar access per file. Operations on distinct files
// never contend; for the same file, merge-then-persist must be atomic with
// respect to the on-disk state, so writers take a per-path lock.
type Ledger struct {
	logger *log.Logger
	locks  sync.Map // sidecar path -> *sync.Mutex
	now    func() time.Time
}

// NewLedger returns a Ledger logging through logger.
func NewLedger(logger *log.Logger) *Ledger {
	return &Ledger{logger: logger, now: time.Now}
}

func (l *Ledger) lockFor(path string) *sync.Mutex {
	mu, _ := l.locks.LoadOrStore(path, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Write creates or updates the sidecar for audioFile, idempotently.
//
// If a record already exists its pending list is merged with tasks (no
// duplicates) and its source URL, creation timestamp, and any unknown fields
// are preserved. Two independent failure causes on the same file therefore
// both survive.
func (l *Ledger) Write(audioFile, sourceURL, stem string, tasks []string) (*Sidecar, error) {
	path := PathFor(audioFile)
	mu := l.lockFor(path)
	mu.Lock()
	defer mu.Unlock()

	if existing, err := load(path, audioFile); err == nil && existing != nil {
		for _, task := range tasks {
			if !existing.HasTask(task) {
				existing.Pending = append(existing.Pending, task)
			}
		}
		if err := save(existing); err != nil {
			return nil, err
		}
		l.logger.Debug("updated sidecar", "file", filepath.Base(path), "pending", existing.Pending)
		return existing, nil
	}

	sc := &Sidecar{
		SourceURL:  sourceURL,
		OutputStem: stem,
		Pending:    append([]string(nil), tasks...),
		Created:    l.now().Format("2006-01-02T15:04:05"),
		AudioFile:  audioFile,
	}
	if err := save(sc); err != nil {
		return nil, err
	}
	l.logger.Debug("created sidecar", "file", filepath.Base(path), "pending", sc.Pending)
	return sc, nil
}

// RemoveTask marks the task done. The record is rewritten, or deleted when
// no tasks remain.
func (l *Ledger) RemoveTask(sc *Sidecar, task string) error {
	path := sc.Path()
	mu := l.lockFor(path)
	mu.Lock()
	defer mu.Unlock()

	kept := sc.Pending[:0]
	for _, t := range sc.Pending {
		if t != task {
			kept = append(kept, t)
		}
	}
	sc.Pending = kept
	if len(sc.Pending) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete sidecar: %w", err)
		}
		l.logger.Debug("deleted empty sidecar", "file", filepath.Base(path))
		return nil
	}
	return save(sc)
}

// Scan recursively collects sidecar records under baseDir. When task is
// non-empty only records containing that token are returned. Temporary
// download artifacts, unparseable records, and sidecars whose audio file has
// vanished are skipped with a log line, never an error.
func (l *Ledger) Scan(baseDir, task string) ([]*Sidecar, error) {
	var results []*Sidecar
	err := filepath.WalkDir(baseDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), Suffix) {
			return nil
		}
		// In-progress download artifacts left behind by interrupted runs.
		if strings.Contains(d.Name(), ".temp.") {
			l.logger.Debug("skipping temporary sidecar artifact", "file", d.Name())
			return nil
		}
		stem := strings.TrimSuffix(d.Name(), Suffix)
		audioFile := media.FindExistingFile(filepath.Dir(path), stem)
		if audioFile == "" {
			l.logger.Warn("sidecar has no matching audio file, skipping", "file", d.Name())
			return nil
		}
		sc, loadErr := load(path, audioFile)
		if loadErr != nil || sc == nil {
			l.logger.Warn("could not read sidecar, skipping", "file", d.Name(), "err", loadErr)
			return nil
		}
		if task == "" || sc.HasTask(task) {
			results = append(results, sc)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sidecar scan failed: %w", err)
	}
	return results, nil
}

// CleanupTemp deletes temporary sidecar artifacts (e.g. foo.temp.pending.json)
// under baseDir. These are safe to delete unconditionally. Returns the number
// removed.
func (l *Ledger) CleanupTemp(baseDir string) int {
	removed := 0
	_ = filepath.WalkDir(baseDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".temp"+Suffix) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			l.logger.Warn("could not remove temp sidecar", "file", d.Name(), "err", err)
			return nil
		}
		l.logger.Debug("removed temp sidecar artifact", "file", d.Name())
		removed++
		return nil
	})
	return removed
}

// Known field names, kept out of the extra map.
var knownFields = map[string]bool{
	"version": true, "source_url": true, "output_stem": true,
	"pending": true, "created": true,
}

func load(path, audioFile string) (*Sidecar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("malformed sidecar %s: %w", filepath.Base(path), err)
	}
	sc := &Sidecar{AudioFile: audioFile, extra: make(map[string]json.RawMessage)}
	for key, raw := range fields {
		var unmarshalErr error
		switch key {
		case "source_url":
			unmarshalErr = json.Unmarshal(raw, &sc.SourceURL)
		case "output_stem":
			unmarshalErr = json.Unmarshal(raw, &sc.OutputStem)
		case "pending":
			unmarshalErr = json.Unmarshal(raw, &sc.Pending)
		case "created":
			unmarshalErr = json.Unmarshal(raw, &sc.Created)
		case "version":
			// Accepted for any version; the format only grows.
		default:
			sc.extra[key] = raw
		}
		if unmarshalErr != nil {
			return nil, fmt.Errorf("malformed sidecar %s: %w", filepath.Base(path), unmarshalErr)
		}
	}
	if sc.OutputStem == "" {
		stem := strings.TrimSuffix(filepath.Base(audioFile), filepath.Ext(audioFile))
		sc.OutputStem = stem
	}
	return sc, nil
}

func save(sc *Sidecar) error {
	fields := make(map[string]json.RawMessage, len(sc.extra)+5)
	for key, raw := range sc.extra {
		if !knownFields[key] {
			fields[key] = raw
		}
	}
	put := func(key string, v any) error {
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		fields[key] = raw
		return nil
	}
	if err := put("version", formatVersion); err != nil {
		return err
	}
	if err := put("source_url", sc.SourceURL); err != nil {
		return err
	}
	if err := put("output_stem", sc.OutputStem); err != nil {
		return err
	}
	if err := put("pending", sc.Pending); err != nil {
		return err
	}
	if err := put("created", sc.Created); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sidecar: %w", err)
	}
	if err := os.WriteFile(sc.Path(), append(payload, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write sidecar: %w", err)
	}
	return nil
}
