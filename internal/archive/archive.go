// package archive persists the set of already-downloaded item identifiers.
//
// The on-disk format is the plain-text ledger yt-dlp uses for its download
// archive: one "<extractor> <id>" pair per line, append-only during a run.
// The store self-heals against out-of-band file deletion: a scrub pass drops
// entries whose expected output file is gone so the item is naturally
// re-downloaded, without anyone hand-editing the archive.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

const extractor = "youtube"

// Store is the durable archive of completed item identifiers.
// Add is safe for concurrent use by download workers; Scrub must run before
// any worker starts (the caller enforces that barrier).
type Store struct {
	path   string
	logger *log.Logger

	mu    sync.Mutex
	ids   map[string]bool
	lines []string
}

// Open loads the archive at path. A missing file yields an empty store.
func Open(path string, logger *log.Logger) (*Store, error) {
	s := &Store{path: path, logger: logger, ids: make(map[string]bool)}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		s.lines = append(s.lines, trimmed)
		if id := entryID(trimmed); id != "" {
			s.ids[id] = true
		}
	}
	return s, nil
}

// Contains reports whether the identifier is recorded as downloaded.
func (s *Store) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ids[id]
}

// Len returns the number of archive entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines)
}

// Add records an identifier as downloaded. The append hits disk before Add
// returns so an interrupt never loses a completed item.
func (s *Store) Add(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ids[id] {
		return nil
	}
	line := extractor + " " + id
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create archive dir: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, line); err != nil {
		return fmt.Errorf("failed to append archive entry: %w", err)
	}
	s.ids[id] = true
	s.lines = append(s.lines, line)
	return nil
}

// Resolver maps an archived identifier to the location its output file is
// expected at. ok is false for identifiers outside the current run's scope;
// those entries are left untouched.
type Resolver func(id string) (dir, stem string, ok bool)

// ExistsFunc checks whether an output file for the stem is present in dir.
type ExistsFunc func(dir, stem string) bool

// Scrub removes every entry whose expected output file is absent from disk
// and rewrites the ledger. Returns the number of entries removed.
func (s *Store) Scrub(resolve Resolver, exists ExistsFunc) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.lines[:0]
	removed := 0
	for _, line := range s.lines {
		id := entryID(line)
		if id != "" {
			if dir, stem, ok := resolve(id); ok && !exists(dir, stem) {
				s.logger.Warn("archive scrub: removing stale entry, file missing from disk",
					"id", id, "stem", stem)
				delete(s.ids, id)
				removed++
				continue
			}
		}
		kept = append(kept, line)
	}
	s.lines = kept
	if removed == 0 {
		return 0, nil
	}

	contents := strings.Join(s.lines, "\n")
	if contents != "" {
		contents += "\n"
	}
	if err := os.WriteFile(s.path, []byte(contents), 0644); err != nil {
		return removed, fmt.Errorf("failed to rewrite archive: %w", err)
	}
	s.logger.Info("archive scrub complete", "removed", removed)
	return removed, nil
}

// entryID extracts the identifier token from an archive line. Lines holding
// a bare identifier (no extractor prefix) are accepted too.
func entryID(line string) string {
	fields := strings.Fields(line)
	switch len(fields) {
	case 1:
		return fields[0]
	case 2:
		return fields[1]
	default:
		return ""
	}
}
