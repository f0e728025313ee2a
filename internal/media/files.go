package media

import (
	"os"
	"path/filepath"
	"strings"
)

// SidecarSuffix is the sidecar filename suffix; FindExistingFile must never
// mistake a sidecar for an audio file.
const SidecarSuffix = ".pending.json"

// FindExistingFile returns the path of a file in dir whose name is stem plus
// any extension, or "" when none exists. In-progress download artifacts
// (".temp." in the name) and sidecar records are excluded.
func FindExistingFile(dir, stem string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, stem+".") {
			continue
		}
		if strings.Contains(name, ".temp.") || strings.HasSuffix(name, SidecarSuffix) {
			continue
		}
		return filepath.Join(dir, name)
	}
	return ""
}

// FindFileUnder searches recursively under baseDir for a file matching stem.
// Used when the output directory for a historic log entry is unknown.
func FindFileUnder(baseDir, stem string) string {
	var found string
	_ = filepath.WalkDir(baseDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || found != "" || d.IsDir() {
			return nil
		}
		name := d.Name()
		if !strings.HasPrefix(name, stem+".") {
			return nil
		}
		if strings.Contains(name, ".temp.") || strings.HasSuffix(name, SidecarSuffix) {
			return nil
		}
		found = path
		return filepath.SkipAll
	})
	return found
}
