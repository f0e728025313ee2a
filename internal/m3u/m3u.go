// Package m3u writes and rebuilds playlist files for the local library.
package m3u

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/dhowden/tag"

	"ytfetch/internal/media"
)

// PlaylistURLPrefix marks the comment line that stores the playlist's source
// URL, so a library folder can be re-synced without the user remembering
// where it came from.
const PlaylistURLPrefix = "#PLAYLIST-URL:"

// Track is one playlist entry.
type Track struct {
	Path   string
	Artist string
	Title  string
}

// Write renders an M3U file at path. Entry paths are relative to baseDir
// when possible. A non-empty playlistURL is stored as a comment right after
// the header.
func Write(path, baseDir, playlistURL string, tracks []Track) error {
	lines := []string{"#EXTM3U"}
	if playlistURL != "" {
		lines = append(lines, PlaylistURLPrefix+playlistURL)
	}
	for _, track := range tracks {
		entry := track.Path
		if rel, err := filepath.Rel(baseDir, track.Path); err == nil && !strings.HasPrefix(rel, "..") {
			entry = filepath.ToSlash(rel)
		}
		lines = append(lines, fmt.Sprintf("#EXTINF:-1,%s - %s", track.Artist, track.Title), entry)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create playlist directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write playlist: %w", err)
	}
	return nil
}

// ReadPlaylistURL returns the stored source URL from an M3U file, or ""
// when the file or the comment is absent.
func ReadPlaylistURL(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, PlaylistURLPrefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, PlaylistURLPrefix))
		}
	}
	return ""
}

// RewriteFromDir rebuilds <dir>/<dirname>.m3u from the audio files actually
// present in dir, sorted by track-number prefix. The playlist URL already
// stored in the file is preserved unless a replacement is supplied.
func RewriteFromDir(dir, baseDir, playlistURL string, logger *log.Logger) error {
	stat, err := os.Stat(dir)
	if err != nil || !stat.IsDir() {
		return fmt.Errorf("playlist directory not found: %s", dir)
	}
	name := filepath.Base(dir)
	path := filepath.Join(dir, name+".m3u")

	url := media.CleanPlaylistURL(playlistURL)
	if url == "" {
		url = ReadPlaylistURL(path)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("could not list %s: %w", dir, err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if media.AudioExts[strings.ToLower(filepath.Ext(entry.Name()))] {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Slice(files, func(i, j int) bool {
		ni, nj := trackSortKey(files[i]), trackSortKey(files[j])
		if ni != nj {
			return ni < nj
		}
		return files[i] < files[j]
	})

	tracks := make([]Track, 0, len(files))
	for _, file := range files {
		artist, title := extractTags(file)
		tracks = append(tracks, Track{Path: file, Artist: artist, Title: title})
	}
	if err := Write(path, baseDir, url, tracks); err != nil {
		return err
	}
	logger.Info("rewrote playlist", "file", path, "tracks", len(tracks))
	return nil
}

// RewriteAll rebuilds the M3U for every playlist folder directly under
// baseDir.
func RewriteAll(baseDir string, logger *log.Logger) error {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return fmt.Errorf("base directory not found: %s", baseDir)
	}
	found := false
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		found = true
		if err := RewriteFromDir(filepath.Join(baseDir, entry.Name()), baseDir, "", logger); err != nil {
			logger.Warn("could not rewrite playlist", "dir", entry.Name(), "err", err)
		}
	}
	if !found {
		logger.Info("no playlist folders found", "dir", baseDir)
	}
	return nil
}

var trackPrefixRe = regexp.MustCompile(`^(\d+)-`)

func trackSortKey(path string) int {
	if m := trackPrefixRe.FindStringSubmatch(filepath.Base(path)); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n
		}
	}
	return 0
}

// extractTags reads artist and title from the file's embedded tags, falling
// back to parsing the "NNN-Artist-Title" filename convention.
func extractTags(path string) (artist, title string) {
	if f, err := os.Open(path); err == nil {
		defer f.Close()
		if m, err := tag.ReadFrom(f); err == nil {
			artist, title = m.Artist(), m.Title()
		}
	}
	if artist != "" && title != "" {
		return artist, title
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	stem = trackPrefixRe.ReplaceAllString(stem, "")
	if before, after, ok := strings.Cut(stem, "-"); ok {
		if artist == "" {
			artist = before
		}
		if title == "" {
			title = after
		}
		return artist, title
	}
	if title == "" {
		title = stem
	}
	if artist == "" {
		artist = "Unknown Artist"
	}
	return artist, title
}
