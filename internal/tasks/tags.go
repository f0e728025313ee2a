package tasks

import (
	"fmt"
	"os"
	"strings"

	"github.com/dhowden/tag"

	"ytfetch/internal/media"
)

// CompareMetadata reads the embedded tags of an existing file and checks
// them against the freshly fetched metadata. Returns a description of the
// actual tags and true when they disagree. Unreadable files or containers
// the tag reader does not understand never count as a mismatch.
//
// Artist is deliberately not compared: flat playlist entries carry channel
// names ("Some Band - Topic") that differ from the artist tag embedded at
// download time, which would make every comparison a false positive.
func CompareMetadata(path string, expected media.TrackMeta) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return "", false
	}

	checks := []struct {
		name     string
		expected string
		actual   string
	}{
		{"title", expected.Title, m.Title()},
		{"album", expected.Album, m.Album()},
		{"albumartist", expected.AlbumArtist, m.AlbumArtist()},
	}

	ok := true
	for _, c := range checks {
		if c.expected == "" {
			continue
		}
		if !looseMatch(c.expected, c.actual) {
			ok = false
		}
	}
	if ok {
		return "", false
	}
	return fmt.Sprintf("title=%s; album=%s; albumartist=%s", m.Title(), m.Album(), m.AlbumArtist()), true
}

// looseMatch is a case-insensitive, whitespace-collapsed substring check.
func looseMatch(expected, actual string) bool {
	norm := func(s string) string {
		return strings.Join(strings.Fields(strings.ToLower(s)), "")
	}
	return strings.Contains(norm(actual), norm(expected))
}

// describeExpected renders the expected side of a mismatch log line.
func describeExpected(meta media.TrackMeta) string {
	return fmt.Sprintf("title=%s; album=%s; albumartist=%s", meta.Title, meta.Album, meta.AlbumArtist)
}
