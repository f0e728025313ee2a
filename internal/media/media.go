// package media defines the track metadata model and the naming rules that
// tie a downloaded item to its location in the library.
//
// Metadata arrives as loosely-typed JSON from the external fetch step; only
// the fields the pipeline actually consumes are lifted into [TrackMeta], the
// rest passes through opaquely wherever the raw JSON is persisted.
package media

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// AudioExts lists the audio container extensions the library may hold.
var AudioExts = map[string]bool{
	".opus": true,
	".m4a":  true,
	".mp3":  true,
	".flac": true,
	".ogg":  true,
	".webm": true,
	".aac":  true,
}

// TrackMeta is the validated subset of fetched metadata the pipeline consumes.
// Immutable once a job is enqueued.
type TrackMeta struct {
	Title         string
	Artist        string
	Album         string
	AlbumArtist   string
	Compilation   bool
	TrackNumber   int
	PlaylistIndex int
	SourceURL     string
}

// Info is a raw metadata payload as returned by the external fetch step.
type Info map[string]any

// IsPlaylist reports whether the payload describes a playlist rather than a
// single item.
func (i Info) IsPlaylist() bool {
	if t, _ := i["_type"].(string); t == "playlist" {
		return true
	}
	_, ok := i["entries"]
	return ok
}

// Entries returns the playlist entries, dropping null placeholders.
func (i Info) Entries() []Info {
	raw, _ := i["entries"].([]any)
	entries := make([]Info, 0, len(raw))
	for _, e := range raw {
		if m, ok := e.(map[string]any); ok && m != nil {
			entries = append(entries, Info(m))
		}
	}
	return entries
}

// Str returns the string value for key, or "" when absent or non-string.
func (i Info) Str(key string) string {
	switch v := i[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return ""
	}
}

// SourceURL returns the canonical URL for the payload.
func (i Info) SourceURL() string {
	if u := i.Str("webpage_url"); u != "" {
		return u
	}
	if u := i.Str("original_url"); u != "" {
		return u
	}
	return i.Str("url")
}

// Artist extracts the artist, falling back through uploader and the first
// entry of an "artists" list.
func (i Info) Artist() string {
	if a := i.Str("artist"); a != "" {
		return a
	}
	if a := i.Str("uploader"); a != "" {
		return a
	}
	if artists, ok := i["artists"].([]any); ok && len(artists) > 0 {
		switch first := artists[0].(type) {
		case map[string]any:
			if name, ok := first["name"].(string); ok && name != "" {
				return name
			}
		case string:
			return first
		}
	}
	return ""
}

var albumInDescription = regexp.MustCompile(`(?im)^\s*album\s*[:\-]\s*(.+)$`)

// Album extracts the album, falling back to an "album: ..." line in the
// description when the field itself is absent.
func (i Info) Album() string {
	if a := i.Str("album"); a != "" {
		return a
	}
	if desc := i.Str("description"); desc != "" {
		if m := albumInDescription.FindStringSubmatch(desc); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

// BuildTrackMeta lifts a raw payload into a [TrackMeta].
//
// For playlist downloads pass playlistTitle (the sanitized folder name) so
// every track shares the same album value, and set compilation so media
// servers group the various-artists playlist into a single album entry.
func BuildTrackMeta(info Info, playlistIndex int, playlistTitle string, compilation bool) TrackMeta {
	title := info.Str("track")
	if title == "" {
		title = info.Str("title")
	}
	if title == "" {
		title = "Unknown Title"
	}
	artist := info.Artist()
	album := playlistTitle
	if album == "" {
		album = info.Album()
	}
	if album == "" {
		album = info.Str("playlist")
	}
	if artist == "" {
		parsedArtist, parsedTitle := ParseArtistTitle(info.Str("title"))
		if parsedArtist == "" {
			parsedArtist = "Unknown Artist"
		}
		artist = parsedArtist
		title = parsedTitle
	}
	albumArtist := artist
	if compilation {
		albumArtist = "Various Artists"
	}
	return TrackMeta{
		Title:         title,
		Artist:        artist,
		Album:         album,
		AlbumArtist:   albumArtist,
		Compilation:   compilation,
		TrackNumber:   SafeInt(info["track_number"], 0),
		PlaylistIndex: playlistIndex,
		SourceURL:     info.SourceURL(),
	}
}

var (
	invalidChars = regexp.MustCompile(`[<>:\\|?*"` + "\n\r\t" + `]`)
	multiSpace   = regexp.MustCompile(`\s+`)
)

// Sanitize makes a string safe for use as a file or directory name.
func Sanitize(value string) string {
	const maxLength = 120
	if value == "" {
		return "unknown"
	}
	s := invalidChars.ReplaceAllString(value, "-")
	s = strings.ReplaceAll(s, "/", "-")
	s = strings.ReplaceAll(s, "\\", "-")
	s = strings.Trim(multiSpace.ReplaceAllString(s, " "), " .")
	if s == "" {
		return "unknown"
	}
	if utf8.RuneCountInString(s) > maxLength {
		s = strings.TrimRight(string([]rune(s)[:maxLength]), " .")
	}
	return s
}

// ParseArtistTitle splits a raw "Artist - Title" string. The artist is empty
// when no separator is present.
func ParseArtistTitle(raw string) (artist, title string) {
	if raw == "" {
		return "", "Unknown Title"
	}
	if before, after, ok := strings.Cut(raw, " - "); ok {
		artist = strings.TrimSpace(before)
		title = strings.TrimSpace(after)
		if title == "" {
			title = raw
		}
		return artist, title
	}
	return "", strings.TrimSpace(raw)
}

// SafeInt coerces an arbitrary JSON value to an int, returning def on failure.
func SafeInt(value any, def int) int {
	switch v := value.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

// MakeOutputStem builds the extension-less output filename for a track.
// trackPrefix, when non-empty, is the zero-padded playlist position.
func MakeOutputStem(meta TrackMeta, trackPrefix string) string {
	artist := Sanitize(meta.Artist)
	title := Sanitize(meta.Title)
	if trackPrefix != "" {
		return trackPrefix + "-" + artist + "-" + title
	}
	return artist + "-" + title
}
