package media

import (
	"net/url"
)

// Query parameters that carry functional meaning on a playlist URL.
// Everything else (si, feature, pp, utm_*, etc.) is tracking noise.
var keepQueryParams = map[string]bool{"list": true, "v": true}

// CleanPlaylistURL strips tracking and session query params from a YouTube
// Music URL, keeping only "list" and "v".
func CleanPlaylistURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	kept := url.Values{}
	for key, values := range parsed.Query() {
		if keepQueryParams[key] {
			kept[key] = values
		}
	}
	parsed.RawQuery = kept.Encode()
	return parsed.String()
}

// ExtractVideoID pulls the video identifier from a watch URL. Handles both
// "?v=ID" query style and "youtu.be/ID" short links. Returns "" when absent.
func ExtractVideoID(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if v := parsed.Query().Get("v"); v != "" {
		return v
	}
	path := parsed.EscapedPath()
	for len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	if path == "" {
		return ""
	}
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return path
}

// WatchURL builds a canonical watch URL from a video identifier.
func WatchURL(videoID string) string {
	return "https://music.youtube.com/watch?v=" + videoID
}
