package ytdlp

import (
	"fmt"
	"strings"

	"ytfetch/internal/shared"
)

// Substrings in yt-dlp output that mean the content itself can never be
// downloaded. These short-circuit the retry budget.
var fatalPhrases = []string{
	"Private video",
	"Video unavailable",
	"has been removed",
	"account associated with this video has been terminated",
	"not available in your country",
	"who has blocked it in your country",
}

// Keywords that mark a line as the interesting one when picking a failure
// reason out of trailing output.
var errorKeywords = []string{
	"ERROR", "error:", "WARNING", "429", "HTTP Error",
	"Sign in", "unavailable", "blocked", "forbidden", "private", "removed",
}

// classify turns trailing yt-dlp output into a sentinel-wrapped error.
func classify(lines []string, exitCode int) error {
	for _, line := range lines {
		if strings.Contains(line, sponsorblockErrorPhrase) {
			return fmt.Errorf("%w: segment trim skipped", shared.ErrSegmentServiceUnreachable)
		}
	}
	reason := failureReason(lines, exitCode)
	for _, line := range lines {
		for _, phrase := range fatalPhrases {
			if strings.Contains(line, phrase) {
				return fmt.Errorf("%w: %s", shared.ErrContentUnavailable, reason)
			}
		}
	}
	return fmt.Errorf("download failed: %s", reason)
}

// failureReason picks a concise reason from the trailing output lines,
// preferring the most recent error-looking line, then the last non-empty
// line, then the bare exit code.
func failureReason(lines []string, exitCode int) string {
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		for _, kw := range errorKeywords {
			if strings.Contains(line, kw) {
				return line
			}
		}
	}
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return fmt.Sprintf("exit code %d", exitCode)
}

// tail returns the last n lines of s.
func tail(s string, n int) []string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

func lastLine(s string) string {
	lines := tail(s, 1)
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return "(no output)"
	}
	return strings.TrimSpace(lines[0])
}
