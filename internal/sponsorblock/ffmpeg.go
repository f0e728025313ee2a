package sponsorblock

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// BuildFilter assembles the ffmpeg audio filter string for segments. Skip
// segments become an aselect expression that drops every sample inside any
// of them, with timestamps reset so the output is gapless. Mute segments
// become time-gated volume=0 filters. Empty input returns "".
func BuildFilter(segments []Segment) string {
	var skips, filters []string
	for _, seg := range segments {
		switch seg.Action {
		case ActionSkip:
			skips = append(skips, fmt.Sprintf("between(t,%g,%g)", seg.Start, seg.End))
		case ActionMute:
			filters = append(filters, fmt.Sprintf("volume=0:enable='between(t,%g,%g)'", seg.Start, seg.End))
		}
	}
	if len(skips) > 0 {
		cut := fmt.Sprintf("aselect='%s==0',asetpts=N/SR/TB", strings.Join(skips, "+"))
		filters = append([]string{cut}, filters...)
	}
	return strings.Join(filters, ",")
}

// RemoveSegments cuts or mutes segments in audioFile using ffmpeg. The edit
// is atomic: ffmpeg writes a temporary file next to the original, which only
// replaces it on a clean exit. A nil/empty segment list is a no-op.
func RemoveSegments(ctx context.Context, ffmpegBin, audioFile string, segments []Segment, logger *log.Logger) error {
	filter := BuildFilter(segments)
	if filter == "" {
		return nil
	}
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}

	ext := filepath.Ext(audioFile)
	tmpPath := strings.TrimSuffix(audioFile, ext) + ".tmp-" + uuid.NewString()[:8] + ext
	defer os.Remove(tmpPath)

	args := []string{"-y", "-i", audioFile, "-af", filter, "-vn", tmpPath}
	logger.Debug("running ffmpeg", "file", filepath.Base(audioFile), "filter", filter)

	cmd := exec.CommandContext(ctx, ffmpegBin, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		detail := lastLine(string(output))
		return fmt.Errorf("ffmpeg failed on %s: %s: %w", filepath.Base(audioFile), detail, err)
	}

	if err := os.Rename(tmpPath, audioFile); err != nil {
		return fmt.Errorf("failed to replace audio file: %w", err)
	}
	logger.Info("removed segments", "file", filepath.Base(audioFile), "count", len(segments))
	return nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return "(no output)"
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
