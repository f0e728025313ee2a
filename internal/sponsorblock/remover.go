package sponsorblock

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"ytfetch/internal/media"
	"ytfetch/internal/shared"
)

// Outcome reports what a removal pass did to a file.
type Outcome struct {
	// Removed is the number of segments cut or muted.
	Removed int
	// NoSegments is true when the database has no segments for the video.
	// The work is finished either way, but callers record this case
	// differently (resolved, nothing to edit).
	NoSegments bool
}

// Remover resolves segment-removal work for downloaded audio files: look up
// the video's segments, then edit the file in place.
type Remover struct {
	client    *Client
	ffmpegBin string
	logger    *log.Logger
}

// NewRemover wires a Client to the ffmpeg binary used for edits.
func NewRemover(client *Client, ffmpegBin string, logger *log.Logger) *Remover {
	return &Remover{client: client, ffmpegBin: ffmpegBin, logger: logger}
}

// Process fetches segments for sourceURL and removes them from audioFile.
// Errors from the segment service wrap [shared.ErrSegmentServiceUnreachable];
// the caller should keep the work queued and retry later. ffmpeg failures are
// terminal for this attempt but equally retryable.
func (r *Remover) Process(ctx context.Context, audioFile, sourceURL string) (Outcome, error) {
	videoID := media.ExtractVideoID(sourceURL)
	if videoID == "" {
		return Outcome{}, fmt.Errorf("%w: no video id in %q", shared.ErrInvalidInput, sourceURL)
	}

	segments, err := r.client.FetchSegments(ctx, videoID)
	if err != nil {
		return Outcome{}, err
	}
	if len(segments) == 0 {
		return Outcome{NoSegments: true}, nil
	}

	if err := RemoveSegments(ctx, r.ffmpegBin, audioFile, segments, r.logger); err != nil {
		return Outcome{}, err
	}
	return Outcome{Removed: len(segments)}, nil
}
