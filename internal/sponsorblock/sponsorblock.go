// Client for the SponsorBlock segment database.
package sponsorblock

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"

	"github.com/charmbracelet/log"

	"ytfetch/internal/shared"
)

// Segment action types. Skip segments are cut out of the audio, mute
// segments are silenced in place. Other action types (chapter, poi, full)
// carry no audio edit and are dropped.
const (
	ActionSkip = "skip"
	ActionMute = "mute"
)

// DefaultAPIBase is the public SponsorBlock skipSegments endpoint.
const DefaultAPIBase = "https://sponsor.ajay.app/api/skipSegments"

// Segment is a single sponsored region of a video.
type Segment struct {
	Start  float64
	End    float64
	Action string
}

// Client queries the SponsorBlock REST API.
type Client struct {
	baseURL    string
	categories []string
	httpClient *http.Client
	logger     *log.Logger
}

// NewClient creates a SponsorBlock API client. An empty baseURL falls back
// to the public instance; a nil client falls back to http.DefaultClient.
func NewClient(baseURL string, categories []string, client *http.Client, logger *log.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIBase
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{
		baseURL:    baseURL,
		categories: categories,
		httpClient: client,
		logger:     logger,
	}
}

type apiSegment struct {
	ActionType string    `json:"actionType"`
	Segment    []float64 `json:"segment"`
}

// FetchSegments returns the skip/mute segments for videoID, sorted by start
// time. A 404 from the API means the database has no segments for this video
// and yields an empty slice with no error. Network failures and non-404 HTTP
// errors wrap [shared.ErrSegmentServiceUnreachable] so callers can defer the
// work instead of failing the file.
func (c *Client) FetchSegments(ctx context.Context, videoID string) ([]Segment, error) {
	cats, err := json.Marshal(c.categories)
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("videoID", videoID)
	params.Set("categories", string(cats))
	fullURL := c.baseURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrSegmentServiceUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.logger.Debug("no segments in database", "video_id", videoID)
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", shared.ErrSegmentServiceUnreachable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrSegmentServiceUnreachable, err)
	}

	var items []apiSegment
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("failed to decode segment response: %w", err)
	}

	var segments []Segment
	for _, item := range items {
		if item.ActionType != ActionSkip && item.ActionType != ActionMute {
			continue
		}
		if len(item.Segment) < 2 {
			continue
		}
		start, end := item.Segment[0], item.Segment[1]
		if end <= start {
			continue
		}
		segments = append(segments, Segment{Start: start, End: end, Action: item.ActionType})
	}
	sort.Slice(segments, func(i, j int) bool { return segments[i].Start < segments[j].Start })

	if len(segments) > 0 {
		c.logger.Debug("found segments", "video_id", videoID, "count", len(segments))
	}
	return segments, nil
}
