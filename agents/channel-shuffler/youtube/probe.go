package youtube

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

// Embed is the subset of an oEmbed document the prober reads.
type Embed struct {
	Title           string `json:"title"`
	AuthorName      string `json:"author_name"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	ThumbnailWidth  int    `json:"thumbnail_width"`
	ThumbnailHeight int    `json:"thumbnail_height"`
}

// Portrait reports whether the embed is taller than it is wide.
func (e *Embed) Portrait() bool {
	if e.Width > 0 && e.Height > 0 {
		return e.Height > e.Width
	}
	return e.ThumbnailHeight > e.ThumbnailWidth
}

// ProbeResult describes a video as seen by the oEmbed endpoint.
type ProbeResult struct {
	Exists bool
	Short  bool
}

// Prober checks that videos still resolve and whether they are short-form.
type Prober struct {
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
	timeout  time.Duration
	logger   *slog.Logger
}

// NewProber creates a prober against the given oEmbed endpoint.
func NewProber(endpoint string, client *http.Client, timeout time.Duration, requestsPerSec float64, logger *slog.Logger) *Prober {
	if client == nil {
		client = &http.Client{}
	}
	limit := rate.Inf
	if requestsPerSec > 0 {
		limit = rate.Limit(requestsPerSec)
	}
	return &Prober{
		endpoint: endpoint,
		client:   client,
		limiter:  rate.NewLimiter(limit, 1),
		timeout:  timeout,
		logger:   logger,
	}
}

// Lookup fetches the oEmbed document for a video. A nil embed with a nil
// error means the video does not resolve.
func (p *Prober) Lookup(ctx context.Context, videoID string) (*Embed, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	q := url.Values{}
	q.Set("url", "https://www.youtube.com/watch?v="+videoID)
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build oEmbed request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oEmbed lookup for %s failed: %w", videoID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		p.logger.Debug("Video did not resolve", slog.String("video", videoID), slog.Int("status", resp.StatusCode))
		return nil, nil
	}

	var embed Embed
	if err := json.NewDecoder(resp.Body).Decode(&embed); err != nil {
		p.logger.Debug("Undecodable oEmbed response", slog.String("video", videoID), slog.Any("error", err))
		return nil, nil
	}
	return &embed, nil
}

// Probe reports whether a video exists and whether it is short-form.
func (p *Prober) Probe(ctx context.Context, videoID string) (ProbeResult, error) {
	embed, err := p.Lookup(ctx, videoID)
	if err != nil {
		return ProbeResult{}, err
	}
	if embed == nil {
		return ProbeResult{}, nil
	}
	return ProbeResult{Exists: true, Short: embed.Portrait()}, nil
}
