package youtube

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"channel-shuffler/internal/domainerr"
	"channel-shuffler/internal/models"
	"channel-shuffler/shared/quota"
)

// PageSize is the largest page the playlistItems endpoint returns.
const PageSize = 50

// Credentials hands out origin API keys and charges the daily budget.
type Credentials interface {
	Resolve(ctx context.Context, preferred int) (quota.Credential, error)
	Debit(ctx context.Context, cred quota.Credential)
	CheckBudget(ctx context.Context) error
	Remaining(ctx context.Context) (int, error)
	Overdraft() int
}

// Options configures a Client.
type Options struct {
	Endpoint       string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	RequestsPerSec float64
}

// Client pages through a channel's uploads playlist.
type Client struct {
	service *youtube.Service
	keys    Credentials
	limiter *rate.Limiter
	timeout time.Duration
	logger  *slog.Logger
}

// FetchResult is the outcome of a fetch from the origin API.
type FetchResult struct {
	// Videos holds every upload for a full fetch, and is nil for an incremental one.
	Videos map[string]string
	// NewVideos holds uploads newer than the watermark for an incremental fetch.
	NewVideos map[string]string
	// LastVideoPublishedAt is the newest publish time seen.
	LastVideoPublishedAt time.Time
	TotalResults         int64
	Pages                int
	// Full is set when the whole playlist was fetched, including an
	// incremental fetch that fell back to a full one.
	Full bool
}

// NewClient creates a client. Credentials are sent per request as the key
// parameter, so the service itself is unauthenticated.
func NewClient(ctx context.Context, keys Credentials, opts Options, logger *slog.Logger) (*Client, error) {
	clientOpts := []option.ClientOption{option.WithoutAuthentication()}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	service, err := youtube.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create YouTube service: %w", err)
	}

	limit := rate.Inf
	if opts.RequestsPerSec > 0 {
		limit = rate.Limit(opts.RequestsPerSec)
	}

	return &Client{
		service: service,
		keys:    keys,
		limiter: rate.NewLimiter(limit, 1),
		timeout: opts.RequestTimeout,
		logger:  logger,
	}, nil
}

// keyCursor tracks the credential in use during one fetch and where
// rotation started, so a full cycle through the pool can be detected.
type keyCursor struct {
	cred  quota.Credential
	start int
}

func (c *Client) newCursor(ctx context.Context) (*keyCursor, error) {
	cred, err := c.keys.Resolve(ctx, -1)
	if err != nil {
		return nil, err
	}
	return &keyCursor{cred: cred, start: cred.Index}, nil
}

func (c *Client) rotate(ctx context.Context, cur *keyCursor) error {
	if cur.cred.Custom {
		return domainerr.ErrCustomCredentialQuotaExceeded
	}
	next, err := c.keys.Resolve(ctx, cur.cred.Index+1)
	if err != nil {
		return err
	}
	if next.Index == cur.start {
		return domainerr.ErrAllCredentialsExhausted
	}
	c.logger.Info("API key quota exceeded, rotating", slog.Int("from", cur.cred.Index), slog.Int("to", next.Index))
	cur.cred = next
	return nil
}

// fetchPage requests one page, rotating keys while the origin reports
// quota exhaustion. Every attempt is charged before it is sent.
func (c *Client) fetchPage(ctx context.Context, cur *keyCursor, playlistID, pageToken string) (*youtube.PlaylistItemListResponse, error) {
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		c.keys.Debit(ctx, cur.cred)

		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if c.timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		}
		call := c.service.PlaylistItems.List([]string{"contentDetails"}).
			PlaylistId(playlistID).
			MaxResults(PageSize)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Context(callCtx).Do(googleapi.QueryParameter("key", cur.cred.Key))
		cancel()
		if err == nil {
			return resp, nil
		}

		switch classify(err) {
		case errQuota:
			if rerr := c.rotate(ctx, cur); rerr != nil {
				return nil, rerr
			}
		case errNotFound:
			return nil, domainerr.Wrap(domainerr.KindChannelHasNoUploads,
				fmt.Sprintf("uploads playlist %s does not exist", playlistID),
				domainerr.ErrChannelHasNoUploads.Hint, err)
		default:
			return nil, err
		}
	}
}

type errClass int

const (
	errOther errClass = iota
	errQuota
	errNotFound
)

func classify(err error) errClass {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return errOther
	}
	for _, item := range apiErr.Errors {
		switch item.Reason {
		case "quotaExceeded", "dailyLimitExceeded", "rateLimitExceeded":
			return errQuota
		case "playlistNotFound":
			return errNotFound
		}
	}
	if apiErr.Code == http.StatusNotFound {
		return errNotFound
	}
	return errOther
}

// collect adds a page's items to into, returning the newest publish time.
// When stopAt is non-zero collection halts at the first item published at
// or before it, and done reports that the boundary was reached.
func collect(items []*youtube.PlaylistItem, into map[string]string, stopAt time.Time) (newest time.Time, done bool) {
	for _, item := range items {
		if item.ContentDetails == nil || item.ContentDetails.VideoId == "" {
			continue
		}
		published, err := time.Parse(time.RFC3339, item.ContentDetails.VideoPublishedAt)
		if err != nil {
			// Private and unavailable uploads carry no publish time.
			continue
		}
		if !stopAt.IsZero() && !published.After(stopAt) {
			return newest, true
		}
		into[item.ContentDetails.VideoId] = published.UTC().Format(models.DateLayout)
		if published.After(newest) {
			newest = published
		}
	}
	return newest, false
}

func newestIn(items []*youtube.PlaylistItem) time.Time {
	var newest time.Time
	for _, item := range items {
		if item.ContentDetails == nil {
			continue
		}
		if t, err := time.Parse(time.RFC3339, item.ContentDetails.VideoPublishedAt); err == nil && t.After(newest) {
			newest = t
		}
	}
	return newest
}

// FetchAll pages through the whole uploads playlist.
func (c *Client) FetchAll(ctx context.Context, playlistID string) (*FetchResult, error) {
	if err := c.keys.CheckBudget(ctx); err != nil {
		return nil, err
	}
	cur, err := c.newCursor(ctx)
	if err != nil {
		return nil, err
	}
	return c.fetchAll(ctx, cur, playlistID)
}

func (c *Client) fetchAll(ctx context.Context, cur *keyCursor, playlistID string) (*FetchResult, error) {
	result := &FetchResult{Videos: make(map[string]string), Full: true}

	resp, err := c.fetchPage(ctx, cur, playlistID, "")
	if err != nil {
		return nil, err
	}
	result.Pages = 1
	if resp.PageInfo != nil {
		result.TotalResults = resp.PageInfo.TotalResults
	}

	if err := c.checkPagesAffordable(ctx, cur, result.TotalResults); err != nil {
		return nil, err
	}

	for {
		newest, _ := collect(resp.Items, result.Videos, time.Time{})
		if newest.After(result.LastVideoPublishedAt) {
			result.LastVideoPublishedAt = newest
		}
		if resp.NextPageToken == "" {
			break
		}
		if resp, err = c.fetchPage(ctx, cur, playlistID, resp.NextPageToken); err != nil {
			return nil, err
		}
		result.Pages++
	}

	c.logger.Info("Fetched full uploads playlist",
		slog.String("playlist", playlistID),
		slog.Int("videos", len(result.Videos)),
		slog.Int64("totalResults", result.TotalResults),
		slog.Int("pages", result.Pages))

	if len(result.Videos) == 0 {
		return nil, domainerr.With(domainerr.ErrChannelHasNoUploads,
			fmt.Sprintf("uploads playlist %s has no public uploads", playlistID))
	}
	return result, nil
}

// checkPagesAffordable fails when the pages still to be fetched exceed the
// remaining budget plus the overdraft allowance.
func (c *Client) checkPagesAffordable(ctx context.Context, cur *keyCursor, total int64) error {
	if cur.cred.Custom {
		return nil
	}
	pages := int((total + PageSize - 1) / PageSize)
	remaining, err := c.keys.Remaining(ctx)
	if err != nil {
		return err
	}
	if pages-1 > remaining+c.keys.Overdraft() {
		return domainerr.With(domainerr.ErrChannelTooLargeForBudget,
			fmt.Sprintf("fetching %d uploads needs %d more requests but only %d remain today", total, pages-1, remaining))
	}
	return nil
}

// FetchIncremental fetches only uploads newer than the snapshot's
// watermark. If the first page holds nothing newer but the origin reports
// more uploads than it did on the previous fetch, the whole playlist is
// refetched.
func (c *Client) FetchIncremental(ctx context.Context, snapshot *models.PlaylistSnapshot, playlistID string) (*FetchResult, error) {
	if err := c.keys.CheckBudget(ctx); err != nil {
		return nil, err
	}
	cur, err := c.newCursor(ctx)
	if err != nil {
		return nil, err
	}

	watermark := snapshot.LastVideoPublishedAt
	resp, err := c.fetchPage(ctx, cur, playlistID, "")
	if err != nil {
		return nil, err
	}

	result := &FetchResult{
		NewVideos:            make(map[string]string),
		LastVideoPublishedAt: watermark,
		Pages:                1,
	}
	if resp.PageInfo != nil {
		result.TotalResults = resp.PageInfo.TotalResults
	}

	if !newestIn(resp.Items).After(watermark) {
		// Compared against the origin's own previous count, since private
		// and pruned uploads never make it into the snapshot.
		if seen := snapshot.LastTotalResults; seen > 0 && result.TotalResults > seen {
			c.logger.Info("Upload count grew without newer uploads, refetching playlist",
				slog.String("playlist", playlistID),
				slog.Int64("previousTotal", seen),
				slog.Int64("totalResults", result.TotalResults))
			return c.fetchAll(ctx, cur, playlistID)
		}
		c.logger.Debug("No new uploads", slog.String("playlist", playlistID))
		return result, nil
	}

	for {
		newest, done := collect(resp.Items, result.NewVideos, watermark)
		if newest.After(result.LastVideoPublishedAt) {
			result.LastVideoPublishedAt = newest
		}
		if done || resp.NextPageToken == "" {
			break
		}
		if resp, err = c.fetchPage(ctx, cur, playlistID, resp.NextPageToken); err != nil {
			return nil, err
		}
		result.Pages++
	}

	c.logger.Info("Fetched new uploads",
		slog.String("playlist", playlistID),
		slog.Int("new", len(result.NewVideos)),
		slog.Int("pages", result.Pages))
	return result, nil
}
