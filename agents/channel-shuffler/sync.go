package channelshuffler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"channel-shuffler/agents/channel-shuffler/youtube"
	"channel-shuffler/internal/models"
	"channel-shuffler/shared/remote"
	"channel-shuffler/shared/storage"
)

// DefaultStalenessWindow is how long a tier's data is trusted.
const DefaultStalenessWindow = 48 * time.Hour

// LocalStore is the on-device snapshot cache.
type LocalStore interface {
	Load(ctx context.Context, id string) (*models.PlaylistSnapshot, error)
	Save(ctx context.Context, snapshot *models.PlaylistSnapshot) error
}

// SharedStore is the community cache.
type SharedStore interface {
	Get(ctx context.Context, id string) (*models.SharedPlaylist, error)
	Overwrite(ctx context.Context, playlist *models.SharedPlaylist) error
	Merge(ctx context.Context, id string, newVideos map[string]string, updatedAt, watermark time.Time) error
}

// Origin fetches uploads from the rate-limited source of truth.
type Origin interface {
	FetchAll(ctx context.Context, playlistID string) (*youtube.FetchResult, error)
	FetchIncremental(ctx context.Context, snapshot *models.PlaylistSnapshot, playlistID string) (*youtube.FetchResult, error)
}

// Source names the furthest tier a sync had to reach.
type Source string

const (
	SourceLocal  Source = "local"
	SourceShared Source = "shared"
	SourceOrigin Source = "origin"
)

// SyncResult is a reconciled snapshot and what must be written back.
type SyncResult struct {
	Snapshot *models.PlaylistSnapshot
	// MustWriteShared is set when the snapshot holds data the shared
	// store does not have yet.
	MustWriteShared bool
	// FullOverwrite is set when the shared entry has to be rebuilt
	// rather than merged into.
	FullOverwrite bool
	Source        Source
}

// Orchestrator decides which tiers must be consulted before selection.
type Orchestrator struct {
	local   LocalStore
	shared  SharedStore
	origin  Origin
	window  time.Duration
	timeout time.Duration
	logger  *slog.Logger

	now func() time.Time
}

// NewOrchestrator creates an orchestrator. shared may be nil when the
// shared store is not configured.
func NewOrchestrator(local LocalStore, shared SharedStore, origin Origin, window, timeout time.Duration, logger *slog.Logger) *Orchestrator {
	if window <= 0 {
		window = DefaultStalenessWindow
	}
	return &Orchestrator{
		local:   local,
		shared:  shared,
		origin:  origin,
		window:  window,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}
}

func (o *Orchestrator) stale(t time.Time) bool {
	return o.now().Sub(t) >= o.window
}

func (o *Orchestrator) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, o.timeout)
}

// Sync returns the snapshot selection should run against.
func (o *Orchestrator) Sync(ctx context.Context, playlistID string, sharing bool) (*SyncResult, error) {
	sharing = sharing && o.shared != nil

	local, err := o.loadLocal(ctx, playlistID)
	if err != nil {
		return nil, err
	}

	switch {
	case local == nil && sharing:
		return o.fromShared(ctx, playlistID, nil)
	case local == nil:
		return o.fullFetch(ctx, playlistID, nil)
	case sharing && o.stale(local.LastFetchedFromDB):
		return o.fromShared(ctx, playlistID, local)
	case sharing:
		return &SyncResult{Snapshot: local, Source: SourceLocal}, nil
	case o.stale(local.LastAccessedLocally):
		return o.incremental(ctx, playlistID, local)
	default:
		return &SyncResult{Snapshot: local, Source: SourceLocal}, nil
	}
}

func (o *Orchestrator) loadLocal(ctx context.Context, playlistID string) (*models.PlaylistSnapshot, error) {
	callCtx, cancel := o.callCtx(ctx)
	defer cancel()

	local, err := o.local.Load(callCtx, playlistID)
	switch {
	case err == nil:
		return local, nil
	case errors.Is(err, storage.ErrNotFound):
		return nil, nil
	case errors.Is(err, storage.ErrStorageCorrupt):
		o.logger.Warn("Discarding unreadable local snapshot", slog.String("playlist", playlistID), slog.Any("error", err))
		return nil, nil
	default:
		return nil, err
	}
}

// fromShared rebuilds the snapshot from the shared store, which wins over
// the local copy. Only uploads still waiting for a shared write are carried
// over; anything else missing from the shared entry was pruned there.
func (o *Orchestrator) fromShared(ctx context.Context, playlistID string, local *models.PlaylistSnapshot) (*SyncResult, error) {
	callCtx, cancel := o.callCtx(ctx)
	shared, err := o.shared.Get(callCtx, playlistID)
	cancel()

	switch {
	case errors.Is(err, remote.ErrNotFound):
		o.logger.Info("Playlist not in shared store, fetching from origin", slog.String("playlist", playlistID))
		return o.fullFetch(ctx, playlistID, local)
	case err != nil:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Without a readable shared entry a rebuild could clobber it, so
		// this run proceeds as if sharing were off.
		o.logger.Warn("Shared store unavailable", slog.String("playlist", playlistID), slog.Any("error", err))
		if local != nil {
			return &SyncResult{Snapshot: local, Source: SourceLocal}, nil
		}
		res, err := o.fullFetch(ctx, playlistID, nil)
		if err != nil {
			return nil, err
		}
		res.MustWriteShared, res.FullOverwrite = false, false
		return res, nil
	case shared.Legacy:
		o.logger.Info("Shared entry in legacy format, rebuilding", slog.String("playlist", playlistID))
		return o.fullFetch(ctx, playlistID, local)
	}

	now := o.now()
	snapshot := models.NewPlaylistSnapshot(playlistID)
	for id, date := range shared.Videos {
		snapshot.Videos[id] = date
	}
	snapshot.LastVideoPublishedAt = shared.LastVideoPublishedAt
	snapshot.LastUpdatedDBAt = shared.LastUpdatedDBAt
	snapshot.LastFetchedFromDB = now

	var localWatermark time.Time
	if local != nil {
		snapshot.LastAccessedLocally = local.LastAccessedLocally
		localWatermark = local.LastVideoPublishedAt
		snapshot.LastTotalResults = local.LastTotalResults
		for id, date := range local.NewVideos {
			if _, ok := snapshot.Videos[id]; !ok {
				snapshot.NewVideos[id] = date
			}
		}
	}

	result := &SyncResult{
		Snapshot:        snapshot,
		MustWriteShared: len(snapshot.NewVideos) > 0,
		Source:          SourceShared,
	}

	if o.stale(shared.LastUpdatedDBAt) {
		// Seeded with the shared watermark so anything the shared entry
		// misses is fetched even if this device already knew about it.
		fetched, err := o.origin.FetchIncremental(ctx, snapshot, playlistID)
		if err != nil {
			return nil, err
		}
		o.apply(result, fetched)
	}

	snapshot.AdvanceWatermark(localWatermark)

	o.logger.Debug("Synced from shared store",
		slog.String("playlist", playlistID),
		slog.Int("videos", len(snapshot.Videos)),
		slog.Int("staged", len(snapshot.NewVideos)),
		slog.String("source", string(result.Source)))
	return result, nil
}

func (o *Orchestrator) fullFetch(ctx context.Context, playlistID string, local *models.PlaylistSnapshot) (*SyncResult, error) {
	fetched, err := o.origin.FetchAll(ctx, playlistID)
	if err != nil {
		return nil, err
	}

	snapshot := models.NewPlaylistSnapshot(playlistID)
	if local != nil {
		snapshot.LastVideoPublishedAt = local.LastVideoPublishedAt
		snapshot.LastAccessedLocally = local.LastAccessedLocally
	}
	snapshot.LastFetchedFromDB = o.now()

	result := &SyncResult{Snapshot: snapshot}
	o.apply(result, fetched)
	return result, nil
}

func (o *Orchestrator) incremental(ctx context.Context, playlistID string, local *models.PlaylistSnapshot) (*SyncResult, error) {
	fetched, err := o.origin.FetchIncremental(ctx, local, playlistID)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{Snapshot: local}
	o.apply(result, fetched)
	return result, nil
}

// apply folds an origin fetch into the result's snapshot.
func (o *Orchestrator) apply(result *SyncResult, fetched *youtube.FetchResult) {
	snapshot := result.Snapshot
	if fetched.TotalResults > 0 {
		snapshot.LastTotalResults = fetched.TotalResults
	}
	if fetched.Full {
		snapshot.Videos = fetched.Videos
		snapshot.NewVideos = make(map[string]string)
		result.FullOverwrite = true
	} else {
		if snapshot.NewVideos == nil {
			snapshot.NewVideos = make(map[string]string)
		}
		for id, date := range fetched.NewVideos {
			if _, ok := snapshot.Videos[id]; !ok {
				snapshot.NewVideos[id] = date
			}
		}
	}
	snapshot.AdvanceWatermark(fetched.LastVideoPublishedAt)
	snapshot.LastUpdatedDBAt = o.now()

	result.MustWriteShared = true
	result.Source = SourceOrigin
}
