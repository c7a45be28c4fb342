package channelshuffler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"channel-shuffler/internal/domainerr"
	"channel-shuffler/internal/models"
)

// Request is one shuffle invocation. Every field is read fresh per call.
type Request struct {
	ChannelID      string
	Count          int
	Filter         models.ShuffleConfig
	Shorts         models.ShortsMode
	SharingEnabled bool
}

// Options tunes a Shuffler.
type Options struct {
	StalenessWindow time.Duration
	CallTimeout     time.Duration
}

// Shuffler resolves a channel's uploads across the cache tiers and picks
// random ones from them.
type Shuffler struct {
	local        LocalStore
	shared       SharedStore
	orchestrator *Orchestrator
	selector     *Selector
	locks        *keyedMutex
	timeout      time.Duration
	logger       *slog.Logger

	now func() time.Time
}

// NewShuffler wires the tiers together. shared may be nil.
func NewShuffler(local LocalStore, shared SharedStore, origin Origin, prober Prober, opts Options, logger *slog.Logger) *Shuffler {
	return &Shuffler{
		local:        local,
		shared:       shared,
		orchestrator: NewOrchestrator(local, shared, origin, opts.StalenessWindow, opts.CallTimeout, logger),
		selector:     NewSelector(prober, logger),
		locks:        newKeyedMutex(),
		timeout:      opts.CallTimeout,
		logger:       logger,
		now:          time.Now,
	}
}

// ChooseRandomVideos returns up to req.Count distinct, existing uploads of
// the channel that pass the request's filter. Calls for the same channel
// are serialized.
func (s *Shuffler) ChooseRandomVideos(ctx context.Context, req Request) ([]string, error) {
	if req.ChannelID == "" {
		return nil, domainerr.ErrMissingChannelID
	}

	playlistID := models.PlaylistIDFromChannel(req.ChannelID)
	logger := s.logger.With(
		slog.String("request", uuid.NewString()),
		slog.String("playlist", playlistID))

	unlock := s.locks.Lock(playlistID)
	defer unlock()

	sharing := req.SharingEnabled && s.shared != nil
	start := time.Now()

	synced, err := s.orchestrator.Sync(ctx, playlistID, sharing)
	if err != nil {
		logger.Warn("Sync failed", slog.Any("error", err))
		return nil, err
	}

	sel, selErr := s.selector.Select(ctx, synced.Snapshot, req.Filter, req.Count, req.Shorts)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if selErr != nil && domainerr.KindOf(selErr) == domainerr.KindUnknown {
		logger.Warn("Selection aborted", slog.Any("error", selErr))
		return nil, selErr
	}

	if err := s.persist(ctx, logger, synced, sel, sharing); err != nil {
		return nil, err
	}

	logger.Info("Shuffle complete",
		slog.String("source", string(synced.Source)),
		slog.Int("picked", len(sel.IDs)),
		slog.Bool("pruned", sel.DeletionEncountered),
		slog.Duration("took", time.Since(start)))

	if selErr != nil {
		return nil, selErr
	}
	return sel.IDs, nil
}

func (s *Shuffler) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// persist writes the snapshot back. The shared entry is rebuilt when the
// sync asked for it or a deletion was found, and merged into otherwise.
// Staged videos stay staged locally if the shared write fails.
func (s *Shuffler) persist(ctx context.Context, logger *slog.Logger, synced *SyncResult, sel *Selection, sharing bool) error {
	snapshot := synced.Snapshot
	now := s.now()

	sharedOK := true
	if sharing && (synced.MustWriteShared || sel.DeletionEncountered) {
		if err := s.writeShared(ctx, synced, sel.DeletionEncountered); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("Shared store write failed", slog.Any("error", err))
			sharedOK = false
		}
	}

	if sharedOK || !sharing {
		snapshot.Videos = snapshot.Merged()
		snapshot.NewVideos = make(map[string]string)
	}
	snapshot.LastAccessedLocally = now

	callCtx, cancel := s.callCtx(ctx)
	defer cancel()
	if err := s.local.Save(callCtx, snapshot); err != nil {
		return fmt.Errorf("failed to persist snapshot %s: %w", snapshot.ID, err)
	}
	return nil
}

func (s *Shuffler) writeShared(ctx context.Context, synced *SyncResult, deleted bool) error {
	snapshot := synced.Snapshot
	callCtx, cancel := s.callCtx(ctx)
	defer cancel()

	if synced.FullOverwrite || deleted {
		return s.shared.Overwrite(callCtx, &models.SharedPlaylist{
			ID:                   snapshot.ID,
			Videos:               snapshot.Merged(),
			LastUpdatedDBAt:      snapshot.LastUpdatedDBAt,
			LastVideoPublishedAt: snapshot.LastVideoPublishedAt,
		})
	}

	var stamp time.Time
	if synced.Source == SourceOrigin {
		stamp = snapshot.LastUpdatedDBAt
	}
	if len(snapshot.NewVideos) == 0 && stamp.IsZero() {
		return nil
	}
	return s.shared.Merge(callCtx, snapshot.ID, snapshot.NewVideos, stamp, snapshot.LastVideoPublishedAt)
}

// IsDomainError reports whether err belongs to the shuffle error taxonomy.
func IsDomainError(err error) bool {
	var derr *domainerr.Error
	return errors.As(err, &derr)
}
