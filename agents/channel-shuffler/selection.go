package channelshuffler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"channel-shuffler/agents/channel-shuffler/youtube"
	"channel-shuffler/internal/domainerr"
	"channel-shuffler/internal/models"
)

// Prober checks a candidate against the origin before it is returned.
type Prober interface {
	Probe(ctx context.Context, videoID string) (youtube.ProbeResult, error)
}

// Selection is the outcome of a selection pass.
type Selection struct {
	IDs []string
	// DeletionEncountered is set when a candidate no longer resolved and
	// was pruned from the snapshot.
	DeletionEncountered bool
}

// Selector picks random uploads under a shuffle filter.
type Selector struct {
	prober Prober
	logger *slog.Logger

	intn func(n int) int
}

func NewSelector(prober Prober, logger *slog.Logger) *Selector {
	return &Selector{prober: prober, logger: logger, intn: rand.IntN}
}

// Select draws up to count distinct uploads from the snapshot. Uploads that
// no longer exist are removed from the snapshot as they are found. The
// returned Selection is never nil, so pruning is visible even on error.
func (s *Selector) Select(ctx context.Context, snapshot *models.PlaylistSnapshot, filter models.ShuffleConfig, count int, shorts models.ShortsMode) (*Selection, error) {
	if count < 1 {
		count = 1
	}

	sel := &Selection{}
	picked := make(map[string]bool)
	skipped := make(map[string]bool)

	for len(sel.IDs) < count {
		pool, err := s.candidates(snapshot, filter, sel.DeletionEncountered)
		if err != nil {
			if len(sel.IDs) > 0 {
				break
			}
			return sel, err
		}

		remaining := make([]string, 0, len(pool))
		for _, v := range pool {
			if !picked[v.ID] && !skipped[v.ID] {
				remaining = append(remaining, v.ID)
			}
		}
		if len(remaining) == 0 {
			if len(sel.IDs) > 0 {
				break
			}
			return sel, domainerr.With(domainerr.ErrNoMatchingCategoryItems,
				fmt.Sprintf("none of the %d matching uploads fit shorts mode %q", len(pool), shorts))
		}

		id := remaining[s.intn(len(remaining))]
		result, err := s.prober.Probe(ctx, id)
		if err != nil {
			return sel, err
		}

		if !result.Exists {
			s.logger.Info("Pruning deleted upload", slog.String("playlist", snapshot.ID), slog.String("video", id))
			snapshot.Remove(id)
			sel.DeletionEncountered = true
			continue
		}
		if !shortsAllowed(shorts, result.Short) {
			skipped[id] = true
			continue
		}

		picked[id] = true
		sel.IDs = append(sel.IDs, id)
	}

	return sel, nil
}

func shortsAllowed(mode models.ShortsMode, short bool) bool {
	switch mode {
	case models.ShortsOnly:
		return short
	case models.ShortsExclude:
		return !short
	default:
		return true
	}
}

func (s *Selector) candidates(snapshot *models.PlaylistSnapshot, filter models.ShuffleConfig, pruned bool) ([]models.VideoDate, error) {
	sorted := models.SortedByDate(snapshot.Merged())
	if len(sorted) == 0 {
		if pruned {
			return nil, domainerr.ErrAllUploadsDeleted
		}
		return nil, domainerr.ErrChannelHasNoUploads
	}
	return ApplyFilter(sorted, filter)
}

// ApplyFilter restricts uploads sorted newest first to those the filter
// allows. The result is never empty when err is nil.
func ApplyFilter(sorted []models.VideoDate, filter models.ShuffleConfig) ([]models.VideoDate, error) {
	var pool []models.VideoDate

	switch filter.ActiveFilter {
	case "", models.FilterAll:
		pool = sorted

	case models.FilterAfterDate:
		if filter.AfterDate == "" {
			return nil, domainerr.With(domainerr.ErrFilterValueMissing, "the afterDate filter has no date")
		}
		since := models.TruncateDate(filter.AfterDate)
		if _, err := time.Parse(models.DateLayout, since); err != nil {
			return nil, domainerr.With(domainerr.ErrFilterValueInvalid,
				fmt.Sprintf("%q is not a valid date", filter.AfterDate))
		}
		end := 0
		for end < len(sorted) && sorted[end].Date >= since {
			end++
		}
		pool = sorted[:end]

	case models.FilterAfterVideoID:
		if filter.AfterVideoID == "" {
			return nil, domainerr.With(domainerr.ErrFilterValueMissing, "the afterVideoId filter has no video id")
		}
		idx := -1
		for i, v := range sorted {
			if v.ID == filter.AfterVideoID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, domainerr.With(domainerr.ErrFilterValueInvalid,
				fmt.Sprintf("video %s is not an upload of this channel", filter.AfterVideoID))
		}
		pool = sorted[:idx]

	case models.FilterPercentage:
		if filter.Percentage == 0 {
			return nil, domainerr.With(domainerr.ErrFilterValueMissing, "the percentage filter has no value")
		}
		if filter.Percentage < 0 || filter.Percentage > 100 {
			return nil, domainerr.With(domainerr.ErrFilterValueInvalid,
				fmt.Sprintf("percentage %d is outside 1-100", filter.Percentage))
		}
		n := max(1, (len(sorted)*filter.Percentage+99)/100)
		pool = sorted[:min(n, len(sorted))]

	default:
		return nil, domainerr.With(domainerr.ErrFilterValueInvalid,
			fmt.Sprintf("unknown filter %q", filter.ActiveFilter))
	}

	if len(pool) == 0 {
		return nil, domainerr.ErrNoMatchingItems
	}
	return pool, nil
}
