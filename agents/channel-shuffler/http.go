package channelshuffler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"channel-shuffler/internal/domainerr"
	"channel-shuffler/internal/models"
	"channel-shuffler/shared/monitoring"
	"channel-shuffler/shared/quota"
)

// Defaults fill in request fields the caller leaves out.
type Defaults struct {
	Count          int
	Shorts         models.ShortsMode
	SharingEnabled bool
	// Filter returns the stored filter for a channel.
	Filter func(channelID string) models.ShuffleConfig
}

type shuffleResponse struct {
	IDs []string `json:"ids"`
	URL string   `json:"url"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// ShuffleHandler serves GET /shuffle?channel=…&count=…&filter=…&value=…&shorts=…&sharing=….
func ShuffleHandler(s *Shuffler, defaults Defaults, monitor *monitoring.Monitor, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		req, err := parseShuffleRequest(r, defaults)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		start := time.Now()
		ids, err := s.ChooseRandomVideos(r.Context(), req)
		duration := time.Since(start)
		switch {
		case err == nil:
			monitor.RecordSuccess(fmt.Sprintf("picked %d from %s", len(ids), req.ChannelID), duration)
			writeJSON(w, logger, http.StatusOK, shuffleResponse{IDs: ids, URL: WatchURL(ids)})
		case IsDomainError(err):
			monitor.RecordPartialFailure(err, duration)
			writeError(w, logger, err)
		case errors.Is(err, context.Canceled):
			// The client went away.
		default:
			monitor.RecordCriticalFailure(err, duration)
			writeError(w, logger, err)
		}
	})
}

func parseShuffleRequest(r *http.Request, defaults Defaults) (Request, error) {
	q := r.URL.Query()
	req := Request{
		ChannelID:      q.Get("channel"),
		Count:          defaults.Count,
		Shorts:         defaults.Shorts,
		SharingEnabled: defaults.SharingEnabled,
	}

	if v := q.Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return req, fmt.Errorf("count must be a positive integer: %w", errBadRequest)
		}
		req.Count = n
	}
	if v := q.Get("shorts"); v != "" {
		mode, err := models.ParseShortsMode(v)
		if err != nil {
			return req, fmt.Errorf("%v: %w", err, errBadRequest)
		}
		req.Shorts = mode
	}
	if v := q.Get("sharing"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return req, fmt.Errorf("sharing must be a boolean: %w", errBadRequest)
		}
		req.SharingEnabled = on
	}

	if kind := q.Get("filter"); kind != "" {
		req.Filter = FilterFromValue(models.FilterKind(kind), q.Get("value"))
	} else if defaults.Filter != nil {
		req.Filter = defaults.Filter(req.ChannelID)
	}
	return req, nil
}

// FilterFromValue builds a filter from its kind and a single raw value.
// A percentage that does not parse is kept out of range so selection
// reports it as invalid.
func FilterFromValue(kind models.FilterKind, value string) models.ShuffleConfig {
	f := models.ShuffleConfig{ActiveFilter: kind}
	switch kind {
	case models.FilterAfterDate:
		f.AfterDate = value
	case models.FilterAfterVideoID:
		f.AfterVideoID = value
	case models.FilterPercentage:
		if value == "" {
			break
		}
		p, err := strconv.Atoi(value)
		if err != nil {
			p = -1
		}
		f.Percentage = p
	}
	return f
}

var errBadRequest = errors.New("bad request")

func statusFor(err error) int {
	if errors.Is(err, errBadRequest) {
		return http.StatusBadRequest
	}
	switch domainerr.KindOf(err) {
	case domainerr.KindMissingChannelID, domainerr.KindFilterValueMissing, domainerr.KindFilterValueInvalid:
		return http.StatusBadRequest
	case domainerr.KindDailyQuotaExceeded, domainerr.KindChannelTooLargeForBudget,
		domainerr.KindAllCredentialsExhausted, domainerr.KindCustomCredentialQuotaExceeded:
		return http.StatusTooManyRequests
	case domainerr.KindNoCredentialsAvailable:
		return http.StatusServiceUnavailable
	case domainerr.KindChannelHasNoUploads, domainerr.KindAllUploadsDeleted,
		domainerr.KindNoMatchingItems, domainerr.KindNoMatchingCategoryItems:
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	resp := errorResponse{Code: "upstream_error", Message: err.Error()}
	var derr *domainerr.Error
	switch {
	case errors.As(err, &derr):
		resp = errorResponse{Code: derr.Code(), Message: derr.Message, Hint: derr.Hint}
	case errors.Is(err, errBadRequest):
		resp.Code = "bad_request"
	}
	writeJSON(w, logger, statusFor(err), resp)
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("Failed to write response", slog.Any("error", err))
	}
}

// QuotaReporter exposes the current budget.
type QuotaReporter interface {
	Status(ctx context.Context) (quota.Status, error)
}

// QuotaHandler serves GET /quota.
func QuotaHandler(q QuotaReporter, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status, err := q.Status(r.Context())
		if err != nil {
			writeJSON(w, logger, http.StatusInternalServerError, errorResponse{Code: "quota_unavailable", Message: err.Error()})
			return
		}
		writeJSON(w, logger, http.StatusOK, status)
	})
}
