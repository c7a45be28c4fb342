// Package quota governs access to the rate-limited origin API: it owns the
// shared credential pool and the caller's daily call budget.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"regexp"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"channel-shuffler/internal/domainerr"
	"channel-shuffler/internal/models"
	"channel-shuffler/shared/storage"
)

// MinRemaining is the deepest the budget may be overdrawn.
const MinRemaining = -200

var customKeyPattern = regexp.MustCompile(`^AIza[0-9A-Za-z_-]{35}$`)

// Credential is a resolved origin API key.
type Credential struct {
	Key    string
	Index  int // position in the pool, -1 for a custom key
	Custom bool
}

// StateStore persists the quota state between runs.
type StateStore interface {
	LoadQuotaState(ctx context.Context) (*models.QuotaState, error)
	SaveQuotaState(ctx context.Context, state *models.QuotaState) error
}

// PoolSource supplies the shared credential pool.
type PoolSource interface {
	APIKeys(ctx context.Context) ([]string, error)
}

// Options configures a Manager.
type Options struct {
	CustomKey        string
	DailyAllowance   int
	Overdraft        int
	PoolRefreshEvery time.Duration
	Location         *time.Location
	Cipher           Cipher
}

// Status is a point-in-time view of the budget.
type Status struct {
	RemainingCalls    int       `json:"remainingCalls"`
	ResetAt           time.Time `json:"resetAt"`
	PoolSize          int       `json:"poolSize"`
	NextPoolRefreshAt time.Time `json:"nextPoolRefreshAt"`
	Custom            bool      `json:"custom"`
}

// Manager resolves credentials and tracks the daily budget.
type Manager struct {
	store  StateStore
	pool   PoolSource
	opts   Options
	custom string
	logger *slog.Logger

	now  func() time.Time
	intn func(n int) int

	mu    sync.Mutex
	state *models.QuotaState
	sf    singleflight.Group
}

// NewManager creates a manager. A malformed custom key is ignored.
func NewManager(store StateStore, pool PoolSource, opts Options, logger *slog.Logger) *Manager {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.PoolRefreshEvery <= 0 {
		opts.PoolRefreshEvery = 7 * 24 * time.Hour
	}

	m := &Manager{
		store:  store,
		pool:   pool,
		opts:   opts,
		logger: logger,
		now:    time.Now,
		intn:   rand.IntN,
	}
	if opts.CustomKey != "" {
		if customKeyPattern.MatchString(opts.CustomKey) {
			m.custom = opts.CustomKey
		} else {
			logger.Warn("Ignoring malformed custom API key")
		}
	}
	return m
}

// HasCustom reports whether a valid custom key bypasses the budget.
func (m *Manager) HasCustom() bool {
	return m.custom != ""
}

// Overdraft is how far past zero a single fetch may take the budget.
func (m *Manager) Overdraft() int {
	return m.opts.Overdraft
}

func (m *Manager) nextReset(now time.Time) time.Time {
	t := now.In(m.opts.Location)
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, m.opts.Location)
}

// loadLocked reads the persisted state once. Callers hold m.mu.
func (m *Manager) loadLocked(ctx context.Context) error {
	if m.state != nil {
		return nil
	}
	state, err := m.store.LoadQuotaState(ctx)
	switch {
	case err == nil:
		m.state = state
	case errors.Is(err, storage.ErrNotFound):
		m.state = &models.QuotaState{
			RemainingCalls: m.opts.DailyAllowance,
			ResetAt:        m.nextReset(m.now()),
		}
	default:
		return fmt.Errorf("failed to load quota state: %w", err)
	}
	return nil
}

// resetIfDueLocked restores the daily allowance once the reset time passes.
func (m *Manager) resetIfDueLocked(ctx context.Context) {
	now := m.now()
	if now.Before(m.state.ResetAt) {
		return
	}
	m.state.RemainingCalls = m.opts.DailyAllowance
	m.state.ResetAt = m.nextReset(now)
	m.saveLocked(ctx)
	m.logger.Info("Daily quota reset",
		slog.Int("allowance", m.opts.DailyAllowance),
		slog.Time("nextReset", m.state.ResetAt))
}

func (m *Manager) saveLocked(ctx context.Context) {
	snapshot := *m.state
	snapshot.KeyPool = append([]string(nil), m.state.KeyPool...)
	if err := m.store.SaveQuotaState(ctx, &snapshot); err != nil {
		m.logger.Warn("Failed to persist quota state", slog.Any("error", err))
	}
}

// ResetDaily applies the daily reset if it is due.
func (m *Manager) ResetDaily(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadLocked(ctx); err != nil {
		return err
	}
	m.resetIfDueLocked(ctx)
	return nil
}

// CheckBudget fails with DailyQuotaExceeded when a shared-key caller has
// nothing left to spend.
func (m *Manager) CheckBudget(ctx context.Context) error {
	if m.HasCustom() {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadLocked(ctx); err != nil {
		return err
	}
	m.resetIfDueLocked(ctx)
	if m.state.RemainingCalls <= 0 {
		return domainerr.ErrDailyQuotaExceeded
	}
	return nil
}

// Remaining returns the calls left today.
func (m *Manager) Remaining(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadLocked(ctx); err != nil {
		return 0, err
	}
	m.resetIfDueLocked(ctx)
	return m.state.RemainingCalls, nil
}

// Debit charges one call against the budget. It is applied before the call
// is made, so abandoned and failed requests are still counted.
func (m *Manager) Debit(ctx context.Context, cred Credential) {
	if cred.Custom {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadLocked(ctx); err != nil {
		m.logger.Warn("Quota debit without state", slog.Any("error", err))
		return
	}
	m.resetIfDueLocked(ctx)
	if m.state.RemainingCalls > MinRemaining {
		m.state.RemainingCalls--
	}
	m.saveLocked(ctx)

	if m.state.RemainingCalls <= 0 {
		m.logger.Warn("Daily quota exhausted",
			slog.Int("remaining", m.state.RemainingCalls),
			slog.Time("resetAt", m.state.ResetAt))
	}
}

// Resolve returns the credential to use. With a custom key configured that
// key is returned. Otherwise preferred selects a pool index: a negative
// value picks one at random and an out-of-range value falls back to 0.
func (m *Manager) Resolve(ctx context.Context, preferred int) (Credential, error) {
	if m.HasCustom() {
		return Credential{Key: m.custom, Index: -1, Custom: true}, nil
	}

	pool, err := m.ensurePool(ctx)
	if err != nil {
		return Credential{}, err
	}

	idx := preferred
	switch {
	case idx < 0:
		idx = m.intn(len(pool))
	case idx >= len(pool):
		idx = 0
	}
	return Credential{Key: m.opts.Cipher.Reveal(pool[idx]), Index: idx}, nil
}

// PoolSize returns the number of shared keys, refreshing the pool if due.
func (m *Manager) PoolSize(ctx context.Context) (int, error) {
	pool, err := m.ensurePool(ctx)
	if err != nil {
		return 0, err
	}
	return len(pool), nil
}

func (m *Manager) ensurePool(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	if err := m.loadLocked(ctx); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	pool := m.state.KeyPool
	due := len(pool) == 0 || !m.now().Before(m.state.NextPoolRefreshAt)
	m.mu.Unlock()

	if !due {
		return pool, nil
	}

	refreshed, err := m.refresh(ctx)
	if err != nil {
		if len(pool) > 0 {
			m.logger.Warn("Credential pool refresh failed, keeping current pool", slog.Any("error", err))
			return pool, nil
		}
		return nil, domainerr.Wrap(domainerr.KindNoCredentialsAvailable,
			domainerr.ErrNoCredentialsAvailable.Message, domainerr.ErrNoCredentialsAvailable.Hint, err)
	}
	if len(refreshed) == 0 {
		return nil, domainerr.ErrNoCredentialsAvailable
	}
	return refreshed, nil
}

// RefreshPool reloads the credential pool from the shared store.
func (m *Manager) RefreshPool(ctx context.Context) error {
	_, err := m.refresh(ctx)
	return err
}

func (m *Manager) refresh(ctx context.Context) ([]string, error) {
	v, err, _ := m.sf.Do("pool", func() (any, error) {
		keys, err := m.pool.APIKeys(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch credential pool: %w", err)
		}

		obfuscated := make([]string, 0, len(keys))
		for _, k := range keys {
			if k != "" {
				obfuscated = append(obfuscated, m.opts.Cipher.Obfuscate(k))
			}
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		if err := m.loadLocked(ctx); err != nil {
			return nil, err
		}
		m.state.KeyPool = obfuscated
		m.state.NextPoolRefreshAt = m.now().Add(m.opts.PoolRefreshEvery)
		m.saveLocked(ctx)

		m.logger.Info("Credential pool refreshed",
			slog.Int("keys", len(obfuscated)),
			slog.Time("nextRefresh", m.state.NextPoolRefreshAt))
		return obfuscated, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// Status reports the current budget.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadLocked(ctx); err != nil {
		return Status{}, err
	}
	m.resetIfDueLocked(ctx)
	return Status{
		RemainingCalls:    m.state.RemainingCalls,
		ResetAt:           m.state.ResetAt,
		PoolSize:          len(m.state.KeyPool),
		NextPoolRefreshAt: m.state.NextPoolRefreshAt,
		Custom:            m.HasCustom(),
	}, nil
}
