package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	json "github.com/goccy/go-json"

	"channel-shuffler/internal/models"
)

const quotaStateFile = "quota_state.json"

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// SnapshotStore is the on-device cache: one JSON file per playlist id plus
// the quota state, all under a single data directory.
type SnapshotStore struct {
	dir string
	mu  sync.RWMutex
}

// NewSnapshotStore creates the data directory if needed.
func NewSnapshotStore(dataDir string) (*SnapshotStore, error) {
	playlists := filepath.Join(dataDir, "playlists")
	if err := os.MkdirAll(playlists, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &SnapshotStore{dir: dataDir}, nil
}

func (s *SnapshotStore) playlistPath(id string) (string, error) {
	if !validID.MatchString(id) {
		return "", &StorageError{Op: "resolve", Entity: "playlist", ID: id, Err: ErrInvalidInput}
	}
	return filepath.Join(s.dir, "playlists", id+".json"), nil
}

// Load returns the cached snapshot for a playlist id, or ErrNotFound.
func (s *SnapshotStore) Load(ctx context.Context, id string) (*models.PlaylistSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.playlistPath(id)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var snapshot models.PlaylistSnapshot
	if err := readJSON(path, &snapshot); err != nil {
		return nil, &StorageError{Op: "read", Entity: "playlist", ID: id, Err: err}
	}
	snapshot.ID = id
	if snapshot.Videos == nil {
		snapshot.Videos = make(map[string]string)
	}
	if snapshot.NewVideos == nil {
		snapshot.NewVideos = make(map[string]string)
	}
	return &snapshot, nil
}

// Save overwrites the cached snapshot for snapshot.ID.
func (s *SnapshotStore) Save(ctx context.Context, snapshot *models.PlaylistSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.playlistPath(snapshot.ID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeJSON(path, snapshot); err != nil {
		return &StorageError{Op: "write", Entity: "playlist", ID: snapshot.ID, Err: err}
	}
	return nil
}

// Evict removes a cached snapshot. Evicting a missing snapshot is not an error.
func (s *SnapshotStore) Evict(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.playlistPath(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &StorageError{Op: "delete", Entity: "playlist", ID: id, Err: err}
	}
	return nil
}

// LoadQuotaState returns the persisted quota state, or ErrNotFound.
func (s *SnapshotStore) LoadQuotaState(ctx context.Context) (*models.QuotaState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var state models.QuotaState
	if err := readJSON(filepath.Join(s.dir, quotaStateFile), &state); err != nil {
		return nil, &StorageError{Op: "read", Entity: "quota", Err: err}
	}
	return &state, nil
}

// SaveQuotaState persists the quota state.
func (s *SnapshotStore) SaveQuotaState(ctx context.Context, state *models.QuotaState) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeJSON(filepath.Join(s.dir, quotaStateFile), state); err != nil {
		return &StorageError{Op: "write", Entity: "quota", Err: err}
	}
	return nil
}

func readJSON(path string, dest any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageCorrupt, err)
	}
	return nil
}

func writeJSON(path string, value any) error {
	writer, err := newAtomicWriter(path)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(value); err != nil {
		writer.abort()
		return err
	}
	return writer.commit()
}
