// Package remote is the shared, community-populated playlist cache.
//
// Layout on Valkey:
//
//	uploadsPlaylists/{id}         hash  lastUpdatedDBAt, lastVideoPublishedAt
//	uploadsPlaylists/{id}/videos  hash  videoId -> YYYY-MM-DD
//	config/apiKeys                list  shared origin API keys
//
// Entries written by older clients kept the uploads inline in a "videos"
// field of the main hash (as a JSON array or object) or stored full
// timestamps instead of dates. Such entries are reported as Legacy and are
// replaced wholesale on the next write.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/valkey-io/valkey-go"

	"channel-shuffler/internal/models"
)

const (
	playlistKeyPrefix = "uploadsPlaylists/"
	apiKeysKey        = "config/apiKeys"

	fieldLastUpdatedDBAt      = "lastUpdatedDBAt"
	fieldLastVideoPublishedAt = "lastVideoPublishedAt"
	fieldLegacyVideos         = "videos"

	timestampLayout = time.RFC3339
)

// ErrNotFound indicates the shared store holds no entry for a playlist.
var ErrNotFound = errors.New("playlist not in shared store")

// StoreError wraps a failed Valkey operation.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("shared store %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Config holds the Valkey connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Store reads and writes shared playlist snapshots.
type Store struct {
	client    valkey.Client
	logger    *slog.Logger
	closeOnce sync.Once
}

// NewStore connects to Valkey and verifies the connection.
func NewStore(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:  []string{cfg.Addr},
		Password:     cfg.Password,
		SelectDB:     cfg.DB,
		DisableCache: true,
	})
	if err != nil {
		return nil, &StoreError{Op: "connect", Key: cfg.Addr, Err: err}
	}

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, &StoreError{Op: "ping", Key: cfg.Addr, Err: err}
	}

	logger.Info("Shared store connected", slog.String("addr", cfg.Addr), slog.Int("db", cfg.DB))
	return NewStoreWithClient(client, logger), nil
}

// NewStoreWithClient wraps an existing client.
func NewStoreWithClient(client valkey.Client, logger *slog.Logger) *Store {
	return &Store{client: client, logger: logger}
}

// Close releases the underlying client.
func (s *Store) Close() {
	s.closeOnce.Do(func() { s.client.Close() })
}

func playlistKey(id string) string { return playlistKeyPrefix + id }

func videosKey(id string) string { return playlistKeyPrefix + id + "/videos" }

// Get returns the shared entry for a playlist id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*models.SharedPlaylist, error) {
	resps := s.client.DoMulti(ctx,
		s.client.B().Hgetall().Key(playlistKey(id)).Build(),
		s.client.B().Hgetall().Key(videosKey(id)).Build(),
	)
	meta, err := resps[0].AsStrMap()
	if err != nil {
		return nil, &StoreError{Op: "hgetall", Key: playlistKey(id), Err: err}
	}
	videos, err := resps[1].AsStrMap()
	if err != nil {
		return nil, &StoreError{Op: "hgetall", Key: videosKey(id), Err: err}
	}
	if len(meta) == 0 && len(videos) == 0 {
		return nil, ErrNotFound
	}

	playlist := &models.SharedPlaylist{ID: id, Videos: make(map[string]string, len(videos))}

	if raw, ok := meta[fieldLastUpdatedDBAt]; ok {
		if playlist.LastUpdatedDBAt, err = time.Parse(timestampLayout, raw); err != nil {
			playlist.Legacy = true
		}
	}
	if raw, ok := meta[fieldLastVideoPublishedAt]; ok {
		if playlist.LastVideoPublishedAt, err = time.Parse(timestampLayout, raw); err != nil {
			playlist.Legacy = true
		}
	}

	if raw, ok := meta[fieldLegacyVideos]; ok {
		playlist.Legacy = true
		parseInlineVideos(raw, playlist.Videos)
	}

	for videoID, date := range videos {
		if len(date) != len(models.DateLayout) {
			playlist.Legacy = true
		}
		playlist.Videos[videoID] = models.TruncateDate(date)
	}

	if playlist.Legacy {
		s.logger.Info("Legacy shared entry detected", slog.String("playlist", id), slog.Int("videos", len(playlist.Videos)))
	}
	return playlist, nil
}

// parseInlineVideos reads the old single-field format. The array form
// carries no dates and yields nothing usable.
func parseInlineVideos(raw string, into map[string]string) {
	var byID map[string]string
	if err := json.Unmarshal([]byte(raw), &byID); err == nil {
		for videoID, date := range byID {
			into[videoID] = models.TruncateDate(date)
		}
	}
}

// Overwrite replaces the entire entry, dropping anything stored before.
func (s *Store) Overwrite(ctx context.Context, playlist *models.SharedPlaylist) error {
	id := playlist.ID
	cmds := []valkey.Completed{
		s.client.B().Multi().Build(),
		s.client.B().Del().Key(playlistKey(id), videosKey(id)).Build(),
		s.client.B().Hset().Key(playlistKey(id)).FieldValue().
			FieldValue(fieldLastUpdatedDBAt, formatTime(playlist.LastUpdatedDBAt)).
			FieldValue(fieldLastVideoPublishedAt, formatTime(playlist.LastVideoPublishedAt)).
			Build(),
	}
	if len(playlist.Videos) > 0 {
		cmds = append(cmds, s.hsetVideos(id, playlist.Videos))
	}
	cmds = append(cmds, s.client.B().Exec().Build())

	for _, resp := range s.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			s.logger.Error("Shared store overwrite failed", slog.String("playlist", id), slog.Any("error", err))
			return &StoreError{Op: "overwrite", Key: playlistKey(id), Err: err}
		}
	}

	s.logger.Debug("Shared entry overwritten", slog.String("playlist", id), slog.Int("videos", len(playlist.Videos)))
	return nil
}

func (s *Store) hsetVideos(id string, videos map[string]string) valkey.Completed {
	builder := s.client.B().Hset().Key(videosKey(id)).FieldValue()
	for videoID, date := range videos {
		builder = builder.FieldValue(videoID, date)
	}
	return builder.Build()
}

// mergeScript adds uploads and advances the watermark only forward.
// KEYS[1] main hash, KEYS[2] videos hash.
// ARGV[1] lastUpdatedDBAt ("" keeps it), ARGV[2] lastVideoPublishedAt,
// ARGV[3..] videoId, date pairs.
var mergeScript = valkey.NewLuaScript(`
local current = redis.call('HGET', KEYS[1], 'lastVideoPublishedAt')
if (not current) or ARGV[2] > current then
  redis.call('HSET', KEYS[1], 'lastVideoPublishedAt', ARGV[2])
end
if ARGV[1] ~= '' then
  redis.call('HSET', KEYS[1], 'lastUpdatedDBAt', ARGV[1])
end
for i = 3, #ARGV, 2 do
  redis.call('HSET', KEYS[2], ARGV[i], ARGV[i + 1])
end
return (#ARGV - 2) / 2
`)

// Merge uploads only the given videos on top of the live entry.
// A zero updatedAt leaves lastUpdatedDBAt unchanged.
func (s *Store) Merge(ctx context.Context, id string, newVideos map[string]string, updatedAt, watermark time.Time) error {
	args := make([]string, 0, 2+2*len(newVideos))
	if updatedAt.IsZero() {
		args = append(args, "")
	} else {
		args = append(args, formatTime(updatedAt))
	}
	args = append(args, formatTime(watermark))
	for videoID, date := range newVideos {
		args = append(args, videoID, date)
	}

	if err := mergeScript.Exec(ctx, s.client, []string{playlistKey(id), videosKey(id)}, args).Error(); err != nil {
		s.logger.Error("Shared store merge failed", slog.String("playlist", id), slog.Any("error", err))
		return &StoreError{Op: "merge", Key: playlistKey(id), Err: err}
	}

	s.logger.Debug("Shared entry merged", slog.String("playlist", id), slog.Int("videos", len(newVideos)))
	return nil
}

// APIKeys returns the shared credential pool.
func (s *Store) APIKeys(ctx context.Context) ([]string, error) {
	keys, err := s.client.Do(ctx, s.client.B().Lrange().Key(apiKeysKey).Start(0).Stop(-1).Build()).AsStrSlice()
	if err != nil {
		return nil, &StoreError{Op: "lrange", Key: apiKeysKey, Err: err}
	}
	return keys, nil
}

// SetAPIKeys replaces the shared credential pool.
func (s *Store) SetAPIKeys(ctx context.Context, keys []string) error {
	cmds := []valkey.Completed{
		s.client.B().Multi().Build(),
		s.client.B().Del().Key(apiKeysKey).Build(),
	}
	if len(keys) > 0 {
		cmds = append(cmds, s.client.B().Rpush().Key(apiKeysKey).Element(keys...).Build())
	}
	cmds = append(cmds, s.client.B().Exec().Build())

	for _, resp := range s.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return &StoreError{Op: "set_api_keys", Key: apiKeysKey, Err: err}
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
