package channelshuffler

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"channel-shuffler/agents/channel-shuffler/youtube"
	"channel-shuffler/internal/models"
	"channel-shuffler/shared/remote"
	"channel-shuffler/shared/storage"
)

var testNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func copySnapshot(s *models.PlaylistSnapshot) *models.PlaylistSnapshot {
	c := *s
	c.Videos = maps.Clone(s.Videos)
	c.NewVideos = maps.Clone(s.NewVideos)
	if c.Videos == nil {
		c.Videos = make(map[string]string)
	}
	if c.NewVideos == nil {
		c.NewVideos = make(map[string]string)
	}
	return &c
}

type memoryLocal struct {
	mu        sync.Mutex
	snapshots map[string]*models.PlaylistSnapshot
	loads     int
	saves     int
}

func newMemoryLocal() *memoryLocal {
	return &memoryLocal{snapshots: make(map[string]*models.PlaylistSnapshot)}
}

func (m *memoryLocal) Load(ctx context.Context, id string) (*models.PlaylistSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	s, ok := m.snapshots[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copySnapshot(s), nil
}

func (m *memoryLocal) Save(ctx context.Context, snapshot *models.PlaylistSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.snapshots[snapshot.ID] = copySnapshot(snapshot)
	return nil
}

func (m *memoryLocal) get(id string) *models.PlaylistSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshots[id]
}

type mergeCall struct {
	NewVideos map[string]string
	UpdatedAt time.Time
	Watermark time.Time
}

type memoryShared struct {
	mu         sync.Mutex
	entries    map[string]*models.SharedPlaylist
	getErr     error
	gets       int
	overwrites []*models.SharedPlaylist
	merges     []mergeCall
}

func newMemoryShared() *memoryShared {
	return &memoryShared{entries: make(map[string]*models.SharedPlaylist)}
}

func (m *memoryShared) Get(ctx context.Context, id string) (*models.SharedPlaylist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.getErr != nil {
		return nil, m.getErr
	}
	e, ok := m.entries[id]
	if !ok {
		return nil, remote.ErrNotFound
	}
	c := *e
	c.Videos = maps.Clone(e.Videos)
	return &c, nil
}

func (m *memoryShared) Overwrite(ctx context.Context, p *models.SharedPlaylist) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *p
	c.Videos = maps.Clone(p.Videos)
	m.overwrites = append(m.overwrites, &c)
	m.entries[p.ID] = &c
	return nil
}

func (m *memoryShared) Merge(ctx context.Context, id string, newVideos map[string]string, updatedAt, watermark time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.merges = append(m.merges, mergeCall{NewVideos: maps.Clone(newVideos), UpdatedAt: updatedAt, Watermark: watermark})
	return nil
}

func (m *memoryShared) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets + len(m.overwrites) + len(m.merges)
}

// scriptedOrigin returns canned fetch results.
type scriptedOrigin struct {
	mu           sync.Mutex
	all          *youtube.FetchResult
	incremental  *youtube.FetchResult
	err          error
	fullCalls    int
	incCalls     int
	incWatermark time.Time
}

func (o *scriptedOrigin) FetchAll(ctx context.Context, playlistID string) (*youtube.FetchResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fullCalls++
	if o.err != nil {
		return nil, o.err
	}
	if o.all == nil {
		return nil, fmt.Errorf("unexpected full fetch of %s", playlistID)
	}
	r := *o.all
	r.Videos = maps.Clone(o.all.Videos)
	return &r, nil
}

func (o *scriptedOrigin) FetchIncremental(ctx context.Context, snapshot *models.PlaylistSnapshot, playlistID string) (*youtube.FetchResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.incCalls++
	o.incWatermark = snapshot.LastVideoPublishedAt
	if o.err != nil {
		return nil, o.err
	}
	if o.incremental == nil {
		return &youtube.FetchResult{NewVideos: map[string]string{}, LastVideoPublishedAt: snapshot.LastVideoPublishedAt}, nil
	}
	r := *o.incremental
	r.NewVideos = maps.Clone(o.incremental.NewVideos)
	return &r, nil
}

func (o *scriptedOrigin) calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fullCalls + o.incCalls
}

// fakeProber treats every video as an existing long-form upload unless
// listed otherwise.
type fakeProber struct {
	mu      sync.Mutex
	deleted map[string]bool
	shorts  map[string]bool
	err     error
	probes  []string
	onProbe func()
}

func (p *fakeProber) Probe(ctx context.Context, videoID string) (youtube.ProbeResult, error) {
	p.mu.Lock()
	p.probes = append(p.probes, videoID)
	hook := p.onProbe
	p.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err := ctx.Err(); err != nil {
		return youtube.ProbeResult{}, err
	}
	if p.err != nil {
		return youtube.ProbeResult{}, p.err
	}
	if p.deleted[videoID] {
		return youtube.ProbeResult{}, nil
	}
	return youtube.ProbeResult{Exists: true, Short: p.shorts[videoID]}, nil
}

// tenVideos returns v0..v9 dated day 0..9 of June 2024, v9 newest.
func tenVideos() map[string]string {
	videos := make(map[string]string, 10)
	for i := 0; i < 10; i++ {
		videos[fmt.Sprintf("v%d", i)] = time.Date(2024, 6, 1+i, 0, 0, 0, 0, time.UTC).Format(models.DateLayout)
	}
	return videos
}

// firstIntn always picks the first (newest) remaining candidate.
func firstIntn(int) int { return 0 }
