package channelshuffler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"channel-shuffler/internal/domainerr"
	"channel-shuffler/internal/models"
	"channel-shuffler/shared/logging"
)

type shufflerFixture struct {
	local  *memoryLocal
	shared *memoryShared
	origin *scriptedOrigin
	prober *fakeProber
	s      *Shuffler
}

func newShufflerFixture(t *testing.T) *shufflerFixture {
	t.Helper()
	f := &shufflerFixture{
		local:  newMemoryLocal(),
		shared: newMemoryShared(),
		origin: &scriptedOrigin{all: fullResult(tenVideos(), time.Date(2024, 6, 10, 15, 0, 0, 0, time.UTC))},
		prober: &fakeProber{},
	}
	f.s = NewShuffler(f.local, f.shared, f.origin, f.prober, Options{CallTimeout: time.Second}, logging.Discard())
	f.s.now = func() time.Time { return testNow }
	f.s.orchestrator.now = f.s.now
	f.s.selector.intn = firstIntn
	return f
}

func (f *shufflerFixture) seedLocal(videos map[string]string, accessed, fetched time.Time) {
	s := models.NewPlaylistSnapshot(testPlaylist)
	s.Videos = videos
	s.LastAccessedLocally = accessed
	s.LastFetchedFromDB = fetched
	f.local.snapshots[testPlaylist] = s
}

func TestChooseRandomVideosMissingChannel(t *testing.T) {
	f := newShufflerFixture(t)

	_, err := f.s.ChooseRandomVideos(context.Background(), Request{})
	if !errors.Is(err, domainerr.ErrMissingChannelID) {
		t.Errorf("ChooseRandomVideos() error = %v, want MissingChannelID", err)
	}
	if f.local.loads != 0 {
		t.Error("no storage should be touched without a channel id")
	}
}

func TestChooseRandomVideosFreshnessNoOp(t *testing.T) {
	for _, sharing := range []bool{true, false} {
		f := newShufflerFixture(t)
		f.seedLocal(tenVideos(), testNow.Add(-time.Hour), testNow.Add(-time.Hour))

		ids, err := f.s.ChooseRandomVideos(context.Background(), Request{ChannelID: "UCchan", SharingEnabled: sharing})
		if err != nil {
			t.Fatalf("ChooseRandomVideos(sharing=%v) error: %v", sharing, err)
		}
		if len(ids) != 1 {
			t.Errorf("ids = %v, want 1", ids)
		}
		if f.origin.calls() != 0 || f.shared.calls() != 0 {
			t.Errorf("sharing=%v: origin calls = %d, shared calls = %d, want none", sharing, f.origin.calls(), f.shared.calls())
		}
		if got := f.local.get(testPlaylist).LastAccessedLocally; !got.Equal(testNow) {
			t.Errorf("LastAccessedLocally = %v, want now", got)
		}
	}
}

func TestChooseRandomVideosFirstRunPersistsBothTiers(t *testing.T) {
	f := newShufflerFixture(t)

	ids, err := f.s.ChooseRandomVideos(context.Background(), Request{ChannelID: "UCchan", Count: 2, SharingEnabled: true})
	if err != nil {
		t.Fatalf("ChooseRandomVideos() error: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("ids = %v, want 2", ids)
	}

	if len(f.shared.overwrites) != 1 || len(f.shared.merges) != 0 {
		t.Fatalf("overwrites = %d, merges = %d, want a single overwrite", len(f.shared.overwrites), len(f.shared.merges))
	}
	written := f.shared.overwrites[0]
	if len(written.Videos) != 10 || !written.LastUpdatedDBAt.Equal(testNow) {
		t.Errorf("shared entry = %+v", written)
	}

	saved := f.local.get(testPlaylist)
	if saved == nil {
		t.Fatal("local snapshot not saved")
	}
	if len(saved.NewVideos) != 0 || len(saved.Videos) != 10 {
		t.Errorf("saved snapshot videos = %d, staged = %d", len(saved.Videos), len(saved.NewVideos))
	}
}

func TestChooseRandomVideosIncrementalMerge(t *testing.T) {
	f := newShufflerFixture(t)
	f.seedLocal(map[string]string{}, testNow.Add(-time.Hour), testNow.Add(-72*time.Hour))
	// Staged by an earlier run whose shared write failed.
	f.local.snapshots[testPlaylist].NewVideos = map[string]string{"old": "2024-06-01"}
	f.shared.entries[testPlaylist] = &models.SharedPlaylist{
		ID:              testPlaylist,
		Videos:          map[string]string{"shared": "2024-06-02"},
		LastUpdatedDBAt: testNow.Add(-time.Hour),
	}

	if _, err := f.s.ChooseRandomVideos(context.Background(), Request{ChannelID: "UCchan", SharingEnabled: true}); err != nil {
		t.Fatalf("ChooseRandomVideos() error: %v", err)
	}

	if len(f.shared.overwrites) != 0 {
		t.Error("live shared data must not be overwritten")
	}
	if len(f.shared.merges) != 1 {
		t.Fatalf("merges = %d, want 1", len(f.shared.merges))
	}
	merge := f.shared.merges[0]
	if len(merge.NewVideos) != 1 || merge.NewVideos["old"] == "" {
		t.Errorf("merged videos = %v, want the pending upload", merge.NewVideos)
	}
	if !merge.UpdatedAt.IsZero() {
		t.Error("lastUpdatedDBAt must only be stamped after an origin fetch")
	}

	saved := f.local.get(testPlaylist)
	if len(saved.Videos) != 2 || len(saved.NewVideos) != 0 {
		t.Errorf("saved = %v / staged %v", saved.Videos, saved.NewVideos)
	}
}

func TestChooseRandomVideosKeepsSharedPruning(t *testing.T) {
	f := newShufflerFixture(t)
	f.seedLocal(tenVideos(), testNow.Add(-time.Hour), testNow.Add(-72*time.Hour))
	pruned := tenVideos()
	delete(pruned, "v9")
	f.shared.entries[testPlaylist] = &models.SharedPlaylist{
		ID:              testPlaylist,
		Videos:          pruned,
		LastUpdatedDBAt: testNow.Add(-time.Hour),
	}

	if _, err := f.s.ChooseRandomVideos(context.Background(), Request{ChannelID: "UCchan", SharingEnabled: true}); err != nil {
		t.Fatalf("ChooseRandomVideos() error: %v", err)
	}

	for _, m := range f.shared.merges {
		if _, ok := m.NewVideos["v9"]; ok {
			t.Error("upload deleted from the shared entry was merged back")
		}
	}
	for _, o := range f.shared.overwrites {
		if _, ok := o.Videos["v9"]; ok {
			t.Error("upload deleted from the shared entry was written back")
		}
	}
	if _, ok := f.local.get(testPlaylist).Videos["v9"]; ok {
		t.Error("deleted upload kept locally")
	}
}

func TestChooseRandomVideosDeletionForcesOverwrite(t *testing.T) {
	f := newShufflerFixture(t)
	f.seedLocal(tenVideos(), testNow.Add(-time.Hour), testNow.Add(-72*time.Hour))
	f.shared.entries[testPlaylist] = &models.SharedPlaylist{
		ID:              testPlaylist,
		Videos:          tenVideos(),
		LastUpdatedDBAt: testNow.Add(-time.Hour),
	}
	f.prober.deleted = map[string]bool{"v9": true}

	ids, err := f.s.ChooseRandomVideos(context.Background(), Request{ChannelID: "UCchan", SharingEnabled: true})
	if err != nil {
		t.Fatalf("ChooseRandomVideos() error: %v", err)
	}
	if len(ids) != 1 || ids[0] != "v8" {
		t.Errorf("ids = %v, want [v8]", ids)
	}

	if len(f.shared.merges) != 0 || len(f.shared.overwrites) != 1 {
		t.Fatalf("merges = %d, overwrites = %d, want one overwrite", len(f.shared.merges), len(f.shared.overwrites))
	}
	if _, ok := f.shared.overwrites[0].Videos["v9"]; ok {
		t.Error("deleted upload written to shared store")
	}
	if _, ok := f.local.get(testPlaylist).Videos["v9"]; ok {
		t.Error("deleted upload kept locally")
	}
}

func TestChooseRandomVideosBadFilterStillPersists(t *testing.T) {
	f := newShufflerFixture(t)
	f.seedLocal(tenVideos(), testNow.Add(-time.Hour), testNow.Add(-time.Hour))

	req := Request{
		ChannelID: "UCchan",
		Filter:    models.ShuffleConfig{ActiveFilter: models.FilterAfterVideoID, AfterVideoID: "doesNotExist"},
	}
	_, err := f.s.ChooseRandomVideos(context.Background(), req)
	if !errors.Is(err, domainerr.ErrFilterValueInvalid) {
		t.Fatalf("ChooseRandomVideos() error = %v, want FilterValueInvalid", err)
	}
	if f.local.saves != 1 {
		t.Errorf("saves = %d, want the snapshot persisted", f.local.saves)
	}
}

func TestChooseRandomVideosCancellationSkipsPersist(t *testing.T) {
	f := newShufflerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.prober.onProbe = cancel

	_, err := f.s.ChooseRandomVideos(ctx, Request{ChannelID: "UCchan", SharingEnabled: true})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("ChooseRandomVideos() error = %v, want context.Canceled", err)
	}
	if f.local.saves != 0 || len(f.shared.overwrites) != 0 || len(f.shared.merges) != 0 {
		t.Error("cancelled shuffle must not persist anything")
	}
}

func TestChooseRandomVideosSerializesPerPlaylist(t *testing.T) {
	f := newShufflerFixture(t)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.s.ChooseRandomVideos(context.Background(), Request{ChannelID: "UCchan"}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("ChooseRandomVideos() error: %v", err)
	}

	if f.origin.fullCalls != 1 {
		t.Errorf("full fetches = %d, want 1 (later calls reuse the saved snapshot)", f.origin.fullCalls)
	}
}

func TestChooseRandomVideosSharingDisabledNeverWritesShared(t *testing.T) {
	f := newShufflerFixture(t)
	f.prober.deleted = map[string]bool{"v9": true}

	if _, err := f.s.ChooseRandomVideos(context.Background(), Request{ChannelID: "UCchan"}); err != nil {
		t.Fatalf("ChooseRandomVideos() error: %v", err)
	}
	if f.shared.calls() != 0 {
		t.Errorf("shared calls = %d, want none", f.shared.calls())
	}
}
