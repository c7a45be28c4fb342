package models

import (
	"sort"
	"strings"
	"time"
)

// DateLayout is the day-precision layout used for every upload date.
const DateLayout = "2006-01-02"

// PlaylistSnapshot is the locally cached record of a channel's uploads.
type PlaylistSnapshot struct {
	ID                   string            `json:"id"`
	Videos               map[string]string `json:"videos"`
	NewVideos            map[string]string `json:"newVideos,omitempty"`
	LastVideoPublishedAt time.Time         `json:"lastVideoPublishedAt"`
	LastAccessedLocally  time.Time         `json:"lastAccessedLocally"`
	LastFetchedFromDB    time.Time         `json:"lastFetchedFromDB"`
	LastUpdatedDBAt      time.Time         `json:"lastUpdatedDBAt"`
	// LastTotalResults is the playlist size the origin reported on the last
	// fetch. It includes uploads that are never stored, such as private ones.
	LastTotalResults int64 `json:"lastTotalResults,omitempty"`
}

// SharedPlaylist is the community copy of a snapshot as held by the shared store.
type SharedPlaylist struct {
	ID                   string            `json:"id"`
	Videos               map[string]string `json:"videos"`
	LastUpdatedDBAt      time.Time         `json:"lastUpdatedDBAt"`
	LastVideoPublishedAt time.Time         `json:"lastVideoPublishedAt"`
	// Legacy is set when the entry was stored in an outdated shape and
	// must be rebuilt and overwritten.
	Legacy bool `json:"-"`
}

// VideoDate is a single upload with its day-precision date.
type VideoDate struct {
	ID   string
	Date string
}

// NewPlaylistSnapshot returns an empty snapshot for a playlist id.
func NewPlaylistSnapshot(id string) *PlaylistSnapshot {
	return &PlaylistSnapshot{
		ID:        id,
		Videos:    make(map[string]string),
		NewVideos: make(map[string]string),
	}
}

// PlaylistIDFromChannel derives the uploads playlist id of a channel.
func PlaylistIDFromChannel(channelID string) string {
	if strings.HasPrefix(channelID, "UC") {
		return "UU" + channelID[2:]
	}
	return channelID
}

// TruncateDate reduces an RFC 3339 timestamp (or a plain date) to day precision.
func TruncateDate(value string) string {
	if len(value) >= len(DateLayout) {
		return value[:len(DateLayout)]
	}
	return value
}

// Merged returns videos and newVideos combined into a fresh map.
func (p *PlaylistSnapshot) Merged() map[string]string {
	merged := make(map[string]string, len(p.Videos)+len(p.NewVideos))
	for id, date := range p.Videos {
		merged[id] = date
	}
	for id, date := range p.NewVideos {
		merged[id] = date
	}
	return merged
}

// Count is the number of distinct known uploads.
func (p *PlaylistSnapshot) Count() int {
	n := len(p.Videos)
	for id := range p.NewVideos {
		if _, ok := p.Videos[id]; !ok {
			n++
		}
	}
	return n
}

// Remove drops a video from both the merged and the staged set.
func (p *PlaylistSnapshot) Remove(videoID string) {
	delete(p.Videos, videoID)
	delete(p.NewVideos, videoID)
}

// AdvanceWatermark moves LastVideoPublishedAt forward, never backward.
func (p *PlaylistSnapshot) AdvanceWatermark(t time.Time) {
	if t.After(p.LastVideoPublishedAt) {
		p.LastVideoPublishedAt = t
	}
}

// SortedByDate returns the uploads newest first. Equal dates are ordered by id.
func SortedByDate(videos map[string]string) []VideoDate {
	out := make([]VideoDate, 0, len(videos))
	for id, date := range videos {
		out = append(out, VideoDate{ID: id, Date: date})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date > out[j].Date
		}
		return out[i].ID < out[j].ID
	})
	return out
}
