package models

import "fmt"

// FilterKind selects which uploads are eligible for a shuffle.
type FilterKind string

const (
	FilterAll          FilterKind = "all"
	FilterAfterDate    FilterKind = "afterDate"
	FilterAfterVideoID FilterKind = "afterVideoId"
	FilterPercentage   FilterKind = "percentage"
)

// ShortsMode controls how short-form uploads are treated.
type ShortsMode string

const (
	ShortsNone    ShortsMode = "none"
	ShortsOnly    ShortsMode = "only"
	ShortsExclude ShortsMode = "exclude"
)

// ParseShortsMode validates a user-supplied shorts mode.
func ParseShortsMode(value string) (ShortsMode, error) {
	switch mode := ShortsMode(value); mode {
	case ShortsNone, ShortsOnly, ShortsExclude:
		return mode, nil
	default:
		return "", fmt.Errorf("unknown shorts mode %q, want none, only or exclude", value)
	}
}

// ShuffleConfig is the per-channel filter chosen by the user.
type ShuffleConfig struct {
	ActiveFilter FilterKind `json:"activeFilter" yaml:"active_filter"`
	AfterDate    string     `json:"afterDate,omitempty" yaml:"after_date"`
	AfterVideoID string     `json:"afterVideoId,omitempty" yaml:"after_video_id"`
	Percentage   int        `json:"percentage,omitempty" yaml:"percentage"`
}
