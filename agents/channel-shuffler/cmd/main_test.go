package main

import (
	"testing"

	"channel-shuffler/internal/models"
	"channel-shuffler/shared/config"
)

func TestShuffleRequest(t *testing.T) {
	cfg := &config.Config{}
	cfg.Shuffle.DefaultCount = 1
	cfg.Shuffle.Shorts = models.ShortsNone
	cfg.Shuffle.SharingEnabled = true
	a := &app{cfg: cfg}

	tests := []struct {
		name       string
		args       []string
		wantShorts models.ShortsMode
		wantFilter models.FilterKind
		wantErr    bool
	}{
		{"Defaults", []string{"-channel", "UCchan"}, models.ShortsNone, models.FilterAll, false},
		{"Exclude shorts", []string{"-channel", "UCchan", "-shorts", "exclude"}, models.ShortsExclude, models.FilterAll, false},
		{"Explicit filter", []string{"-channel", "UCchan", "-filter", "percentage", "-value", "20"}, models.ShortsNone, models.FilterPercentage, false},
		{"Misspelled shorts mode", []string{"-channel", "UCchan", "-shorts", "exlude"}, "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := a.shuffleRequest(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("shuffleRequest() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if req.ChannelID != "UCchan" || req.Count != 1 || !req.SharingEnabled {
				t.Errorf("request = %+v", req)
			}
			if req.Shorts != tt.wantShorts || req.Filter.ActiveFilter != tt.wantFilter {
				t.Errorf("shorts = %s, filter = %s, want %s/%s", req.Shorts, req.Filter.ActiveFilter, tt.wantShorts, tt.wantFilter)
			}
		})
	}
}
