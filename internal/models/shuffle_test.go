package models

import "testing"

func TestParseShortsMode(t *testing.T) {
	for _, mode := range []ShortsMode{ShortsNone, ShortsOnly, ShortsExclude} {
		got, err := ParseShortsMode(string(mode))
		if err != nil || got != mode {
			t.Errorf("ParseShortsMode(%q) = %q, %v", mode, got, err)
		}
	}
	for _, bad := range []string{"", "exlude", "ONLY"} {
		if _, err := ParseShortsMode(bad); err == nil {
			t.Errorf("ParseShortsMode(%q) accepted an unknown mode", bad)
		}
	}
}
