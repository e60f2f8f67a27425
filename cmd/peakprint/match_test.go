package main

import "testing"

func TestSummarize(t *testing.T) {
	entries := []batchEntry{
		{Path: "a.wav", Matched: true, TimeMs: 100},
		{Path: "b.wav", Matched: true, TimeMs: 300},
		{Path: "c.wav", TimeMs: 200},
		{Path: "d.wav", TimedOut: true, Error: "context deadline exceeded", TimeMs: 1000},
		{Path: "e.wav", Error: "audio decode failure", TimeMs: 0},
	}
	s := summarize(entries)

	if s.TotalFiles != 5 || s.Matches != 2 || s.NoMatches != 1 || s.Timeouts != 1 || s.Errors != 1 {
		t.Errorf("unexpected counts %+v", s)
	}
	if s.SuccessRate != 40 {
		t.Errorf("expected 40%% success rate, got %.1f", s.SuccessRate)
	}
	if s.TotalTimeMs != 1600 || s.AvgTimeMs != 320 {
		t.Errorf("unexpected timings %+v", s)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	s := summarize(nil)
	if s.TotalFiles != 0 || s.SuccessRate != 0 || s.AvgTimeMs != 0 {
		t.Errorf("unexpected summary %+v", s)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		ms       int
		expected string
	}{
		{0, "0:00"},
		{59999, "0:59"},
		{61000, "1:01"},
		{3600000, "60:00"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.ms); got != tt.expected {
			t.Errorf("formatDuration(%d) = %s, expected %s", tt.ms, got, tt.expected)
		}
	}
}
