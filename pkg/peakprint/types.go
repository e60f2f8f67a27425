package peakprint

import (
	"time"

	"github.com/himanishpuri/peakprint/pkg/peakprint/match"
)

// MatchResult is the recognizer's answer for one query.
type MatchResult struct {
	Status  match.Status `json:"status"`
	Matched bool         `json:"matched"`

	SongID   string `json:"song_id,omitempty"`
	SongName string `json:"song_name,omitempty"`
	Score    int    `json:"score"`
	// Offset is the winning delta in time bins; OffsetSeconds converts it.
	Offset        int64   `json:"offset"`
	OffsetSeconds float64 `json:"offset_seconds"`

	Confidence     float64 `json:"confidence"`
	SongConfidence float64 `json:"song_confidence"`

	HashesMatched    int `json:"hashes_matched"`
	HashesTotal      int `json:"hashes_total"`
	SongFingerprints int `json:"song_fingerprints"`

	Candidates []match.Candidate `json:"candidates,omitempty"`

	FingerprintTime time.Duration `json:"fingerprint_time"`
	QueryTime       time.Duration `json:"query_time"`
	AlignTime       time.Duration `json:"align_time"`
	TotalTime       time.Duration `json:"total_time"`
}

// AddResult reports the outcome of ingesting one file or buffer.
type AddResult struct {
	Path             string `json:"path,omitempty"`
	SongID           string `json:"song_id,omitempty"`
	Name             string `json:"name,omitempty"`
	FingerprintCount int    `json:"fingerprint_count"`
	DurationMs       int    `json:"duration_ms"`
	// Skipped is set when a file with the same content hash was already stored.
	Skipped bool          `json:"skipped,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
	Err     error         `json:"-"`
	Error   string        `json:"error,omitempty"`
}

// ProgressFunc is called once per file as AddDirectory finishes it.
type ProgressFunc func(done, total int, res AddResult)

func fromMatch(r *match.Result) *MatchResult {
	return &MatchResult{
		Status:           r.Status,
		Matched:          r.Matched,
		SongID:           r.SongID,
		SongName:         r.SongName,
		Score:            r.Score,
		Offset:           r.Delta,
		OffsetSeconds:    r.OffsetSeconds,
		Confidence:       r.Confidence,
		SongConfidence:   r.SongConfidence,
		HashesMatched:    r.HashesMatched,
		HashesTotal:      r.HashesTotal,
		SongFingerprints: r.SongFingerprints,
		Candidates:       r.Candidates,
		QueryTime:        r.QueryTime,
		AlignTime:        r.AlignTime,
	}
}
