// Package match aligns query fingerprints against stored occurrences and
// picks the song whose hashes agree on a single time offset most often.
package match

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/himanishpuri/peakprint/pkg/peakprint/fingerprint"
	"github.com/himanishpuri/peakprint/pkg/peakprint/store"
)

const (
	DefaultMinMatchCount = 5
	DefaultMaxCandidates = 10
)

type Status string

const (
	StatusMatched           Status = "matched"
	StatusNoMatch           Status = "no_match"
	StatusInsufficientAudio Status = "insufficient_audio"
)

// Source is the read side of a fingerprint store.
type Source interface {
	Lookup(ctx context.Context, hashes []uint32) (map[uint32][]store.Occurrence, error)
	Song(ctx context.Context, id string) (*store.Song, error)
}

type Config struct {
	// MinMatchCount is the smallest aligned-hash count accepted as a match.
	MinMatchCount int
	HopSize       int
	SampleRate    int
	// MaxCandidates bounds Result.Candidates.
	MaxCandidates int
}

func DefaultConfig() Config {
	return Config{
		MinMatchCount: DefaultMinMatchCount,
		HopSize:       fingerprint.DefaultParams().HopSize(),
		SampleRate:    fingerprint.DefaultSampleRate,
		MaxCandidates: DefaultMaxCandidates,
	}
}

// Candidate is one song's alignment summary.
type Candidate struct {
	SongID string
	// Score is the height of the tallest offset-histogram bin.
	Score int
	// Delta is the winning offset in time bins (stored - query).
	Delta int64
	// Overlap is the total histogram mass across all offsets.
	Overlap int
}

type Result struct {
	Status  Status
	Matched bool

	SongID   string
	SongName string
	Score    int
	Delta    int64

	// Confidence is Score over the number of query fingerprints.
	Confidence float64
	// SongConfidence is Score over the song's stored fingerprint count.
	SongConfidence float64
	OffsetSeconds  float64

	HashesMatched    int
	HashesTotal      int
	SongFingerprints int

	Candidates []Candidate
	QueryTime  time.Duration
	AlignTime  time.Duration
}

// Recognize never reports NoMatch as an error; errors come only from src.
func Recognize(ctx context.Context, query []fingerprint.Fingerprint, src Source, cfg Config) (*Result, error) {
	cfg = withDefaults(cfg)
	res := &Result{Status: StatusInsufficientAudio, HashesTotal: len(query)}
	if len(query) == 0 {
		return res, nil
	}

	start := time.Now()
	hashes := fingerprint.Hashes(query)
	occurrences, err := src.Lookup(ctx, hashes)
	if err != nil {
		return nil, fmt.Errorf("failed to look up %d hashes: %w", len(hashes), err)
	}
	res.QueryTime = time.Since(start)

	start = time.Now()
	candidates, matched := Align(query, occurrences)
	res.HashesMatched = matched
	res.AlignTime = time.Since(start)

	res.Status = StatusNoMatch
	// A song deleted between Lookup and Song still has hits in occurrences;
	// it is skipped and the next qualifying candidate is tried.
	var song *store.Song
	for len(candidates) > 0 && candidates[0].Score >= cfg.MinMatchCount {
		song, err = src.Song(ctx, candidates[0].SongID)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrSongNotFound) {
			return nil, fmt.Errorf("failed to load matched song %s: %w", candidates[0].SongID, err)
		}
		song = nil
		candidates = candidates[1:]
	}

	if len(candidates) > cfg.MaxCandidates {
		res.Candidates = candidates[:cfg.MaxCandidates]
	} else {
		res.Candidates = candidates
	}
	if song == nil {
		return res, nil
	}

	best := candidates[0]
	res.Status = StatusMatched
	res.Matched = true
	res.SongID = best.SongID
	res.Score = best.Score
	res.Delta = best.Delta
	res.Confidence = clamp01(float64(best.Score) / float64(len(query)))
	res.OffsetSeconds = float64(best.Delta) * float64(cfg.HopSize) / float64(cfg.SampleRate)
	res.SongName = song.Name
	res.SongFingerprints = song.FingerprintCount
	if song.FingerprintCount > 0 {
		res.SongConfidence = clamp01(float64(best.Score) / float64(song.FingerprintCount))
	}
	return res, nil
}

// Align builds one offset histogram per song and returns the ranked
// candidates plus the number of query fingerprints that hit any song.
//
// Ranking is score desc, overlap desc, song ID asc. Within a song the lowest
// delta among equally tall bins wins.
func Align(query []fingerprint.Fingerprint, occurrences map[uint32][]store.Occurrence) ([]Candidate, int) {
	histograms := make(map[string]map[int64]int)
	matched := 0
	for _, q := range query {
		occ := occurrences[q.Hash]
		if len(occ) == 0 {
			continue
		}
		matched++
		for _, o := range occ {
			h, ok := histograms[o.SongID]
			if !ok {
				h = make(map[int64]int)
				histograms[o.SongID] = h
			}
			h[int64(o.Offset)-int64(q.Offset)]++
		}
	}

	candidates := make([]Candidate, 0, len(histograms))
	for songID, h := range histograms {
		c := Candidate{SongID: songID}
		first := true
		for delta, count := range h {
			c.Overlap += count
			if first || count > c.Score || (count == c.Score && delta < c.Delta) {
				c.Score = count
				c.Delta = delta
				first = false
			}
		}
		candidates = append(candidates, c)
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Overlap != b.Overlap {
			return a.Overlap > b.Overlap
		}
		return a.SongID < b.SongID
	})
	return candidates, matched
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.MinMatchCount <= 0 {
		cfg.MinMatchCount = def.MinMatchCount
	}
	if cfg.HopSize <= 0 {
		cfg.HopSize = def.HopSize
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = def.MaxCandidates
	}
	return cfg
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
