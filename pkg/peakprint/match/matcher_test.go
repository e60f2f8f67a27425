package match

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/himanishpuri/peakprint/pkg/peakprint/fingerprint"
	"github.com/himanishpuri/peakprint/pkg/peakprint/store"
)

func randomFingerprints(rng *rand.Rand, n int) []fingerprint.Fingerprint {
	fps := make([]fingerprint.Fingerprint, n)
	for i := range fps {
		fps[i] = fingerprint.Fingerprint{Hash: rng.Uint32(), Offset: uint32(i / 3)}
	}
	return fps
}

// shift returns the fingerprints in [from, from+span) re-based to start at zero.
func shift(fps []fingerprint.Fingerprint, from, span uint32) []fingerprint.Fingerprint {
	var out []fingerprint.Fingerprint
	for _, fp := range fps {
		if fp.Offset >= from && fp.Offset < from+span {
			out = append(out, fingerprint.Fingerprint{Hash: fp.Hash, Offset: fp.Offset - from})
		}
	}
	return out
}

func insert(t *testing.T, s store.Store, id, name string, fps []fingerprint.Fingerprint) {
	t.Helper()
	if err := s.Insert(context.Background(), store.Song{ID: id, Name: name}, fps); err != nil {
		t.Fatalf("Failed to insert %s: %v", id, err)
	}
}

func TestRecognizeEmptyQuery(t *testing.T) {
	res, err := Recognize(context.Background(), nil, store.NewMemoryStore(), DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusInsufficientAudio || res.Matched || res.Confidence != 0 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestRecognizeFindsSongAndOffset(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	s := store.NewMemoryStore()
	target := randomFingerprints(rng, 3000)
	insert(t, s, "song-b", "Target", target)
	insert(t, s, "song-a", "Other", randomFingerprints(rng, 3000))

	query := shift(target, 400, 100)
	res, err := Recognize(context.Background(), query, s, DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to recognize: %v", err)
	}
	if res.Status != StatusMatched || res.SongID != "song-b" || res.SongName != "Target" {
		t.Fatalf("expected match on song-b, got %+v", res)
	}
	if res.Delta != 400 {
		t.Errorf("expected delta 400, got %d", res.Delta)
	}
	wantSeconds := 400 * 2048.0 / 44100.0
	if res.OffsetSeconds < wantSeconds-1e-9 || res.OffsetSeconds > wantSeconds+1e-9 {
		t.Errorf("expected offset %.4fs, got %.4fs", wantSeconds, res.OffsetSeconds)
	}
	if res.Confidence != 1 {
		t.Errorf("expected confidence 1 for an exact excerpt, got %f", res.Confidence)
	}
	if res.SongFingerprints != 3000 {
		t.Errorf("expected 3000 song fingerprints, got %d", res.SongFingerprints)
	}
	if res.SongConfidence <= 0 || res.SongConfidence > 1 {
		t.Errorf("song confidence out of range: %f", res.SongConfidence)
	}
	if res.HashesMatched != len(query) || res.HashesTotal != len(query) {
		t.Errorf("expected %d matched of %d, got %d of %d", len(query), len(query), res.HashesMatched, res.HashesTotal)
	}
}

func TestRecognizeNoMatch(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	s := store.NewMemoryStore()
	insert(t, s, "song-a", "A", randomFingerprints(rng, 2000))

	res, err := Recognize(context.Background(), randomFingerprints(rng, 200), s, DefaultConfig())
	if err != nil {
		t.Fatalf("NoMatch must not be an error: %v", err)
	}
	if res.Status != StatusNoMatch || res.Matched {
		t.Errorf("expected no match, got %+v", res)
	}
}

func TestRecognizeBelowMinMatchCount(t *testing.T) {
	s := store.NewMemoryStore()
	stored := []fingerprint.Fingerprint{{Hash: 1, Offset: 10}, {Hash: 2, Offset: 11}, {Hash: 3, Offset: 12}}
	insert(t, s, "song-a", "A", stored)

	query := []fingerprint.Fingerprint{{Hash: 1, Offset: 0}, {Hash: 2, Offset: 1}, {Hash: 3, Offset: 2}}
	res, err := Recognize(context.Background(), query, s, DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusNoMatch {
		t.Errorf("3 aligned hashes must not match with threshold 5, got %s", res.Status)
	}
	if len(res.Candidates) != 1 || res.Candidates[0].Score != 3 {
		t.Errorf("expected one candidate scoring 3, got %+v", res.Candidates)
	}

	res, err = Recognize(context.Background(), query, s, Config{MinMatchCount: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusMatched || res.Delta != 10 {
		t.Errorf("expected match at delta 10 with threshold 3, got %+v", res)
	}
}

func TestRecognizeTieBreakBySongID(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	s := store.NewMemoryStore()
	fps := randomFingerprints(rng, 500)
	insert(t, s, "song-z", "Z", fps)
	insert(t, s, "song-m", "M", fps)

	query := shift(fps, 50, 40)
	for i := 0; i < 5; i++ {
		res, err := Recognize(context.Background(), query, s, DefaultConfig())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.SongID != "song-m" {
			t.Fatalf("run %d: expected lowest ID song-m, got %s", i, res.SongID)
		}
	}
}

func TestAlignRanking(t *testing.T) {
	query := []fingerprint.Fingerprint{
		{Hash: 1, Offset: 0},
		{Hash: 2, Offset: 1},
		{Hash: 3, Offset: 2},
	}
	occ := map[uint32][]store.Occurrence{
		// b: two aligned at delta 5, one stray
		1: {{SongID: "b", Offset: 5}, {SongID: "a", Offset: 20}, {SongID: "c", Offset: 9}},
		2: {{SongID: "b", Offset: 6}, {SongID: "a", Offset: 21}, {SongID: "c", Offset: 10}},
		3: {{SongID: "b", Offset: 100}, {SongID: "c", Offset: 50}},
	}

	cands, matched := Align(query, occ)
	if matched != 3 {
		t.Errorf("expected 3 matched query hashes, got %d", matched)
	}
	// a: score 2, overlap 2; b and c: score 2, overlap 3
	order := ""
	for _, c := range cands {
		order += c.SongID
	}
	if order != "bca" {
		t.Errorf("expected ranking bca, got %s", order)
	}
	if cands[0].Delta != 5 || cands[2].Delta != 20 {
		t.Errorf("unexpected deltas %+v", cands)
	}
}

func TestAlignLowestDeltaWins(t *testing.T) {
	query := []fingerprint.Fingerprint{{Hash: 1, Offset: 0}, {Hash: 2, Offset: 0}}
	occ := map[uint32][]store.Occurrence{
		1: {{SongID: "a", Offset: 30}, {SongID: "a", Offset: 10}},
		2: {{SongID: "a", Offset: 30}, {SongID: "a", Offset: 10}},
	}
	cands, _ := Align(query, occ)
	if len(cands) != 1 || cands[0].Delta != 10 || cands[0].Score != 2 {
		t.Errorf("expected delta 10 score 2, got %+v", cands)
	}
}

func TestAlignNegativeDelta(t *testing.T) {
	query := []fingerprint.Fingerprint{{Hash: 1, Offset: 50}}
	occ := map[uint32][]store.Occurrence{1: {{SongID: "a", Offset: 20}}}
	cands, _ := Align(query, occ)
	if cands[0].Delta != -30 {
		t.Errorf("expected delta -30, got %d", cands[0].Delta)
	}
}

type failingSource struct{}

func (failingSource) Lookup(context.Context, []uint32) (map[uint32][]store.Occurrence, error) {
	return nil, fmt.Errorf("dial: %w", store.ErrStoreUnavailable)
}

func (failingSource) Song(context.Context, string) (*store.Song, error) {
	return nil, store.ErrSongNotFound
}

func TestRecognizePropagatesStoreErrors(t *testing.T) {
	_, err := Recognize(context.Background(), []fingerprint.Fingerprint{{Hash: 1}}, failingSource{}, DefaultConfig())
	if !errors.Is(err, store.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
}

// vanishingSource deletes one song right after every Lookup, as a concurrent
// DeleteSong would.
type vanishingSource struct {
	store.Store
	victim string
}

func (v *vanishingSource) Lookup(ctx context.Context, hashes []uint32) (map[uint32][]store.Occurrence, error) {
	occ, err := v.Store.Lookup(ctx, hashes)
	if err != nil {
		return nil, err
	}
	if err := v.Store.Delete(ctx, v.victim); err != nil && !errors.Is(err, store.ErrSongNotFound) {
		return nil, err
	}
	return occ, nil
}

func TestRecognizeSongDeletedAfterLookup(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	target := randomFingerprints(rng, 3000)
	query := shift(target, 400, 100)

	var partial []fingerprint.Fingerprint
	for _, fp := range target {
		if fp.Offset >= 400 && fp.Offset < 450 {
			partial = append(partial, fp)
		}
	}

	tests := []struct {
		name   string
		songs  map[string][]fingerprint.Fingerprint
		status Status
		songID string
	}{
		{"falls back to runner-up", map[string][]fingerprint.Fingerprint{"song-a": target, "song-b": partial}, StatusMatched, "song-b"},
		{"no survivor", map[string][]fingerprint.Fingerprint{"song-a": target}, StatusNoMatch, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := store.NewMemoryStore()
			for id, fps := range tt.songs {
				insert(t, s, id, id, fps)
			}

			res, err := Recognize(context.Background(), query, &vanishingSource{Store: s, victim: "song-a"}, DefaultConfig())
			if err != nil {
				t.Fatalf("Failed to recognize: %v", err)
			}
			if res.Status != tt.status || res.SongID != tt.songID {
				t.Errorf("expected %s %q, got %s %q", tt.status, tt.songID, res.Status, res.SongID)
			}
			for _, c := range res.Candidates {
				if c.SongID == "song-a" {
					t.Error("deleted song still listed as a candidate")
				}
			}
		})
	}
}

func TestRecognizeScaleInvariance(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping scale test in short mode")
	}
	rng := rand.New(rand.NewSource(4))
	target := randomFingerprints(rng, 1500)
	query := shift(target, 200, 120)

	small := store.NewMemoryStore()
	insert(t, small, "target", "Target", target)
	one, err := Recognize(context.Background(), query, small, DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	large := store.NewMemoryStore()
	insert(t, large, "target", "Target", target)
	for i := 0; i < 9999; i++ {
		insert(t, large, fmt.Sprintf("filler-%05d", i), "Filler", randomFingerprints(rng, 100))
	}
	many, err := Recognize(context.Background(), query, large, DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if one.SongID != "target" || many.SongID != "target" {
		t.Fatalf("expected target in both, got %s and %s", one.SongID, many.SongID)
	}
	if one.Delta != many.Delta {
		t.Errorf("delta changed with database size: %d vs %d", one.Delta, many.Delta)
	}
	if many.Score < one.Score {
		t.Errorf("score dropped with database size: %d vs %d", many.Score, one.Score)
	}
}
