package peakprint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/himanishpuri/peakprint/internal/synth"
	"github.com/himanishpuri/peakprint/pkg/logger"
	"github.com/himanishpuri/peakprint/pkg/peakprint/audio"
	"github.com/himanishpuri/peakprint/pkg/peakprint/fingerprint"
	"github.com/himanishpuri/peakprint/pkg/peakprint/match"
	"github.com/himanishpuri/peakprint/pkg/peakprint/store"
)

const songSeconds = 20

func quietLogger() Logger {
	return logger.New(logger.Config{Level: logger.ERROR, Output: io.Discard})
}

func newTestService(t *testing.T, opts ...Option) Service {
	t.Helper()
	opts = append([]Option{
		WithBackend(store.BackendMemory),
		WithLogger(quietLogger()),
		WithTempDir(t.TempDir()),
	}, opts...)
	svc, err := NewService(opts...)
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

// addSynthSongs stores one synthetic song per seed and returns their samples and IDs.
func addSynthSongs(t *testing.T, svc Service, seeds ...int64) ([][]float64, []string) {
	t.Helper()
	rate := fingerprint.DefaultSampleRate
	songs := make([][]float64, len(seeds))
	ids := make([]string, len(seeds))
	for i, seed := range seeds {
		songs[i] = synth.Song(seed, songSeconds, rate)
		res, err := svc.AddSamples(context.Background(), "song", songs[i], rate)
		if err != nil {
			t.Fatalf("Failed to add song %d: %v", seed, err)
		}
		ids[i] = res.SongID
	}
	return songs, ids
}

func clip(song []float64, frame int) []float64 {
	p := fingerprint.DefaultParams()
	return synth.SliceAtFrame(song, frame, p.HopSize(), 5, p.SampleRate)
}

func TestMatchSamplesFindsSongAndOffset(t *testing.T) {
	svc := newTestService(t)
	songs, ids := addSynthSongs(t, svc, 1, 2, 3)
	p := fingerprint.DefaultParams()

	const frame = 200
	res, err := svc.MatchSamples(context.Background(), clip(songs[1], frame), p.SampleRate)
	if err != nil {
		t.Fatalf("Failed to match: %v", err)
	}
	t.Logf("score=%d matched=%d/%d confidence=%.3f", res.Score, res.HashesMatched, res.HashesTotal, res.Confidence)

	if res.Status != match.StatusMatched || res.SongID != ids[1] {
		t.Fatalf("expected match with %s, got %+v", ids[1], res)
	}
	if res.Offset != frame {
		t.Errorf("expected offset %d bins, got %d", frame, res.Offset)
	}
	want := float64(frame) * float64(p.HopSize()) / float64(p.SampleRate)
	if math.Abs(res.OffsetSeconds-want) > 1e-9 {
		t.Errorf("expected offset %.3fs, got %.3fs", want, res.OffsetSeconds)
	}
	if res.Confidence <= 0 || res.Confidence > 1 || res.SongConfidence <= 0 || res.SongConfidence > 1 {
		t.Errorf("confidence out of range: %f / %f", res.Confidence, res.SongConfidence)
	}
	if res.SongName != "song" {
		t.Errorf("expected song name to be resolved, got %q", res.SongName)
	}
}

func TestMatchDeterministic(t *testing.T) {
	svc := newTestService(t)
	songs, _ := addSynthSongs(t, svc, 4, 5)
	query := clip(songs[0], 60)

	first, err := svc.MatchSamples(context.Background(), query, fingerprint.DefaultSampleRate)
	if err != nil {
		t.Fatalf("Failed to match: %v", err)
	}
	second, err := svc.MatchSamples(context.Background(), query, fingerprint.DefaultSampleRate)
	if err != nil {
		t.Fatalf("Failed to match: %v", err)
	}
	if first.SongID != second.SongID || first.Score != second.Score || first.Offset != second.Offset {
		t.Errorf("results differ: %+v vs %+v", first, second)
	}
}

func TestMatchWithNoise(t *testing.T) {
	svc := newTestService(t)
	songs, ids := addSynthSongs(t, svc, 6, 7, 8)

	query := synth.AddNoise(clip(songs[2], 120), 20, 99)
	res, err := svc.MatchSamples(context.Background(), query, fingerprint.DefaultSampleRate)
	if err != nil {
		t.Fatalf("Failed to match: %v", err)
	}
	t.Logf("noisy query: score=%d confidence=%.3f", res.Score, res.Confidence)
	if !res.Matched || res.SongID != ids[2] || res.Offset != 120 {
		t.Errorf("expected %s at 120 bins, got %s at %d (%s)", ids[2], res.SongID, res.Offset, res.Status)
	}
}

func TestMatchNegativeControls(t *testing.T) {
	svc := newTestService(t)
	addSynthSongs(t, svc, 10, 11)
	rate := fingerprint.DefaultSampleRate

	tests := []struct {
		name     string
		samples  []float64
		statuses []match.Status
	}{
		{"silence", synth.Silence(5 * rate), []match.Status{match.StatusInsufficientAudio}},
		{"white noise", synth.Noise(42, 5*rate, 0.3), []match.Status{match.StatusNoMatch, match.StatusInsufficientAudio}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.MatchSamples(context.Background(), tt.samples, rate)
			if err != nil {
				t.Fatalf("Failed to match: %v", err)
			}
			if res.Matched {
				t.Fatalf("expected no match, got %s (score %d)", res.SongID, res.Score)
			}
			ok := false
			for _, s := range tt.statuses {
				ok = ok || res.Status == s
			}
			if !ok {
				t.Errorf("unexpected status %s", res.Status)
			}
		})
	}
}

func TestRecognizeEmptyQuery(t *testing.T) {
	svc := newTestService(t)
	res, err := svc.Recognize(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != match.StatusInsufficientAudio {
		t.Errorf("expected insufficient_audio, got %s", res.Status)
	}
}

func TestDeleteDoesNotAffectOtherSongs(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	songs, ids := addSynthSongs(t, svc, 12, 13)

	before, err := svc.MatchSamples(ctx, clip(songs[1], 80), fingerprint.DefaultSampleRate)
	if err != nil {
		t.Fatalf("Failed to match: %v", err)
	}

	if err := svc.DeleteSong(ctx, ids[0]); err != nil {
		t.Fatalf("Failed to delete song: %v", err)
	}
	if _, err := svc.GetSong(ctx, ids[0]); !errors.Is(err, store.ErrSongNotFound) {
		t.Errorf("expected ErrSongNotFound, got %v", err)
	}
	if err := svc.DeleteSong(ctx, ids[0]); !errors.Is(err, store.ErrSongNotFound) {
		t.Errorf("expected ErrSongNotFound on second delete, got %v", err)
	}

	after, err := svc.MatchSamples(ctx, clip(songs[1], 80), fingerprint.DefaultSampleRate)
	if err != nil {
		t.Fatalf("Failed to match: %v", err)
	}
	if after.SongID != ids[1] || after.Score != before.Score || after.Offset != before.Offset {
		t.Errorf("surviving song changed: before %+v, after %+v", before, after)
	}

	gone, err := svc.MatchSamples(ctx, clip(songs[0], 80), fingerprint.DefaultSampleRate)
	if err != nil {
		t.Fatalf("Failed to match: %v", err)
	}
	if gone.SongID == ids[0] {
		t.Error("deleted song still recognized")
	}

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if stats.SongCount != 1 {
		t.Errorf("expected 1 song, got %d", stats.SongCount)
	}
}

func TestTieBreaksOnSongID(t *testing.T) {
	svc := newTestService(t)
	rate := fingerprint.DefaultSampleRate
	song := synth.Song(14, songSeconds, rate)

	a, err := svc.AddSamples(context.Background(), "copy", song, rate)
	if err != nil {
		t.Fatalf("Failed to add song: %v", err)
	}
	b, err := svc.AddSamples(context.Background(), "copy", song, rate)
	if err != nil {
		t.Fatalf("Failed to add song: %v", err)
	}
	want := a.SongID
	if b.SongID < want {
		want = b.SongID
	}

	for i := 0; i < 3; i++ {
		res, err := svc.MatchSamples(context.Background(), clip(song, 50), rate)
		if err != nil {
			t.Fatalf("Failed to match: %v", err)
		}
		if res.SongID != want {
			t.Fatalf("expected tie to resolve to %s, got %s", want, res.SongID)
		}
	}
}

func TestAddSamplesInsufficientAudio(t *testing.T) {
	svc := newTestService(t)
	rate := fingerprint.DefaultSampleRate
	_, err := svc.AddSamples(context.Background(), "quiet", synth.Silence(3*rate), rate)
	if !errors.Is(err, fingerprint.ErrInsufficientAudio) {
		t.Errorf("expected ErrInsufficientAudio, got %v", err)
	}
	songs, err := svc.ListSongs(context.Background())
	if err != nil {
		t.Fatalf("Failed to list songs: %v", err)
	}
	if len(songs) != 0 {
		t.Errorf("expected no songs, got %d", len(songs))
	}
}

func TestAddSamplesRateMismatch(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.AddSamples(context.Background(), "x", synth.Song(1, 2, 8000), 8000)
	if !errors.Is(err, fingerprint.ErrSampleRateMismatch) {
		t.Errorf("expected ErrSampleRateMismatch, got %v", err)
	}
}

func writeSong(t *testing.T, dir, name string, seed int64) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := audio.WriteWAV(path, synth.Song(seed, 8, fingerprint.DefaultSampleRate), fingerprint.DefaultSampleRate); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestAddSongFromFile(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	path := writeSong(t, t.TempDir(), "first-light.wav", 21)

	res, err := svc.AddSong(ctx, path, "")
	if err != nil {
		t.Fatalf("Failed to add song: %v", err)
	}
	if res.Skipped || res.Name != "first-light" || res.FingerprintCount == 0 {
		t.Errorf("unexpected add result %+v", res)
	}

	again, err := svc.AddSong(ctx, path, "other name")
	if err != nil {
		t.Fatalf("Failed to re-add song: %v", err)
	}
	if !again.Skipped || again.SongID != res.SongID {
		t.Errorf("expected skip of %s, got %+v", res.SongID, again)
	}

	m, err := svc.MatchFile(ctx, path)
	if err != nil {
		t.Fatalf("Failed to match file: %v", err)
	}
	if m.SongID != res.SongID || m.Offset != 0 {
		t.Errorf("expected %s at offset 0, got %s at %d", res.SongID, m.SongID, m.Offset)
	}
}

func TestAddSongDecodeFailure(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.AddSong(context.Background(), filepath.Join(t.TempDir(), "missing.wav"), "")
	if !errors.Is(err, audio.ErrDecodeFailure) {
		t.Errorf("expected ErrDecodeFailure, got %v", err)
	}
}

func TestAddDirectory(t *testing.T) {
	svc := newTestService(t, WithWorkers(2))
	dir := t.TempDir()
	writeSong(t, dir, "a.wav", 31)
	writeSong(t, dir, "b.wav", 32)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not audio"), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.wav"), []byte("not audio"), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	calls := 0
	results, err := svc.AddDirectory(context.Background(), dir, func(done, total int, _ AddResult) {
		calls++
		if total != 3 || done != calls {
			t.Errorf("unexpected progress %d/%d at call %d", done, total, calls)
		}
	})
	if err != nil {
		t.Fatalf("Failed to add directory: %v", err)
	}
	if len(results) != 3 || calls != 3 {
		t.Fatalf("expected 3 results and 3 progress calls, got %d and %d", len(results), calls)
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			if !errors.Is(r.Err, audio.ErrDecodeFailure) {
				t.Errorf("unexpected error for %s: %v", r.Path, r.Err)
			}
		}
	}
	if failed != 1 {
		t.Errorf("expected 1 failure, got %d", failed)
	}

	songs, err := svc.ListSongs(context.Background())
	if err != nil {
		t.Fatalf("Failed to list songs: %v", err)
	}
	if len(songs) != 2 {
		t.Errorf("expected 2 songs, got %d", len(songs))
	}
}

func TestParamsMismatch(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.sqlite3")
	svc, err := NewService(WithDBPath(dbPath), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}
	svc.Close()

	p := fingerprint.DefaultParams()
	p.FanValue = 10
	if _, err := NewService(WithDBPath(dbPath), WithParams(p), WithLogger(quietLogger())); !errors.Is(err, store.ErrParamsMismatch) {
		t.Errorf("expected ErrParamsMismatch, got %v", err)
	}

	svc, err = NewService(WithDBPath(dbPath), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Failed to reopen with matching params: %v", err)
	}
	svc.Close()
}

func TestInvalidParams(t *testing.T) {
	p := fingerprint.DefaultParams()
	p.WindowSize = 0
	if _, err := NewService(WithBackend(store.BackendMemory), WithParams(p), WithLogger(quietLogger())); err == nil {
		t.Error("expected error for invalid params")
	}
}

func TestDeleteSongsAndClear(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	songs, ids := addSynthSongs(t, svc, 21, 22, 23)

	deleted, err := svc.DeleteSongs(ctx, []string{ids[0], "no-such-song", ids[1]})
	if err != nil {
		t.Fatalf("Failed to delete songs: %v", err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 deletions, got %d", deleted)
	}
	listed, err := svc.ListSongs(ctx)
	if err != nil {
		t.Fatalf("Failed to list songs: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != ids[2] {
		t.Errorf("expected only %s left, got %+v", ids[2], listed)
	}

	if _, err := svc.MatchSamples(ctx, clip(songs[2], 60), fingerprint.DefaultSampleRate); err != nil {
		t.Fatalf("Failed to match: %v", err)
	}
	if err := svc.Clear(ctx); err != nil {
		t.Fatalf("Failed to clear: %v", err)
	}
	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if stats.SongCount != 0 || stats.FingerprintCount != 0 {
		t.Errorf("expected empty store, got %+v", stats)
	}
	res, err := svc.MatchSamples(ctx, clip(songs[2], 60), fingerprint.DefaultSampleRate)
	if err != nil {
		t.Fatalf("Failed to match: %v", err)
	}
	if res.Status == match.StatusMatched {
		t.Errorf("cleared song still recognized: %+v", res)
	}
}

func TestMemoryBudgetSmallerThanOneClip(t *testing.T) {
	svc := newTestService(t, WithMemoryBudget(1<<10))
	songs, ids := addSynthSongs(t, svc, 31)

	res, err := svc.MatchSamples(context.Background(), clip(songs[0], 40), fingerprint.DefaultSampleRate)
	if err != nil {
		t.Fatalf("Failed to match: %v", err)
	}
	if res.SongID != ids[0] {
		t.Errorf("expected %s, got %+v", ids[0], res)
	}
}

func TestMemoryBudgetWaitsForRoom(t *testing.T) {
	const budget = 64 << 20
	svc := newTestService(t, WithMemoryBudget(budget))
	ps := svc.(*peakService)
	song := synth.Song(32, 5, fingerprint.DefaultSampleRate)

	if err := ps.mem.Acquire(context.Background(), budget); err != nil {
		t.Fatalf("Failed to take the budget: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := svc.MatchSamples(ctx, song, fingerprint.DefaultSampleRate); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded while the budget is taken, got %v", err)
	}

	ps.mem.Release(budget)
	if _, err := svc.MatchSamples(context.Background(), song, fingerprint.DefaultSampleRate); err != nil {
		t.Errorf("Failed to match once the budget was free: %v", err)
	}
}

func TestIngestLogsStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.Config{Level: logger.INFO, Output: &buf, JSON: true})
	svc := newTestService(t, WithLogger(log))
	_, ids := addSynthSongs(t, svc, 41)

	found := false
	for _, raw := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var line map[string]any
		if err := json.Unmarshal(raw, &line); err != nil {
			t.Fatalf("Failed to decode log line %q: %v", raw, err)
		}
		if line["song_id"] == ids[0] {
			found = true
			if _, ok := line["fingerprints"]; !ok {
				t.Errorf("song line without fingerprint count: %v", line)
			}
		}
	}
	if !found {
		t.Errorf("no log line carried song_id=%s:\n%s", ids[0], buf.String())
	}
}
