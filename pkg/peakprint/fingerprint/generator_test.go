package fingerprint

import (
	"errors"
	"reflect"
	"runtime"
	"testing"

	"github.com/himanishpuri/peakprint/internal/synth"
)

func TestComputeDeterministic(t *testing.T) {
	p := DefaultParams()
	samples := synth.Song(21, 8, p.SampleRate)

	first, err := Compute(samples, p.SampleRate, p)
	if err != nil {
		t.Fatalf("Failed to fingerprint: %v", err)
	}
	if len(first) == 0 {
		t.Fatal("expected fingerprints from a tonal song")
	}
	second, err := Compute(samples, p.SampleRate, p)
	if err != nil {
		t.Fatalf("Failed to fingerprint: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("same input produced different fingerprints")
	}
}

func TestComputeSampleRateMismatch(t *testing.T) {
	p := DefaultParams()
	_, err := Compute(make([]float64, 22050), 22050, p)
	if !errors.Is(err, ErrSampleRateMismatch) {
		t.Errorf("expected ErrSampleRateMismatch, got %v", err)
	}
}

func TestComputeInvalidParams(t *testing.T) {
	p := DefaultParams()
	p.MaxTimeDelta = MaxDelta + 1
	if _, err := Compute(make([]float64, p.WindowSize), p.SampleRate, p); err == nil {
		t.Error("expected error for a delta window wider than the hash field")
	}
}

func TestComputeShortAndSilent(t *testing.T) {
	p := DefaultParams()
	tests := []struct {
		name    string
		samples []float64
	}{
		{"empty", nil},
		{"shorter than a window", synth.Song(1, 0.05, p.SampleRate)},
		{"silence", synth.Silence(p.SampleRate * 5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fps, err := Compute(tt.samples, p.SampleRate, p)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if len(fps) != 0 {
				t.Errorf("expected no fingerprints, got %d", len(fps))
			}
		})
	}
}

func TestComputeShiftInvariance(t *testing.T) {
	p := DefaultParams()
	song := synth.Song(33, 30, p.SampleRate)
	full, err := Compute(song, p.SampleRate, p)
	if err != nil {
		t.Fatalf("Failed to fingerprint song: %v", err)
	}

	const shift = 150
	clip := synth.SliceAtFrame(song, shift, p.HopSize(), 10, p.SampleRate)
	part, err := Compute(clip, p.SampleRate, p)
	if err != nil {
		t.Fatalf("Failed to fingerprint clip: %v", err)
	}
	if len(part) == 0 {
		t.Fatal("expected fingerprints from the clip")
	}

	stored := make(map[Fingerprint]struct{}, len(full))
	for _, fp := range full {
		stored[fp] = struct{}{}
	}
	aligned := 0
	for _, fp := range part {
		if _, ok := stored[Fingerprint{Hash: fp.Hash, Offset: fp.Offset + shift}]; ok {
			aligned++
		}
	}
	ratio := float64(aligned) / float64(len(part))
	t.Logf("%d of %d clip fingerprints align with the song (%.2f)", aligned, len(part), ratio)
	if ratio < 0.5 {
		t.Errorf("expected at least half of the clip to align, got %.2f", ratio)
	}
}

func TestGenerateCounts(t *testing.T) {
	p := DefaultParams()
	samples := synth.Song(4, 3, p.SampleRate)
	res, err := Generate(samples, p.SampleRate, p)
	if err != nil {
		t.Fatalf("Failed to generate: %v", err)
	}
	if res.Frames != FrameCount(len(samples), p.WindowSize, p.HopSize()) {
		t.Errorf("unexpected frame count %d", res.Frames)
	}
	if res.Peaks == 0 {
		t.Error("expected peaks")
	}
	if res.Duration.Seconds() < 2.99 || res.Duration.Seconds() > 3.01 {
		t.Errorf("expected 3s duration, got %v", res.Duration)
	}
}

func TestGenerateMatchesSpectrogramPath(t *testing.T) {
	p := DefaultParams()
	samples := synth.Song(8, 4, p.SampleRate)

	res, err := Generate(samples, p.SampleRate, p)
	if err != nil {
		t.Fatalf("Failed to generate: %v", err)
	}
	want := Hash(ExtractPeaks(BuildSpectrogram(samples, p), p), p)
	if !reflect.DeepEqual(res.Fingerprints, want) {
		t.Errorf("Generate produced %d fingerprints, spectrogram path %d", len(res.Fingerprints), len(want))
	}
}

func TestGenerateHeapBounded(t *testing.T) {
	p := DefaultParams()
	samples := synth.Song(2, 60, p.SampleRate)
	budget := 3 * WorkingSetBytes(len(samples), p)

	runtime.GC()
	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	if _, err := Generate(samples, p.SampleRate, p); err != nil {
		t.Fatalf("Failed to generate: %v", err)
	}
	runtime.ReadMemStats(&after)

	allocated := int64(after.TotalAlloc - before.TotalAlloc)
	t.Logf("allocated %d MB for 60s, working set estimate %d MB", allocated>>20, WorkingSetBytes(len(samples), p)>>20)
	if allocated > budget {
		t.Errorf("Generate allocated %d bytes, expected at most %d", allocated, budget)
	}
}

func TestHashesSortedDistinct(t *testing.T) {
	got := Hashes([]Fingerprint{{5, 0}, {1, 2}, {5, 9}, {3, 1}})
	expected := []uint32{1, 3, 5}
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("Hashes = %v, expected %v", got, expected)
	}
}

func TestSignatureTracksParams(t *testing.T) {
	a := DefaultParams()
	b := DefaultParams()
	if a.Signature() != b.Signature() {
		t.Error("equal params produced different signatures")
	}
	b.FanValue = 10
	if a.Signature() == b.Signature() {
		t.Error("different fan value produced the same signature")
	}
}
