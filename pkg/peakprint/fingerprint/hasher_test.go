package fingerprint

import (
	"math/rand"
	"reflect"
	"testing"
)

func TestPackHash(t *testing.T) {
	tests := []struct {
		anchor, target, delta int
		ok                    bool
	}{
		{0, 0, 0, true},
		{1, 2, 3, true},
		{MaxFreq, MaxFreq, MaxDelta, true},
		{MaxFreq + 1, 0, 1, false},
		{0, MaxFreq + 1, 1, false},
		{10, 10, MaxDelta + 1, false},
		{-1, 10, 1, false},
		{10, 10, -1, false},
	}

	for _, tt := range tests {
		h, ok := PackHash(tt.anchor, tt.target, tt.delta)
		if ok != tt.ok {
			t.Errorf("PackHash(%d, %d, %d) ok = %v, expected %v", tt.anchor, tt.target, tt.delta, ok, tt.ok)
			continue
		}
		if !ok {
			continue
		}
		a, b, d := UnpackHash(h)
		if a != tt.anchor || b != tt.target || d != tt.delta {
			t.Errorf("UnpackHash(%#x) = (%d, %d, %d), expected (%d, %d, %d)", h, a, b, d, tt.anchor, tt.target, tt.delta)
		}
	}
}

func TestPackHashLayout(t *testing.T) {
	h, _ := PackHash(1, 2, 3)
	expected := uint32(1)<<20 | uint32(2)<<8 | 3
	if h != expected {
		t.Errorf("expected %#08x, got %#08x", expected, h)
	}
}

func peakLine(times ...int) []Peak {
	peaks := make([]Peak, len(times))
	for i, tb := range times {
		peaks[i] = Peak{TimeBin: tb, FreqBin: 10, Magnitude: 40}
	}
	return peaks
}

func TestHashFanOut(t *testing.T) {
	p := DefaultParams()
	fps := Hash(peakLine(0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10), p)

	// anchors 0..5 pair with 5 targets, then 4, 3, 2, 1, 0
	if len(fps) != 40 {
		t.Fatalf("expected 40 fingerprints, got %d", len(fps))
	}
	perAnchor := map[uint32]int{}
	for _, fp := range fps {
		perAnchor[fp.Offset]++
	}
	if perAnchor[0] != p.FanValue {
		t.Errorf("expected anchor 0 to pair %d times, got %d", p.FanValue, perAnchor[0])
	}
	if perAnchor[10] != 0 {
		t.Errorf("expected last peak to have no targets, got %d", perAnchor[10])
	}
}

func TestHashTimeDeltaWindow(t *testing.T) {
	tests := []struct {
		name     string
		peaks    []Peak
		minDelta int
		expected int
	}{
		{"at max delta", peakLine(0, 200), 1, 1},
		{"beyond max delta", peakLine(0, 201), 1, 0},
		{"same frame", []Peak{{TimeBin: 3, FreqBin: 10}, {TimeBin: 3, FreqBin: 20}}, 1, 0},
		{"min delta skips near targets", peakLine(0, 1, 2), 2, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			p.MinTimeDelta = tt.minDelta
			if got := len(Hash(tt.peaks, p)); got != tt.expected {
				t.Errorf("expected %d fingerprints, got %d", tt.expected, got)
			}
		})
	}
}

func TestHashDropsOutOfRangeFrequencies(t *testing.T) {
	peaks := []Peak{
		{TimeBin: 0, FreqBin: 100},
		{TimeBin: 1, FreqBin: MaxFreq + 5},
		{TimeBin: 2, FreqBin: 200},
	}
	fps := Hash(peaks, DefaultParams())
	for _, fp := range fps {
		a, b, _ := UnpackHash(fp.Hash)
		if a > MaxFreq || b > MaxFreq {
			t.Errorf("fingerprint carries an out-of-range bin: %#x", fp.Hash)
		}
	}
	// only 0->2 survives
	if len(fps) != 1 {
		t.Fatalf("expected 1 fingerprint, got %d", len(fps))
	}
	a, b, d := UnpackHash(fps[0].Hash)
	if a != 100 || b != 200 || d != 2 {
		t.Errorf("unexpected pair (%d, %d, %d)", a, b, d)
	}
}

func TestHashDeduplicates(t *testing.T) {
	peaks := []Peak{
		{TimeBin: 0, FreqBin: 10},
		{TimeBin: 0, FreqBin: 10},
		{TimeBin: 1, FreqBin: 20},
	}
	fps := Hash(peaks, DefaultParams())
	if len(fps) != 1 {
		t.Errorf("expected duplicate pairs to collapse to 1, got %d", len(fps))
	}
}

func TestHashIndependentOfInputOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	peaks := make([]Peak, 200)
	for i := range peaks {
		peaks[i] = Peak{TimeBin: rng.Intn(300), FreqBin: rng.Intn(2049)}
	}
	p := DefaultParams()
	expected := Hash(peaks, p)

	shuffled := make([]Peak, len(peaks))
	copy(shuffled, peaks)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	if got := Hash(shuffled, p); !reflect.DeepEqual(got, expected) {
		t.Error("fingerprints depend on peak input order")
	}
}

func TestHashEmpty(t *testing.T) {
	if fps := Hash(nil, DefaultParams()); len(fps) != 0 {
		t.Errorf("expected no fingerprints, got %d", len(fps))
	}
}

func TestDedupe(t *testing.T) {
	in := []Fingerprint{{1, 0}, {2, 0}, {1, 0}, {1, 1}}
	got := Dedupe(in)
	expected := []Fingerprint{{1, 0}, {2, 0}, {1, 1}}
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("Dedupe = %v, expected %v", got, expected)
	}
}
