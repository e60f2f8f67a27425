package fingerprint

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// ErrInsufficientAudio means a clip produced no fingerprints at all.
	ErrInsufficientAudio = errors.New("insufficient audio to fingerprint")
	// ErrSampleRateMismatch means the buffer was not resampled to Params.SampleRate.
	ErrSampleRateMismatch = errors.New("sample rate does not match fingerprint parameters")
)

// Result is the output of one pipeline run together with its intermediate sizes.
type Result struct {
	Fingerprints []Fingerprint
	Frames       int
	Peaks        int
	Duration     time.Duration
	Elapsed      time.Duration
}

// Generate runs spectrogram -> peaks -> hashes over a mono buffer. A buffer
// too short or too quiet to yield peaks returns an empty result, not an error.
func Generate(samples []float64, sampleRate int, p Params) (*Result, error) {
	start := time.Now()
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fingerprint parameters: %w", err)
	}
	if sampleRate != p.SampleRate {
		return nil, fmt.Errorf("%w: got %d Hz, want %d Hz", ErrSampleRateMismatch, sampleRate, p.SampleRate)
	}

	lv := SpectrumLevels(samples, p)
	peaks := PeaksFromLevels(lv, p)
	fps := Hash(peaks, p)

	return &Result{
		Fingerprints: fps,
		Frames:       lv.NumTime,
		Peaks:        len(peaks),
		Duration:     time.Duration(float64(len(samples)) / float64(sampleRate) * float64(time.Second)),
		Elapsed:      time.Since(start),
	}, nil
}

// Compute is Generate without the bookkeeping.
func Compute(samples []float64, sampleRate int, p Params) ([]Fingerprint, error) {
	res, err := Generate(samples, sampleRate, p)
	if err != nil {
		return nil, err
	}
	return res.Fingerprints, nil
}

// Hashes returns the distinct hash values of fps in ascending order.
func Hashes(fps []Fingerprint) []uint32 {
	set := make(map[uint32]struct{}, len(fps))
	for _, fp := range fps {
		set[fp.Hash] = struct{}{}
	}
	out := make([]uint32, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
