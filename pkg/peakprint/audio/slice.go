package audio

import (
	"fmt"
	"math"
	"math/rand"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Slice returns a copy of duration seconds starting at start seconds, clipped
// to the buffer. A non-positive duration means "to the end".
func Slice(samples []float64, sampleRate int, start, duration float64) []float64 {
	from := int(math.Round(start * float64(sampleRate)))
	if from < 0 {
		from = 0
	}
	if from > len(samples) {
		from = len(samples)
	}
	to := len(samples)
	if duration > 0 {
		to = from + int(math.Round(duration*float64(sampleRate)))
		if to > len(samples) {
			to = len(samples)
		}
	}
	out := make([]float64, to-from)
	copy(out, samples[from:to])
	return out
}

// Slice placement strategies for PlanSlices.
const (
	SliceRandom       = "random"
	SliceEvenlySpaced = "evenly_spaced"
	SliceBeginning    = "beginning"
)

// PlanSlices returns up to count start times, in seconds, for slices of
// duration seconds out of a recording of total seconds. Slices never run past
// the end; "beginning" places them back to back with a two second gap and
// stops early when the recording runs out.
func PlanSlices(total, duration float64, count int, method string, rng *rand.Rand) ([]float64, error) {
	if duration <= 0 || count <= 0 {
		return nil, fmt.Errorf("invalid slice plan: %d x %.1fs", count, duration)
	}
	if duration > total {
		return nil, fmt.Errorf("slice of %.1fs longer than %.1fs recording", duration, total)
	}
	maxStart := total - duration

	starts := make([]float64, 0, count)
	switch method {
	case SliceRandom, "":
		for i := 0; i < count; i++ {
			starts = append(starts, rng.Float64()*maxStart)
		}
	case SliceEvenlySpaced:
		section := total / float64(count)
		for i := 0; i < count; i++ {
			starts = append(starts, math.Min(float64(i)*section, maxStart))
		}
	case SliceBeginning:
		for i := 0; i < count; i++ {
			start := float64(i) * (duration + 2)
			if start > maxStart {
				break
			}
			starts = append(starts, start)
		}
	default:
		return nil, fmt.Errorf("unknown slice method %q", method)
	}
	return starts, nil
}

// WriteWAV stores mono samples as 16-bit PCM, clipping to [-1, 1].
func WriteWAV(path string, samples []float64, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: 1,
			SampleRate:  sampleRate,
		},
		Data:           make([]int, len(samples)),
		SourceBitDepth: 16,
	}
	for i, s := range samples {
		buf.Data[i] = int(math.Round(math.Max(-1, math.Min(1, s)) * 32767))
	}

	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("failed to write WAV data: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to close WAV encoder: %w", err)
	}
	return f.Close()
}
