// Package synth renders deterministic test audio: tonal "songs" built from
// enveloped chords, white noise, and helpers to mix them at a given SNR.
package synth

import (
	"math"
	"math/rand"
)

const (
	minPartialHz = 200.0
	maxPartialHz = 5000.0
	partials     = 4
)

// Note is a chord of sine partials under a half-sine envelope.
type Note struct {
	Start    float64
	Duration float64
	Freqs    []float64
	Amps     []float64
}

// Notes lays out back-to-back notes covering seconds of audio.
func Notes(seed int64, seconds float64) []Note {
	rng := rand.New(rand.NewSource(seed))
	var notes []Note
	for at := 0.0; at < seconds; {
		dur := 0.25 + rng.Float64()*0.15
		n := Note{Start: at, Duration: dur}
		for i := 0; i < partials; i++ {
			n.Freqs = append(n.Freqs, minPartialHz+rng.Float64()*(maxPartialHz-minPartialHz))
			n.Amps = append(n.Amps, 0.08+rng.Float64()*0.12)
		}
		notes = append(notes, n)
		at += dur
	}
	return notes
}

// Song renders Notes(seed, seconds) at sampleRate. The same seed always yields
// the same samples.
func Song(seed int64, seconds float64, sampleRate int) []float64 {
	out := make([]float64, int(seconds*float64(sampleRate)))
	for _, n := range Notes(seed, seconds) {
		first := int(n.Start * float64(sampleRate))
		count := int(n.Duration * float64(sampleRate))
		for i := 0; i < count && first+i < len(out); i++ {
			t := float64(i) / float64(sampleRate)
			env := math.Sin(math.Pi * t / n.Duration)
			var v float64
			for p, f := range n.Freqs {
				v += n.Amps[p] * math.Sin(2*math.Pi*f*t)
			}
			out[first+i] += env * v
		}
	}
	return out
}

// Tone is a constant sine of the given amplitude.
func Tone(freq, amplitude, seconds float64, sampleRate int) []float64 {
	out := make([]float64, int(seconds*float64(sampleRate)))
	for i := range out {
		out[i] = amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
	}
	return out
}

// Noise is uniform white noise in [-amplitude, amplitude].
func Noise(seed int64, n int, amplitude float64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = (rng.Float64()*2 - 1) * amplitude
	}
	return out
}

func Silence(n int) []float64 {
	return make([]float64, n)
}

func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// AddNoise returns a copy of samples mixed with white noise scaled so the
// signal-to-noise ratio is snrDB.
func AddNoise(samples []float64, snrDB float64, seed int64) []float64 {
	signal := RMS(samples)
	out := make([]float64, len(samples))
	copy(out, samples)
	if signal == 0 {
		return out
	}
	noise := Noise(seed, len(samples), 1)
	noiseRMS := RMS(noise)
	scale := signal / math.Pow(10, snrDB/20) / noiseRMS
	for i := range out {
		out[i] += noise[i] * scale
	}
	return out
}

// SliceAtFrame cuts seconds of audio starting exactly at frame*hop samples.
func SliceAtFrame(samples []float64, frame, hop int, seconds float64, sampleRate int) []float64 {
	start := frame * hop
	end := start + int(seconds*float64(sampleRate))
	if start > len(samples) {
		start = len(samples)
	}
	if end > len(samples) {
		end = len(samples)
	}
	out := make([]float64, end-start)
	copy(out, samples[start:end])
	return out
}
