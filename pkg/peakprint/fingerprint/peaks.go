package fingerprint

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Peak is a spectrogram cell that dominates its neighbourhood.
// Magnitude is in dB.
type Peak struct {
	TimeBin   int
	FreqBin   int
	Magnitude float64
}

const eps = 1e-10

// ExtractPeaks returns the landmarks of spec ordered by (TimeBin, FreqBin).
func ExtractPeaks(spec *Spectrogram, p Params) []Peak {
	return PeaksFromLevels(LevelsOf(spec, p), p)
}

// PeaksFromLevels picks landmarks out of a clamped dB matrix.
//
// A cell is kept when it is the maximum of the square neighbourhood of side
// NeighborhoodSize+1 centred on it, and its level is strictly above both
// MinAmplitudeDB and mean + ThresholdK*stddev of the matrix (levels clamped at
// the floor first, so long silences do not drag the threshold down).
//
// Scan order is time-major. When a local maximum ties with a peak already
// kept inside its neighbourhood it is dropped; ties with cells that were not
// themselves kept do not count.
func PeaksFromLevels(lv *Levels, p Params) []Peak {
	nT, nF := lv.NumTime, lv.NumFreq
	if nT == 0 || nF == 0 {
		return nil
	}
	levels := lv.Data

	mean, std := stat.MeanStdDev(levels, nil)
	if math.IsNaN(std) {
		std = 0
	}
	threshold := math.Max(mean+p.ThresholdK*std, p.MinAmplitudeDB)

	radius := p.NeighborhoodSize / 2
	if radius < 1 {
		radius = 1
	}
	local := maxFilter2D(levels, nT, nF, radius)

	peaks := make([]Peak, 0, nT)
	kept := make(map[int]struct{})
	for t := 0; t < nT; t++ {
		for f := 0; f < nF; f++ {
			idx := t*nF + f
			v := levels[idx]
			if v <= threshold || v != local[idx] {
				continue
			}
			if tiesKeptPeak(levels, kept, nT, nF, t, f, radius) {
				continue
			}
			kept[idx] = struct{}{}
			peaks = append(peaks, Peak{TimeBin: t, FreqBin: f, Magnitude: v})
		}
	}
	return peaks
}

// tiesKeptPeak reports whether a peak kept earlier in scan order lies inside
// the neighbourhood of (t, f) with the same level.
func tiesKeptPeak(levels []float64, kept map[int]struct{}, nT, nF, t, f, radius int) bool {
	if len(kept) == 0 {
		return false
	}
	v := levels[t*nF+f]
	for dt := -radius; dt <= 0; dt++ {
		tt := t + dt
		if tt < 0 || tt >= nT {
			continue
		}
		fHi := f + radius
		if dt == 0 {
			fHi = f - 1
		}
		for ff := maxInt(0, f-radius); ff <= minInt(nF-1, fHi); ff++ {
			idx := tt*nF + ff
			if levels[idx] != v {
				continue
			}
			if _, ok := kept[idx]; ok {
				return true
			}
		}
	}
	return false
}

// maxFilter2D computes the maximum over a (2r+1)x(2r+1) window for every cell,
// clipped at the matrix edges. It runs one 1-D pass per axis into a single
// output matrix, the column pass going through one-column scratch buffers.
func maxFilter2D(src []float64, nT, nF, r int) []float64 {
	out := make([]float64, len(src))
	for t := 0; t < nT; t++ {
		slidingMax(src, out, t*nF, 1, nF, r)
	}
	col := make([]float64, nT)
	colMax := make([]float64, nT)
	for f := 0; f < nF; f++ {
		for t := 0; t < nT; t++ {
			col[t] = out[t*nF+f]
		}
		slidingMax(col, colMax, 0, 1, nT, r)
		for t := 0; t < nT; t++ {
			out[t*nF+f] = colMax[t]
		}
	}
	return out
}

// slidingMax writes the windowed max of the n elements starting at offset with
// the given stride, using a monotonic deque of positions.
func slidingMax(src, dst []float64, offset, stride, n, r int) {
	at := func(i int) float64 { return src[offset+i*stride] }
	deque := make([]int, 0, 2*r+1)
	next := 0
	for i := 0; i < n; i++ {
		for ; next < n && next <= i+r; next++ {
			for len(deque) > 0 && at(deque[len(deque)-1]) <= at(next) {
				deque = deque[:len(deque)-1]
			}
			deque = append(deque, next)
		}
		for deque[0] < i-r {
			deque = deque[1:]
		}
		dst[offset+i*stride] = at(deque[0])
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
