package fingerprint

import (
	"errors"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/dsp/fourier"
)

// Spectrogram is a time-major magnitude matrix: Frames[t][f] is the linear
// magnitude of frequency bin f in time bin t.
type Spectrogram struct {
	Frames     [][]float64
	SampleRate int
	WindowSize int
	HopSize    int
}

func (s *Spectrogram) NumTimeBins() int {
	if s == nil {
		return 0
	}
	return len(s.Frames)
}

func (s *Spectrogram) NumFreqBins() int {
	if s == nil || len(s.Frames) == 0 {
		return 0
	}
	return len(s.Frames[0])
}

// Empty reports whether the input was too short to fill a single window.
func (s *Spectrogram) Empty() bool {
	return s.NumTimeBins() == 0
}

func Hann(n int) []float64 {
	return window.Hann(n)
}

// MagnitudeSpectrum writes |c| for every coefficient into dst, growing it when
// it is too short, and returns the filled slice.
func MagnitudeSpectrum(dst []float64, coeffs []complex128) []float64 {
	if cap(dst) < len(coeffs) {
		dst = make([]float64, len(coeffs))
	}
	dst = dst[:len(coeffs)]
	for i, c := range coeffs {
		dst[i] = cmplx.Abs(c)
	}
	return dst
}

// FrameCount is floor((n - windowSize) / hopSize) + 1, or 0 when n < windowSize.
func FrameCount(n, windowSize, hopSize int) int {
	if n < windowSize || windowSize <= 0 || hopSize <= 0 {
		return 0
	}
	return (n-windowSize)/hopSize + 1
}

// eachFrame runs a windowed real FFT at every hop and passes the magnitude of
// the non-negative half (DC and Nyquist included) to fn. The mag slice is
// reused between calls, so fn must copy whatever it keeps.
func eachFrame(samples []float64, windowSize, hopSize int, win []float64, fn func(t int, mag []float64)) error {
	if len(win) != windowSize {
		return errors.New("window length must equal windowSize")
	}
	if hopSize <= 0 {
		return errors.New("hop size must be positive")
	}

	frames := FrameCount(len(samples), windowSize, hopSize)
	if frames == 0 {
		return nil
	}
	fft := fourier.NewFFT(windowSize)
	frame := make([]float64, windowSize)
	coeffs := make([]complex128, windowSize/2+1)
	mag := make([]float64, windowSize/2+1)
	for t := 0; t < frames; t++ {
		start := t * hopSize
		for i := 0; i < windowSize; i++ {
			frame[i] = samples[start+i] * win[i]
		}
		coeffs = fft.Coefficients(coeffs, frame)
		fn(t, MagnitudeSpectrum(mag, coeffs))
	}
	return nil
}

func STFT(samples []float64, windowSize, hopSize int, win []float64) ([][]float64, error) {
	spectrogram := make([][]float64, 0, FrameCount(len(samples), windowSize, hopSize))
	err := eachFrame(samples, windowSize, hopSize, win, func(_ int, mag []float64) {
		spectrogram = append(spectrogram, append([]float64(nil), mag...))
	})
	if err != nil {
		return nil, err
	}
	return spectrogram, nil
}

// BuildSpectrogram runs a Hann-windowed STFT over mono samples. Input shorter
// than one window yields an empty spectrogram rather than an error.
func BuildSpectrogram(samples []float64, p Params) *Spectrogram {
	hop := p.HopSize()
	spec := &Spectrogram{
		SampleRate: p.SampleRate,
		WindowSize: p.WindowSize,
		HopSize:    hop,
	}
	if len(samples) < p.WindowSize {
		return spec
	}

	frames, err := STFT(samples, p.WindowSize, hop, Hann(p.WindowSize))
	if err != nil {
		return spec
	}
	spec.Frames = frames
	return spec
}

// Levels is a dB spectrogram stored as one flat time-major slice:
// Data[t*NumFreq+f] is the level of bin f in frame t, clamped at the floor.
type Levels struct {
	Data    []float64
	NumTime int
	NumFreq int
}

func toDB(mag, floor float64) float64 {
	db := 20.0 * math.Log10(mag+eps)
	if db < floor {
		return floor
	}
	return db
}

// SpectrumLevels runs the STFT straight into a flat dB matrix without keeping
// per-frame slices. It is what Generate uses; BuildSpectrogram is for callers
// that want linear magnitudes.
func SpectrumLevels(samples []float64, p Params) *Levels {
	hop := p.HopSize()
	nT := FrameCount(len(samples), p.WindowSize, hop)
	if nT == 0 {
		return &Levels{}
	}
	nF := p.FreqBins()
	lv := &Levels{Data: make([]float64, nT*nF), NumTime: nT, NumFreq: nF}
	err := eachFrame(samples, p.WindowSize, hop, Hann(p.WindowSize), func(t int, mag []float64) {
		row := lv.Data[t*nF : (t+1)*nF]
		for f, m := range mag {
			row[f] = toDB(m, p.MinAmplitudeDB)
		}
	})
	if err != nil {
		return &Levels{}
	}
	return lv
}

// LevelsOf converts a linear magnitude spectrogram to clamped dB levels.
func LevelsOf(spec *Spectrogram, p Params) *Levels {
	nT, nF := spec.NumTimeBins(), spec.NumFreqBins()
	if nT == 0 || nF == 0 {
		return &Levels{}
	}
	lv := &Levels{Data: make([]float64, nT*nF), NumTime: nT, NumFreq: nF}
	for t, frame := range spec.Frames {
		row := lv.Data[t*nF : (t+1)*nF]
		for f, mag := range frame {
			row[f] = toDB(mag, p.MinAmplitudeDB)
		}
	}
	return lv
}

// WorkingSetBytes estimates the peak heap used by Generate for n samples:
// the level matrix and its max-filtered copy.
func WorkingSetBytes(n int, p Params) int64 {
	nT := FrameCount(n, p.WindowSize, p.HopSize())
	return int64(nT) * int64(p.FreqBins()) * 8 * 2
}
