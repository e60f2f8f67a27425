package fingerprint

import (
	"errors"
	"fmt"
)

// ------------------------ TUNABLES ------------------------
const (
	DefaultSampleRate       = 44100
	DefaultWindowSize       = 4096
	DefaultOverlapRatio     = 0.5
	DefaultFanValue         = 5
	DefaultNeighborhoodSize = 20
	DefaultMinTimeDelta     = 1
	DefaultMaxTimeDelta     = 200
	DefaultThresholdK       = 1.0
	DefaultMinAmplitudeDB   = 10.0
)

// signatureVersion is bumped whenever the hash layout or peak rules change.
const signatureVersion = 2

// Params holds every value that influences the hashes a clip produces.
// Changing any of them invalidates fingerprints already stored.
type Params struct {
	SampleRate   int
	WindowSize   int
	OverlapRatio float64

	// FanValue is the maximum number of targets paired with each anchor.
	FanValue int
	// NeighborhoodSize is the side of the square max filter, in bins.
	NeighborhoodSize int
	// MinTimeDelta and MaxTimeDelta bound anchor->target distance in time bins.
	MinTimeDelta int
	MaxTimeDelta int

	// ThresholdK scales the stddev term of the mean + k*stddev peak threshold.
	ThresholdK float64
	// MinAmplitudeDB is the absolute floor; nothing at or below it becomes a peak.
	MinAmplitudeDB float64
}

func DefaultParams() Params {
	return Params{
		SampleRate:       DefaultSampleRate,
		WindowSize:       DefaultWindowSize,
		OverlapRatio:     DefaultOverlapRatio,
		FanValue:         DefaultFanValue,
		NeighborhoodSize: DefaultNeighborhoodSize,
		MinTimeDelta:     DefaultMinTimeDelta,
		MaxTimeDelta:     DefaultMaxTimeDelta,
		ThresholdK:       DefaultThresholdK,
		MinAmplitudeDB:   DefaultMinAmplitudeDB,
	}
}

// HopSize is the number of samples advanced between successive windows.
func (p Params) HopSize() int {
	hop := int(float64(p.WindowSize) * (1 - p.OverlapRatio))
	if hop < 1 {
		hop = 1
	}
	return hop
}

// FreqBins is the number of magnitude rows a frame produces.
func (p Params) FreqBins() int {
	return p.WindowSize/2 + 1
}

// BinDuration converts time bins to seconds.
func (p Params) BinDuration() float64 {
	return float64(p.HopSize()) / float64(p.SampleRate)
}

func (p Params) Validate() error {
	switch {
	case p.SampleRate <= 0:
		return errors.New("sample rate must be positive")
	case p.WindowSize < 2:
		return errors.New("window size must be at least 2")
	case p.OverlapRatio < 0 || p.OverlapRatio >= 1:
		return fmt.Errorf("overlap ratio %.3f outside [0,1)", p.OverlapRatio)
	case p.FanValue < 1:
		return errors.New("fan value must be at least 1")
	case p.NeighborhoodSize < 1:
		return errors.New("neighborhood size must be at least 1")
	case p.MinTimeDelta < 1:
		return errors.New("minimum time delta must be at least 1")
	case p.MaxTimeDelta < p.MinTimeDelta:
		return errors.New("maximum time delta below minimum")
	case p.MaxTimeDelta > MaxDelta:
		return fmt.Errorf("maximum time delta %d does not fit in %d bits", p.MaxTimeDelta, DeltaBits)
	}
	return nil
}

// Signature renders the parameter set canonically. Stores persist it so that
// fingerprints produced under different settings are never mixed.
func (p Params) Signature() string {
	return fmt.Sprintf("v%d;sr=%d;win=%d;hop=%d;fan=%d;nbhd=%d;dt=%d-%d;k=%.3f;floor=%.2f;bits=%d/%d/%d",
		signatureVersion, p.SampleRate, p.WindowSize, p.HopSize(), p.FanValue, p.NeighborhoodSize,
		p.MinTimeDelta, p.MaxTimeDelta, p.ThresholdK, p.MinAmplitudeDB, FreqBits, FreqBits, DeltaBits)
}
