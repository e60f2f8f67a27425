// Package render draws spectrogram images for eyeballing peak extraction.
package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/eligwz/spectrogram"

	"github.com/himanishpuri/peakprint/pkg/peakprint/fingerprint"
)

type Options struct {
	Width  int
	Height int
	// Log switches the magnitude scale to log10.
	Log bool
	// Peaks, when set, are marked on top of the spectrogram. NumTimeBins and
	// NumFreqBins give the grid they were extracted from.
	Peaks       []fingerprint.Peak
	NumTimeBins int
	NumFreqBins int
}

func DefaultOptions() Options {
	return Options{Width: 2048, Height: 512}
}

// SpectrogramPNG renders samples to outPath.
func SpectrogramPNG(samples []float64, sampleRate int, outPath string, opts Options) error {
	if len(samples) == 0 {
		return errors.New("no samples to render")
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		def := DefaultOptions()
		opts.Width, opts.Height = def.Width, def.Height
	}

	img := spectrogram.NewImage128(image.Rect(0, 0, opts.Width, opts.Height))

	black := spectrogram.ParseColor("000000")
	draw.Draw(img, img.Bounds(), image.NewUniform(black), image.Point{}, draw.Src)

	spectrogram.Drawfft(
		img,
		samples,
		uint32(sampleRate),
		uint32(opts.Height), // bins
		false,               // Hamming window
		false,               // FFT, not DFT
		true,                // magnitude
		opts.Log,
	)

	if len(opts.Peaks) > 0 {
		DrawPeaks(img, opts.Peaks, opts.NumTimeBins, opts.NumFreqBins)
	}

	if err := spectrogram.SavePng(img, outPath); err != nil {
		return fmt.Errorf("saving PNG %s: %w", outPath, err)
	}
	return nil
}

// DrawPeaks marks each peak with a small red cross, low frequencies at the bottom.
func DrawPeaks(img draw.Image, peaks []fingerprint.Peak, numTimeBins, numFreqBins int) {
	if numTimeBins <= 0 || numFreqBins <= 0 {
		return
	}
	b := img.Bounds()
	red := spectrogram.ParseColor("ff0000")
	for _, p := range peaks {
		x := b.Min.X + p.TimeBin*b.Dx()/numTimeBins
		y := b.Max.Y - 1 - p.FreqBin*b.Dy()/numFreqBins
		for d := -2; d <= 2; d++ {
			setIn(img, b, x+d, y, red)
			setIn(img, b, x, y+d, red)
		}
	}
}

func setIn(img draw.Image, b image.Rectangle, x, y int, c color.Color) {
	if image.Pt(x, y).In(b) {
		img.Set(x, y, c)
	}
}
