// Package audio turns files into mono float64 sample buffers at a fixed rate.
// WAV, MP3 and FLAC are decoded in-process; anything else, and anything at the
// wrong sample rate, is handed to ffmpeg.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"

	"github.com/himanishpuri/peakprint/pkg/logger"
	"github.com/himanishpuri/peakprint/pkg/utils"
)

const DefaultSampleRate = 44100

// ErrDecodeFailure wraps every failure to turn a file into samples.
var ErrDecodeFailure = errors.New("audio decode failure")

type DecodeConfig struct {
	SampleRate int
	// TempDir receives intermediate ffmpeg output. Defaults to os.TempDir().
	TempDir string
}

// Decode reads path as mono samples in [-1, 1] at cfg.SampleRate.
func Decode(ctx context.Context, path string, cfg DecodeConfig) ([]float64, error) {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodeFailure, err)
	}

	var (
		samples []float64
		rate    int
		err     error
		native  = true
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		samples, rate, err = ReadWAV(path)
	case ".mp3":
		samples, rate, err = ReadMP3(path)
	case ".flac":
		samples, rate, err = ReadFLAC(path)
	default:
		native = false
	}
	if native && err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecodeFailure, filepath.Base(path), err)
	}
	if native && rate == cfg.SampleRate {
		return samples, nil
	}

	tempDir := cfg.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	wavPath, err := ConvertToMonoWAV(ctx, path, tempDir, ConvertWAVConfig{SampleRate: cfg.SampleRate})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecodeFailure, filepath.Base(path), err)
	}
	defer func() {
		if err := utils.DeleteFile(wavPath); err != nil {
			logger.GetLogger().WithError(err).WithField("path", wavPath).Warnf("Failed to remove temporary WAV")
		}
	}()

	samples, rate, err = ReadWAV(wavPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecodeFailure, filepath.Base(path), err)
	}
	if rate != cfg.SampleRate {
		return nil, fmt.Errorf("%w: ffmpeg produced %d Hz, want %d Hz", ErrDecodeFailure, rate, cfg.SampleRate)
	}
	return samples, nil
}

// ReadWAV decodes a PCM WAV file and downmixes it to mono.
func ReadWAV(path string) ([]float64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, 0, errors.New("not a valid WAV file")
	}
	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("reading PCM data: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels < 1 {
		return nil, 0, errors.New("WAV file has no channels")
	}

	bitDepth := int(decoder.BitDepth)
	if bitDepth == 0 {
		bitDepth = 16
	}
	return downmix(buf.Data, buf.Format.NumChannels, fullScale(bitDepth)), buf.Format.SampleRate, nil
}

// ReadMP3 decodes an MP3 file. go-mp3 always yields 16-bit little-endian stereo.
func ReadMP3(path string) ([]float64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode MP3: %w", err)
	}

	raw, err := io.ReadAll(decoder)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read MP3 data: %w", err)
	}

	frames := len(raw) / 4
	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		l := int16(uint16(raw[4*i]) | uint16(raw[4*i+1])<<8)
		r := int16(uint16(raw[4*i+2]) | uint16(raw[4*i+3])<<8)
		samples[i] = (float64(l) + float64(r)) / 2 / 32768
	}
	return samples, decoder.SampleRate(), nil
}

// ReadFLAC decodes a FLAC stream frame by frame, averaging all channels.
func ReadFLAC(path string) ([]float64, int, error) {
	stream, err := flac.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open FLAC: %w", err)
	}
	defer stream.Close()

	scale := fullScale(int(stream.Info.BitsPerSample))
	samples := make([]float64, 0, int(stream.Info.NSamples))
	for {
		frame, err := stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("failed to parse FLAC frame: %w", err)
		}
		if len(frame.Subframes) == 0 {
			continue
		}
		n := frame.Subframes[0].NSamples
		for i := 0; i < n; i++ {
			var sum float64
			for _, sub := range frame.Subframes {
				sum += float64(sub.Samples[i])
			}
			samples = append(samples, sum/float64(len(frame.Subframes))/scale)
		}
	}
	return samples, int(stream.Info.SampleRate), nil
}

func fullScale(bitDepth int) float64 {
	return float64(int64(1) << (bitDepth - 1))
}

func downmix(data []int, channels int, scale float64) []float64 {
	frames := len(data) / channels
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum int
		for c := 0; c < channels; c++ {
			sum += data[i*channels+c]
		}
		out[i] = float64(sum) / float64(channels) / scale
	}
	return out
}
