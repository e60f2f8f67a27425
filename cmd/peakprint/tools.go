package main

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/himanishpuri/peakprint/internal/render"
	"github.com/himanishpuri/peakprint/pkg/peakprint/audio"
	"github.com/himanishpuri/peakprint/pkg/peakprint/fingerprint"
	"github.com/himanishpuri/peakprint/pkg/utils"
)

func newSliceCmd() *cobra.Command {
	var (
		start    float64
		duration float64
		count    int
		method   string
		outDir   string
		seed     int64
	)
	cmd := &cobra.Command{
		Use:   "slice <file>",
		Short: "Cut test clips out of a recording as mono WAV files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			samples, err := audio.Decode(cmd.Context(), path, audio.DecodeConfig{
				SampleRate: opts.rate,
				TempDir:    opts.tempDir,
			})
			if err != nil {
				return err
			}
			total := float64(len(samples)) / float64(opts.rate)

			var starts []float64
			if cmd.Flags().Changed("start") {
				starts = []float64{start}
			} else {
				if seed == 0 {
					seed = time.Now().UnixNano()
				}
				starts, err = audio.PlanSlices(total, duration, count, method, rand.New(rand.NewSource(seed)))
				if err != nil {
					return err
				}
			}

			if err := utils.MakeDir(outDir); err != nil {
				return err
			}
			stem := utils.FileStem(path)
			fmt.Printf("📄 Loaded: %s (%.1fs)\n", filepath.Base(path), total)
			for i, s := range starts {
				clip := audio.Slice(samples, opts.rate, s, duration)
				name := fmt.Sprintf("%s_slice_%d_%.1fs.wav", stem, i+1, s)
				if err := audio.WriteWAV(filepath.Join(outDir, name), clip, opts.rate); err != nil {
					return fmt.Errorf("failed to write %s: %w", name, err)
				}
				fmt.Printf("   ✅ Slice created: %s (start %.1fs, %.1fs)\n", name, s, float64(len(clip))/float64(opts.rate))
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&start, "start", 0, "Start time in seconds (default: planned by --method)")
	cmd.Flags().Float64Var(&duration, "duration", 10, "Slice duration in seconds")
	cmd.Flags().IntVar(&count, "count", 1, "Number of slices")
	cmd.Flags().StringVar(&method, "method", audio.SliceRandom, "Placement: random, evenly_spaced or beginning")
	cmd.Flags().StringVar(&outDir, "out", "audio_slices", "Output directory")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Random seed (default: time based)")
	return cmd
}

func newRenderCmd() *cobra.Command {
	var (
		out       string
		width     int
		height    int
		logScale  bool
		withPeaks bool
	)
	cmd := &cobra.Command{
		Use:   "render <file>",
		Short: "Render a spectrogram PNG, optionally with extracted peaks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			samples, err := audio.Decode(cmd.Context(), args[0], audio.DecodeConfig{
				SampleRate: opts.rate,
				TempDir:    opts.tempDir,
			})
			if err != nil {
				return err
			}

			ro := render.Options{Width: width, Height: height, Log: logScale}
			if withPeaks {
				p := fingerprint.DefaultParams()
				p.SampleRate = opts.rate
				spec := fingerprint.BuildSpectrogram(samples, p)
				ro.Peaks = fingerprint.ExtractPeaks(spec, p)
				ro.NumTimeBins = spec.NumTimeBins()
				ro.NumFreqBins = spec.NumFreqBins()
				fmt.Printf("🔍 Extracted %d peaks over %d frames\n", len(ro.Peaks), ro.NumTimeBins)
			}

			if out == "" {
				out = utils.FileStem(args[0]) + ".png"
			}
			if err := render.SpectrogramPNG(samples, opts.rate, out, ro); err != nil {
				return err
			}
			fmt.Printf("✅ Spectrogram saved to %s\n", out)
			return nil
		},
	}
	def := render.DefaultOptions()
	cmd.Flags().StringVar(&out, "out", "", "Output PNG (default: <file stem>.png)")
	cmd.Flags().IntVar(&width, "width", def.Width, "Image width in pixels")
	cmd.Flags().IntVar(&height, "height", def.Height, "Image height in pixels")
	cmd.Flags().BoolVar(&logScale, "log", true, "Log magnitude scale")
	cmd.Flags().BoolVar(&withPeaks, "peaks", false, "Overlay extracted peaks")
	return cmd
}
