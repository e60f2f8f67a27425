package main

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/himanishpuri/peakprint/internal/synth"
	"github.com/himanishpuri/peakprint/pkg/peakprint"
	"github.com/himanishpuri/peakprint/pkg/peakprint/fingerprint"
	"github.com/himanishpuri/peakprint/pkg/peakprint/store"
)

func newSelftestCmd() *cobra.Command {
	var (
		songs   int
		seconds float64
		clipSec float64
		snr     float64
		seed    int64
	)
	cmd := &cobra.Command{
		Use:   "selftest",
		Short: "Index synthetic songs and recognize noisy clips of them",
		Long: "Index synthetic songs and recognize noisy clips of them. Uses an in-memory " +
			"store unless --backend is given explicitly.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var extra []peakprint.Option
			if !cmd.Flags().Changed("backend") {
				extra = append(extra, peakprint.WithBackend(store.BackendMemory))
			}
			svc, err := createService(extra...)
			if err != nil {
				return fmt.Errorf("failed to create service: %w", err)
			}
			defer svc.Close()

			rate := opts.rate
			hop := fingerprint.DefaultParams().HopSize()
			rng := rand.New(rand.NewSource(seed))

			fmt.Printf("🎼 Indexing %d synthetic songs of %.0fs...\n", songs, seconds)
			samples := make([][]float64, songs)
			ids := make([]string, songs)
			for i := range samples {
				samples[i] = synth.Song(seed+int64(i), seconds, rate)
				res, err := svc.AddSamples(ctx, fmt.Sprintf("synthetic-%02d", i+1), samples[i], rate)
				if err != nil {
					return fmt.Errorf("failed to add synthetic song %d: %w", i+1, err)
				}
				ids[i] = res.SongID
				fmt.Printf("   %s: %s fingerprints in %v\n", res.Name,
					humanize.Comma(int64(res.FingerprintCount)), res.Elapsed.Round(time.Millisecond))
			}

			fmt.Printf("\n🔍 Recognizing %.0fs clips at %.0f dB SNR...\n", clipSec, snr)
			failures, recognized := 0, 0
			var total time.Duration
			for i, song := range samples {
				maxFrame := (len(song) - int(clipSec*float64(rate))) / hop
				if maxFrame < 1 {
					return fmt.Errorf("songs of %.0fs are too short for %.0fs clips", seconds, clipSec)
				}
				frame := rng.Intn(maxFrame)
				clip := synth.AddNoise(synth.SliceAtFrame(song, frame, hop, clipSec, rate), snr, seed+1000+int64(i))

				res, err := svc.MatchSamples(ctx, clip, rate)
				if err != nil {
					return fmt.Errorf("failed to match clip of song %d: %w", i+1, err)
				}
				total += res.TotalTime
				if res.SongID == ids[i] && res.Offset == int64(frame) {
					recognized++
					fmt.Printf("   ✅ %s at %.2fs (score %d, confidence %.1f%%)\n",
						res.SongName, res.OffsetSeconds, res.Score, res.Confidence*100)
					continue
				}
				failures++
				fmt.Printf("   ❌ clip of synthetic-%02d at frame %d: got %q at %d (%s)\n",
					i+1, frame, res.SongName, res.Offset, res.Status)
			}

			fmt.Println("\n🔇 Negative controls...")
			controls := []struct {
				name    string
				samples []float64
			}{
				{"silence", synth.Silence(int(clipSec * float64(rate)))},
				{"white noise", synth.Noise(seed, int(clipSec*float64(rate)), 0.3)},
			}
			for _, c := range controls {
				res, err := svc.MatchSamples(ctx, c.samples, rate)
				if err != nil {
					return fmt.Errorf("failed to match %s: %w", c.name, err)
				}
				if res.Matched {
					failures++
					fmt.Printf("   ❌ %s matched %q (score %d)\n", c.name, res.SongName, res.Score)
					continue
				}
				fmt.Printf("   ✅ %s: %s\n", c.name, res.Status)
			}

			fmt.Println("\n📊 Selftest summary")
			fmt.Printf("   Recognized:        %d/%d\n", recognized, songs)
			fmt.Printf("   Failures:          %d\n", failures)
			fmt.Printf("   Avg recognition:   %v\n", (total / time.Duration(max(songs, 1))).Round(time.Millisecond))
			if failures > 0 {
				return fmt.Errorf("selftest failed: %d failure(s)", failures)
			}
			fmt.Println("\n✅ All checks passed")
			return nil
		},
	}
	cmd.Flags().IntVar(&songs, "songs", 5, "Number of synthetic songs")
	cmd.Flags().Float64Var(&seconds, "seconds", 30, "Length of each song in seconds")
	cmd.Flags().Float64Var(&clipSec, "clip", 5, "Clip length in seconds")
	cmd.Flags().Float64Var(&snr, "snr", 20, "Clip signal-to-noise ratio in dB")
	cmd.Flags().Int64Var(&seed, "seed", 1, "Random seed")
	return cmd
}
