package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/himanishpuri/peakprint/pkg/logger"
	"github.com/himanishpuri/peakprint/pkg/peakprint"
	"github.com/himanishpuri/peakprint/pkg/peakprint/match"
	"github.com/himanishpuri/peakprint/pkg/utils"
)

func newMatchCmd() *cobra.Command {
	var (
		timeout  time.Duration
		asJSON   bool
		minCount int
	)
	cmd := &cobra.Command{
		Use:   "match <file>",
		Short: "Recognize an audio clip against the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.GetLogger()
			svc, err := createService(
				peakprint.WithMatchTimeout(timeout),
				peakprint.WithMinMatchCount(minCount),
			)
			if err != nil {
				return fmt.Errorf("failed to create service: %w", err)
			}
			defer svc.Close()

			if !asJSON {
				fmt.Println("🔍 Analyzing audio file...")
				fmt.Println("   Generating fingerprints and searching database")
			}

			res, err := svc.MatchFile(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to match: %w", err)
			}
			log.Infof("Match complete: %s", res.Status)

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			printMatch(cmd.Context(), svc, res)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", peakprint.DefaultMatchTimeout, "Recognition timeout")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	cmd.Flags().IntVar(&minCount, "min-count", match.DefaultMinMatchCount, "Minimum aligned hashes for a match")
	return cmd
}

func printMatch(ctx context.Context, svc peakprint.Service, res *peakprint.MatchResult) {
	switch res.Status {
	case match.StatusInsufficientAudio:
		fmt.Println("\n🔇 Not enough audio to fingerprint")
		fmt.Println("   The clip is too short or too quiet")
		return
	case match.StatusNoMatch:
		fmt.Println("\n❌ No match found")
		fmt.Printf("   Hashes found: %d/%d\n", res.HashesMatched, res.HashesTotal)
		fmt.Printf("   Processing time: %v\n", res.TotalTime.Round(time.Millisecond))
		return
	}

	fmt.Println("\n🎉 MATCH FOUND!")
	fmt.Printf("   Song:            %s\n", res.SongName)
	fmt.Printf("   ID:              %s\n", res.SongID)
	fmt.Printf("   Score:           %d\n", res.Score)
	fmt.Printf("   Confidence:      %.1f%% of query, %.1f%% of song\n", res.Confidence*100, res.SongConfidence*100)
	fmt.Printf("   Match offset:    %.2f seconds\n", res.OffsetSeconds)
	fmt.Printf("   Hashes matched:  %d/%d\n", res.HashesMatched, res.HashesTotal)
	fmt.Printf("   Processing time: %v (fingerprint %v, query %v, align %v)\n",
		res.TotalTime.Round(time.Millisecond),
		res.FingerprintTime.Round(time.Millisecond),
		res.QueryTime.Round(time.Millisecond),
		res.AlignTime.Round(time.Millisecond))

	if len(res.Candidates) > 1 {
		fmt.Println("\n   Runners-up:")
		for i, c := range res.Candidates[1:] {
			name := c.SongID
			if song, err := svc.GetSong(ctx, c.SongID); err == nil {
				name = song.Name
			}
			fmt.Printf("   %d. %s (score %d)\n", i+2, name, c.Score)
		}
	}
}

// batchEntry is one file's outcome in a batch report.
type batchEntry struct {
	Path          string       `json:"path"`
	Status        match.Status `json:"status,omitempty"`
	Matched       bool         `json:"matched"`
	SongID        string       `json:"song_id,omitempty"`
	SongName      string       `json:"song_name,omitempty"`
	Confidence    float64      `json:"confidence"`
	OffsetSeconds float64      `json:"offset_seconds"`
	HashesMatched int          `json:"hashes_matched"`
	HashesTotal   int          `json:"input_hashes"`
	TimeMs        int64        `json:"processing_time_ms"`
	TimedOut      bool         `json:"timed_out,omitempty"`
	Error         string       `json:"error,omitempty"`
}

type batchSummary struct {
	TotalFiles  int     `json:"total_files"`
	Matches     int     `json:"matches"`
	NoMatches   int     `json:"no_matches"`
	Timeouts    int     `json:"timeouts"`
	Errors      int     `json:"errors"`
	SuccessRate float64 `json:"success_rate"`
	TotalTimeMs int64   `json:"total_time_ms"`
	AvgTimeMs   int64   `json:"avg_time_ms"`
}

type batchReport struct {
	Timestamp time.Time    `json:"timestamp"`
	Directory string       `json:"directory"`
	Summary   batchSummary `json:"summary"`
	Results   []batchEntry `json:"results"`
}

func summarize(entries []batchEntry) batchSummary {
	s := batchSummary{TotalFiles: len(entries)}
	for _, e := range entries {
		s.TotalTimeMs += e.TimeMs
		switch {
		case e.TimedOut:
			s.Timeouts++
		case e.Error != "":
			s.Errors++
		case e.Matched:
			s.Matches++
		default:
			s.NoMatches++
		}
	}
	if s.TotalFiles > 0 {
		s.SuccessRate = float64(s.Matches) / float64(s.TotalFiles) * 100
		s.AvgTimeMs = s.TotalTimeMs / int64(s.TotalFiles)
	}
	return s
}

func newBatchCmd() *cobra.Command {
	var (
		out     string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "batch <dir>",
		Short: "Recognize every audio file under a directory and write a JSON report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			files, err := utils.ListAudioFiles(dir)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no audio files found in %s", dir)
			}

			svc, err := createService(peakprint.WithMatchTimeout(timeout))
			if err != nil {
				return fmt.Errorf("failed to create service: %w", err)
			}
			defer svc.Close()

			fmt.Printf("\n📁 Testing %d audio files from: %s\n", len(files), dir)
			entries := make([]batchEntry, 0, len(files))
			for i, path := range files {
				fmt.Printf("[%d/%d] %s\n", i+1, len(files), filepath.Base(path))
				entry := matchForReport(cmd.Context(), svc, path, timeout)
				switch {
				case entry.TimedOut:
					fmt.Println("   ⏰ Timed out")
				case entry.Error != "":
					fmt.Printf("   ⚠️  %s\n", entry.Error)
				case entry.Matched:
					fmt.Printf("   ✅ %s (%.1f%%)\n", entry.SongName, entry.Confidence*100)
				default:
					fmt.Println("   ❌ No match")
				}
				entries = append(entries, entry)
			}

			report := batchReport{
				Timestamp: time.Now().UTC(),
				Directory: dir,
				Summary:   summarize(entries),
				Results:   entries,
			}
			printSummary(report.Summary)

			if out == "" {
				return nil
			}
			data, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("failed to save report: %w", err)
			}
			fmt.Printf("\n💾 Detailed results saved to: %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Write a JSON report to this file")
	cmd.Flags().DurationVar(&timeout, "timeout", peakprint.DefaultMatchTimeout, "Per-file recognition timeout")
	return cmd
}

func matchForReport(ctx context.Context, svc peakprint.Service, path string, timeout time.Duration) batchEntry {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	entry := batchEntry{Path: path}
	res, err := svc.MatchFile(ctx, path)
	entry.TimeMs = time.Since(start).Milliseconds()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			entry.TimedOut = true
		}
		entry.Error = err.Error()
		return entry
	}

	entry.Status = res.Status
	entry.Matched = res.Matched
	entry.SongID = res.SongID
	entry.SongName = res.SongName
	entry.Confidence = res.Confidence
	entry.OffsetSeconds = res.OffsetSeconds
	entry.HashesMatched = res.HashesMatched
	entry.HashesTotal = res.HashesTotal
	return entry
}

func printSummary(s batchSummary) {
	fmt.Println("\n📊 BATCH TESTING SUMMARY")
	fmt.Printf("   Total files tested:    %d\n", s.TotalFiles)
	fmt.Printf("   Matches found:         %d\n", s.Matches)
	fmt.Printf("   No matches:            %d\n", s.NoMatches)
	fmt.Printf("   Timeouts:              %d\n", s.Timeouts)
	fmt.Printf("   Errors:                %d\n", s.Errors)
	fmt.Printf("   Success rate:          %.1f%%\n", s.SuccessRate)
	fmt.Printf("   Total processing time: %v\n", time.Duration(s.TotalTimeMs)*time.Millisecond)
	fmt.Printf("   Average time per file: %v\n", time.Duration(s.AvgTimeMs)*time.Millisecond)
}
