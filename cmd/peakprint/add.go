package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/himanishpuri/peakprint/pkg/logger"
	"github.com/himanishpuri/peakprint/pkg/peakprint"
	"github.com/himanishpuri/peakprint/pkg/utils"
)

func newAddCmd() *cobra.Command {
	var (
		name    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "add <file|dir>",
		Short: "Fingerprint a song, or every audio file under a directory, into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := os.Stat(args[0])
			if err != nil {
				return err
			}
			if info.IsDir() {
				return addDirectory(cmd.Context(), args[0])
			}
			return addFile(cmd.Context(), args[0], name, timeout)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Song name (default: title tag, then file name)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Processing timeout per file")
	return cmd
}

func addFile(ctx context.Context, path, name string, timeout time.Duration) error {
	printBanner()
	fmt.Println("🔧 Initializing service...")
	svc, err := createService()
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	defer svc.Close()

	fmt.Println("🎵 Processing audio file...")
	fmt.Println("   This may take a few moments for large files")

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := svc.AddSong(ctx, path, name)
	if err != nil {
		return fmt.Errorf("failed to add song: %w", err)
	}

	if res.Skipped {
		fmt.Println("\n⏭️  Already in database, skipped")
	} else {
		fmt.Println("\n✅ Successfully added song to database!")
	}
	fmt.Printf("   ID:           %s\n", res.SongID)
	fmt.Printf("   Name:         %s\n", res.Name)
	fmt.Printf("   Fingerprints: %s\n", humanize.Comma(int64(res.FingerprintCount)))
	fmt.Printf("   Duration:     %s\n", formatDuration(res.DurationMs))
	fmt.Printf("   Took:         %v\n", res.Elapsed.Round(time.Millisecond))
	return nil
}

func addDirectory(ctx context.Context, dir string) error {
	log := logger.GetLogger()

	files, err := utils.ListAudioFiles(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Printf("📭 No audio files found in %s\n", dir)
		return nil
	}

	svc, err := createService()
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	defer svc.Close()

	// progress bar
	p := mpb.New(mpb.WithWidth(64))
	bar := p.AddBar(int64(len(files)),
		mpb.PrependDecorators(
			decor.Name("Indexing: "),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.Percentage(),
			decor.Name(" "),
			decor.AverageETA(decor.ET_STYLE_GO),
		),
	)

	start := time.Now()
	results, err := svc.AddDirectory(ctx, dir, func(done, total int, res peakprint.AddResult) {
		bar.Increment()
	})
	bar.SetTotal(-1, true)
	p.Wait()
	if err != nil {
		return fmt.Errorf("ingest aborted: %w", err)
	}

	var added, skipped, failed, fps int
	for _, r := range results {
		switch {
		case r.Err != nil:
			failed++
			fmt.Printf("   ❌ %s: %v\n", r.Path, r.Err)
		case r.Skipped:
			skipped++
		default:
			added++
			fps += r.FingerprintCount
		}
	}

	fmt.Println("\n📊 Ingest summary")
	fmt.Printf("   Files:        %d\n", len(results))
	fmt.Printf("   Added:        %d\n", added)
	fmt.Printf("   Skipped:      %d\n", skipped)
	fmt.Printf("   Failed:       %d\n", failed)
	fmt.Printf("   Fingerprints: %s\n", humanize.Comma(int64(fps)))
	fmt.Printf("   Took:         %v\n", time.Since(start).Round(time.Millisecond))
	log.Infof("Ingested %s: %d added, %d skipped, %d failed", dir, added, skipped, failed)
	return nil
}

func formatDuration(ms int) string {
	sec := ms / 1000
	return fmt.Sprintf("%d:%02d", sec/60, sec%60)
}
