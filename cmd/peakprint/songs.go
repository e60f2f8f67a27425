package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/himanishpuri/peakprint/pkg/logger"
	"github.com/himanishpuri/peakprint/pkg/peakprint/store"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored songs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.GetLogger()
			svc, err := createService()
			if err != nil {
				return fmt.Errorf("failed to create service: %w", err)
			}
			defer svc.Close()

			songs, err := svc.ListSongs(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list songs: %w", err)
			}
			if len(songs) == 0 {
				fmt.Println("\n📭 No songs in database")
				return nil
			}

			fmt.Printf("\n📚 Found %d song(s):\n\n", len(songs))
			for i, song := range songs {
				fmt.Printf("%d. %s (ID: %s)\n", i+1, song.Name, song.ID)
				fmt.Printf("   Fingerprints: %s | Duration: %s | Added %s\n",
					humanize.Comma(int64(song.FingerprintCount)),
					formatDuration(song.DurationMs),
					humanize.Time(song.CreatedAt))
			}
			log.Infof("Listed %d songs", len(songs))
			return nil
		},
	}
}

func newDeleteCmd() *cobra.Command {
	var all, yes bool
	cmd := &cobra.Command{
		Use:   "delete <song_id>... | --all --yes",
		Short: "Delete songs and their fingerprints, or clear the whole store",
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.MinimumNArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.GetLogger()
			if all && !yes {
				return errors.New("refusing to clear the store without --yes")
			}

			svc, err := createService()
			if err != nil {
				return fmt.Errorf("failed to create service: %w", err)
			}
			defer svc.Close()

			ctx := cmd.Context()
			if all {
				if err := svc.Clear(ctx); err != nil {
					return fmt.Errorf("failed to clear store: %w", err)
				}
				fmt.Printf("\n🧹 Store cleared\n")
				return nil
			}

			if len(args) == 1 {
				song, err := svc.GetSong(ctx, args[0])
				if errors.Is(err, store.ErrSongNotFound) {
					return fmt.Errorf("song not found (ID: %s)", args[0])
				}
				if err != nil {
					return err
				}
				if err := svc.DeleteSong(ctx, song.ID); err != nil {
					return fmt.Errorf("failed to delete song: %w", err)
				}
				fmt.Printf("\n✅ Successfully deleted song:\n")
				fmt.Printf("   ID:   %s\n", song.ID)
				fmt.Printf("   Name: %s\n", song.Name)
				log.WithField("song_id", song.ID).Infof("Deleted song %q", song.Name)
				return nil
			}

			deleted, err := svc.DeleteSongs(ctx, args)
			fmt.Printf("\n✅ Deleted %d of %d song(s)\n", deleted, len(args))
			if err != nil {
				return fmt.Errorf("failed to delete songs: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Delete every song and fingerprint")
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm --all")
	return cmd
}

func newExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the song list and store totals as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := createService()
			if err != nil {
				return fmt.Errorf("failed to create service: %w", err)
			}
			defer svc.Close()

			ctx := cmd.Context()
			songs, err := svc.ListSongs(ctx)
			if err != nil {
				return fmt.Errorf("failed to list songs: %w", err)
			}
			stats, err := svc.Stats(ctx)
			if err != nil {
				return fmt.Errorf("failed to read stats: %w", err)
			}

			w := io.Writer(os.Stdout)
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", out, err)
				}
				defer f.Close()
				w = f
			}
			if err := writeExportCSV(w, songs, stats, time.Now()); err != nil {
				return fmt.Errorf("failed to write CSV: %w", err)
			}
			if out != "" {
				fmt.Printf("\n📄 Exported %d song(s) to %s\n", len(songs), out)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default: stdout)")
	return cmd
}

// writeExportCSV writes one row per song followed by a summary block.
func writeExportCSV(w io.Writer, songs []store.Song, stats store.Stats, now time.Time) error {
	cw := csv.NewWriter(w)
	rows := [][]string{{"Song ID", "Song Name", "Fingerprints", "Duration Ms", "Date Added"}}
	for _, song := range songs {
		rows = append(rows, []string{
			song.ID,
			song.Name,
			strconv.Itoa(song.FingerprintCount),
			strconv.Itoa(song.DurationMs),
			song.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	rows = append(rows,
		[]string{},
		[]string{"SUMMARY"},
		[]string{"Total Songs", strconv.Itoa(stats.SongCount)},
		[]string{"Total Fingerprints", strconv.Itoa(stats.FingerprintCount)},
		[]string{"Export Date", now.UTC().Format(time.RFC3339)},
	)
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show store totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := createService()
			if err != nil {
				return fmt.Errorf("failed to create service: %w", err)
			}
			defer svc.Close()

			stats, err := svc.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to read stats: %w", err)
			}
			fmt.Printf("\n📊 %s backend\n", opts.backend)
			fmt.Printf("   Songs:        %s\n", humanize.Comma(int64(stats.SongCount)))
			fmt.Printf("   Fingerprints: %s\n", humanize.Comma(int64(stats.FingerprintCount)))
			if stats.SongCount > 0 {
				fmt.Printf("   Per song:     %s\n", humanize.Comma(int64(stats.FingerprintCount/stats.SongCount)))
			}
			return nil
		},
	}
}
