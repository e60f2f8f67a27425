package peakprint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/himanishpuri/peakprint/pkg/logger"
	"github.com/himanishpuri/peakprint/pkg/peakprint/audio"
	"github.com/himanishpuri/peakprint/pkg/peakprint/fingerprint"
	"github.com/himanishpuri/peakprint/pkg/peakprint/store"
	"github.com/himanishpuri/peakprint/pkg/utils"
)

// AddSong decodes audioPath, fingerprints it and stores it. A file whose
// content hash is already stored is not decoded again; the existing song is
// returned with Skipped set.
func (s *peakService) AddSong(ctx context.Context, audioPath, name string) (*AddResult, error) {
	start := time.Now()

	fileHash, err := utils.FileHash(audioPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", audio.ErrDecodeFailure, err)
	}

	existing, err := s.store.SongByFileHash(ctx, fileHash)
	switch {
	case err == nil:
		s.log.Infof("Skipping %s: already stored as %q (ID=%s)", audioPath, existing.Name, existing.ID)
		return &AddResult{
			Path:             audioPath,
			SongID:           existing.ID,
			Name:             existing.Name,
			FingerprintCount: existing.FingerprintCount,
			DurationMs:       existing.DurationMs,
			Skipped:          true,
			Elapsed:          time.Since(start),
		}, nil
	case !errors.Is(err, store.ErrSongNotFound):
		return nil, err
	}

	samples, err := audio.Decode(ctx, audioPath, audio.DecodeConfig{
		SampleRate: s.config.Params.SampleRate,
		TempDir:    s.config.TempDir,
	})
	if err != nil {
		return nil, err
	}

	if name == "" {
		name = s.resolveName(ctx, audioPath)
	}
	s.log.Infof("Processing song: %s", name)

	res, err := s.insert(ctx, name, fileHash, samples, s.config.Params.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", audioPath, err)
	}
	res.Path = audioPath
	res.Elapsed = time.Since(start)
	return res, nil
}

// AddSamples stores an already decoded mono buffer under name.
func (s *peakService) AddSamples(ctx context.Context, name string, samples []float64, sampleRate int) (*AddResult, error) {
	start := time.Now()
	res, err := s.insert(ctx, name, "", samples, sampleRate)
	if err != nil {
		return nil, err
	}
	res.Elapsed = time.Since(start)
	return res, nil
}

// AddDirectory ingests every audio file under dir with at most Workers files
// in flight. Per-file failures are recorded in the results; only store and
// context failures abort the walk.
func (s *peakService) AddDirectory(ctx context.Context, dir string, progress ProgressFunc) ([]AddResult, error) {
	files, err := utils.ListAudioFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	s.log.Infof("Found %d audio files in %s", len(files), dir)

	results := make([]AddResult, len(files))
	var (
		mu   sync.Mutex
		done int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Workers)
	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			res, err := s.AddSong(gctx, path, "")
			if err != nil {
				results[i] = AddResult{Path: path, Err: err, Error: err.Error()}
				s.with(logger.Fields{"path": path}).Warnf("Failed to add %s: %v", path, err)
			} else {
				results[i] = *res
			}

			if progress != nil {
				mu.Lock()
				done++
				progress(done, len(files), results[i])
				mu.Unlock()
			}

			if err != nil && !isSkippable(err) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// resolveName prefers embedded tags, then ffprobe's view of them, then the
// file name.
func (s *peakService) resolveName(ctx context.Context, audioPath string) string {
	meta, err := audio.ReadTags(audioPath)
	if err != nil || meta.Title == "" {
		meta, err = audio.ReadMetadata(ctx, audioPath)
	}
	if err != nil {
		s.log.Debugf("No metadata for %s: %v", audioPath, err)
		return utils.FileStem(audioPath)
	}
	if meta.Title == "" {
		return utils.FileStem(audioPath)
	}
	if meta.Artist != "" {
		return meta.Artist + " - " + meta.Title
	}
	return meta.Title
}

func (s *peakService) insert(ctx context.Context, name, fileHash string, samples []float64, sampleRate int) (*AddResult, error) {
	gen, err := s.generate(ctx, samples, sampleRate)
	if err != nil {
		return nil, err
	}
	if len(gen.Fingerprints) == 0 {
		return nil, fmt.Errorf("%q: %w", name, fingerprint.ErrInsufficientAudio)
	}
	s.with(logger.Fields{
		"frames":       gen.Frames,
		"peaks":        gen.Peaks,
		"fingerprints": len(gen.Fingerprints),
	}).Debugf("%q fingerprinted in %v", name, gen.Elapsed)

	song := store.Song{
		ID:         uuid.NewString(),
		Name:       name,
		FileHash:   fileHash,
		DurationMs: int(gen.Duration.Milliseconds()),
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.Insert(ctx, song, gen.Fingerprints); err != nil {
		if !errors.Is(err, store.ErrSongExists) {
			if derr := s.store.Delete(context.WithoutCancel(ctx), song.ID); derr != nil && !errors.Is(derr, store.ErrSongNotFound) {
				s.with(logger.Fields{"song_id": song.ID, "error": derr}).Warnf("Rollback of %q failed", name)
			}
		}
		return nil, fmt.Errorf("failed to store fingerprints: %w", err)
	}

	s.with(logger.Fields{
		"song_id":      song.ID,
		"fingerprints": len(gen.Fingerprints),
	}).Infof("Successfully added %q (ID=%s, %d fingerprints)", name, song.ID, len(gen.Fingerprints))
	return &AddResult{
		SongID:           song.ID,
		Name:             name,
		FingerprintCount: len(gen.Fingerprints),
		DurationMs:       song.DurationMs,
	}, nil
}
