// Package peakprint wires decoding, fingerprinting, storage and matching into
// a single service for ingesting songs and recognizing clips.
package peakprint

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/himanishpuri/peakprint/pkg/logger"
	"github.com/himanishpuri/peakprint/pkg/peakprint/fingerprint"
	"github.com/himanishpuri/peakprint/pkg/peakprint/store"
)

// peakService is the default implementation of the Service interface.
type peakService struct {
	store  store.Store
	songs  *songCache
	mem    *semaphore.Weighted
	log    Logger
	config *Config
}

func NewService(opts ...Option) (Service, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fingerprint parameters: %w", err)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MemoryBudget <= 0 {
		cfg.MemoryBudget = DefaultMemoryBudget
	}

	ctx := context.Background()
	st := cfg.Store
	if st == nil {
		var err error
		st, err = store.Open(ctx, store.Options{
			Backend:       cfg.Backend,
			Path:          cfg.DBPath,
			MongoURI:      cfg.MongoURI,
			MongoDatabase: cfg.MongoDatabase,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open %s store: %w", cfg.Backend, err)
		}
	}

	if err := st.BindParams(ctx, cfg.Params.Signature()); err != nil {
		st.Close()
		return nil, err
	}

	songs, err := newSongCache()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create song cache: %w", err)
	}

	return &peakService{
		store:  st,
		songs:  songs,
		mem:    semaphore.NewWeighted(cfg.MemoryBudget),
		log:    cfg.Logger,
		config: cfg,
	}, nil
}

// Fingerprint runs the pipeline with the service's parameters.
func (s *peakService) Fingerprint(samples []float64, sampleRate int) ([]fingerprint.Fingerprint, error) {
	gen, err := s.generate(context.Background(), samples, sampleRate)
	if err != nil {
		return nil, err
	}
	return gen.Fingerprints, nil
}

// generate runs the pipeline once its working set fits in MemoryBudget.
// Requests larger than the whole budget wait for it to drain and run alone.
func (s *peakService) generate(ctx context.Context, samples []float64, sampleRate int) (*fingerprint.Result, error) {
	need := fingerprint.WorkingSetBytes(len(samples), s.config.Params)
	if need > s.config.MemoryBudget {
		need = s.config.MemoryBudget
	}
	if need > 0 {
		if err := s.mem.Acquire(ctx, need); err != nil {
			return nil, err
		}
		defer s.mem.Release(need)
	}
	return fingerprint.Generate(samples, sampleRate, s.config.Params)
}

// with attaches structured fields when the configured Logger supports them.
func (s *peakService) with(fields logger.Fields) Logger {
	if fl, ok := s.log.(interface {
		WithFields(logger.Fields) *logger.Logger
	}); ok {
		return fl.WithFields(fields)
	}
	return s.log
}

// GetSong retrieves a song's metadata by its ID.
func (s *peakService) GetSong(ctx context.Context, songID string) (*store.Song, error) {
	return s.store.Song(ctx, songID)
}

// ListSongs returns all completely ingested songs.
func (s *peakService) ListSongs(ctx context.Context) ([]store.Song, error) {
	return s.store.Songs(ctx)
}

// DeleteSong removes a song and all its fingerprints.
func (s *peakService) DeleteSong(ctx context.Context, songID string) error {
	if err := s.store.Delete(ctx, songID); err != nil {
		return err
	}
	s.songs.del(songID)
	s.with(logger.Fields{"song_id": songID}).Infof("Deleted song ID=%s", songID)
	return nil
}

func (s *peakService) DeleteSongs(ctx context.Context, songIDs []string) (int, error) {
	deleted := 0
	for _, id := range songIDs {
		err := s.DeleteSong(ctx, id)
		switch {
		case err == nil:
			deleted++
		case errors.Is(err, store.ErrSongNotFound):
			s.with(logger.Fields{"song_id": id}).Warnf("Song ID=%s not found, skipping", id)
		default:
			return deleted, fmt.Errorf("deleting %s: %w", id, err)
		}
	}
	return deleted, nil
}

func (s *peakService) Clear(ctx context.Context) error {
	if err := s.store.Clear(ctx); err != nil {
		return err
	}
	s.songs.clear()
	s.log.Infof("Cleared all songs and fingerprints")
	return nil
}

func (s *peakService) Stats(ctx context.Context) (store.Stats, error) {
	return s.store.Stats(ctx)
}

// Close releases all resources held by the service.
func (s *peakService) Close() error {
	s.songs.close()
	return s.store.Close()
}

// isSkippable reports errors that fail one file without failing a batch.
func isSkippable(err error) bool {
	return !errors.Is(err, store.ErrStoreUnavailable) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}
