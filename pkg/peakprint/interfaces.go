package peakprint

import (
	"context"

	"github.com/himanishpuri/peakprint/pkg/peakprint/fingerprint"
	"github.com/himanishpuri/peakprint/pkg/peakprint/store"
)

type Service interface {
	// Fingerprint hashes a mono buffer already at the configured sample rate.
	Fingerprint(samples []float64, sampleRate int) ([]fingerprint.Fingerprint, error)
	// Recognize looks query fingerprints up in the store and picks the best song.
	Recognize(ctx context.Context, query []fingerprint.Fingerprint) (*MatchResult, error)

	AddSong(ctx context.Context, audioPath, name string) (*AddResult, error)
	AddSamples(ctx context.Context, name string, samples []float64, sampleRate int) (*AddResult, error)
	AddDirectory(ctx context.Context, dir string, progress ProgressFunc) ([]AddResult, error)

	MatchFile(ctx context.Context, audioPath string) (*MatchResult, error)
	MatchSamples(ctx context.Context, samples []float64, sampleRate int) (*MatchResult, error)

	GetSong(ctx context.Context, songID string) (*store.Song, error)
	ListSongs(ctx context.Context) ([]store.Song, error)
	DeleteSong(ctx context.Context, songID string) error
	// DeleteSongs deletes each ID in turn and reports how many went. It stops
	// at the first failure other than ErrSongNotFound.
	DeleteSongs(ctx context.Context, songIDs []string) (int, error)
	// Clear removes every song and fingerprint from the store.
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (store.Stats, error)
	Close() error
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}
