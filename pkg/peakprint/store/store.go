// Package store persists fingerprints and answers hash lookups. Every backend
// implements Store with the same visibility rules: a song's fingerprints
// become visible to Lookup all at once, and disappear all at once on Delete.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/himanishpuri/peakprint/pkg/peakprint/fingerprint"
)

var (
	// ErrStoreUnavailable wraps engine and connectivity failures. Callers may retry.
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrSongNotFound     = errors.New("song not found")
	ErrSongExists       = errors.New("song already exists")
	// ErrParamsMismatch means the store holds fingerprints made with other parameters.
	ErrParamsMismatch = errors.New("fingerprint parameters do not match store")
)

type Song struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	FileHash         string    `json:"file_hash,omitempty"`
	FingerprintCount int       `json:"fingerprint_count"`
	DurationMs       int       `json:"duration_ms"`
	Complete         bool      `json:"complete"`
	CreatedAt        time.Time `json:"created_at"`
}

// Occurrence is one place a hash was seen: a song and its anchor time bin.
type Occurrence struct {
	SongID string
	Offset uint32
}

type Stats struct {
	SongCount        int
	FingerprintCount int
}

type Store interface {
	// BindParams records signature on first use and fails with
	// ErrParamsMismatch when a different one is already recorded.
	BindParams(ctx context.Context, signature string) error
	// Insert stores song and fps atomically. Exact duplicates in fps are
	// stored once and song.FingerprintCount is set to the stored count.
	Insert(ctx context.Context, song Song, fps []fingerprint.Fingerprint) error
	// Lookup returns every committed occurrence of each hash. Hashes with no
	// occurrences are absent from the map.
	Lookup(ctx context.Context, hashes []uint32) (map[uint32][]Occurrence, error)
	Delete(ctx context.Context, songID string) error
	// Clear removes every song and fingerprint. The bound parameter
	// signature survives.
	Clear(ctx context.Context) error
	Song(ctx context.Context, id string) (*Song, error)
	SongByFileHash(ctx context.Context, fileHash string) (*Song, error)
	Songs(ctx context.Context) ([]Song, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendMongo  = "mongo"
)

type Options struct {
	Backend string
	// Path is the sqlite file or badger directory.
	Path string
	// MongoURI and MongoDatabase select the mongo deployment.
	MongoURI      string
	MongoDatabase string
}

// Open builds the backend named by opts.Backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite, "":
		return NewSQLiteStore(opts.Path)
	case BackendBadger:
		return NewBadgerStore(opts.Path)
	case BackendMongo:
		return NewMongoStore(ctx, opts.MongoURI, opts.MongoDatabase)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

func validateSong(song Song) error {
	if song.ID == "" {
		return errors.New("song ID is required")
	}
	return nil
}

// checkParams compares a stored signature with the requested one.
func checkParams(stored, requested string) error {
	if stored != requested {
		return fmt.Errorf("%w: stored %q, requested %q", ErrParamsMismatch, stored, requested)
	}
	return nil
}
