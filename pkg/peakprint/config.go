package peakprint

import (
	"os"
	"runtime"
	"time"

	"github.com/himanishpuri/peakprint/pkg/peakprint/fingerprint"
	"github.com/himanishpuri/peakprint/pkg/peakprint/match"
	"github.com/himanishpuri/peakprint/pkg/peakprint/store"
)

const (
	DefaultMatchTimeout = 30 * time.Second
	// DefaultMemoryBudget caps the fingerprint working sets in flight at once.
	DefaultMemoryBudget = 1 << 30
)

type Config struct {
	// Backend is one of the store.Backend* names.
	Backend string
	// DBPath is the sqlite file or badger directory.
	DBPath        string
	MongoURI      string
	MongoDatabase string
	TempDir       string

	Params        fingerprint.Params
	MinMatchCount int
	// MatchTimeout bounds Recognize when the caller's context has no deadline.
	MatchTimeout time.Duration
	// Workers bounds AddDirectory concurrency.
	Workers int
	// MemoryBudget bounds, in bytes, the summed fingerprint working sets of
	// concurrent ingests and queries. A single larger clip still runs alone.
	MemoryBudget int64

	Logger Logger
	Store  store.Store
}

type Option func(*Config)

func WithBackend(backend string) Option {
	return func(c *Config) {
		c.Backend = backend
	}
}

func WithDBPath(path string) Option {
	return func(c *Config) {
		c.DBPath = path
	}
}

func WithMongoURI(uri, database string) Option {
	return func(c *Config) {
		c.MongoURI = uri
		c.MongoDatabase = database
	}
}

func WithTempDir(dir string) Option {
	return func(c *Config) {
		c.TempDir = dir
	}
}

func WithParams(p fingerprint.Params) Option {
	return func(c *Config) {
		c.Params = p
	}
}

// WithSampleRate changes only the sample rate of the current parameters.
func WithSampleRate(rate int) Option {
	return func(c *Config) {
		c.Params.SampleRate = rate
	}
}

func WithMinMatchCount(n int) Option {
	return func(c *Config) {
		c.MinMatchCount = n
	}
}

func WithMatchTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.MatchTimeout = d
	}
}

func WithWorkers(n int) Option {
	return func(c *Config) {
		c.Workers = n
	}
}

func WithMemoryBudget(bytes int64) Option {
	return func(c *Config) {
		c.MemoryBudget = bytes
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

// WithStore injects an already opened store. The service takes ownership and
// closes it on Close.
func WithStore(s store.Store) Option {
	return func(c *Config) {
		c.Store = s
	}
}

func defaultConfig() *Config {
	return &Config{
		Backend:       store.BackendSQLite,
		DBPath:        store.DefaultDBFile,
		TempDir:       os.TempDir(),
		Params:        fingerprint.DefaultParams(),
		MinMatchCount: match.DefaultMinMatchCount,
		MatchTimeout:  DefaultMatchTimeout,
		Workers:       runtime.NumCPU(),
		MemoryBudget:  DefaultMemoryBudget,
	}
}
