package peakprint

import (
	"context"

	"github.com/dgraph-io/ristretto"

	"github.com/himanishpuri/peakprint/pkg/peakprint/match"
	"github.com/himanishpuri/peakprint/pkg/peakprint/store"
)

const songCacheSize = 10000

// songCache fronts Store.Song for the matcher. Deleting a song must Del it.
type songCache struct {
	cache *ristretto.Cache
}

func newSongCache() (*songCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: songCacheSize * 10,
		MaxCost:     songCacheSize,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &songCache{cache: c}, nil
}

func (c *songCache) get(id string) (*store.Song, bool) {
	v, ok := c.cache.Get(id)
	if !ok {
		return nil, false
	}
	song, ok := v.(store.Song)
	if !ok {
		return nil, false
	}
	return &song, true
}

func (c *songCache) set(song store.Song) {
	c.cache.Set(song.ID, song, 1)
}

func (c *songCache) del(id string) {
	c.cache.Del(id)
}

func (c *songCache) clear() {
	c.cache.Clear()
}

func (c *songCache) close() {
	c.cache.Close()
}

// cachedSource satisfies match.Source, reading song rows through the cache.
type cachedSource struct {
	store store.Store
	songs *songCache
}

var _ match.Source = (*cachedSource)(nil)

func (s *cachedSource) Lookup(ctx context.Context, hashes []uint32) (map[uint32][]store.Occurrence, error) {
	return s.store.Lookup(ctx, hashes)
}

func (s *cachedSource) Song(ctx context.Context, id string) (*store.Song, error) {
	if song, ok := s.songs.get(id); ok {
		return song, nil
	}
	song, err := s.store.Song(ctx, id)
	if err != nil {
		return nil, err
	}
	s.songs.set(*song)
	return song, nil
}
