package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/himanishpuri/peakprint/pkg/peakprint/fingerprint"
)

const memoryShards = 64

var errClosed = errors.New("store is closed")

// MemoryStore keeps everything in process memory. Fingerprints are sharded by
// hash so concurrent lookups and inserts rarely contend.
type MemoryStore struct {
	shards [memoryShards]memoryShard

	mu     sync.RWMutex
	songs  map[string]*memorySong
	params string

	locks  *songLocks
	closed atomic.Bool
}

type memoryShard struct {
	mu      sync.RWMutex
	entries map[uint32][]Occurrence
}

type memorySong struct {
	Song
	hashes []uint32
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		songs: make(map[string]*memorySong),
		locks: newSongLocks(),
	}
	for i := range s.shards {
		s.shards[i].entries = make(map[uint32][]Occurrence)
	}
	return s
}

func (s *MemoryStore) shard(hash uint32) *memoryShard {
	return &s.shards[hash%memoryShards]
}

func (s *MemoryStore) check(ctx context.Context, op string) error {
	if s.closed.Load() {
		return unavailable(op, errClosed)
	}
	if err := ctx.Err(); err != nil {
		return unavailable(op, err)
	}
	return nil
}

func (s *MemoryStore) BindParams(ctx context.Context, signature string) error {
	if err := s.check(ctx, "bind params"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.params == "" {
		s.params = signature
		return nil
	}
	return checkParams(s.params, signature)
}

func (s *MemoryStore) Insert(ctx context.Context, song Song, fps []fingerprint.Fingerprint) error {
	if err := validateSong(song); err != nil {
		return err
	}
	if err := s.check(ctx, "insert song"); err != nil {
		return err
	}
	unlock := s.locks.Lock(song.ID)
	defer unlock()

	fps = fingerprint.Dedupe(fps)
	song.FingerprintCount = len(fps)
	song.Complete = false
	if song.CreatedAt.IsZero() {
		song.CreatedAt = time.Now()
	}

	s.mu.Lock()
	if _, ok := s.songs[song.ID]; ok {
		s.mu.Unlock()
		return ErrSongExists
	}
	entry := &memorySong{Song: song, hashes: fingerprint.Hashes(fps)}
	s.songs[song.ID] = entry
	s.mu.Unlock()

	for _, fp := range fps {
		sh := s.shard(fp.Hash)
		sh.mu.Lock()
		sh.entries[fp.Hash] = append(sh.entries[fp.Hash], Occurrence{SongID: song.ID, Offset: fp.Offset})
		sh.mu.Unlock()
	}

	s.mu.Lock()
	entry.Complete = true
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Lookup(ctx context.Context, hashes []uint32) (map[uint32][]Occurrence, error) {
	if err := s.check(ctx, "lookup"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[uint32][]Occurrence, len(hashes))
	for _, h := range hashes {
		sh := s.shard(h)
		sh.mu.RLock()
		for _, o := range sh.entries[h] {
			if song, ok := s.songs[o.SongID]; ok && song.Complete {
				out[h] = append(out[h], o)
			}
		}
		sh.mu.RUnlock()
	}
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, songID string) error {
	if err := s.check(ctx, "delete song"); err != nil {
		return err
	}
	unlock := s.locks.Lock(songID)
	defer unlock()

	s.mu.Lock()
	entry, ok := s.songs[songID]
	if !ok {
		s.mu.Unlock()
		return ErrSongNotFound
	}
	entry.Complete = false
	s.mu.Unlock()

	for _, h := range entry.hashes {
		sh := s.shard(h)
		sh.mu.Lock()
		kept := sh.entries[h][:0]
		for _, o := range sh.entries[h] {
			if o.SongID != songID {
				kept = append(kept, o)
			}
		}
		if len(kept) == 0 {
			delete(sh.entries, h)
		} else {
			sh.entries[h] = kept
		}
		sh.mu.Unlock()
	}

	s.mu.Lock()
	delete(s.songs, songID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	if err := s.check(ctx, "clear"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		sh.entries = make(map[uint32][]Occurrence)
		sh.mu.Unlock()
	}
	s.songs = make(map[string]*memorySong)
	return nil
}

func (s *MemoryStore) Song(ctx context.Context, id string) (*Song, error) {
	if err := s.check(ctx, "get song"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.songs[id]
	if !ok || !entry.Complete {
		return nil, ErrSongNotFound
	}
	song := entry.Song
	return &song, nil
}

func (s *MemoryStore) SongByFileHash(ctx context.Context, fileHash string) (*Song, error) {
	if err := s.check(ctx, "get song by file hash"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, entry := range s.songs {
		if entry.Complete && fileHash != "" && entry.FileHash == fileHash {
			song := entry.Song
			return &song, nil
		}
	}
	return nil, ErrSongNotFound
}

func (s *MemoryStore) Songs(ctx context.Context) ([]Song, error) {
	if err := s.check(ctx, "list songs"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	songs := make([]Song, 0, len(s.songs))
	for _, entry := range s.songs {
		if entry.Complete {
			songs = append(songs, entry.Song)
		}
	}
	s.mu.RUnlock()
	sortSongs(songs)
	return songs, nil
}

func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	if err := s.check(ctx, "stats"); err != nil {
		return Stats{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st Stats
	for _, entry := range s.songs {
		if entry.Complete {
			st.SongCount++
			st.FingerprintCount += entry.FingerprintCount
		}
	}
	return st, nil
}

func (s *MemoryStore) Close() error {
	s.closed.Store(true)
	return nil
}

func sortSongs(songs []Song) {
	sort.Slice(songs, func(i, j int) bool {
		if songs[i].Name != songs[j].Name {
			return songs[i].Name < songs[j].Name
		}
		return songs[i].ID < songs[j].ID
	})
}
