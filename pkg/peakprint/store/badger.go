package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/himanishpuri/peakprint/pkg/logger"
	"github.com/himanishpuri/peakprint/pkg/peakprint/fingerprint"
)

const DefaultBadgerDir = "peakprint.badger"

// Key layout:
//
//	f<hash:4><songID><offset:4>   forward index, scanned by hash prefix
//	o<songID>|<hash:4><offset:4>  reverse index, scanned on delete
//	s<songID>                     JSON song record
//	h<fileHash>                   songID
//	m<name>                       metadata
const (
	prefixForward  = 'f'
	prefixReverse  = 'o'
	prefixSong     = 's'
	prefixFileHash = 'h'
	prefixMeta     = 'm'
)

// BadgerStore is an embedded key-value backend. Badger write batches are not
// transactional, so the song record's Complete flag is written last and
// Lookup ignores occurrences of songs that are not complete.
type BadgerStore struct {
	db    *badger.DB
	locks *songLocks
}

func NewBadgerStore(dir string) (*BadgerStore, error) {
	if dir == "" {
		dir = DefaultBadgerDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating badger dir: %w", err)
	}

	opts := badger.DefaultOptions(dir).
		WithLogger(badgerLogger{logger.GetLogger()}).
		WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, unavailable("opening badger db", err)
	}
	return &BadgerStore{db: db, locks: newSongLocks()}, nil
}

func forwardKey(hash uint32, songID string, offset uint32) []byte {
	k := make([]byte, 0, 1+4+len(songID)+4)
	k = append(k, prefixForward)
	k = binary.BigEndian.AppendUint32(k, hash)
	k = append(k, songID...)
	return binary.BigEndian.AppendUint32(k, offset)
}

func forwardPrefix(hash uint32) []byte {
	return binary.BigEndian.AppendUint32([]byte{prefixForward}, hash)
}

func reversePrefix(songID string) []byte {
	k := make([]byte, 0, 2+len(songID)+8)
	k = append(k, prefixReverse)
	k = append(k, songID...)
	return append(k, '|')
}

func reverseKey(songID string, hash, offset uint32) []byte {
	k := reversePrefix(songID)
	k = binary.BigEndian.AppendUint32(k, hash)
	return binary.BigEndian.AppendUint32(k, offset)
}

func songKey(id string) []byte {
	return append([]byte{prefixSong}, id...)
}

func fileHashKey(h string) []byte {
	return append([]byte{prefixFileHash}, h...)
}

func metaKey(name string) []byte {
	return append([]byte{prefixMeta}, name...)
}

// parseForwardKey splits a forward key whose 4-byte hash prefix is known.
func parseForwardKey(k []byte) (songID string, offset uint32, ok bool) {
	if len(k) < 1+4+4 {
		return "", 0, false
	}
	return string(k[5 : len(k)-4]), binary.BigEndian.Uint32(k[len(k)-4:]), true
}

func (s *BadgerStore) BindParams(ctx context.Context, signature string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(paramsKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return txn.Set(metaKey(paramsKey), []byte(signature))
		}
		if err != nil {
			return err
		}
		stored, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return checkParams(string(stored), signature)
	})
	if err != nil && !errors.Is(err, ErrParamsMismatch) {
		return unavailable("binding params", err)
	}
	return err
}

func (s *BadgerStore) putSong(song Song) error {
	data, err := json.Marshal(song)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(songKey(song.ID), data); err != nil {
			return err
		}
		if song.Complete && song.FileHash != "" {
			return txn.Set(fileHashKey(song.FileHash), []byte(song.ID))
		}
		return nil
	})
}

func getSong(txn *badger.Txn, id string) (*Song, error) {
	item, err := txn.Get(songKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrSongNotFound
	}
	if err != nil {
		return nil, err
	}
	var song Song
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &song)
	})
	if err != nil {
		return nil, err
	}
	return &song, nil
}

func (s *BadgerStore) Insert(ctx context.Context, song Song, fps []fingerprint.Fingerprint) error {
	if err := validateSong(song); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return unavailable("insert song", err)
	}
	unlock := s.locks.Lock(song.ID)
	defer unlock()

	err := s.db.View(func(txn *badger.Txn) error {
		_, err := getSong(txn, song.ID)
		return err
	})
	switch {
	case err == nil:
		return ErrSongExists
	case !errors.Is(err, ErrSongNotFound):
		return unavailable("checking song", err)
	}

	fps = fingerprint.Dedupe(fps)
	song.FingerprintCount = len(fps)
	song.Complete = false
	if song.CreatedAt.IsZero() {
		song.CreatedAt = time.Now()
	}
	if err := s.putSong(song); err != nil {
		return unavailable("writing song record", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, fp := range fps {
		if err := wb.Set(forwardKey(fp.Hash, song.ID, fp.Offset), nil); err != nil {
			s.rollback(song.ID)
			return unavailable("batch insert fingerprints", err)
		}
		if err := wb.Set(reverseKey(song.ID, fp.Hash, fp.Offset), nil); err != nil {
			s.rollback(song.ID)
			return unavailable("batch insert fingerprints", err)
		}
	}
	if err := wb.Flush(); err != nil {
		s.rollback(song.ID)
		return unavailable("flushing fingerprints", err)
	}

	song.Complete = true
	if err := s.putSong(song); err != nil {
		s.rollback(song.ID)
		return unavailable("completing song record", err)
	}
	return nil
}

// rollback purges a half-written song. A failed purge leaves an incomplete
// record that readers ignore and a later Delete or Clear removes.
func (s *BadgerStore) rollback(songID string) {
	if err := s.purge(songID); err != nil {
		logger.GetLogger().WithError(err).WithField("song_id", songID).Warnf("badger: rollback of song %s failed", songID)
	}
}

func (s *BadgerStore) Lookup(ctx context.Context, hashes []uint32) (map[uint32][]Occurrence, error) {
	out := make(map[uint32][]Occurrence, len(hashes))
	err := s.db.View(func(txn *badger.Txn) error {
		complete := make(map[string]bool)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for _, h := range hashes {
			if err := ctx.Err(); err != nil {
				return err
			}
			prefix := forwardPrefix(h)
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				songID, offset, ok := parseForwardKey(it.Item().Key())
				if !ok {
					continue
				}
				done, seen := complete[songID]
				if !seen {
					song, err := getSong(txn, songID)
					if err != nil && !errors.Is(err, ErrSongNotFound) {
						return err
					}
					done = song != nil && song.Complete
					complete[songID] = done
				}
				if done {
					out[h] = append(out[h], Occurrence{SongID: songID, Offset: offset})
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, unavailable("lookup", err)
	}
	return out, nil
}

func (s *BadgerStore) Delete(ctx context.Context, songID string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("delete song", err)
	}
	unlock := s.locks.Lock(songID)
	defer unlock()

	var song *Song
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		song, err = getSong(txn, songID)
		return err
	})
	if errors.Is(err, ErrSongNotFound) {
		return err
	}
	if err != nil {
		return unavailable("reading song", err)
	}

	// Hide the song before its keys go away.
	song.Complete = false
	if err := s.putSong(*song); err != nil {
		return unavailable("hiding song", err)
	}
	if err := s.purge(songID); err != nil {
		return unavailable("delete song", err)
	}
	return nil
}

// Clear drops every song, fingerprint and file-hash key. Metadata, including
// the parameter signature, is kept.
func (s *BadgerStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return unavailable("clear", err)
	}
	err := s.db.DropPrefix(
		[]byte{prefixSong},
		[]byte{prefixForward},
		[]byte{prefixReverse},
		[]byte{prefixFileHash},
	)
	if err != nil {
		return unavailable("clear", err)
	}
	return nil
}

// purge removes every key belonging to songID, the song record last.
func (s *BadgerStore) purge(songID string) error {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := reversePrefix(songID)
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}

	var fileHash string
	err = s.db.View(func(txn *badger.Txn) error {
		song, err := getSong(txn, songID)
		if err == nil {
			fileHash = song.FileHash
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	n := len(reversePrefix(songID))
	for _, rk := range keys {
		if len(rk) != n+8 {
			continue
		}
		hash := binary.BigEndian.Uint32(rk[n : n+4])
		offset := binary.BigEndian.Uint32(rk[n+4:])
		if err := wb.Delete(forwardKey(hash, songID, offset)); err != nil {
			return err
		}
		if err := wb.Delete(rk); err != nil {
			return err
		}
	}
	if err := wb.Flush(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if fileHash != "" {
			item, err := txn.Get(fileHashKey(fileHash))
			if err == nil {
				owner, err := item.ValueCopy(nil)
				if err == nil && string(owner) == songID {
					if err := txn.Delete(fileHashKey(fileHash)); err != nil {
						return err
					}
				}
			}
		}
		return txn.Delete(songKey(songID))
	})
}

func (s *BadgerStore) Song(ctx context.Context, id string) (*Song, error) {
	var song *Song
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		song, err = getSong(txn, id)
		return err
	})
	if errors.Is(err, ErrSongNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, unavailable("reading song", err)
	}
	if !song.Complete {
		return nil, ErrSongNotFound
	}
	return song, nil
}

func (s *BadgerStore) SongByFileHash(ctx context.Context, fileHash string) (*Song, error) {
	if fileHash == "" {
		return nil, ErrSongNotFound
	}
	var id string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(fileHashKey(fileHash))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrSongNotFound
		}
		if err != nil {
			return err
		}
		v, err := item.ValueCopy(nil)
		id = string(v)
		return err
	})
	if errors.Is(err, ErrSongNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, unavailable("reading file hash", err)
	}
	return s.Song(ctx, id)
}

// eachSong calls fn for every stored song record.
func (s *BadgerStore) eachSong(fn func(Song)) error {
	return s.db.View(func(txn *badger.Txn) error {
		prefix := []byte{prefixSong}
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var song Song
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &song)
			})
			if err != nil {
				return err
			}
			fn(song)
		}
		return nil
	})
}

func (s *BadgerStore) Songs(ctx context.Context) ([]Song, error) {
	var songs []Song
	err := s.eachSong(func(song Song) {
		if song.Complete {
			songs = append(songs, song)
		}
	})
	if err != nil {
		return nil, unavailable("listing songs", err)
	}
	sortSongs(songs)
	return songs, nil
}

func (s *BadgerStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.eachSong(func(song Song) {
		if song.Complete {
			st.SongCount++
			st.FingerprintCount += song.FingerprintCount
		}
	})
	if err != nil {
		return Stats{}, unavailable("stats", err)
	}
	return st, nil
}

func (s *BadgerStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// badgerLogger routes badger's internal messages through the package logger.
type badgerLogger struct {
	l *logger.Logger
}

func (b badgerLogger) Errorf(format string, args ...interface{}) {
	b.l.Errorf("badger: "+format, args...)
}

func (b badgerLogger) Warningf(format string, args ...interface{}) {
	b.l.Warnf("badger: "+format, args...)
}

func (b badgerLogger) Infof(format string, args ...interface{}) {
	b.l.Debugf("badger: "+format, args...)
}

func (b badgerLogger) Debugf(format string, args ...interface{}) {
	b.l.Debugf("badger: "+format, args...)
}
