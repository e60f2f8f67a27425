package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/himanishpuri/peakprint/pkg/peakprint/fingerprint"
)

const (
	DefaultDBFile = "peakprint.sqlite3"

	insertBatchSize = 500
	lookupChunkSize = 1000
	paramsKey       = "params"
)

type songRow struct {
	ID               string `gorm:"primaryKey;type:varchar(36)"`
	Name             string `gorm:"index:idx_song_name"`
	FileHash         string `gorm:"index:idx_song_file_hash"`
	FingerprintCount int
	DurationMs       int
	Complete         bool
	CreatedAt        time.Time
}

func (songRow) TableName() string { return "songs" }

type fingerprintRow struct {
	Hash   uint32 `gorm:"primaryKey;autoIncrement:false"`
	SongID string `gorm:"primaryKey;type:varchar(36);index:idx_fingerprint_song"`
	Offset uint32 `gorm:"primaryKey;autoIncrement:false;column:anchor_offset"`
}

func (fingerprintRow) TableName() string { return "fingerprints" }

type metaRow struct {
	Key   string `gorm:"primaryKey;column:meta_key"`
	Value string
}

func (metaRow) TableName() string { return "store_meta" }

// SQLiteStore keeps songs and fingerprints in one SQLite file through GORM.
// Each song is written in a single transaction.
type SQLiteStore struct {
	db    *gorm.DB
	sqlDB *sql.DB

	// SQLite allows one writer; serialising here avoids busy retries.
	writeMu sync.Mutex
	locks   *songLocks
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = DefaultDBFile
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	dsn := dbPath + "?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig)
	if err != nil {
		return nil, unavailable("opening sqlite db", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, unavailable("getting sql.DB from gorm", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&songRow{}, &fingerprintRow{}, &metaRow{}); err != nil {
		sqlDB.Close()
		return nil, unavailable("auto migrate", err)
	}

	return &SQLiteStore{db: db, sqlDB: sqlDB, locks: newSongLocks()}, nil
}

func (s *SQLiteStore) BindParams(ctx context.Context, signature string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var row metaRow
	err := s.db.WithContext(ctx).Where("meta_key = ?", paramsKey).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := s.db.WithContext(ctx).Create(&metaRow{Key: paramsKey, Value: signature}).Error; err != nil {
			return unavailable("storing params", err)
		}
		return nil
	}
	if err != nil {
		return unavailable("reading params", err)
	}
	return checkParams(row.Value, signature)
}

func (s *SQLiteStore) Insert(ctx context.Context, song Song, fps []fingerprint.Fingerprint) error {
	if err := validateSong(song); err != nil {
		return err
	}
	unlock := s.locks.Lock(song.ID)
	defer unlock()

	fps = fingerprint.Dedupe(fps)
	if song.CreatedAt.IsZero() {
		song.CreatedAt = time.Now()
	}
	row := songRow{
		ID:               song.ID,
		Name:             song.Name,
		FileHash:         song.FileHash,
		FingerprintCount: len(fps),
		DurationMs:       song.DurationMs,
		Complete:         true,
		CreatedAt:        song.CreatedAt,
	}

	rows := make([]fingerprintRow, len(fps))
	for i, fp := range fps {
		rows[i] = fingerprintRow{Hash: fp.Hash, SongID: song.ID, Offset: fp.Offset}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var existing int64
	if err := s.db.WithContext(ctx).Model(&songRow{}).Where("id = ?", song.ID).Count(&existing).Error; err != nil {
		return unavailable("checking song", err)
	}
	if existing > 0 {
		return ErrSongExists
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("creating song: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(rows, insertBatchSize).Error; err != nil {
			return fmt.Errorf("batch insert fingerprints: %w", err)
		}
		return nil
	})
	if err != nil {
		return unavailable("insert song", err)
	}
	return nil
}

// Lookup runs its chunked queries inside one read transaction, so in WAL mode
// every chunk sees the same snapshot and a song committed mid-lookup is either
// seen in full or not at all.
func (s *SQLiteStore) Lookup(ctx context.Context, hashes []uint32) (map[uint32][]Occurrence, error) {
	out := make(map[uint32][]Occurrence, len(hashes))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for start := 0; start < len(hashes); start += lookupChunkSize {
			end := start + lookupChunkSize
			if end > len(hashes) {
				end = len(hashes)
			}

			var rows []fingerprintRow
			err := tx.Select("fingerprints.hash, fingerprints.song_id, fingerprints.anchor_offset").
				Joins("JOIN songs ON songs.id = fingerprints.song_id AND songs.complete = ?", true).
				Where("fingerprints.hash IN ?", hashes[start:end]).
				Find(&rows).Error
			if err != nil {
				return err
			}
			for _, r := range rows {
				out[r.Hash] = append(out[r.Hash], Occurrence{SongID: r.SongID, Offset: r.Offset})
			}
		}
		return nil
	})
	if err != nil {
		return nil, unavailable("batch querying fingerprints", err)
	}
	return out, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, songID string) error {
	unlock := s.locks.Lock(songID)
	defer unlock()
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", songID).Delete(&songRow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrSongNotFound
		}
		return tx.Where("song_id = ?", songID).Delete(&fingerprintRow{}).Error
	})
	if errors.Is(err, ErrSongNotFound) {
		return err
	}
	if err != nil {
		return unavailable("delete song", err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM fingerprints").Error; err != nil {
			return err
		}
		return tx.Exec("DELETE FROM songs").Error
	})
	if err != nil {
		return unavailable("clear", err)
	}
	return nil
}

func (s *SQLiteStore) Song(ctx context.Context, id string) (*Song, error) {
	return s.findSong(ctx, "id = ?", id)
}

func (s *SQLiteStore) SongByFileHash(ctx context.Context, fileHash string) (*Song, error) {
	if fileHash == "" {
		return nil, ErrSongNotFound
	}
	return s.findSong(ctx, "file_hash = ?", fileHash)
}

func (s *SQLiteStore) findSong(ctx context.Context, query string, arg any) (*Song, error) {
	var row songRow
	err := s.db.WithContext(ctx).Where(query, arg).Where("complete = ?", true).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSongNotFound
	}
	if err != nil {
		return nil, unavailable("querying song", err)
	}
	song := row.toSong()
	return &song, nil
}

func (s *SQLiteStore) Songs(ctx context.Context) ([]Song, error) {
	var rows []songRow
	if err := s.db.WithContext(ctx).Where("complete = ?", true).Order("name, id").Find(&rows).Error; err != nil {
		return nil, unavailable("listing songs", err)
	}
	songs := make([]Song, len(rows))
	for i, r := range rows {
		songs[i] = r.toSong()
	}
	return songs, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var songs, fps int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&songRow{}).Where("complete = ?", true).Count(&songs).Error; err != nil {
			return fmt.Errorf("counting songs: %w", err)
		}
		err := tx.Model(&fingerprintRow{}).
			Joins("JOIN songs ON songs.id = fingerprints.song_id AND songs.complete = ?", true).
			Count(&fps).Error
		if err != nil {
			return fmt.Errorf("counting fingerprints: %w", err)
		}
		return nil
	})
	if err != nil {
		return Stats{}, unavailable("stats", err)
	}
	return Stats{SongCount: int(songs), FingerprintCount: int(fps)}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (r songRow) toSong() Song {
	return Song{
		ID:               r.ID,
		Name:             r.Name,
		FileHash:         r.FileHash,
		FingerprintCount: r.FingerprintCount,
		DurationMs:       r.DurationMs,
		Complete:         r.Complete,
		CreatedAt:        r.CreatedAt,
	}
}
