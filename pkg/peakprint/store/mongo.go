package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/himanishpuri/peakprint/pkg/logger"
	"github.com/himanishpuri/peakprint/pkg/peakprint/fingerprint"
)

const (
	DefaultMongoDatabase = "peakprint"

	mongoConnectTimeout = 10 * time.Second
)

type mongoSong struct {
	ID               string    `bson:"_id"`
	Name             string    `bson:"name"`
	FileHash         string    `bson:"file_hash,omitempty"`
	FingerprintCount int       `bson:"fingerprint_count"`
	DurationMs       int       `bson:"duration_ms"`
	Complete         bool      `bson:"complete"`
	CreatedAt        time.Time `bson:"created_at"`
	// CompletedAt is server time, set together with Complete.
	CompletedAt time.Time `bson:"completed_at,omitempty"`
}

type mongoFingerprint struct {
	Hash   int64  `bson:"hash"`
	SongID string `bson:"song_id"`
	Offset int64  `bson:"offset"`
}

type mongoMeta struct {
	Key   string `bson:"_id"`
	Value string `bson:"value"`
}

// MongoStore spreads songs and fingerprints over two collections. Multi-document
// writes are not transactional on standalone servers, so songs are inserted
// incomplete and flipped to complete once all fingerprints are written.
type MongoStore struct {
	client       *mongo.Client
	songs        *mongo.Collection
	fingerprints *mongo.Collection
	meta         *mongo.Collection
	locks        *songLocks
}

func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	if database == "" {
		database = DefaultMongoDatabase
	}
	ctx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, unavailable("connecting to mongo", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, unavailable("pinging mongo", err)
	}

	db := client.Database(database)
	s := &MongoStore{
		client:       client,
		songs:        db.Collection("songs"),
		fingerprints: db.Collection("fingerprints"),
		meta:         db.Collection("meta"),
		locks:        newSongLocks(),
	}

	_, err = s.fingerprints.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "hash", Value: 1}}},
		{Keys: bson.D{{Key: "song_id", Value: 1}}},
		{
			Keys:    bson.D{{Key: "hash", Value: 1}, {Key: "song_id", Value: 1}, {Key: "offset", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	})
	if err != nil {
		client.Disconnect(context.Background())
		return nil, unavailable("creating fingerprint indexes", err)
	}
	_, err = s.songs.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "file_hash", Value: 1}}})
	if err != nil {
		client.Disconnect(context.Background())
		return nil, unavailable("creating song indexes", err)
	}
	return s, nil
}

func (s *MongoStore) BindParams(ctx context.Context, signature string) error {
	var m mongoMeta
	err := s.meta.FindOne(ctx, bson.M{"_id": paramsKey}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		_, err = s.meta.InsertOne(ctx, mongoMeta{Key: paramsKey, Value: signature})
		if mongo.IsDuplicateKeyError(err) {
			return s.BindParams(ctx, signature)
		}
		if err != nil {
			return unavailable("storing params", err)
		}
		return nil
	}
	if err != nil {
		return unavailable("reading params", err)
	}
	return checkParams(m.Value, signature)
}

func (s *MongoStore) Insert(ctx context.Context, song Song, fps []fingerprint.Fingerprint) error {
	if err := validateSong(song); err != nil {
		return err
	}
	unlock := s.locks.Lock(song.ID)
	defer unlock()

	fps = fingerprint.Dedupe(fps)
	if song.CreatedAt.IsZero() {
		song.CreatedAt = time.Now()
	}
	doc := mongoSong{
		ID:               song.ID,
		Name:             song.Name,
		FileHash:         song.FileHash,
		FingerprintCount: len(fps),
		DurationMs:       song.DurationMs,
		CreatedAt:        song.CreatedAt.UTC(),
	}
	if _, err := s.songs.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrSongExists
		}
		return unavailable("creating song", err)
	}

	if len(fps) > 0 {
		docs := make([]interface{}, len(fps))
		for i, fp := range fps {
			docs[i] = mongoFingerprint{Hash: int64(fp.Hash), SongID: song.ID, Offset: int64(fp.Offset)}
		}
		_, err := s.fingerprints.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
		if err != nil && !mongo.IsDuplicateKeyError(err) {
			s.rollback(song.ID)
			return unavailable("batch insert fingerprints", err)
		}
	}

	_, err := s.songs.UpdateByID(ctx, song.ID, bson.M{
		"$set":         bson.M{"complete": true},
		"$currentDate": bson.M{"completed_at": true},
	})
	if err != nil {
		s.rollback(song.ID)
		return unavailable("completing song", err)
	}
	return nil
}

// rollback purges a half-written song. A failed purge leaves an incomplete
// record that readers ignore and a later Delete or Clear removes.
func (s *MongoStore) rollback(songID string) {
	if err := s.purge(context.Background(), songID); err != nil {
		logger.GetLogger().WithError(err).WithField("song_id", songID).Warnf("mongo: rollback of song %s failed", songID)
	}
}

// Lookup fetches occurrences in chunks, which are separate reads and not one
// snapshot. To keep a song all-or-nothing across chunks, only songs completed
// before the first chunk was read and still complete after the last one are
// returned.
func (s *MongoStore) Lookup(ctx context.Context, hashes []uint32) (map[uint32][]Occurrence, error) {
	since, err := s.serverTime(ctx)
	if err != nil {
		return nil, err
	}

	var rows []mongoFingerprint
	for start := 0; start < len(hashes); start += lookupChunkSize {
		end := start + lookupChunkSize
		if end > len(hashes) {
			end = len(hashes)
		}
		in := make([]int64, 0, end-start)
		for _, h := range hashes[start:end] {
			in = append(in, int64(h))
		}

		cur, err := s.fingerprints.Find(ctx, bson.M{"hash": bson.M{"$in": in}})
		if err != nil {
			return nil, unavailable("batch querying fingerprints", err)
		}
		var chunk []mongoFingerprint
		if err := cur.All(ctx, &chunk); err != nil {
			return nil, unavailable("reading fingerprints", err)
		}
		rows = append(rows, chunk...)
	}

	complete, err := s.completeBefore(ctx, rows, since)
	if err != nil {
		return nil, err
	}
	out := make(map[uint32][]Occurrence, len(hashes))
	for _, r := range rows {
		if complete[r.SongID] {
			h := uint32(r.Hash)
			out[h] = append(out[h], Occurrence{SongID: r.SongID, Offset: uint32(r.Offset)})
		}
	}
	return out, nil
}

// serverTime reads the server clock, the one completed_at is stamped with.
func (s *MongoStore) serverTime(ctx context.Context) (time.Time, error) {
	var hello struct {
		LocalTime time.Time `bson:"localTime"`
	}
	err := s.client.Database("admin").RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&hello)
	if err != nil {
		return time.Time{}, unavailable("reading server time", err)
	}
	return hello.LocalTime, nil
}

// completeBefore returns the songs among rows that are complete now and were
// completed no later than since, at the server's millisecond resolution.
func (s *MongoStore) completeBefore(ctx context.Context, rows []mongoFingerprint, since time.Time) (map[string]bool, error) {
	seen := make(map[string]bool)
	var ids []string
	for _, r := range rows {
		if _, ok := seen[r.SongID]; !ok {
			seen[r.SongID] = false
			ids = append(ids, r.SongID)
		}
	}

	for start := 0; start < len(ids); start += lookupChunkSize {
		end := start + lookupChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		filter := bson.M{
			"_id":          bson.M{"$in": ids[start:end]},
			"complete":     true,
			"completed_at": bson.M{"$lte": since},
		}
		cur, err := s.songs.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
		if err != nil {
			return nil, unavailable("querying songs", err)
		}
		var done []mongoSong
		if err := cur.All(ctx, &done); err != nil {
			return nil, unavailable("reading songs", err)
		}
		for _, d := range done {
			seen[d.ID] = true
		}
	}
	return seen, nil
}

func (s *MongoStore) Delete(ctx context.Context, songID string) error {
	unlock := s.locks.Lock(songID)
	defer unlock()

	res, err := s.songs.UpdateByID(ctx, songID, bson.M{"$set": bson.M{"complete": false}})
	if err != nil {
		return unavailable("hiding song", err)
	}
	if res.MatchedCount == 0 {
		return ErrSongNotFound
	}
	if err := s.purge(ctx, songID); err != nil {
		return unavailable("delete song", err)
	}
	return nil
}

// Clear hides every song before removing fingerprints and songs, so
// concurrent lookups never see a partly cleared song.
func (s *MongoStore) Clear(ctx context.Context) error {
	if _, err := s.songs.UpdateMany(ctx, bson.M{}, bson.M{"$set": bson.M{"complete": false}}); err != nil {
		return unavailable("hiding songs", err)
	}
	if _, err := s.fingerprints.DeleteMany(ctx, bson.M{}); err != nil {
		return unavailable("clearing fingerprints", err)
	}
	if _, err := s.songs.DeleteMany(ctx, bson.M{}); err != nil {
		return unavailable("clearing songs", err)
	}
	return nil
}

func (s *MongoStore) purge(ctx context.Context, songID string) error {
	if _, err := s.fingerprints.DeleteMany(ctx, bson.M{"song_id": songID}); err != nil {
		return err
	}
	_, err := s.songs.DeleteOne(ctx, bson.M{"_id": songID})
	return err
}

func (s *MongoStore) Song(ctx context.Context, id string) (*Song, error) {
	return s.findSong(ctx, bson.M{"_id": id, "complete": true})
}

func (s *MongoStore) SongByFileHash(ctx context.Context, fileHash string) (*Song, error) {
	if fileHash == "" {
		return nil, ErrSongNotFound
	}
	return s.findSong(ctx, bson.M{"file_hash": fileHash, "complete": true})
}

func (s *MongoStore) findSong(ctx context.Context, filter bson.M) (*Song, error) {
	var doc mongoSong
	err := s.songs.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrSongNotFound
	}
	if err != nil {
		return nil, unavailable("querying song", err)
	}
	song := doc.toSong()
	return &song, nil
}

func (s *MongoStore) Songs(ctx context.Context) ([]Song, error) {
	cur, err := s.songs.Find(ctx, bson.M{"complete": true},
		options.Find().SetSort(bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, unavailable("listing songs", err)
	}
	var docs []mongoSong
	if err := cur.All(ctx, &docs); err != nil {
		return nil, unavailable("reading songs", err)
	}
	songs := make([]Song, len(docs))
	for i, d := range docs {
		songs[i] = d.toSong()
	}
	return songs, nil
}

// Stats counts complete songs and the fingerprints recorded on them, so
// half-written or half-deleted songs are left out.
func (s *MongoStore) Stats(ctx context.Context) (Stats, error) {
	cur, err := s.songs.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"complete": true}}},
		{{Key: "$group", Value: bson.M{
			"_id":          nil,
			"songs":        bson.M{"$sum": 1},
			"fingerprints": bson.M{"$sum": "$fingerprint_count"},
		}}},
	})
	if err != nil {
		return Stats{}, unavailable("counting songs", err)
	}
	var totals []struct {
		Songs        int64 `bson:"songs"`
		Fingerprints int64 `bson:"fingerprints"`
	}
	if err := cur.All(ctx, &totals); err != nil {
		return Stats{}, unavailable("reading song totals", err)
	}
	if len(totals) == 0 {
		return Stats{}, nil
	}
	return Stats{SongCount: int(totals[0].Songs), FingerprintCount: int(totals[0].Fingerprints)}, nil
}

func (s *MongoStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Disconnect(context.Background())
}

// Drop removes the whole database. Used by tests.
func (s *MongoStore) Drop(ctx context.Context) error {
	return s.songs.Database().Drop(ctx)
}

func (d mongoSong) toSong() Song {
	return Song{
		ID:               d.ID,
		Name:             d.Name,
		FileHash:         d.FileHash,
		FingerprintCount: d.FingerprintCount,
		DurationMs:       d.DurationMs,
		Complete:         d.Complete,
		CreatedAt:        d.CreatedAt,
	}
}
