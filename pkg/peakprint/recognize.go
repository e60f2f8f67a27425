package peakprint

import (
	"context"
	"time"

	"github.com/himanishpuri/peakprint/pkg/logger"
	"github.com/himanishpuri/peakprint/pkg/peakprint/audio"
	"github.com/himanishpuri/peakprint/pkg/peakprint/fingerprint"
	"github.com/himanishpuri/peakprint/pkg/peakprint/match"
)

// Recognize matches query fingerprints against the store. A context without
// a deadline gets MatchTimeout.
func (s *peakService) Recognize(ctx context.Context, query []fingerprint.Fingerprint) (*MatchResult, error) {
	start := time.Now()
	if _, ok := ctx.Deadline(); !ok && s.config.MatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.MatchTimeout)
		defer cancel()
	}

	r, err := match.Recognize(ctx, query, &cachedSource{store: s.store, songs: s.songs}, match.Config{
		MinMatchCount: s.config.MinMatchCount,
		HopSize:       s.config.Params.HopSize(),
		SampleRate:    s.config.Params.SampleRate,
	})
	if err != nil {
		return nil, err
	}

	res := fromMatch(r)
	res.TotalTime = time.Since(start)
	switch res.Status {
	case match.StatusMatched:
		s.with(logger.Fields{"song_id": res.SongID, "score": res.Score}).Infof("Matched %q (ID=%s) score=%d offset=%.2fs confidence=%.3f",
			res.SongName, res.SongID, res.Score, res.OffsetSeconds, res.Confidence)
	case match.StatusNoMatch:
		s.log.Infof("No match: %d/%d hashes found, best candidates %d", res.HashesMatched, res.HashesTotal, len(res.Candidates))
	default:
		s.log.Infof("Query too short or quiet to recognize")
	}
	return res, nil
}

// MatchSamples fingerprints a decoded buffer and recognizes it.
func (s *peakService) MatchSamples(ctx context.Context, samples []float64, sampleRate int) (*MatchResult, error) {
	start := time.Now()
	gen, err := s.generate(ctx, samples, sampleRate)
	if err != nil {
		return nil, err
	}
	s.log.Debugf("Query has %d peaks, %d fingerprints", gen.Peaks, len(gen.Fingerprints))

	res, err := s.Recognize(ctx, gen.Fingerprints)
	if err != nil {
		return nil, err
	}
	res.FingerprintTime = gen.Elapsed
	res.TotalTime = time.Since(start)
	return res, nil
}

// MatchFile decodes audioPath and recognizes it.
func (s *peakService) MatchFile(ctx context.Context, audioPath string) (*MatchResult, error) {
	start := time.Now()
	s.log.Infof("Matching audio: %s", audioPath)

	samples, err := audio.Decode(ctx, audioPath, audio.DecodeConfig{
		SampleRate: s.config.Params.SampleRate,
		TempDir:    s.config.TempDir,
	})
	if err != nil {
		return nil, err
	}

	res, err := s.MatchSamples(ctx, samples, s.config.Params.SampleRate)
	if err != nil {
		return nil, err
	}
	res.TotalTime = time.Since(start)
	return res, nil
}
