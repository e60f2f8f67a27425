package fingerprint

import (
	"sort"
)

// Hash layout, most significant first:
//
//	[ anchor freq bin (12) | target freq bin (12) | time delta (8) ]
//
// Bins above MaxFreq or deltas above MaxDelta are rejected by PackHash instead
// of being masked, so unrelated content can never alias onto the same hash.
const (
	FreqBits  = 12
	DeltaBits = 8

	MaxFreq  = 1<<FreqBits - 1
	MaxDelta = 1<<DeltaBits - 1

	targetShift = DeltaBits
	anchorShift = DeltaBits + FreqBits
)

// Fingerprint is one landmark hash and the anchor time bin it was seen at.
type Fingerprint struct {
	Hash   uint32
	Offset uint32
}

// PackHash encodes a peak pair. ok is false when a field does not fit.
func PackHash(anchorFreq, targetFreq, delta int) (uint32, bool) {
	if anchorFreq < 0 || anchorFreq > MaxFreq {
		return 0, false
	}
	if targetFreq < 0 || targetFreq > MaxFreq {
		return 0, false
	}
	if delta < 0 || delta > MaxDelta {
		return 0, false
	}
	return uint32(anchorFreq)<<anchorShift | uint32(targetFreq)<<targetShift | uint32(delta), true
}

func UnpackHash(h uint32) (anchorFreq, targetFreq, delta int) {
	anchorFreq = int(h >> anchorShift & MaxFreq)
	targetFreq = int(h >> targetShift & MaxFreq)
	delta = int(h & MaxDelta)
	return
}

// Hash pairs every anchor with up to FanValue later peaks whose time distance
// lies in [MinTimeDelta, MaxTimeDelta]. Exact duplicates are dropped; the
// order of first appearance is kept.
func Hash(peaks []Peak, p Params) []Fingerprint {
	if len(peaks) == 0 {
		return nil
	}

	sorted := make([]Peak, len(peaks))
	copy(sorted, peaks)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].TimeBin == sorted[j].TimeBin {
			return sorted[i].FreqBin < sorted[j].FreqBin
		}
		return sorted[i].TimeBin < sorted[j].TimeBin
	})

	seen := make(map[Fingerprint]struct{}, len(sorted)*p.FanValue)
	fps := make([]Fingerprint, 0, len(sorted)*p.FanValue)
	for i := 0; i < len(sorted); i++ {
		anchor := sorted[i]
		paired := 0
		for j := i + 1; j < len(sorted) && paired < p.FanValue; j++ {
			target := sorted[j]
			delta := target.TimeBin - anchor.TimeBin
			if delta < p.MinTimeDelta {
				continue
			}
			if delta > p.MaxTimeDelta {
				break
			}
			h, ok := PackHash(anchor.FreqBin, target.FreqBin, delta)
			if !ok {
				continue
			}
			paired++

			fp := Fingerprint{Hash: h, Offset: uint32(anchor.TimeBin)}
			if _, dup := seen[fp]; dup {
				continue
			}
			seen[fp] = struct{}{}
			fps = append(fps, fp)
		}
	}
	return fps
}

// Dedupe drops exact (hash, offset) repeats, keeping first occurrences.
func Dedupe(fps []Fingerprint) []Fingerprint {
	seen := make(map[Fingerprint]struct{}, len(fps))
	out := make([]Fingerprint, 0, len(fps))
	for _, fp := range fps {
		if _, ok := seen[fp]; ok {
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, fp)
	}
	return out
}
