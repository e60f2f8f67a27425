package audio

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dhowden/tag"
)

type Metadata struct {
	Filename    string
	Title       string
	Artist      string
	Album       string
	DurationSec float64
	SampleRate  int
	Channels    int
	BitDepth    int
	Format      string
}

// ReadTags reads embedded ID3, MP4, FLAC or Ogg tags in-process. Stream
// properties are left zero; use ReadMetadata for those.
func ReadTags(path string) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return nil, err
	}
	return &Metadata{
		Filename: filepath.Base(path),
		Title:    m.Title(),
		Artist:   m.Artist(),
		Album:    m.Album(),
		Format:   string(m.FileType()),
	}, nil
}

// ReadMetadata asks ffprobe for the first audio stream and the container tags.
func ReadMetadata(ctx context.Context, path string) (*Metadata, error) {
	out, err := runTool(ctx, probeTimeout, "ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		return nil, err
	}
	return parseProbe(path, out)
}

type probeReport struct {
	Streams []struct {
		CodecType     string `json:"codec_type"`
		SampleRate    string `json:"sample_rate"`
		Channels      int    `json:"channels"`
		BitsPerSample int    `json:"bits_per_sample"`
	} `json:"streams"`
	Format struct {
		Duration string            `json:"duration"`
		Name     string            `json:"format_name"`
		Tags     map[string]string `json:"tags"`
	} `json:"format"`
}

// tagValue looks key up ignoring case; containers disagree on tag capitalisation.
func (r *probeReport) tagValue(key string) string {
	for k, v := range r.Format.Tags {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

func parseProbe(path string, out []byte) (*Metadata, error) {
	var r probeReport
	if err := json.Unmarshal(out, &r); err != nil {
		return nil, fmt.Errorf("decoding ffprobe output: %w", err)
	}

	for _, s := range r.Streams {
		if s.CodecType != "audio" {
			continue
		}
		meta := &Metadata{
			Filename: filepath.Base(path),
			Title:    r.tagValue("title"),
			Artist:   r.tagValue("artist"),
			Album:    r.tagValue("album"),
			Channels: s.Channels,
			BitDepth: s.BitsPerSample,
			Format:   r.Format.Name,
		}
		meta.DurationSec, _ = strconv.ParseFloat(r.Format.Duration, 64)
		meta.SampleRate, _ = strconv.Atoi(s.SampleRate)
		return meta, nil
	}
	return nil, fmt.Errorf("%s: no audio stream", filepath.Base(path))
}
