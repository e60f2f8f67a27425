package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/himanishpuri/peakprint/pkg/utils"
)

// ErrToolMissing means ffmpeg or ffprobe is not on PATH.
var ErrToolMissing = errors.New("external audio tool not found")

const (
	convertTimeout = 2 * time.Minute
	probeTimeout   = 5 * time.Second
)

// runTool executes an ffmpeg-family binary and returns its stdout. A context
// without a deadline is bounded by timeout.
func runTool(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		switch {
		case errors.Is(err, exec.ErrNotFound):
			return nil, fmt.Errorf("%w: %s", ErrToolMissing, name)
		case ctx.Err() != nil:
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s failed: %w (%s)", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

type ConvertWAVConfig struct {
	SampleRate int
}

// ConvertToMonoWAV transcodes inputPath into a 16-bit mono WAV inside
// outputDir and returns its path. Names carry a random suffix so equally named
// inputs converted in parallel never collide. The caller removes the file.
func ConvertToMonoWAV(ctx context.Context, inputPath, outputDir string, cfg ConvertWAVConfig) (string, error) {
	rate := cfg.SampleRate
	if rate == 0 {
		rate = DefaultSampleRate
	}
	if err := utils.MakeDir(outputDir); err != nil {
		return "", err
	}

	final := filepath.Join(outputDir, fmt.Sprintf("%s-%s.wav", utils.FileStem(inputPath), uuid.NewString()[:8]))
	partial := final + ".part"
	defer utils.DeleteFile(partial)

	_, err := runTool(ctx, convertTimeout, "ffmpeg",
		"-y", "-v", "error",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(rate),
		"-c:a", "pcm_s16le",
		"-f", "wav",
		partial,
	)
	if err != nil {
		return "", err
	}

	if err := utils.MoveFile(partial, final); err != nil {
		return "", err
	}
	return final, nil
}
