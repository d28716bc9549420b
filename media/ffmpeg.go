package media

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Binary names, swapped in tests.
var (
	FFmpeg  = "ffmpeg"
	FFprobe = "ffprobe"
)

// Check verifies both binaries are on PATH.
func Check() error {
	for _, bin := range []string{FFmpeg, FFprobe} {
		if _, err := exec.LookPath(bin); err != nil {
			return errors.Wrapf(err, "%s not found on PATH", bin)
		}
	}
	return nil
}

// Run invokes ffmpeg with overwrite on and quiet logging. Stderr is kept
// and its tail attached to the error.
func Run(ctx context.Context, args ...string) error {
	full := append([]string{"-y", "-hide_banner", "-loglevel", "error"}, args...)
	cmd := exec.CommandContext(ctx, FFmpeg, full...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "ffmpeg: %s", tail(stderr.String(), 400))
	}
	return nil
}

// ProbeDuration uses ffprobe to get a media file's duration in seconds.
func ProbeDuration(ctx context.Context, path string) (float64, error) {
	out, err := exec.CommandContext(ctx, FFprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	).Output()
	if err != nil {
		return 0, errors.Wrapf(err, "ffprobe %s", path)
	}
	dur, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse duration of %s", path)
	}
	return dur, nil
}

// ExtractFrame writes a single JPEG frame taken at the given second.
func ExtractFrame(ctx context.Context, video string, at float64, out string) error {
	return Run(ctx,
		"-ss", Seconds(at),
		"-i", video,
		"-frames:v", "1",
		"-q:v", "3",
		out,
	)
}

// Seconds formats a timestamp the way ffmpeg options expect.
func Seconds(s float64) string {
	return fmt.Sprintf("%.3f", s)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
