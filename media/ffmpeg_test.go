package media

import (
	"context"
	"strings"
	"testing"
)

func TestSeconds(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0.000"},
		{2.5, "2.500"},
		{12.3456, "12.346"},
	}
	for _, tt := range tests {
		if got := Seconds(tt.in); got != tt.want {
			t.Errorf("Seconds(%v) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestTail(t *testing.T) {
	if got := tail("  short  ", 10); got != "short" {
		t.Errorf("tail = %q", got)
	}
	got := tail(strings.Repeat("a", 20)+"END", 5)
	if got != "...aaEND" {
		t.Errorf("tail = %q", got)
	}
}

func TestMissingBinaries(t *testing.T) {
	oldFF, oldProbe := FFmpeg, FFprobe
	FFmpeg, FFprobe = "definitely-not-ffmpeg", "definitely-not-ffprobe"
	defer func() { FFmpeg, FFprobe = oldFF, oldProbe }()

	if err := Check(); err == nil {
		t.Error("Check passed with missing binaries")
	}
	if err := Run(context.Background(), "-version"); err == nil {
		t.Error("Run succeeded with missing binary")
	}
	if _, err := ProbeDuration(context.Background(), "x.mp4"); err == nil {
		t.Error("ProbeDuration succeeded with missing binary")
	}
}
