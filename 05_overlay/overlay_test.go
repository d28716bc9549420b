package overlay

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"

	"reels-pipeline/config"
	"reels-pipeline/types"
)

func TestWrap(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{"fits", "Bees dance", 25, "Bees dance"},
		{"breaks at words", "Honeybees dance to tell others where flowers are", 25,
			"Honeybees dance to tell\nothers where flowers are"},
		{"long word stays whole", "supercalifragilistic is long", 10,
			"supercalifragilistic\nis long"},
		{"collapses spaces", "  a   b  ", 25, "a b"},
		{"empty", "", 25, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := wrap(tt.in, tt.limit); got != tt.want {
				t.Errorf("wrap = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFontSize(t *testing.T) {
	tests := []struct{ width, want int }{
		{1080, 67},
		{480, 44},
		{3840, 72},
	}
	for _, tt := range tests {
		if got := fontSize(tt.width, 44, 72); got != tt.want {
			t.Errorf("fontSize(%d) = %d, want %d", tt.width, got, tt.want)
		}
	}
}

func testScript() *types.Script {
	return &types.Script{ID: "bees", Segments: []types.Segment{
		{VisualQuery: "bees", Text: "Bees dance", Duration: 4},
		{VisualQuery: "meadow", Duration: 3},
		{VisualQuery: "hive", Text: "to talk", Duration: 5},
	}}
}

func TestWriteCaptionsTiming(t *testing.T) {
	r := New(config.Default())
	caps, err := r.writeCaptions(testScript(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(caps) != 2 {
		t.Fatalf("captions = %d, want 2 (empty text skipped)", len(caps))
	}
	if caps[1].start != 7 || caps[1].end != 12 {
		t.Errorf("second caption = %.1f..%.1f, want 7..12", caps[1].start, caps[1].end)
	}
	data, _ := os.ReadFile(caps[0].file)
	if string(data) != "Bees dance" {
		t.Errorf("caption text = %q", data)
	}
}

func TestCaptionChain(t *testing.T) {
	cfg := config.Default()
	cfg.Captions.FontFile = "/fonts/Bold:1.ttf"
	r := New(cfg)
	chain := r.captionChain([]caption{{file: "/tmp/c0.txt", start: 0, end: 4}})

	for _, want := range []string{
		`fontfile='/fonts/Bold\:1.ttf'`,
		"fontsize=67",
		"boxcolor=0x1e1e1e@0.70",
		"y=h*0.68-text_h/2",
		"enable='between(t,0.000,4.000)'",
	} {
		if !strings.Contains(chain, want) {
			t.Errorf("chain missing %q:\n%s", want, chain)
		}
	}
	if got := r.captionChain(nil); got != "null" {
		t.Errorf("empty chain = %q", got)
	}
}

func TestBuildArgsAudio(t *testing.T) {
	r := New(config.Default())
	tests := []struct {
		name    string
		opts    types.RenderOptions
		voice   string
		want    []string
		notWant []string
	}{
		{
			name:    "silent",
			opts:    types.RenderOptions{DraftVideo: "d.mp4"},
			want:    []string{"-an"},
			notWant: []string{"[aout]"},
		},
		{
			name: "music only",
			opts: types.RenderOptions{DraftVideo: "d.mp4", MusicFile: "m.mp3", MusicVolume: 0.15},
			want: []string{"-stream_loop -1 -i m.mp3", "[1:a]volume=0.15[aout]"},
		},
		{
			name:  "voice and music",
			opts:  types.RenderOptions{DraftVideo: "d.mp4", MusicFile: "m.mp3", MusicVolume: 0.3},
			voice: "v.mp3",
			want:  []string{"[1:a]apad[a0]", "[2:a]volume=0.30[a1]", "amix=inputs=2"},
		},
		{
			name:    "song replaces bed",
			opts:    types.RenderOptions{DraftVideo: "d.mp4", MusicFile: "m.mp3", SongAudio: "s.mp3"},
			want:    []string{"-i s.mp3", "[1:a]apad[aout]"},
			notWant: []string{"m.mp3"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := strings.Join(r.buildArgs(testScript(), tt.opts, tt.voice, nil, "out.mp4"), " ")
			for _, w := range tt.want {
				if !strings.Contains(args, w) {
					t.Errorf("args missing %q:\n%s", w, args)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(args, w) {
					t.Errorf("args should not contain %q:\n%s", w, args)
				}
			}
			if !strings.Contains(args, "-t 12.000") {
				t.Errorf("args not capped at script length:\n%s", args)
			}
		})
	}
}

func TestRenderMissingInputs(t *testing.T) {
	dir := t.TempDir()
	draft := filepath.Join(dir, "draft.mp4")
	os.WriteFile(draft, []byte("mp4"), 0644)

	tests := []struct {
		name string
		opts types.RenderOptions
	}{
		{"no draft", types.RenderOptions{}},
		{"draft missing", types.RenderOptions{DraftVideo: filepath.Join(dir, "gone.mp4")}},
		{"music missing", types.RenderOptions{DraftVideo: draft, MusicFile: filepath.Join(dir, "gone.mp3")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(config.Default())
			r.run = func(context.Context, ...string) error { t.Fatal("ffmpeg should not run"); return nil }
			_, err := r.Render(context.Background(), testScript(), tt.opts, filepath.Join(dir, "out.mp4"))
			if !types.IsRenderError(err) {
				t.Errorf("err = %v, want RenderError", err)
			}
		})
	}
}

func TestRender(t *testing.T) {
	dir := t.TempDir()
	draft := filepath.Join(dir, "draft.mp4")
	os.WriteFile(draft, []byte("mp4"), 0644)
	output := filepath.Join(dir, "bees_attempt1_final.mp4")

	r := New(config.Default())
	r.run = func(_ context.Context, args ...string) error {
		return os.WriteFile(args[len(args)-1], []byte("final"), 0644)
	}
	got, err := r.Render(context.Background(), testScript(), types.RenderOptions{DraftVideo: draft}, output)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if data, _ := os.ReadFile(got); string(data) != "final" {
		t.Errorf("output = %q", data)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 2 {
		t.Errorf("leftover files in output dir: %v", entries)
	}

	r.run = func(context.Context, ...string) error { return errors.New("boom") }
	if _, err := r.Render(context.Background(), testScript(), types.RenderOptions{DraftVideo: draft}, output); !types.IsRenderError(err) {
		t.Errorf("encoder failure err = %v, want RenderError", err)
	}
}

func TestVoiceEngine(t *testing.T) {
	t.Setenv("TTS_COMMAND", "")
	cfg := config.Default()
	v := NewVoice(cfg)

	v.lookPath = func(string) (string, error) { return "", errors.New("not found") }
	if _, err := v.Engine(); err == nil {
		t.Error("expected error without any engine")
	}

	v.lookPath = func(string) (string, error) { return "/usr/bin/edge-tts", nil }
	if got, _ := v.Engine(); got != edgeTTS {
		t.Errorf("engine = %s, want edge-tts", got)
	}

	t.Setenv("TTS_COMMAND", "tts.py")
	if got, _ := v.Engine(); got != "tts.py" {
		t.Errorf("engine = %s, want env command", got)
	}
	name, args := v.command("tts.py", "hi", "o.mp3")
	if name != "python3" || args[0] != "tts.py" {
		t.Errorf("command = %s %v", name, args)
	}

	cfg.Voiceover.Command = "say-it"
	if got, _ := v.Engine(); got != "say-it" {
		t.Errorf("engine = %s, want config command", got)
	}
}

func TestVoiceGenerateRetries(t *testing.T) {
	t.Setenv("TTS_COMMAND", "")
	v := NewVoice(config.Default())
	v.lookPath = func(string) (string, error) { return "edge-tts", nil }
	v.backoff = time.Millisecond

	calls := 0
	v.exec = func(_ context.Context, name string, args ...string) error {
		calls++
		if calls == 1 {
			return errors.New("flaky")
		}
		return nil
	}
	var concatArgs []string
	v.concat = func(_ context.Context, args ...string) error {
		concatArgs = args
		return nil
	}

	dir := t.TempDir()
	track, err := v.Generate(context.Background(), testScript(), dir)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if calls != 4 {
		t.Errorf("TTS calls = %d, want 4 (one retry plus 3 segments)", calls)
	}
	if track != filepath.Join(dir, "voiceover.mp3") || concatArgs[len(concatArgs)-1] != track {
		t.Errorf("track = %s, concat = %v", track, concatArgs)
	}
	list, _ := os.ReadFile(filepath.Join(dir, "voice_concat.txt"))
	if strings.Count(string(list), "file ") != 3 {
		t.Errorf("concat list = %q", list)
	}

	v.exec = func(context.Context, string, ...string) error { return errors.New("dead") }
	if _, err := v.Generate(context.Background(), testScript(), dir); err == nil {
		t.Error("expected failure after retries")
	}
}
