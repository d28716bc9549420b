package overlay

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"reels-pipeline/artifact"
	"reels-pipeline/config"
	"reels-pipeline/logging"
	"reels-pipeline/media"
	"reels-pipeline/types"
)

var fontCandidates = []string{
	"/usr/share/fonts/truetype/dejavu/DejaVuSans-Bold.ttf",
	"/usr/share/fonts/dejavu/DejaVuSans-Bold.ttf",
	"/System/Library/Fonts/Supplemental/Arial Bold.ttf",
	"/System/Library/Fonts/Supplemental/Arial Black.ttf",
	"/System/Library/Fonts/Supplemental/Arial.ttf",
}

// Renderer burns captions into the draft and lays down the audio bed.
type Renderer struct {
	cfg   *config.Config
	voice *Voice
	run   func(ctx context.Context, args ...string) error
}

// New creates a new Renderer
func New(cfg *config.Config) *Renderer {
	return &Renderer{cfg: cfg, voice: NewVoice(cfg), run: media.Run}
}

// Render writes the polished video for one attempt to output.
func (r *Renderer) Render(ctx context.Context, script *types.Script, opts types.RenderOptions, output string) (string, error) {
	const op = "overlay.Render"
	log := logging.Stage("overlay").WithField("script", script.ID)

	if opts.DraftVideo == "" {
		return "", types.NewRenderError(op, nil, "no draft video given")
	}
	if _, err := os.Stat(opts.DraftVideo); err != nil {
		return "", types.NewRenderError(op, err, "draft video not found")
	}
	for _, in := range []string{opts.MusicFile, opts.SongAudio} {
		if in == "" {
			continue
		}
		if _, err := os.Stat(in); err != nil {
			return "", types.NewRenderError(op, err, "audio input not found")
		}
	}
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return "", types.NewRenderError(op, err, "create output dir")
	}

	workDir, err := os.MkdirTemp(filepath.Dir(output), ".overlay-")
	if err != nil {
		return "", types.NewRenderError(op, err, "create work dir")
	}
	defer os.RemoveAll(workDir)

	captions, err := r.writeCaptions(script, workDir)
	if err != nil {
		return "", types.NewRenderError(op, err, "write caption files")
	}

	var voiceTrack string
	if opts.Voiceover && opts.SongAudio == "" {
		log.Info("Generating voiceover...")
		voiceTrack, err = r.voice.Generate(ctx, script, workDir)
		if err != nil {
			return "", types.NewRenderError(op, err, "voiceover")
		}
	}

	tmp := artifact.TempPath(output)
	args := r.buildArgs(script, opts, voiceTrack, captions, tmp)
	log.WithField("output", filepath.Base(output)).Infof("Rendering overlay (%d captions, voiceover=%t, music=%t, song=%t)",
		len(captions), voiceTrack != "", opts.MusicFile != "", opts.SongAudio != "")
	if err := r.run(ctx, args...); err != nil {
		os.Remove(tmp)
		return "", types.NewRenderError(op, err, "encode final video")
	}
	if err := artifact.Commit(tmp, output); err != nil {
		return "", types.NewRenderError(op, err, "commit final video")
	}
	return output, nil
}

// caption is one timed block of burned-in text.
type caption struct {
	file       string
	start, end float64
}

// writeCaptions stores each segment's wrapped text in its own file so
// drawtext never has to escape the text itself.
func (r *Renderer) writeCaptions(script *types.Script, dir string) ([]caption, error) {
	var out []caption
	var t float64
	for i, seg := range script.Segments {
		start := t
		t += seg.Duration
		if strings.TrimSpace(seg.Text) == "" {
			continue
		}
		path := filepath.Join(dir, fmt.Sprintf("caption_%03d.txt", i))
		if err := os.WriteFile(path, []byte(wrap(seg.Text, r.cfg.Captions.MaxCharsPerLine)), 0644); err != nil {
			return nil, err
		}
		out = append(out, caption{file: path, start: start, end: t})
	}
	return out, nil
}

func (r *Renderer) buildArgs(script *types.Script, opts types.RenderOptions, voiceTrack string, captions []caption, output string) []string {
	args := []string{"-i", opts.DraftVideo}
	next := 1
	var audioFilters []string

	if opts.SongAudio != "" {
		args = append(args, "-i", opts.SongAudio)
		audioFilters = append(audioFilters, fmt.Sprintf("[%d:a]apad[aout]", next))
	} else {
		var streams []string
		if voiceTrack != "" {
			args = append(args, "-i", voiceTrack)
			streams = append(streams, fmt.Sprintf("[%d:a]apad", next))
			next++
		}
		if opts.MusicFile != "" {
			args = append(args, "-stream_loop", "-1", "-i", opts.MusicFile)
			streams = append(streams, fmt.Sprintf("[%d:a]volume=%.2f", next, opts.MusicVolume))
		}
		switch len(streams) {
		case 1:
			audioFilters = append(audioFilters, streams[0]+"[aout]")
		case 2:
			audioFilters = append(audioFilters,
				streams[0]+"[a0]",
				streams[1]+"[a1]",
				"[a0][a1]amix=inputs=2:duration=longest:normalize=0[aout]",
			)
		}
	}

	filters := []string{"[0:v]" + r.captionChain(captions) + "[vout]"}
	filters = append(filters, audioFilters...)
	args = append(args,
		"-filter_complex", strings.Join(filters, ";"),
		"-map", "[vout]",
	)
	if len(audioFilters) > 0 {
		args = append(args, "-map", "[aout]", "-c:a", "aac", "-b:a", "192k")
	} else {
		args = append(args, "-an")
	}
	return append(args,
		"-t", media.Seconds(script.TotalDuration()),
		"-c:v", "libx264",
		"-preset", r.cfg.Visuals.Preset,
		"-crf", fmt.Sprintf("%d", r.cfg.Visuals.CRF),
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		output,
	)
}

// captionChain joins one drawtext per caption, or passes the video through.
func (r *Renderer) captionChain(captions []caption) string {
	if len(captions) == 0 {
		return "null"
	}
	c := r.cfg.Captions
	size := fontSize(r.cfg.Visuals.Width, c.MinFontSize, c.MaxFontSize)
	font := r.fontFile()

	parts := make([]string, 0, len(captions))
	for _, cp := range captions {
		var sb strings.Builder
		sb.WriteString("drawtext=")
		if font != "" {
			sb.WriteString("fontfile='" + escapeFilterPath(font) + "':")
		}
		fmt.Fprintf(&sb, "textfile='%s':fontcolor=white:fontsize=%d:line_spacing=8", escapeFilterPath(cp.file), size)
		fmt.Fprintf(&sb, ":box=1:boxcolor=%s@%.2f:boxborderw=%d", c.BoxColor, c.BoxOpacity, size/2)
		fmt.Fprintf(&sb, ":x=(w-text_w)/2:y=h*%.2f-text_h/2", c.VerticalAnchor)
		fmt.Fprintf(&sb, ":enable='between(t,%.3f,%.3f)'", cp.start, cp.end)
		parts = append(parts, sb.String())
	}
	return strings.Join(parts, ",")
}

func (r *Renderer) fontFile() string {
	if r.cfg.Captions.FontFile != "" {
		return r.cfg.Captions.FontFile
	}
	for _, p := range fontCandidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// fontSize scales with frame width, clamped to the configured range.
func fontSize(width, lo, hi int) int {
	size := width / 16
	if size < lo {
		size = lo
	}
	if size > hi {
		size = hi
	}
	return size
}

// wrap breaks text at word boundaries so no line exceeds limit characters,
// unless a single word is longer than that.
func wrap(text string, limit int) string {
	var lines []string
	var current []string
	n := 0
	for _, w := range strings.Fields(text) {
		need := len(w)
		if len(current) > 0 {
			need++
		}
		if n+need <= limit || len(current) == 0 {
			current = append(current, w)
			n += need
			continue
		}
		lines = append(lines, strings.Join(current, " "))
		current = []string{w}
		n = len(w)
	}
	if len(current) > 0 {
		lines = append(lines, strings.Join(current, " "))
	}
	return strings.Join(lines, "\n")
}

func escapeFilterPath(p string) string {
	r := strings.NewReplacer(`\`, `\\`, `:`, `\:`, `'`, `'\''`)
	return r.Replace(p)
}
