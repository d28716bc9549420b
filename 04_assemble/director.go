package assemble

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

// Director cuts downloaded clips to segment length and joins them into the draft
type Director struct {
	cfg   *config.Config
	probe func(ctx context.Context, path string) (float64, error)
	run   func(ctx context.Context, args ...string) error
}

// New creates a new Director
func New(cfg *config.Config) *Director {
	return &Director{cfg: cfg, probe: media.ProbeDuration, run: media.Run}
}

// Run builds the draft at output from one clip per segment, in order.
func (d *Director) Run(ctx context.Context, script *types.Script, clips []string, workDir, output string) (string, error) {
	const op = "assemble.Run"
	log := logging.Stage("assemble").WithField("script", script.ID)

	if len(clips) < len(script.Segments) {
		return "", types.NewRenderError(op, nil,
			fmt.Sprintf("found %d clips for %d segments", len(clips), len(script.Segments)))
	}
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return "", types.NewRenderError(op, err, "create work dir")
	}

	parts := make([]string, 0, len(script.Segments))
	for i, seg := range script.Segments {
		if _, err := os.Stat(clips[i]); err != nil {
			return "", types.NewRenderError(op, err, fmt.Sprintf("clip for segment %d missing", i+1))
		}
		part := filepath.Join(workDir, fmt.Sprintf("part_%03d.mp4", i))
		log.Infof("Segment %d/%d: %.1fs from %s", i+1, len(script.Segments), seg.Duration, filepath.Base(clips[i]))
		if err := d.fit(ctx, clips[i], seg.Duration, part); err != nil {
			return "", types.NewRenderError(op, err, fmt.Sprintf("prepare segment %d", i+1))
		}
		parts = append(parts, part)
	}

	if err := d.concat(ctx, parts, workDir, output); err != nil {
		return "", types.NewRenderError(op, err, "concatenate segments")
	}
	log.WithField("path", output).Infof("Draft ready (%.1fs)", script.TotalDuration())
	return output, nil
}

// RunSingle cuts one long clip to the full script length.
func (d *Director) RunSingle(ctx context.Context, script *types.Script, clip, output string) (string, error) {
	const op = "assemble.RunSingle"
	if _, err := os.Stat(clip); err != nil {
		return "", types.NewRenderError(op, err, "clip missing")
	}
	tmp := artifact.TempPath(output)
	if err := d.fit(ctx, clip, script.TotalDuration(), tmp); err != nil {
		os.Remove(tmp)
		return "", types.NewRenderError(op, err, "prepare single clip")
	}
	if err := artifact.Commit(tmp, output); err != nil {
		return "", types.NewRenderError(op, err, "commit draft")
	}
	logging.Stage("assemble").WithField("path", output).Info("Single-clip draft ready")
	return output, nil
}

// fit trims the clip to duration, or loops it when it is too short.
func (d *Director) fit(ctx context.Context, clip string, duration float64, out string) error {
	clipDur, err := d.probe(ctx, clip)
	if err != nil {
		logging.Stage("assemble").WithError(err).Warn("Could not measure clip, assuming it is long enough")
		clipDur = duration
	}
	return d.run(ctx, d.fitArgs(clip, clipDur, duration, out)...)
}

func (d *Director) fitArgs(clip string, clipDur, duration float64, out string) []string {
	var args []string
	if clipDur < duration && clipDur > 0 {
		loops := int(duration/clipDur) + 1
		args = append(args, "-stream_loop", fmt.Sprintf("%d", loops))
	}
	return append(args,
		"-i", clip,
		"-t", media.Seconds(duration),
		"-vf", d.scaleFilter(),
		"-r", fmt.Sprintf("%d", d.cfg.Visuals.FPS),
		"-c:v", "libx264",
		"-preset", d.cfg.Visuals.Preset,
		"-crf", fmt.Sprintf("%d", d.cfg.Visuals.CRF),
		"-pix_fmt", "yuv420p",
		"-an",
		out,
	)
}

// scaleFilter fills the vertical frame, cropping whatever overflows.
func (d *Director) scaleFilter() string {
	w, h := d.cfg.Visuals.Width, d.cfg.Visuals.Height
	return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,setsar=1", w, h, w, h)
}

func (d *Director) concat(ctx context.Context, parts []string, workDir, output string) error {
	listFile := filepath.Join(workDir, "concat.txt")
	if err := os.WriteFile(listFile, []byte(concatList(parts)), 0644); err != nil {
		return err
	}
	tmp := artifact.TempPath(output)
	if err := d.run(ctx,
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-c", "copy",
		"-movflags", "+faststart",
		tmp,
	); err != nil {
		os.Remove(tmp)
		return err
	}
	return artifact.Commit(tmp, output)
}

// concatList builds an ffmpeg concat demuxer list, escaping single quotes.
func concatList(parts []string) string {
	var sb strings.Builder
	for _, p := range parts {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		sb.WriteString("file '" + strings.ReplaceAll(abs, "'", `'\''`) + "'\n")
	}
	return sb.String()
}
