package overlay

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"reels-pipeline/config"
	"reels-pipeline/logging"
	"reels-pipeline/media"
	"reels-pipeline/types"
)

const edgeTTS = "edge-tts"

// Voice narrates segment text through an external TTS command.
//
// The command comes from voiceover.command in the config, then TTS_COMMAND in
// the environment. It must accept --text "..." --output path.mp3. When neither
// is set, edge-tts is used if it is on PATH.
type Voice struct {
	cfg      *config.Config
	exec     func(ctx context.Context, name string, args ...string) error
	concat   func(ctx context.Context, args ...string) error
	lookPath func(file string) (string, error)
	backoff  time.Duration
}

// NewVoice creates a new Voice
func NewVoice(cfg *config.Config) *Voice {
	return &Voice{
		cfg:      cfg,
		exec:     runCommand,
		concat:   media.Run,
		lookPath: exec.LookPath,
		backoff:  2 * time.Second,
	}
}

// Engine reports which TTS command will be used.
func (v *Voice) Engine() (string, error) {
	if cmd := strings.TrimSpace(v.cfg.Voiceover.Command); cmd != "" {
		return cmd, nil
	}
	if cmd := strings.TrimSpace(os.Getenv("TTS_COMMAND")); cmd != "" {
		return cmd, nil
	}
	if _, err := v.lookPath(edgeTTS); err == nil {
		return edgeTTS, nil
	}
	return "", errors.New("no TTS engine found. Set TTS_COMMAND in .env or install edge-tts: pip install edge-tts")
}

// Generate narrates every segment into dir and joins the pieces into one
// track, returning its path.
func (v *Voice) Generate(ctx context.Context, script *types.Script, dir string) (string, error) {
	log := logging.Stage("voiceover").WithField("script", script.ID)
	engine, err := v.Engine()
	if err != nil {
		return "", err
	}
	log.WithField("engine", engine).Debug("TTS engine selected")

	var pieces []string
	for i, seg := range script.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			text = strings.TrimSpace(seg.VisualQuery)
		}
		if text == "" {
			continue
		}
		out := filepath.Join(dir, fmt.Sprintf("voice_%03d.mp3", i))
		log.Debugf("Segment %d/%d: narrating", i+1, len(script.Segments))
		if err := v.speak(ctx, engine, text, out); err != nil {
			return "", errors.Wrapf(err, "segment %d TTS failed", i+1)
		}
		pieces = append(pieces, out)
	}
	if len(pieces) == 0 {
		return "", errors.New("no text to narrate")
	}

	listFile := filepath.Join(dir, "voice_concat.txt")
	var lines []string
	for _, p := range pieces {
		lines = append(lines, fmt.Sprintf("file '%s'", filepath.Base(p)))
	}
	if err := os.WriteFile(listFile, []byte(strings.Join(lines, "\n")), 0644); err != nil {
		return "", err
	}
	track := filepath.Join(dir, "voiceover.mp3")
	if err := v.concat(ctx, "-f", "concat", "-safe", "0", "-i", listFile, "-c", "copy", track); err != nil {
		return "", errors.Wrap(err, "concatenate voiceover")
	}
	log.Infof("Voiceover ready (%d segments)", len(pieces))
	return track, nil
}

// speak runs the engine for one piece of text, retrying up to 3 times.
func (v *Voice) speak(ctx context.Context, engine, text, out string) error {
	name, args := v.command(engine, text, out)
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		if err = v.exec(ctx, name, args...); err == nil {
			return nil
		}
		logging.Stage("voiceover").Warnf("TTS attempt %d failed: %v, retrying...", attempt, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * v.backoff):
		}
	}
	return err
}

func (v *Voice) command(engine, text, out string) (string, []string) {
	switch {
	case engine == edgeTTS:
		return edgeTTS, []string{"--voice", v.cfg.Voiceover.Voice, "--text", text, "--write-media", out}
	case strings.HasSuffix(engine, ".py"):
		return "python3", []string{engine, "--text", text, "--output", out}
	default:
		return engine, []string{"--text", text, "--output", out}
	}
}

func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
