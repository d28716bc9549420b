package script

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"reels-pipeline/artifact"
	"reels-pipeline/config"
	"reels-pipeline/logging"
	"reels-pipeline/types"
)

const standardFormat = `Each segment uses this format:
SEGMENT: <visual search query for stock footage, e.g. "Person studying at desk">
TEXT: <educational text to overlay on screen, short and punchy, 1-2 sentences max>
DURATION: <seconds, 4-8 typical>
---
`

const lyricalFormat = `Each segment uses this format:
SEGMENT: <visual search query for stock footage, e.g. "City skyline at dawn">
LYRICS: <one or two sung lines that teach the topic, rhythmic and rhyming>
DURATION: <seconds, 4-8 typical>
---
`

// Completer is the single model call the writer needs.
type Completer interface {
	Complete(ctx context.Context, model string, temperature float64, prompt string) (string, error)
}

// Options tunes one generated script.
type Options struct {
	Segments    int
	DurationSec int
	Lyrical     bool
}

// Writer generates reel scripts from a topic
type Writer struct {
	cfg    *config.Config
	client Completer
}

// New creates a new script Writer
func New(cfg *config.Config, client Completer) *Writer {
	return &Writer{cfg: cfg, client: client}
}

// Run generates a script for topic, saves it under the scripts directory
// and returns the parsed result.
func (w *Writer) Run(ctx context.Context, topic string, opts Options) (*types.Script, error) {
	log := logging.Stage("script").WithField("topic", topic)
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("empty topic")
	}
	if opts.Segments <= 0 {
		opts.Segments = w.cfg.Script.Segments
	}
	if opts.DurationSec <= 0 {
		opts.DurationSec = w.cfg.Script.DurationSec
	}

	log.Infof("Generating %d-segment script via %s...", opts.Segments, w.cfg.Script.Model)
	text, err := w.client.Complete(ctx, w.cfg.Script.Model, w.cfg.Script.Temperature, buildPrompt(topic, opts))
	if err != nil {
		return nil, errors.Wrap(err, "generate script")
	}
	text = stripFences(text)

	s, err := Parse(strings.NewReader(text))
	if err != nil {
		return nil, errors.Wrapf(err, "model returned an unusable script (raw: %.200s)", text)
	}

	if err := os.MkdirAll(w.cfg.Paths.Scripts, 0755); err != nil {
		return nil, errors.Wrap(err, "create scripts dir")
	}
	path := filepath.Join(w.cfg.Paths.Scripts, Slugify(topic)+".txt")
	if err := artifact.WriteFile(path, []byte(text+"\n"), 0644); err != nil {
		return nil, err
	}

	s.ID = Slugify(topic)
	s.Title = topic
	s.Source = path
	log.WithField("path", path).Infof("Script ready: %d segments, ~%.0f seconds", len(s.Segments), s.TotalDuration())
	return s, nil
}

func buildPrompt(topic string, opts Options) string {
	var sb strings.Builder
	if opts.Lyrical {
		sb.WriteString("You write lyrics for short educational music-video reels (Instagram Reels, TikTok).\n\n")
		sb.WriteString(fmt.Sprintf("Create a %d-second sung explainer about: %s\n\n", opts.DurationSec, topic))
	} else {
		sb.WriteString("You are a script writer for short educational reels (Instagram Reels, TikTok).\n\n")
		sb.WriteString(fmt.Sprintf("Create a script for a %d-second educational video about: %s\n\n", opts.DurationSec, topic))
	}
	sb.WriteString("Requirements:\n")
	sb.WriteString(fmt.Sprintf("- Write exactly %d segments.\n", opts.Segments))
	sb.WriteString("- SEGMENT is a short phrase that finds good stock video on Pexels.\n")
	sb.WriteString(fmt.Sprintf("- DURATION per segment: 4-8 seconds. Total should add up to ~%d seconds.\n", opts.DurationSec))
	sb.WriteString("- DURATION must be a number only (e.g. DURATION: 5).\n")
	sb.WriteString("- Separate segments with a line containing only ---\n\n")
	if opts.Lyrical {
		sb.WriteString(lyricalFormat)
	} else {
		sb.WriteString(standardFormat)
	}
	sb.WriteString("\nOutput only the script, no preamble.")
	return sb.String()
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```text")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
