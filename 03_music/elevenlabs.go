package music

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"reels-pipeline/artifact"
	"reels-pipeline/config"
	"reels-pipeline/logging"
	"reels-pipeline/types"
)

const elevenLabsMusicURL = "https://api.elevenlabs.io/v1/music"

const (
	maxLineChars = 200
	minSectionMS = 3000
	maxSectionMS = 120000
)

var globalStyles = []string{
	"Female lead vocal",
	"Educational pop",
	"Clear enunciation",
	"Upbeat and engaging",
}

type section struct {
	SectionName         string   `json:"section_name"`
	PositiveLocalStyles []string `json:"positive_local_styles"`
	NegativeLocalStyles []string `json:"negative_local_styles"`
	DurationMS          int      `json:"duration_ms"`
	Lines               []string `json:"lines"`
}

type compositionPlan struct {
	PositiveGlobalStyles []string  `json:"positive_global_styles"`
	NegativeGlobalStyles []string  `json:"negative_global_styles"`
	Sections             []section `json:"sections"`
}

type musicRequest struct {
	CompositionPlan compositionPlan `json:"composition_plan"`
	ModelID         string          `json:"model_id"`
}

// Composer generates a sung track from a lyrical script.
type Composer struct {
	cfg        *config.Config
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

// NewComposer creates a Composer. endpoint may be empty for the public API.
func NewComposer(cfg *config.Config, apiKey, endpoint string) *Composer {
	if endpoint == "" {
		endpoint = elevenLabsMusicURL
	}
	return &Composer{
		cfg:        cfg,
		apiKey:     apiKey,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 3 * time.Minute},
	}
}

// NewComposerFromEnv reads ELEVENLABS_API_KEY.
func NewComposerFromEnv(cfg *config.Config) (*Composer, error) {
	key := strings.TrimSpace(os.Getenv("ELEVENLABS_API_KEY"))
	if key == "" {
		return nil, errors.New("ELEVENLABS_API_KEY not set")
	}
	return NewComposer(cfg, key, ""), nil
}

// Compose writes an MP3 for the script to outDir and returns its path and
// the planned duration in seconds.
func (c *Composer) Compose(ctx context.Context, script *types.Script, outDir string) (string, float64, error) {
	if len(script.Segments) == 0 {
		return "", 0, errors.New("no segments to compose")
	}
	log := logging.Stage("music").WithField("script", script.ID)

	plan := buildPlan(script.Segments)
	var totalMS int
	for _, s := range plan.Sections {
		totalMS += s.DurationMS
	}

	body, err := json.Marshal(musicRequest{CompositionPlan: plan, ModelID: c.cfg.Music.SongModel})
	if err != nil {
		return "", 0, errors.Wrap(err, "marshal composition plan")
	}
	url := fmt.Sprintf("%s?output_format=%s", c.endpoint, c.cfg.Music.OutputFormat)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	log.Infof("Composing %d sections (%.0fs) via ElevenLabs...", len(plan.Sections), float64(totalMS)/1000)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, errors.Wrap(err, "elevenlabs request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, errors.Wrap(err, "read elevenlabs response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, errors.Errorf("elevenlabs music generation failed: %s", apiMessage(resp.StatusCode, data))
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", 0, errors.Wrap(err, "create music dir")
	}
	out := filepath.Join(outDir, script.ID+"_song.mp3")
	if err := artifact.WriteFile(out, data, 0644); err != nil {
		return "", 0, err
	}
	log.WithField("path", out).Info("Song ready")
	return out, float64(totalMS) / 1000, nil
}

func apiMessage(status int, body []byte) string {
	var e struct {
		Detail struct {
			Message string `json:"message"`
		} `json:"detail"`
	}
	if json.Unmarshal(body, &e) == nil && e.Detail.Message != "" {
		return e.Detail.Message
	}
	return fmt.Sprintf("HTTP %d", status)
}

func buildPlan(segments []types.Segment) compositionPlan {
	plan := compositionPlan{
		PositiveGlobalStyles: globalStyles,
		NegativeGlobalStyles: []string{},
	}
	for i, seg := range segments {
		lyrics := seg.Text
		if lyrics == "" {
			lyrics = seg.VisualQuery
		}
		ms := int(seg.Duration * 1000)
		if ms < minSectionMS {
			ms = minSectionMS
		}
		if ms > maxSectionMS {
			ms = maxSectionMS
		}
		name := fmt.Sprintf("Verse %d", i+1)
		if i >= 26 {
			name = fmt.Sprintf("Section %d", i+1)
		}
		plan.Sections = append(plan.Sections, section{
			SectionName:         name,
			PositiveLocalStyles: []string{"Clear vocals", "Melodic"},
			NegativeLocalStyles: []string{},
			DurationMS:          ms,
			Lines:               splitLyrics(lyrics),
		})
	}
	return plan
}

// splitLyrics breaks lyrics at newlines and commas, then wraps anything
// still longer than the API's line limit at a word boundary.
func splitLyrics(lyrics string) []string {
	var lines []string
	for _, part := range strings.Split(strings.ReplaceAll(lyrics, ",", "\n"), "\n") {
		part = strings.TrimSpace(part)
		for len(part) > maxLineChars {
			chunk := part[:maxLineChars]
			if sp := strings.LastIndex(chunk, " "); sp > maxLineChars/2 {
				lines = append(lines, strings.TrimSpace(chunk[:sp]))
				part = strings.TrimSpace(part[sp+1:])
			} else {
				lines = append(lines, strings.TrimSpace(chunk))
				part = strings.TrimSpace(part[maxLineChars:])
			}
		}
		if part != "" {
			lines = append(lines, part)
		}
	}
	if len(lines) == 0 {
		if len(lyrics) > maxLineChars {
			lyrics = lyrics[:maxLineChars]
		}
		if strings.TrimSpace(lyrics) == "" {
			lyrics = " "
		}
		return []string{lyrics}
	}
	return lines
}
