package config

import (
	"math"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"reels-pipeline/types"
)

type Config struct {
	Script    ScriptConfig    `yaml:"script"`
	Footage   FootageConfig   `yaml:"footage"`
	Music     MusicConfig     `yaml:"music"`
	Visuals   VisualsConfig   `yaml:"visuals"`
	Captions  CaptionsConfig  `yaml:"captions"`
	Voiceover VoiceoverConfig `yaml:"voiceover"`
	Rating    RatingConfig    `yaml:"rating"`
	Safety    SafetyConfig    `yaml:"safety"`
	Iterate   IterateConfig   `yaml:"iterate"`
	Upload    UploadConfig    `yaml:"upload"`
	Mirror    MirrorConfig    `yaml:"mirror"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Log       LogConfig       `yaml:"log"`
	Paths     PathsConfig     `yaml:"paths"`
}

type ScriptConfig struct {
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	Segments    int     `yaml:"segments"`
	DurationSec int     `yaml:"duration_sec"`
}

type FootageConfig struct {
	PerPage         int    `yaml:"per_page"`
	Orientation     string `yaml:"orientation"`
	PreferredHeight int    `yaml:"preferred_height"`
	RequestsPerHour int    `yaml:"requests_per_hour"`
	SingleClip      bool   `yaml:"single_clip"`
}

type MusicConfig struct {
	Mood         string  `yaml:"mood"`
	Volume       float64 `yaml:"volume"`
	SongModel    string  `yaml:"song_model"`
	OutputFormat string  `yaml:"output_format"`
}

type VisualsConfig struct {
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	FPS    int    `yaml:"fps"`
	CRF    int    `yaml:"crf"`
	Preset string `yaml:"preset"`
}

type CaptionsConfig struct {
	FontFile        string  `yaml:"font_file"`
	MaxCharsPerLine int     `yaml:"max_chars_per_line"`
	MinFontSize     int     `yaml:"min_font_size"`
	MaxFontSize     int     `yaml:"max_font_size"`
	VerticalAnchor  float64 `yaml:"vertical_anchor"`
	BoxColor        string  `yaml:"box_color"`
	BoxOpacity      float64 `yaml:"box_opacity"`
}

type VoiceoverConfig struct {
	Command string `yaml:"command"`
	Voice   string `yaml:"voice"`
}

type RatingConfig struct {
	Model    string  `yaml:"model"`
	ScoreMin float64 `yaml:"score_min"`
	ScoreMax float64 `yaml:"score_max"`
}

type SafetyConfig struct {
	Model            string `yaml:"model"`
	ModerationModel  string `yaml:"moderation_model"`
	FramesPerSegment int    `yaml:"frames_per_segment"`
	MaxFrames        int    `yaml:"max_frames"`
	ChunkSize        int    `yaml:"chunk_size"`
}

type IterateConfig struct {
	MaxAttempts int     `yaml:"max_attempts"`
	MinScore    float64 `yaml:"min_score"`
	TieBreak    string  `yaml:"tie_break"`
	TimeoutMin  int     `yaml:"timeout_min"`
}

type UploadConfig struct {
	Enabled           bool     `yaml:"enabled"`
	Visibility        string   `yaml:"visibility"`
	CategoryID        string   `yaml:"category_id"`
	Tags              []string `yaml:"tags"`
	NotifySubscribers bool     `yaml:"notify_subscribers"`
	MadeForKids       bool     `yaml:"made_for_kids"`
	DefaultLanguage   string   `yaml:"default_language"`
	// AllowNeedsReview permits publishing videos the safety check flagged for review.
	AllowNeedsReview bool `yaml:"allow_needs_review"`
}

type MirrorConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Region   string `yaml:"region"`
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
}

type ScheduleConfig struct {
	Cron   string   `yaml:"cron"`
	Topics []string `yaml:"topics"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type PathsConfig struct {
	Scripts string `yaml:"scripts"`
	Clips   string `yaml:"clips"`
	Music   string `yaml:"music"`
	Output  string `yaml:"output"`
	Logs    string `yaml:"logs"`
	Ledger  string `yaml:"ledger"`
}

// Default returns the settings used when no config file is present.
func Default() *Config {
	return &Config{
		Script: ScriptConfig{
			Model:       "gpt-4o-mini",
			Temperature: 0.7,
			Segments:    5,
			DurationSec: 30,
		},
		Footage: FootageConfig{
			PerPage:         5,
			Orientation:     "portrait",
			PreferredHeight: 1080,
			RequestsPerHour: 200,
		},
		Music: MusicConfig{
			Mood:         "uplifting",
			Volume:       0.15,
			SongModel:    "music_v1",
			OutputFormat: "mp3_44100_128",
		},
		Visuals: VisualsConfig{
			Width:  1080,
			Height: 1920,
			FPS:    30,
			CRF:    23,
			Preset: "fast",
		},
		Captions: CaptionsConfig{
			MaxCharsPerLine: 25,
			MinFontSize:     44,
			MaxFontSize:     72,
			VerticalAnchor:  0.68,
			BoxColor:        "0x1e1e1e",
			BoxOpacity:      0.7,
		},
		Voiceover: VoiceoverConfig{
			Voice: "en-US-JennyNeural",
		},
		Rating: RatingConfig{
			Model:    "gpt-4o",
			ScoreMin: 1,
			ScoreMax: 10,
		},
		Safety: SafetyConfig{
			Model:            "gpt-4o",
			ModerationModel:  "omni-moderation-latest",
			FramesPerSegment: 2,
			MaxFrames:        12,
			ChunkSize:        8000,
		},
		Iterate: IterateConfig{
			MaxAttempts: 3,
			MinScore:    8,
			TieBreak:    "earliest",
			TimeoutMin:  30,
		},
		Upload: UploadConfig{
			Visibility:      "private",
			CategoryID:      "22",
			DefaultLanguage: "en",
		},
		Mirror: MirrorConfig{
			Region: "us-east-1",
			Prefix: "reels",
		},
		Schedule: ScheduleConfig{
			Cron: "0 9 * * *",
		},
		Log: LogConfig{
			Level: "info",
		},
		Paths: PathsConfig{
			Scripts: "scripts",
			Clips:   "clips",
			Music:   "assets/music",
			Output:  "output",
			Logs:    "logs",
			Ledger:  "output/runs.db",
		},
	}
}

// Load reads a YAML config over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// Validate checks ranges that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	if c.Iterate.MaxAttempts < 1 {
		return types.NewConfigError("iterate.max_attempts", "must be >= 1, got %d", c.Iterate.MaxAttempts)
	}
	for field, v := range map[string]float64{
		"iterate.min_score": c.Iterate.MinScore,
		"rating.score_min":  c.Rating.ScoreMin,
		"rating.score_max":  c.Rating.ScoreMax,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return types.NewConfigError(field, "must be a finite number, got %g", v)
		}
	}
	if c.Rating.ScoreMin >= c.Rating.ScoreMax {
		return types.NewConfigError("rating", "score_min %.1f must be below score_max %.1f", c.Rating.ScoreMin, c.Rating.ScoreMax)
	}
	if c.Iterate.MinScore < c.Rating.ScoreMin || c.Iterate.MinScore > c.Rating.ScoreMax {
		return types.NewConfigError("iterate.min_score", "%.1f outside rater range [%.0f, %.0f]",
			c.Iterate.MinScore, c.Rating.ScoreMin, c.Rating.ScoreMax)
	}
	switch c.Iterate.TieBreak {
	case "", "earliest", "latest":
	default:
		return types.NewConfigError("iterate.tie_break", "unknown policy %q", c.Iterate.TieBreak)
	}
	if math.IsNaN(c.Music.Volume) || c.Music.Volume < 0 || c.Music.Volume > 1 {
		return types.NewConfigError("music.volume", "must be within [0, 1], got %.2f", c.Music.Volume)
	}
	if c.Script.Segments < 1 {
		return types.NewConfigError("script.segments", "must be >= 1, got %d", c.Script.Segments)
	}
	if c.Visuals.Width <= 0 || c.Visuals.Height <= 0 {
		return types.NewConfigError("visuals", "invalid resolution %dx%d", c.Visuals.Width, c.Visuals.Height)
	}
	if c.Mirror.Enabled && c.Mirror.Bucket == "" {
		return types.NewConfigError("mirror.bucket", "required when mirror is enabled")
	}
	return nil
}
