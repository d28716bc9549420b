package types

import (
	"strings"
	"time"
)

// Mode selects how segment text is used on screen.
type Mode string

const (
	ModeStandard Mode = "standard"
	ModeLyrical  Mode = "lyrical"
)

// Segment is one timed unit of the reel
type Segment struct {
	Index       int     `json:"index"`
	VisualQuery string  `json:"visual_query"`
	Text        string  `json:"text"`
	Duration    float64 `json:"duration"`
}

// Script is the ordered segment list for one reel. Treat as read-only once loaded.
type Script struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Mode     Mode      `json:"mode"`
	Source   string    `json:"source"`
	Segments []Segment `json:"segments"`
}

// TotalDuration sums segment durations in seconds.
func (s *Script) TotalDuration() float64 {
	var total float64
	for _, seg := range s.Segments {
		total += seg.Duration
	}
	return total
}

// Captions returns every segment's on-screen text joined by newlines.
func (s *Script) Captions() string {
	lines := make([]string, 0, len(s.Segments))
	for _, seg := range s.Segments {
		if t := strings.TrimSpace(seg.Text); t != "" {
			lines = append(lines, t)
		}
	}
	return strings.Join(lines, "\n")
}

// RenderOptions carries everything the overlay step needs besides the script.
type RenderOptions struct {
	DraftVideo  string  `json:"draft_video"`
	Voiceover   bool    `json:"voiceover"`
	MusicFile   string  `json:"music_file,omitempty"`
	MusicVolume float64 `json:"music_volume"`
	// SongAudio replaces music and voiceover with a generated vocal track.
	SongAudio string `json:"song_audio,omitempty"`
}

// RatingReport is the quality rater's verdict on one rendered video
type RatingReport struct {
	Video        string             `json:"video"`
	Attempt      int                `json:"attempt"`
	OverallScore float64            `json:"overall_score"`
	Pass         bool               `json:"pass"`
	Scores       map[string]float64 `json:"scores"`
	Issues       []string           `json:"issues"`
	Suggestions  []string           `json:"suggestions"`
	RatedAt      time.Time          `json:"rated_at"`
}

// Verdict is the safety rater's three-valued outcome.
type Verdict string

const (
	VerdictApproved    Verdict = "approved"
	VerdictNeedsReview Verdict = "needs_review"
	VerdictRejected    Verdict = "rejected"
)

// ParseVerdict maps free-form model output onto a Verdict. Unknown values
// are treated as needs_review so they surface to a human.
func ParseVerdict(s string) Verdict {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approved", "approve", "safe":
		return VerdictApproved
	case "rejected", "reject", "unsafe":
		return VerdictRejected
	default:
		return VerdictNeedsReview
	}
}

// Severity orders verdicts so the stricter of two can be chosen.
func (v Verdict) Severity() int {
	switch v {
	case VerdictApproved:
		return 0
	case VerdictRejected:
		return 2
	default:
		return 1
	}
}

// ModerationResult is the text moderation summary attached to a SafetyReport.
type ModerationResult struct {
	Flagged    bool               `json:"flagged"`
	Categories []string           `json:"categories"`
	TopScores  map[string]float64 `json:"top_scores"`
}

// SafetyReport is the safety rater's verdict on one rendered video
type SafetyReport struct {
	Video      string            `json:"video"`
	Attempt    int               `json:"attempt"`
	Verdict    Verdict           `json:"verdict"`
	Scores     map[string]int    `json:"scores"`
	Findings   map[string]string `json:"findings"`
	Flags      []string          `json:"flags"`
	Details    string            `json:"details"`
	Moderation *ModerationResult `json:"moderation,omitempty"`
	CheckedAt  time.Time         `json:"checked_at"`
}

// PipelineState tracks the full state of one pipeline run
type PipelineState struct {
	RunID       string   `json:"run_id"`
	Topic       string   `json:"topic,omitempty"`
	StartedAt   string   `json:"started_at"`
	CompletedAt string   `json:"completed_at"`
	Script      *Script  `json:"script"`
	Clips       []string `json:"clips"`
	MusicFile   string   `json:"music_file,omitempty"`
	SongFile    string   `json:"song_file,omitempty"`
	DraftVideo  string   `json:"draft_video"`
	VideoFile   string   `json:"video_file"`
	Disposition string   `json:"disposition,omitempty"`
	MirrorURL   string   `json:"mirror_url,omitempty"`
	YouTubeURL  string   `json:"youtube_url,omitempty"`
	YouTubeID   string   `json:"youtube_id,omitempty"`
	Error       string   `json:"error,omitempty"`
}
