package rate

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"reels-pipeline/config"
	"reels-pipeline/llm"
	"reels-pipeline/logging"
	"reels-pipeline/media"
	"reels-pipeline/types"

	script "reels-pipeline/01_script"
)

const raterName = "quality"

// StructuredClient is the slice of llm.Client the rater needs.
type StructuredClient interface {
	Structured(ctx context.Context, model, name string, schema interface{}, parts []llm.Part, out interface{}) error
}

// FrameSampler pulls stills out of a rendered video.
type FrameSampler interface {
	Sample(ctx context.Context, video string, s *types.Script, perSegment, maxFrames int, dir string) ([]media.Frame, error)
}

// Criteria are the per-aspect scores the vision model returns.
type Criteria struct {
	TextReadability      float64 `json:"text_readability" jsonschema:"description=Overlay text clear and fully inside the frame"`
	VisualQuality        float64 `json:"visual_quality" jsonschema:"description=Sharp well lit footage without washed out clips"`
	FootageRelevance     float64 `json:"footage_relevance" jsonschema:"description=Footage matches each segment topic"`
	ProductionQuality    float64 `json:"production_quality" jsonschema:"description=No letterboxing or cut off text or artifacts"`
	VoiceoverCaptionSync float64 `json:"voiceover_caption_sync" jsonschema:"description=Caption length suits the speaking pace. 0 when there is no voiceover"`
}

// Response is the structured reply from the quality model.
type Response struct {
	OverallScore float64  `json:"overall_score"`
	Pass         bool     `json:"pass"`
	Scores       Criteria `json:"scores"`
	Issues       []string `json:"issues"`
	Suggestions  []string `json:"suggestions"`
}

// Rater scores a rendered reel from one frame per segment.
type Rater struct {
	cfg       *config.Config
	client    StructuredClient
	sampler   FrameSampler
	voiceover bool
}

// New creates a new Rater. voiceover adds the caption sync criterion.
func New(cfg *config.Config, client StructuredClient, sampler FrameSampler, voiceover bool) *Rater {
	if sampler == nil {
		sampler = media.Sampler{}
	}
	return &Rater{cfg: cfg, client: client, sampler: sampler, voiceover: voiceover}
}

// Rate samples the video and asks the vision model for a quality report.
// Any failure comes back as a RaterError.
func (r *Rater) Rate(ctx context.Context, video string, s *types.Script) (*types.RatingReport, error) {
	log := logging.Stage("rate").WithField("video", video)

	dir, err := os.MkdirTemp("", "reels-rate-")
	if err != nil {
		return nil, types.NewRaterError("rate.frames", raterName, err, "create frame dir")
	}
	defer os.RemoveAll(dir)

	frames, err := r.sampler.Sample(ctx, video, s, 1, 0, dir)
	if err != nil {
		return nil, types.NewRaterError("rate.frames", raterName, err, "extract frames")
	}

	parts := []llm.Part{llm.Text(r.prompt(s))}
	for _, f := range frames {
		img, err := llm.Image(f.Path, "auto")
		if err != nil {
			return nil, types.NewRaterError("rate.frames", raterName, err, "load frame")
		}
		parts = append(parts, img)
	}

	log.Infof("Rating %d frames with %s...", len(frames), r.cfg.Rating.Model)
	var resp Response
	if err := r.client.Structured(ctx, r.cfg.Rating.Model, "reel_quality_rating", llm.GenerateSchema[Response](), parts, &resp); err != nil {
		return nil, types.NewRaterError("rate.model", raterName, err, "quality model request failed")
	}

	report := &types.RatingReport{
		Video:        video,
		OverallScore: resp.OverallScore,
		Pass:         resp.Pass,
		Scores: map[string]float64{
			"text_readability":   resp.Scores.TextReadability,
			"visual_quality":     resp.Scores.VisualQuality,
			"footage_relevance":  resp.Scores.FootageRelevance,
			"production_quality": resp.Scores.ProductionQuality,
		},
		Issues:      resp.Issues,
		Suggestions: resp.Suggestions,
		RatedAt:     time.Now().UTC(),
	}
	if r.voiceover {
		report.Scores["voiceover_caption_sync"] = resp.Scores.VoiceoverCaptionSync
	}
	log.WithField("score", report.OverallScore).Info("Rating complete")
	return report, nil
}

func (r *Rater) prompt(s *types.Script) string {
	lo, hi := r.cfg.Rating.ScoreMin, r.cfg.Rating.ScoreMax
	var sb strings.Builder
	sb.WriteString("You are rating a short vertical educational reel. Here is its script:\n\n")
	sb.WriteString(script.Format(s))
	sb.WriteString("\nYou will see one frame from the middle of each segment, in order.\n\n")
	sb.WriteString("First check every frame's overlay text at the left and right edges. If any letter is clipped, ")
	sb.WriteString("add \"segment N has text cut off\" to issues and set pass to false.\n\n")
	fmt.Fprintf(&sb, "Score each criterion from %g to %g:\n", lo, hi)
	sb.WriteString("- text_readability: clear, legible, fully visible text. Score 5 or lower if any text is cut off.\n")
	sb.WriteString("- visual_quality: sharp, well lit, good colour. Watch for gray or washed out clips.\n")
	sb.WriteString("- footage_relevance: footage matches what the segment is about.\n")
	sb.WriteString("- production_quality: technical problems such as cut off text, letterboxing or film reel effects.\n")
	if r.voiceover {
		sb.WriteString("- voiceover_caption_sync: the video has a voiceover. Does each segment carry a sensible amount of text for ")
		sb.WriteString("its duration at a normal speaking pace? Add an issue if the voice would race ahead of the caption or lag it.\n")
	} else {
		sb.WriteString("- voiceover_caption_sync: there is no voiceover, return 0.\n")
	}
	fmt.Fprintf(&sb, "\noverall_score is your overall judgement from %g to %g. ", lo, hi)
	sb.WriteString("issues lists specific problems (e.g. \"segment 2 is washed out\"), suggestions lists actionable fixes.")
	return sb.String()
}

// PrintReport writes a human readable rating summary.
func PrintReport(w io.Writer, r *types.RatingReport) {
	status := "PASS"
	if !r.Pass {
		status = "FAIL"
	}
	fmt.Fprintf(w, "Rating: %.1f/10 (%s)\n", r.OverallScore, status)

	keys := make([]string, 0, len(r.Scores))
	for k := range r.Scores {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %-25s %.1f\n", k, r.Scores[k])
	}
	if len(r.Issues) > 0 {
		fmt.Fprintln(w, "Issues:")
		for _, i := range r.Issues {
			fmt.Fprintf(w, "  - %s\n", i)
		}
	}
	if len(r.Suggestions) > 0 {
		fmt.Fprintln(w, "Suggestions:")
		for _, s := range r.Suggestions {
			fmt.Fprintf(w, "  - %s\n", s)
		}
	}
}
