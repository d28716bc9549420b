package safety

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

const raterName = "safety"

// Moderation categories that reject a video outright.
var hardFlagCategories = map[string]bool{
	"sexual":                 true,
	"sexual/minors":          true,
	"violence/graphic":       true,
	"hate/threatening":       true,
	"self-harm/intent":       true,
	"self-harm/instructions": true,
}

// Client is the slice of llm.Client the checker needs.
type Client interface {
	Structured(ctx context.Context, model, name string, schema interface{}, parts []llm.Part, out interface{}) error
	Moderate(ctx context.Context, model, text string) (*llm.Moderation, error)
}

// FrameSampler pulls stills out of a rendered video.
type FrameSampler interface {
	Sample(ctx context.Context, video string, s *types.Script, perSegment, maxFrames int, dir string) ([]media.Frame, error)
}

// Criteria are the six safety scores, 1 (serious violation) to 10 (no concern).
type Criteria struct {
	TextSafety          int `json:"text_safety"`
	VisualSafety        int `json:"visual_safety"`
	TopicSafety         int `json:"topic_safety"`
	FactualPlausibility int `json:"factual_plausibility"`
	AudienceSuitability int `json:"audience_suitability"`
	PlatformCompliance  int `json:"platform_compliance"`
}

func (c Criteria) asMap() map[string]int {
	return map[string]int{
		"text_safety":          c.TextSafety,
		"visual_safety":        c.VisualSafety,
		"topic_safety":         c.TopicSafety,
		"factual_plausibility": c.FactualPlausibility,
		"audience_suitability": c.AudienceSuitability,
		"platform_compliance":  c.PlatformCompliance,
	}
}

// Response is the structured reply from the safety model.
type Response struct {
	Safe    bool     `json:"safe"`
	Verdict string   `json:"verdict" jsonschema:"enum=approved,enum=needs_review,enum=rejected"`
	Scores  Criteria `json:"scores"`
	Flags   []string `json:"flags"`
	Details string   `json:"details"`
}

// textModeration aggregates moderation results across chunks.
type textModeration struct {
	Flagged   bool
	HardFlags []string
	Scores    map[string]float64
}

// Checker screens a rendered reel before it can be published.
type Checker struct {
	cfg     *config.Config
	client  Client
	sampler FrameSampler
}

// New creates a new Checker
func New(cfg *config.Config, client Client, sampler FrameSampler) *Checker {
	if sampler == nil {
		sampler = media.Sampler{}
	}
	return &Checker{cfg: cfg, client: client, sampler: sampler}
}

// Check runs text moderation over the script and a vision review over
// sampled frames, then merges both into one verdict.
func (c *Checker) Check(ctx context.Context, video string, s *types.Script) (*types.SafetyReport, error) {
	log := logging.Stage("safety").WithField("video", video)

	texts := []string{script.Format(s)}
	for _, seg := range s.Segments {
		if seg.Text != "" {
			texts = append(texts, seg.Text)
		}
	}
	mod, err := c.moderate(ctx, texts)
	if err != nil {
		return nil, types.NewRaterError("safety.moderation", raterName, err, "moderation request failed")
	}
	if mod.Flagged {
		log.WithField("hard_flags", mod.HardFlags).Warn("Moderation flagged script text")
	}

	dir, err := os.MkdirTemp("", "reels-safety-")
	if err != nil {
		return nil, types.NewRaterError("safety.frames", raterName, err, "create frame dir")
	}
	defer os.RemoveAll(dir)

	frames, err := c.sampler.Sample(ctx, video, s, c.cfg.Safety.FramesPerSegment, c.cfg.Safety.MaxFrames, dir)
	if err != nil {
		return nil, types.NewRaterError("safety.frames", raterName, err, "extract frames")
	}

	parts := []llm.Part{llm.Text(c.prompt(s, frames, mod))}
	for _, f := range frames {
		img, err := llm.Image(f.Path, "low")
		if err != nil {
			return nil, types.NewRaterError("safety.frames", raterName, err, "load frame")
		}
		parts = append(parts, img)
	}

	log.Infof("Reviewing %d frames with %s...", len(frames), c.cfg.Safety.Model)
	var resp Response
	if err := c.client.Structured(ctx, c.cfg.Safety.Model, "reel_safety_review", llm.GenerateSchema[Response](), parts, &resp); err != nil {
		return nil, types.NewRaterError("safety.model", raterName, err, "safety model request failed")
	}

	report := merge(resp, mod)
	report.Video = video
	report.CheckedAt = time.Now().UTC()
	log.WithField("verdict", report.Verdict).Info("Safety check complete")
	return report, nil
}

// moderate runs the combined text through the moderation endpoint in chunks,
// keeping the highest score seen for each category.
func (c *Checker) moderate(ctx context.Context, texts []string) (*textModeration, error) {
	out := &textModeration{Scores: map[string]float64{}}
	var kept []string
	for _, t := range texts {
		if strings.TrimSpace(t) != "" {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		return out, nil
	}

	seen := map[string]bool{}
	for _, chunk := range chunks(strings.Join(kept, "\n"), c.cfg.Safety.ChunkSize) {
		m, err := c.client.Moderate(ctx, c.cfg.Safety.ModerationModel, chunk)
		if err != nil {
			return nil, err
		}
		if m.Flagged {
			out.Flagged = true
		}
		for cat, score := range m.CategoryScores {
			if score > out.Scores[cat] {
				out.Scores[cat] = score
			}
		}
		for cat, triggered := range m.Categories {
			if triggered && hardFlagCategories[cat] && !seen[cat] {
				seen[cat] = true
				out.HardFlags = append(out.HardFlags, cat)
			}
		}
	}
	sort.Strings(out.HardFlags)
	return out, nil
}

// chunks splits s into pieces of at most size runes.
func chunks(s string, size int) []string {
	r := []rune(s)
	if size <= 0 || len(r) <= size {
		return []string{s}
	}
	var out []string
	for i := 0; i < len(r); i += size {
		end := i + size
		if end > len(r) {
			end = len(r)
		}
		out = append(out, string(r[i:end]))
	}
	return out
}

// merge applies the verdict rules on top of the model's own verdict. The
// stricter of the two always wins.
func merge(resp Response, mod *textModeration) *types.SafetyReport {
	scores := resp.Scores.asMap()
	floor := types.VerdictApproved
	for _, v := range scores {
		switch {
		case v <= 3:
			floor = stricter(floor, types.VerdictRejected)
		case v <= 6:
			floor = stricter(floor, types.VerdictNeedsReview)
		}
	}

	flags := append([]string{}, resp.Flags...)
	if mod.Flagged {
		floor = stricter(floor, types.VerdictNeedsReview)
	}
	for _, f := range mod.HardFlags {
		flags = append(flags, "moderation hard flag: "+f)
		floor = types.VerdictRejected
	}

	report := &types.SafetyReport{
		Verdict:  stricter(types.ParseVerdict(resp.Verdict), floor),
		Scores:   scores,
		Flags:    flags,
		Details:  resp.Details,
		Findings: map[string]string{},
		Moderation: &types.ModerationResult{
			Flagged:    mod.Flagged,
			Categories: mod.HardFlags,
			TopScores:  topScores(mod.Scores, 5),
		},
	}
	for k, v := range scores {
		switch {
		case v <= 3:
			report.Findings[k] = "violation"
		case v <= 6:
			report.Findings[k] = "borderline"
		}
	}
	return report
}

func stricter(a, b types.Verdict) types.Verdict {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

func topScores(scores map[string]float64, n int) map[string]float64 {
	keys := make([]string, 0, len(scores))
	for k := range scores {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if scores[keys[i]] == scores[keys[j]] {
			return keys[i] < keys[j]
		}
		return scores[keys[i]] > scores[keys[j]]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	out := make(map[string]float64, len(keys))
	for _, k := range keys {
		out[k] = scores[k]
	}
	return out
}

func (c *Checker) prompt(s *types.Script, frames []media.Frame, mod *textModeration) string {
	var sb strings.Builder
	sb.WriteString("You are a content safety reviewer for short-form educational social media reels. ")
	sb.WriteString("Decide whether this reel is safe and appropriate to publish publicly.\n\nSCRIPT:\n")
	sb.WriteString(script.Format(s))

	if mod.Flagged {
		var elevated []string
		for cat, score := range mod.Scores {
			if score > 0.2 {
				elevated = append(elevated, cat)
			}
		}
		sort.Strings(elevated)
		fmt.Fprintf(&sb, "\nNOTE: automated moderation flagged this script. Elevated scores in: %s. Weigh your review accordingly.\n",
			strings.Join(elevated, ", "))
	}

	fmt.Fprintf(&sb, "\nYou will see %d frames sampled from the video:\n", len(frames))
	for i, f := range frames {
		seg := s.Segments[f.Segment]
		label := seg.Text
		if label == "" {
			label = seg.VisualQuery
		}
		if r := []rune(label); len(r) > 60 {
			label = string(r[:60])
		}
		fmt.Fprintf(&sb, "  Frame %d: segment %d at %.1fs, %q\n", i+1, f.Segment+1, f.At, strings.ReplaceAll(label, "\n", " "))
	}

	sb.WriteString(`
Score each criterion from 1 to 10 (10 no concern, 7 minor and likely fine, 4 needs human review, 1 must not publish):
- text_safety: overlay text free of hate, slurs, threats, violent or sexual language and profanity.
- visual_safety: frames free of graphic violence, gore, sexual or disturbing imagery.
- topic_safety: the topic does not normalise self-harm, illegal activity, substance abuse, weapons or dangerous pseudoscience.
- factual_plausibility: no dangerous misinformation such as unverified medical claims or risky DIY instructions.
- audience_suitability: appropriate for ages 13 and up in tone and imagery.
- platform_compliance: would pass Instagram, TikTok and YouTube Shorts community guidelines.

Verdict: "approved" when every score is 7 or more, "needs_review" when any score is 4 to 6,
"rejected" when any score is 3 or less or the script spreads dangerous misinformation.
List specific concerns in flags and summarise your assessment in one paragraph in details.`)
	return sb.String()
}

// PrintReport writes a human readable safety summary.
func PrintReport(w io.Writer, r *types.SafetyReport) {
	icon := "✓"
	if r.Verdict != types.VerdictApproved {
		icon = "✗"
	}
	fmt.Fprintf(w, "Safety: %s %s\n", icon, strings.ToUpper(string(r.Verdict)))

	keys := make([]string, 0, len(r.Scores))
	for k := range r.Scores {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		score := r.Scores[k]
		if score < 0 {
			score = 0
		}
		if score > 10 {
			score = 10
		}
		fmt.Fprintf(w, "  %-25s %s%s %d/10\n", k, strings.Repeat("█", score), strings.Repeat("░", 10-score), r.Scores[k])
	}
	if len(r.Flags) > 0 {
		fmt.Fprintln(w, "Flags:")
		for _, f := range r.Flags {
			fmt.Fprintf(w, "  • %s\n", f)
		}
	}
	if r.Details != "" {
		fmt.Fprintf(w, "Summary: %s\n", r.Details)
	}
	if r.Moderation != nil && r.Moderation.Flagged {
		fmt.Fprintln(w, "Moderation: FLAGGED")
		for _, cat := range sortedKeys(r.Moderation.TopScores) {
			if score := r.Moderation.TopScores[cat]; score > 0.01 {
				fmt.Fprintf(w, "  %s: %.3f\n", cat, score)
			}
		}
	}
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
