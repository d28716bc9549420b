package iterate

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"reels-pipeline/artifact"
	"reels-pipeline/logging"
	"reels-pipeline/types"
)

// Renderer burns captions and audio onto the draft and writes the result to output.
type Renderer interface {
	Render(ctx context.Context, script *types.Script, opts types.RenderOptions, output string) (string, error)
}

// QualityRater scores a rendered video against its script.
type QualityRater interface {
	Rate(ctx context.Context, video string, script *types.Script) (*types.RatingReport, error)
}

// SafetyRater screens a rendered video and its script text.
type SafetyRater interface {
	Check(ctx context.Context, video string, script *types.Script) (*types.SafetyReport, error)
}

// Controller drives render -> rate -> safety cycles for one run. Build a
// fresh Controller per run; it holds no state between runs.
type Controller struct {
	renderer Renderer
	rater    QualityRater
	safety   SafetyRater
	store    *artifact.Store
	policy   Policy
}

// New validates the policy and collaborators.
func New(r Renderer, q QualityRater, s SafetyRater, store *artifact.Store, p Policy) (*Controller, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	switch {
	case r == nil:
		return nil, types.NewConfigError("renderer", "not set")
	case q == nil:
		return nil, types.NewConfigError("quality_rater", "not set")
	case s == nil:
		return nil, types.NewConfigError("safety_rater", "not set")
	case store == nil:
		return nil, types.NewConfigError("artifact_store", "not set")
	}
	return &Controller{renderer: r, rater: q, safety: s, store: store, policy: p}, nil
}

type scored struct {
	attempt int
	video   string
	rating  *types.RatingReport
	safety  *types.SafetyReport
}

// iteration is the mutable state of one Run.
type iteration struct {
	attempt int
	video   string
	rating  *types.RatingReport
	safety  *types.SafetyReport
	latest  *scored
	best    *scored
	failure error
	reason  string
}

// Run executes attempts until a terminal state. The returned Outcome is
// never nil once the script is accepted; err is set for failed runs.
func (c *Controller) Run(ctx context.Context, runID string, script *types.Script, opts types.RenderOptions) (*Outcome, error) {
	if script == nil || len(script.Segments) == 0 {
		return nil, types.NewConfigError("script", "has no segments")
	}

	log := logging.Stage("iterate").WithFields(logrus.Fields{
		"run_id": runID,
		"script": script.ID,
	})
	out := &Outcome{
		RunID:       runID,
		ScriptID:    script.ID,
		MaxAttempts: c.policy.MaxAttempts,
		MinScore:    c.policy.MinScore,
		StartedAt:   time.Now().UTC(),
	}

	it := &iteration{attempt: 1}
	state := StateRendering
	for !state.Terminal() {
		if err := ctx.Err(); err != nil {
			it.failure, it.reason = errors.Wrapf(err, "attempt %d", it.attempt), ReasonCanceled
			state = StateFailed
			break
		}

		switch state {
		case StateRendering:
			log.WithField("attempt", it.attempt).Infof("Rendering attempt %d/%d", it.attempt, c.policy.MaxAttempts)
			state = advance(state, c.render(ctx, script, opts, it))

		case StateRating:
			state = advance(state, c.rate(ctx, script, it))

		case StateSafetyChecking:
			if err := c.check(ctx, script, it); err != nil {
				state = advance(state, err)
				break
			}
			state = Decide(c.policy, it.attempt, it.rating, it.safety)
			c.record(out, it, state)
			log.WithFields(logrus.Fields{
				"attempt": it.attempt,
				"score":   it.rating.OverallScore,
				"verdict": it.safety.Verdict,
				"next":    state.String(),
			}).Info("Attempt evaluated")
			if state == StateRendering {
				it.attempt++
			}
		}
	}

	if state == StateFailed {
		c.recordFailure(out, it)
	}
	c.finish(out, it, state)

	if err := artifact.WriteJSON(c.store.SummaryPath(), out); err != nil {
		log.WithError(err).Error("Could not write run summary")
		if it.failure == nil {
			return out, errors.Wrap(err, "write summary")
		}
	}

	entry := log.WithFields(logrus.Fields{
		"disposition": out.Disposition,
		"reason":      out.StopReason,
		"attempts":    out.Attempts,
	})
	switch out.Disposition {
	case DispositionPassed:
		entry.Info("Run passed")
	case DispositionFailed:
		entry.WithError(it.failure).Error("Run failed")
	default:
		entry.Warn("Run stopped without passing")
	}
	if out.NeedsReview {
		entry.Warn("Safety check asked for human review")
	}
	return out, it.failure
}

func (c *Controller) render(ctx context.Context, script *types.Script, opts types.RenderOptions, it *iteration) error {
	it.video, it.rating, it.safety = "", nil, nil

	video, err := c.renderer.Render(ctx, script, opts, c.store.AttemptVideo(it.attempt))
	if err == nil && video == "" {
		err = types.NewRenderError("iterate.render", nil, "renderer returned no video")
	}
	if err != nil {
		if ctx.Err() != nil {
			it.failure, it.reason = errors.Wrapf(err, "attempt %d", it.attempt), ReasonCanceled
			return it.failure
		}
		if !types.IsRenderError(err) {
			err = types.NewRenderError("iterate.render", err, "renderer failed")
		}
		it.failure, it.reason = errors.Wrapf(err, "attempt %d", it.attempt), ReasonRenderFailed
		return it.failure
	}
	it.video = video
	return nil
}

func (c *Controller) rate(ctx context.Context, script *types.Script, it *iteration) error {
	rating, err := c.rater.Rate(ctx, it.video, script)
	if err == nil && rating == nil {
		err = errors.New("rater returned no report")
	}
	if err == nil && !c.inRange(rating.OverallScore) {
		err = fmt.Errorf("score %g outside [%g, %g]", rating.OverallScore, c.policy.ScoreMin, c.policy.ScoreMax)
	}
	if err != nil {
		return c.raterFailure(ctx, "quality", err, it)
	}

	rating.Video, rating.Attempt = it.video, it.attempt
	// pass follows the policy threshold
	rating.Pass = rating.OverallScore >= c.policy.MinScore
	if rating.RatedAt.IsZero() {
		rating.RatedAt = time.Now().UTC()
	}
	it.rating = rating
	return c.writeReport(c.store.RatingPath(it.attempt), rating, it)
}

func (c *Controller) check(ctx context.Context, script *types.Script, it *iteration) error {
	report, err := c.safety.Check(ctx, it.video, script)
	if err == nil && report == nil {
		err = errors.New("safety rater returned no report")
	}
	if err == nil {
		switch report.Verdict {
		case types.VerdictApproved, types.VerdictNeedsReview, types.VerdictRejected:
		default:
			err = fmt.Errorf("unknown verdict %q", report.Verdict)
		}
	}
	if err != nil {
		return c.raterFailure(ctx, "safety", err, it)
	}

	report.Video, report.Attempt = it.video, it.attempt
	if report.CheckedAt.IsZero() {
		report.CheckedAt = time.Now().UTC()
	}
	it.safety = report
	return c.writeReport(c.store.SafetyPath(it.attempt), report, it)
}

func (c *Controller) raterFailure(ctx context.Context, rater string, err error, it *iteration) error {
	if ctx.Err() != nil {
		it.failure, it.reason = errors.Wrapf(err, "attempt %d", it.attempt), ReasonCanceled
		return it.failure
	}
	if !types.IsRaterUnavailable(err) {
		err = types.NewRaterError("iterate."+rater, rater, err, "no usable report")
	}
	it.failure, it.reason = errors.Wrapf(err, "attempt %d", it.attempt), ReasonRaterUnavailable
	return it.failure
}

func (c *Controller) writeReport(path string, v interface{}, it *iteration) error {
	if err := artifact.WriteJSON(path, v); err != nil {
		it.failure, it.reason = err, ReasonArtifactWrite
		return err
	}
	return nil
}

func (c *Controller) inRange(score float64) bool {
	return !math.IsNaN(score) && score >= c.policy.ScoreMin && score <= c.policy.ScoreMax
}

// record appends a completed attempt and updates the best-so-far pointer.
func (c *Controller) record(out *Outcome, it *iteration, next State) {
	cur := &scored{attempt: it.attempt, video: it.video, rating: it.rating, safety: it.safety}
	it.latest = cur
	if it.best == nil || c.policy.TieBreak.prefer(cur.rating.OverallScore, it.best.rating.OverallScore) {
		it.best = cur
	}

	decision := next.String()
	if next == StateRendering {
		decision = "retry"
	}
	out.History = append(out.History, AttemptRecord{
		Attempt:    it.attempt,
		Video:      it.video,
		Score:      it.rating.OverallScore,
		Verdict:    it.safety.Verdict,
		Decision:   decision,
		RatingFile: c.store.RatingPath(it.attempt),
		SafetyFile: c.store.SafetyPath(it.attempt),
	})
}

func (c *Controller) recordFailure(out *Outcome, it *iteration) {
	rec := AttemptRecord{
		Attempt:  it.attempt,
		Video:    it.video,
		Decision: StateFailed.String(),
	}
	if it.failure != nil {
		rec.Error = it.failure.Error()
	}
	if it.rating != nil {
		rec.Score = it.rating.OverallScore
		rec.RatingFile = c.store.RatingPath(it.attempt)
	}
	out.History = append(out.History, rec)
}

// finish fills the summary from the attempt the disposition points at.
func (c *Controller) finish(out *Outcome, it *iteration, state State) {
	out.Disposition = dispositionFor(state)
	out.Attempts = it.attempt
	out.FinishedAt = time.Now().UTC()

	var chosen *scored
	switch state {
	case StatePassed:
		chosen = it.latest
		out.StopReason = ReasonQualityPassed
		out.Detail = fmt.Sprintf("attempt %d scored %.1f (min %.1f), safety %s",
			chosen.attempt, chosen.rating.OverallScore, c.policy.MinScore, chosen.safety.Verdict)
	case StateRejected:
		chosen = it.latest
		out.StopReason = ReasonSafetyRejected
		out.Detail = fmt.Sprintf("attempt %d rejected by safety check", chosen.attempt)
	case StateExhausted:
		chosen = it.best
		out.StopReason = ReasonExhausted
		out.Detail = fmt.Sprintf("no attempt reached %.1f in %d tries; best was attempt %d at %.1f",
			c.policy.MinScore, it.attempt, chosen.attempt, chosen.rating.OverallScore)
	default:
		chosen = it.latest
		out.StopReason = it.reason
		if it.failure != nil {
			out.Error = it.failure.Error()
			out.Detail = fmt.Sprintf("attempt %d failed", it.attempt)
		}
	}
	if chosen == nil {
		return
	}

	out.FinalAttempt = chosen.attempt
	out.Rating = chosen.rating
	out.Safety = chosen.safety
	out.NeedsReview = chosen.safety.Verdict == types.VerdictNeedsReview

	switch state {
	case StatePassed, StateExhausted:
		out.FinalVideo = c.store.FinalVideo()
		if err := artifact.Promote(chosen.video, out.FinalVideo); err != nil {
			logging.Stage("iterate").WithError(err).Warn("Could not promote final video, pointing at attempt file")
			out.FinalVideo = chosen.video
		}
	default:
		out.FinalVideo = chosen.video
	}
}
