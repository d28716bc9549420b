package iterate

import (
	"context"
	"math"
	"os"
	"testing"

	"github.com/pkg/errors"

	"reels-pipeline/artifact"
	"reels-pipeline/types"
)

type fakeRenderer struct {
	calls  int
	failOn int
	err    error
}

func (f *fakeRenderer) Render(ctx context.Context, script *types.Script, opts types.RenderOptions, output string) (string, error) {
	f.calls++
	if f.calls == f.failOn {
		return "", f.err
	}
	if err := os.WriteFile(output, []byte("video"), 0644); err != nil {
		return "", err
	}
	return output, nil
}

type fakeRater struct {
	calls  int
	scores []float64
	err    error
}

func (f *fakeRater) Rate(ctx context.Context, video string, script *types.Script) (*types.RatingReport, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	// Pass is always false here; the controller derives it from the score
	return &types.RatingReport{OverallScore: f.scores[f.calls-1], Pass: false}, nil
}

type fakeSafety struct {
	calls    int
	verdicts []types.Verdict
	err      error
}

func (f *fakeSafety) Check(ctx context.Context, video string, script *types.Script) (*types.SafetyReport, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	v := types.VerdictApproved
	if len(f.verdicts) > 0 {
		v = f.verdicts[f.calls-1]
	}
	return &types.SafetyReport{Verdict: v}, nil
}

func testScript() *types.Script {
	return &types.Script{
		ID:   "test_reel",
		Mode: types.ModeStandard,
		Segments: []types.Segment{
			{Index: 0, VisualQuery: "sunrise", Text: "Wake up early", Duration: 4},
			{Index: 1, VisualQuery: "coffee", Text: "Fuel up", Duration: 5},
		},
	}
}

func newController(t *testing.T, r Renderer, q QualityRater, s SafetyRater, p Policy) (*Controller, *artifact.Store) {
	t.Helper()
	store, err := artifact.NewStore(t.TempDir(), "test_reel")
	if err != nil {
		t.Fatal(err)
	}
	c, err := New(r, q, s, store, p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, store
}

func policy(n int, minScore float64) Policy {
	p := DefaultPolicy()
	p.MaxAttempts = n
	p.MinScore = minScore
	return p
}

func TestScenarios(t *testing.T) {
	tests := []struct {
		name         string
		n            int
		scores       []float64
		verdicts     []types.Verdict
		want         Disposition
		wantRenders  int
		wantFinal    int
		wantExitCode int
	}{
		{
			name:   "pass on second attempt",
			n:      3,
			scores: []float64{5, 9, 10},
			want:   DispositionPassed, wantRenders: 2, wantFinal: 2, wantExitCode: ExitPassed,
		},
		{
			name:   "exhausted reports best attempt",
			n:      2,
			scores: []float64{4, 6},
			want:   DispositionExhausted, wantRenders: 2, wantFinal: 2, wantExitCode: ExitExhausted,
		},
		{
			name:     "rejected halts immediately",
			n:        3,
			scores:   []float64{9, 9, 9},
			verdicts: []types.Verdict{types.VerdictRejected, types.VerdictApproved, types.VerdictApproved},
			want:     DispositionRejected, wantRenders: 1, wantFinal: 1, wantExitCode: ExitRejected,
		},
		{
			name:   "single attempt pass",
			n:      1,
			scores: []float64{9},
			want:   DispositionPassed, wantRenders: 1, wantFinal: 1, wantExitCode: ExitPassed,
		},
		{
			name:   "single attempt exhausted",
			n:      1,
			scores: []float64{3},
			want:   DispositionExhausted, wantRenders: 1, wantFinal: 1, wantExitCode: ExitExhausted,
		},
		{
			name:   "exhausted prefers higher early score",
			n:      3,
			scores: []float64{7, 5, 6},
			want:   DispositionExhausted, wantRenders: 3, wantFinal: 1, wantExitCode: ExitExhausted,
		},
		{
			name:     "rejection beats a passing score",
			n:        3,
			scores:   []float64{4, 10},
			verdicts: []types.Verdict{types.VerdictApproved, types.VerdictRejected},
			want:     DispositionRejected, wantRenders: 2, wantFinal: 2, wantExitCode: ExitRejected,
		},
		{
			name:     "needs review does not block",
			n:        3,
			scores:   []float64{8},
			verdicts: []types.Verdict{types.VerdictNeedsReview},
			want:     DispositionPassed, wantRenders: 1, wantFinal: 1, wantExitCode: ExitPassed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRenderer{}
			q := &fakeRater{scores: tt.scores}
			s := &fakeSafety{verdicts: tt.verdicts}
			c, store := newController(t, r, q, s, policy(tt.n, 8))

			out, err := c.Run(context.Background(), "run1", testScript(), types.RenderOptions{})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if out.Disposition != tt.want {
				t.Errorf("disposition = %s, want %s", out.Disposition, tt.want)
			}
			if r.calls != tt.wantRenders || q.calls != tt.wantRenders || s.calls != tt.wantRenders {
				t.Errorf("calls render/rate/check = %d/%d/%d, want %d each", r.calls, q.calls, s.calls, tt.wantRenders)
			}
			if out.FinalAttempt != tt.wantFinal {
				t.Errorf("final attempt = %d, want %d", out.FinalAttempt, tt.wantFinal)
			}
			if out.Rating == nil || out.Rating.Attempt != tt.wantFinal {
				t.Errorf("reported rating does not belong to attempt %d: %+v", tt.wantFinal, out.Rating)
			}
			if got := ExitCode(out, err); got != tt.wantExitCode {
				t.Errorf("exit code = %d, want %d", got, tt.wantExitCode)
			}
			if len(out.History) != tt.wantRenders {
				t.Errorf("history has %d entries, want %d", len(out.History), tt.wantRenders)
			}

			var summary Outcome
			if err := artifact.ReadJSON(store.SummaryPath(), &summary); err != nil {
				t.Fatalf("summary: %v", err)
			}
			if summary.Disposition != tt.want {
				t.Errorf("summary disposition = %s", summary.Disposition)
			}
			if summary.Rating == nil || summary.Rating.Pass != (summary.Rating.OverallScore >= 8) {
				t.Errorf("summary rating pass does not follow min_score: %+v", summary.Rating)
			}
			if tt.want == DispositionPassed && !summary.Rating.Pass {
				t.Error("passed run reports a failing rating")
			}
			var first types.RatingReport
			if err := artifact.ReadJSON(store.RatingPath(1), &first); err != nil {
				t.Fatalf("rating 1: %v", err)
			}
			if first.Pass != (tt.scores[0] >= 8) {
				t.Errorf("attempt 1 rating pass = %v for score %g", first.Pass, tt.scores[0])
			}
			for k := 1; k <= tt.wantRenders; k++ {
				if _, err := os.Stat(store.RatingPath(k)); err != nil {
					t.Errorf("rating for attempt %d: %v", k, err)
				}
				if _, err := os.Stat(store.SafetyPath(k)); err != nil {
					t.Errorf("safety for attempt %d: %v", k, err)
				}
			}
			if _, err := os.Stat(store.RatingPath(tt.wantRenders + 1)); err == nil {
				t.Errorf("rating written for attempt %d that never ran", tt.wantRenders+1)
			}
		})
	}
}

func TestNeedsReviewPreserved(t *testing.T) {
	s := &fakeSafety{verdicts: []types.Verdict{types.VerdictNeedsReview}}
	c, _ := newController(t, &fakeRenderer{}, &fakeRater{scores: []float64{9}}, s, policy(3, 8))

	out, err := c.Run(context.Background(), "run1", testScript(), types.RenderOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !out.NeedsReview {
		t.Error("needs_review verdict not surfaced in summary")
	}
	if out.Safety.Verdict != types.VerdictNeedsReview {
		t.Errorf("safety verdict = %s", out.Safety.Verdict)
	}
}

func TestRenderErrorIsFatal(t *testing.T) {
	r := &fakeRenderer{failOn: 1, err: types.NewRenderError("overlay.Render", nil, "draft missing")}
	q := &fakeRater{scores: []float64{9}}
	s := &fakeSafety{}
	c, store := newController(t, r, q, s, policy(3, 8))

	out, err := c.Run(context.Background(), "run1", testScript(), types.RenderOptions{})
	if !types.IsRenderError(err) {
		t.Fatalf("err = %v, want RenderError", err)
	}
	if out.Disposition != DispositionFailed || out.StopReason != ReasonRenderFailed {
		t.Errorf("outcome = %s/%s", out.Disposition, out.StopReason)
	}
	if r.calls != 1 || q.calls != 0 || s.calls != 0 {
		t.Errorf("calls render/rate/check = %d/%d/%d, want 1/0/0", r.calls, q.calls, s.calls)
	}
	if ExitCode(out, err) != ExitRenderFailed {
		t.Errorf("exit code = %d", ExitCode(out, err))
	}
	if _, err := os.Stat(store.SummaryPath()); err != nil {
		t.Errorf("summary not written on failure: %v", err)
	}
}

func TestRenderErrorLaterKeepsPartialArtifacts(t *testing.T) {
	r := &fakeRenderer{failOn: 2, err: errors.New("ffmpeg exited 1")}
	c, _ := newController(t, r, &fakeRater{scores: []float64{5}}, &fakeSafety{}, policy(3, 8))

	out, err := c.Run(context.Background(), "run1", testScript(), types.RenderOptions{})
	if !types.IsRenderError(err) {
		t.Fatalf("plain renderer error not classified as RenderError: %v", err)
	}
	if out.FinalAttempt != 1 || out.Rating == nil || out.Rating.OverallScore != 5 {
		t.Errorf("last completed attempt not reported: %+v", out)
	}
	if out.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", out.Attempts)
	}
}

func TestRaterUnavailable(t *testing.T) {
	tests := []struct {
		name   string
		rater  *fakeRater
		safety *fakeSafety
	}{
		{"quality", &fakeRater{err: errors.New("connection refused")}, &fakeSafety{}},
		{"safety", &fakeRater{scores: []float64{9}}, &fakeSafety{err: errors.New("503")}},
		{"score out of range", &fakeRater{scores: []float64{42}}, &fakeSafety{}},
		{"unknown verdict", &fakeRater{scores: []float64{9}}, &fakeSafety{verdicts: []types.Verdict{"maybe"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newController(t, &fakeRenderer{}, tt.rater, tt.safety, policy(3, 8))
			out, err := c.Run(context.Background(), "run1", testScript(), types.RenderOptions{})
			if !types.IsRaterUnavailable(err) {
				t.Fatalf("err = %v, want RaterError", err)
			}
			if out.Disposition != DispositionFailed || out.StopReason != ReasonRaterUnavailable {
				t.Errorf("outcome = %s/%s", out.Disposition, out.StopReason)
			}
			if ExitCode(out, err) != ExitRaterUnavailable {
				t.Errorf("exit code = %d", ExitCode(out, err))
			}
		})
	}
}

func TestCanceledContextFailsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &fakeRenderer{}
	c, _ := newController(t, r, &fakeRater{scores: []float64{9}}, &fakeSafety{}, policy(3, 8))

	out, err := c.Run(ctx, "run1", testScript(), types.RenderOptions{})
	if err == nil || out.StopReason != ReasonCanceled {
		t.Fatalf("out = %+v, err = %v", out, err)
	}
	if r.calls != 0 {
		t.Errorf("rendered %d times after cancel", r.calls)
	}
}

func TestTieBreakPolicy(t *testing.T) {
	tests := []struct {
		tie  TieBreak
		want int
	}{
		{TieBreakEarliest, 1},
		{TieBreakLatest, 3},
	}
	for _, tt := range tests {
		t.Run(string(tt.tie), func(t *testing.T) {
			p := policy(3, 8)
			p.TieBreak = tt.tie
			c, _ := newController(t, &fakeRenderer{}, &fakeRater{scores: []float64{6, 6, 6}}, &fakeSafety{}, p)
			out, err := c.Run(context.Background(), "run1", testScript(), types.RenderOptions{})
			if err != nil {
				t.Fatal(err)
			}
			if out.FinalAttempt != tt.want {
				t.Errorf("final attempt = %d, want %d", out.FinalAttempt, tt.want)
			}
		})
	}
}

func TestPassedVideoIsPromoted(t *testing.T) {
	c, store := newController(t, &fakeRenderer{}, &fakeRater{scores: []float64{9}}, &fakeSafety{}, policy(3, 8))
	out, err := c.Run(context.Background(), "run1", testScript(), types.RenderOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if out.FinalVideo != store.FinalVideo() {
		t.Errorf("final video = %s, want %s", out.FinalVideo, store.FinalVideo())
	}
	if _, err := os.Stat(store.FinalVideo()); err != nil {
		t.Errorf("final video missing: %v", err)
	}
}

func TestConfigurationErrors(t *testing.T) {
	store, err := artifact.NewStore(t.TempDir(), "x")
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		p    Policy
	}{
		{"zero attempts", policy(0, 8)},
		{"negative attempts", policy(-1, 8)},
		{"score too high", policy(3, 11)},
		{"score too low", policy(3, 0.5)},
		{"bad tie break", Policy{MaxAttempts: 3, MinScore: 8, ScoreMin: 1, ScoreMax: 10, TieBreak: "coin"}},
		{"NaN min score", policy(3, math.NaN())},
		{"infinite min score", policy(3, math.Inf(-1))},
		{"infinite score max", Policy{MaxAttempts: 3, MinScore: 8, ScoreMin: 1, ScoreMax: math.Inf(1)}},
		{"NaN score min", Policy{MaxAttempts: 3, MinScore: 8, ScoreMin: math.NaN(), ScoreMax: 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeRenderer{}
			_, err := New(r, &fakeRater{}, &fakeSafety{}, store, tt.p)
			if !types.IsConfigError(err) {
				t.Fatalf("err = %v, want ConfigError", err)
			}
			if ExitCode(nil, err) != ExitConfig {
				t.Errorf("exit code = %d", ExitCode(nil, err))
			}
			if r.calls != 0 {
				t.Error("renderer invoked despite config error")
			}
		})
	}

	c, err := New(&fakeRenderer{}, &fakeRater{}, &fakeSafety{}, store, DefaultPolicy())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Run(context.Background(), "run1", &types.Script{ID: "x"}, types.RenderOptions{}); !types.IsConfigError(err) {
		t.Errorf("empty script err = %v, want ConfigError", err)
	}
}

func TestAtMostNRenders(t *testing.T) {
	for n := 1; n <= 5; n++ {
		scores := make([]float64, n)
		for i := range scores {
			scores[i] = 2
		}
		r := &fakeRenderer{}
		c, _ := newController(t, r, &fakeRater{scores: scores}, &fakeSafety{}, policy(n, 8))
		if _, err := c.Run(context.Background(), "run", testScript(), types.RenderOptions{}); err != nil {
			t.Fatal(err)
		}
		if r.calls != n {
			t.Errorf("N=%d: %d renders", n, r.calls)
		}
	}
}
