package iterate

import (
	"fmt"
	"math"
	"strings"

	"reels-pipeline/types"
)

// State is one step of the render/rate/check cycle.
type State int

const (
	StateRendering State = iota
	StateRating
	StateSafetyChecking
	StatePassed
	StateExhausted
	StateRejected
	StateFailed
)

var stateNames = [...]string{
	StateRendering:      "rendering",
	StateRating:         "rating",
	StateSafetyChecking: "safety_checking",
	StatePassed:         "passed",
	StateExhausted:      "exhausted",
	StateRejected:       "rejected",
	StateFailed:         "failed",
}

func (s State) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether the run stops in this state.
func (s State) Terminal() bool {
	return s >= StatePassed
}

// TieBreak picks between attempts with equal scores when the budget runs out.
type TieBreak string

const (
	TieBreakEarliest TieBreak = "earliest"
	TieBreakLatest   TieBreak = "latest"
)

// ParseTieBreak accepts "earliest" (also the empty string) or "latest".
func ParseTieBreak(s string) (TieBreak, error) {
	switch TieBreak(strings.ToLower(strings.TrimSpace(s))) {
	case "", TieBreakEarliest:
		return TieBreakEarliest, nil
	case TieBreakLatest:
		return TieBreakLatest, nil
	}
	return "", types.NewConfigError("tie_break", "unknown policy %q", s)
}

// Policy holds the stop conditions for one run.
type Policy struct {
	MaxAttempts int
	MinScore    float64
	ScoreMin    float64
	ScoreMax    float64
	TieBreak    TieBreak
}

// DefaultPolicy is three attempts, pass at 8 on a 1..10 scale.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		MinScore:    8,
		ScoreMin:    1,
		ScoreMax:    10,
		TieBreak:    TieBreakEarliest,
	}
}

// Validate rejects settings that make the loop meaningless.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return types.NewConfigError("max_attempts", "must be >= 1, got %d", p.MaxAttempts)
	}
	for name, v := range map[string]float64{"min_score": p.MinScore, "score_min": p.ScoreMin, "score_max": p.ScoreMax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return types.NewConfigError(name, "must be a finite number, got %g", v)
		}
	}
	if p.ScoreMin >= p.ScoreMax {
		return types.NewConfigError("score_range", "[%g, %g] is empty", p.ScoreMin, p.ScoreMax)
	}
	if p.MinScore < p.ScoreMin || p.MinScore > p.ScoreMax {
		return types.NewConfigError("min_score", "%g outside rater range [%g, %g]", p.MinScore, p.ScoreMin, p.ScoreMax)
	}
	if _, err := ParseTieBreak(string(p.TieBreak)); err != nil {
		return err
	}
	return nil
}

// advance moves through the in-attempt stages. Any error ends the run.
func advance(s State, err error) State {
	if err != nil {
		return StateFailed
	}
	switch s {
	case StateRendering:
		return StateRating
	case StateRating:
		return StateSafetyChecking
	}
	return s
}

// Decide is the transition taken once an attempt has both reports.
// Order matters: a rejected verdict wins over any score, and a pass wins
// over an exhausted budget.
func Decide(p Policy, attempt int, rating *types.RatingReport, safety *types.SafetyReport) State {
	switch {
	case safety.Verdict == types.VerdictRejected:
		return StateRejected
	case rating.OverallScore >= p.MinScore:
		return StatePassed
	case attempt >= p.MaxAttempts:
		return StateExhausted
	default:
		return StateRendering
	}
}

// prefer reports whether a candidate score should replace the best so far.
func (t TieBreak) prefer(candidate, best float64) bool {
	if t == TieBreakLatest {
		return candidate >= best
	}
	return candidate > best
}
