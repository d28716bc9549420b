package iterate

import (
	"time"

	"reels-pipeline/types"
)

// Disposition is the terminal verdict reported to the caller.
type Disposition string

const (
	DispositionPassed    Disposition = "passed"
	DispositionExhausted Disposition = "exhausted"
	DispositionRejected  Disposition = "rejected"
	DispositionFailed    Disposition = "failed"
)

// Stop reasons recorded in the summary.
const (
	ReasonQualityPassed    = "quality_passed"
	ReasonSafetyRejected   = "safety_rejected"
	ReasonExhausted        = "attempts_exhausted"
	ReasonRenderFailed     = "render_failed"
	ReasonRaterUnavailable = "rater_unavailable"
	ReasonCanceled         = "canceled"
	ReasonArtifactWrite    = "artifact_write_failed"
)

// Process exit codes, one per disposition or failure class.
const (
	ExitPassed           = 0
	ExitError            = 1
	ExitExhausted        = 2
	ExitRejected         = 3
	ExitRenderFailed     = 4
	ExitRaterUnavailable = 5
	ExitConfig           = 6
)

// AttemptRecord is one row of the attempt history.
type AttemptRecord struct {
	Attempt    int           `json:"attempt"`
	Video      string        `json:"video"`
	Score      float64       `json:"score"`
	Verdict    types.Verdict `json:"verdict,omitempty"`
	Decision   string        `json:"decision"`
	RatingFile string        `json:"rating_file,omitempty"`
	SafetyFile string        `json:"safety_file,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Outcome is the run summary written on every stop.
type Outcome struct {
	RunID        string              `json:"run_id"`
	ScriptID     string              `json:"script_id"`
	Disposition  Disposition         `json:"disposition"`
	StopReason   string              `json:"stop_reason"`
	Detail       string              `json:"detail"`
	Attempts     int                 `json:"attempts"`
	MaxAttempts  int                 `json:"max_attempts"`
	MinScore     float64             `json:"min_score"`
	FinalAttempt int                 `json:"final_attempt,omitempty"`
	FinalVideo   string              `json:"final_video,omitempty"`
	Rating       *types.RatingReport `json:"rating,omitempty"`
	Safety       *types.SafetyReport `json:"safety,omitempty"`
	NeedsReview  bool                `json:"needs_review"`
	History      []AttemptRecord     `json:"history"`
	Error        string              `json:"error,omitempty"`
	StartedAt    time.Time           `json:"started_at"`
	FinishedAt   time.Time           `json:"finished_at"`
}

// ExitCode maps a run result onto the CLI exit status.
func ExitCode(o *Outcome, err error) int {
	if o == nil {
		switch {
		case types.IsConfigError(err):
			return ExitConfig
		case types.IsRenderError(err):
			return ExitRenderFailed
		case types.IsRaterUnavailable(err):
			return ExitRaterUnavailable
		case err != nil:
			return ExitError
		}
		return ExitPassed
	}
	switch o.Disposition {
	case DispositionPassed:
		return ExitPassed
	case DispositionExhausted:
		return ExitExhausted
	case DispositionRejected:
		return ExitRejected
	}
	switch o.StopReason {
	case ReasonRenderFailed:
		return ExitRenderFailed
	case ReasonRaterUnavailable:
		return ExitRaterUnavailable
	}
	return ExitError
}

func dispositionFor(s State) Disposition {
	switch s {
	case StatePassed:
		return DispositionPassed
	case StateExhausted:
		return DispositionExhausted
	case StateRejected:
		return DispositionRejected
	}
	return DispositionFailed
}
