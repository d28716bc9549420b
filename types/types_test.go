package types

import (
	"testing"

	"github.com/pkg/errors"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		in   string
		want Verdict
	}{
		{"approved", VerdictApproved},
		{" APPROVED ", VerdictApproved},
		{"rejected", VerdictRejected},
		{"needs_review", VerdictNeedsReview},
		{"maybe", VerdictNeedsReview},
		{"", VerdictNeedsReview},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseVerdict(tt.in); got != tt.want {
				t.Errorf("ParseVerdict(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestVerdictSeverity(t *testing.T) {
	if !(VerdictApproved.Severity() < VerdictNeedsReview.Severity() &&
		VerdictNeedsReview.Severity() < VerdictRejected.Severity()) {
		t.Fatal("verdict severities are not ordered approved < needs_review < rejected")
	}
}

func TestTotalDuration(t *testing.T) {
	s := &Script{Segments: []Segment{{Duration: 4}, {Duration: 5.5}, {Duration: 0.5}}}
	if got := s.TotalDuration(); got != 10 {
		t.Errorf("TotalDuration() = %v, want 10", got)
	}
}

func TestErrorClassification(t *testing.T) {
	render := errors.Wrap(NewRenderError("overlay.Render", nil, "draft missing"), "attempt 1")
	rater := errors.Wrap(NewRaterError("rate.Rate", "quality", errors.New("timeout"), "request failed"), "attempt 2")
	cfg := NewConfigError("max_attempts", "must be >= 1, got %d", 0)

	tests := []struct {
		name                 string
		err                  error
		render, rater, isCfg bool
	}{
		{"render", render, true, false, false},
		{"rater", rater, false, true, false},
		{"config", cfg, false, false, true},
		{"plain", errors.New("boom"), false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRenderError(tt.err); got != tt.render {
				t.Errorf("IsRenderError = %v, want %v", got, tt.render)
			}
			if got := IsRaterUnavailable(tt.err); got != tt.rater {
				t.Errorf("IsRaterUnavailable = %v, want %v", got, tt.rater)
			}
			if got := IsConfigError(tt.err); got != tt.isCfg {
				t.Errorf("IsConfigError = %v, want %v", got, tt.isCfg)
			}
		})
	}
}
