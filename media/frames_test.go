package media

import (
	"testing"

	"reels-pipeline/types"
)

func TestSampleTimes(t *testing.T) {
	segs := []types.Segment{{Duration: 4}, {Duration: 6}, {Duration: 2}}

	tests := []struct {
		name       string
		perSegment int
		max        int
		want       []float64
	}{
		{"midpoints", 1, 0, []float64{2, 7, 11}},
		{"two per segment", 2, 0, []float64{4.0 / 3, 8.0 / 3, 6, 8, 10 + 2.0/3, 10 + 4.0/3}},
		{"capped", 2, 3, []float64{4.0 / 3, 6, 10 + 2.0/3}},
		{"zero per segment means one", 0, 0, []float64{2, 7, 11}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SampleTimes(segs, tt.perSegment, tt.max)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d frames, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if diff := got[i].At - tt.want[i]; diff > 1e-9 || diff < -1e-9 {
					t.Errorf("frame %d at %.4f, want %.4f", i, got[i].At, tt.want[i])
				}
			}
		})
	}
}

func TestSampleTimesSegments(t *testing.T) {
	got := SampleTimes([]types.Segment{{Duration: 1}, {Duration: 1}}, 2, 0)
	want := []int{0, 0, 1, 1}
	for i, f := range got {
		if f.Segment != want[i] {
			t.Errorf("frame %d segment = %d, want %d", i, f.Segment, want[i])
		}
	}
}
