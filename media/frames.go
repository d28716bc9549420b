package media

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"

	"reels-pipeline/types"
)

// Frame is one still pulled from a rendered video.
type Frame struct {
	Segment int     `json:"segment"`
	At      float64 `json:"at"`
	Path    string  `json:"path"`
}

// SampleTimes spreads perSegment timestamps evenly inside each segment.
// With perSegment 1 that is the segment midpoint. When maxFrames > 0 and
// more frames would be taken, an evenly spaced subset is kept.
func SampleTimes(segments []types.Segment, perSegment, maxFrames int) []Frame {
	if perSegment < 1 {
		perSegment = 1
	}
	var frames []Frame
	var t float64
	for i, seg := range segments {
		for j := 0; j < perSegment; j++ {
			at := t + seg.Duration*float64(j+1)/float64(perSegment+1)
			frames = append(frames, Frame{Segment: i, At: at})
		}
		t += seg.Duration
	}
	if maxFrames <= 0 || len(frames) <= maxFrames {
		return frames
	}
	kept := make([]Frame, 0, maxFrames)
	for k := 0; k < maxFrames; k++ {
		kept = append(kept, frames[k*len(frames)/maxFrames])
	}
	return kept
}

// Sampler extracts frames with ffmpeg.
type Sampler struct{}

// Sample writes the frames chosen by SampleTimes into dir as JPEGs.
// Timestamps past the end of the video are pulled back inside it.
func (Sampler) Sample(ctx context.Context, video string, script *types.Script, perSegment, maxFrames int, dir string) ([]Frame, error) {
	frames := SampleTimes(script.Segments, perSegment, maxFrames)
	if len(frames) == 0 {
		return nil, errors.New("script has no segments to sample")
	}
	length, err := ProbeDuration(ctx, video)
	if err != nil {
		return nil, err
	}
	for k := range frames {
		if frames[k].At >= length {
			frames[k].At = length - 0.1
		}
		if frames[k].At < 0 {
			frames[k].At = 0
		}
		frames[k].Path = filepath.Join(dir, fmt.Sprintf("frame_%02d_seg%02d.jpg", k, frames[k].Segment))
		if err := ExtractFrame(ctx, video, frames[k].At, frames[k].Path); err != nil {
			return nil, errors.Wrapf(err, "extract frame at %.2fs", frames[k].At)
		}
	}
	return frames, nil
}
