package script

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"reels-pipeline/types"
)

// DefaultSegmentDuration is used when a block has no usable DURATION field.
const DefaultSegmentDuration = 5.0

var numberRe = regexp.MustCompile(`\d+(\.\d+)?`)

// Load reads and parses a script file. The script ID is derived from the
// file name so every artifact for it lands under the same stem.
func Load(path string) (*types.Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open script")
	}
	defer f.Close()

	s, err := Parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	s.Source = path
	s.ID = Slugify(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	if s.Title == "" {
		s.Title = strings.ReplaceAll(s.ID, "_", " ")
	}
	return s, nil
}

// Parse reads the SEGMENT/TEXT/LYRICS/DURATION block format. Blocks are
// separated by a line holding only "---". A LYRICS field anywhere switches
// the script to lyrical mode.
func Parse(r io.Reader) (*types.Script, error) {
	s := &types.Script{Mode: types.ModeStandard}

	var blk block
	flush := func() {
		if seg, ok := blk.segment(); ok {
			seg.Index = len(s.Segments)
			s.Segments = append(s.Segments, seg)
		}
		blk = block{}
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "---" {
			flush()
			continue
		}
		key, value, ok := field(line)
		if !ok {
			continue
		}
		switch key {
		case "SEGMENT":
			blk.query = value
		case "TEXT":
			blk.text = unquote(value)
		case "LYRICS":
			blk.text = unquote(value)
			blk.lyrics = true
			s.Mode = types.ModeLyrical
		case "DURATION":
			blk.duration, blk.hasDuration = parseDuration(value), true
		case "TITLE":
			s.Title = unquote(value)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "read script")
	}
	flush()

	if err := Validate(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate enforces a non-empty segment list with positive durations.
func Validate(s *types.Script) error {
	if len(s.Segments) == 0 {
		return errors.New("script has no segments")
	}
	for _, seg := range s.Segments {
		if seg.Duration <= 0 {
			return errors.Errorf("segment %d (%q) has non-positive duration %g", seg.Index+1, seg.VisualQuery, seg.Duration)
		}
	}
	return nil
}

// Format renders a script back into the text format Parse accepts.
func Format(s *types.Script) string {
	var sb strings.Builder
	textKey := "TEXT"
	if s.Mode == types.ModeLyrical {
		textKey = "LYRICS"
	}
	for i, seg := range s.Segments {
		if i > 0 {
			sb.WriteString("---\n")
		}
		sb.WriteString("SEGMENT: " + seg.VisualQuery + "\n")
		if seg.Text != "" {
			sb.WriteString(textKey + ": " + seg.Text + "\n")
		}
		sb.WriteString("DURATION: " + strconv.FormatFloat(seg.Duration, 'f', -1, 64) + "\n")
	}
	return sb.String()
}

type block struct {
	query    string
	text     string
	lyrics   bool
	duration float64

	hasDuration bool
}

func (b block) segment() (types.Segment, bool) {
	query := b.query
	// lyrics-only blocks search footage with the lyric itself
	if query == "" && b.lyrics {
		query = b.text
	}
	if query == "" {
		return types.Segment{}, false
	}
	d := DefaultSegmentDuration
	if b.hasDuration {
		d = b.duration
	}
	return types.Segment{VisualQuery: query, Text: b.text, Duration: d}, true
}

func field(line string) (string, string, bool) {
	i := strings.Index(line, ":")
	if i <= 0 {
		return "", "", false
	}
	return strings.ToUpper(strings.TrimSpace(line[:i])), strings.TrimSpace(line[i+1:]), true
}

func unquote(s string) string {
	return strings.Trim(s, `"'`)
}

// parseDuration takes the first number in the field, so "6", "6 seconds"
// and "6s" all work. A field with no number falls back to the default.
func parseDuration(raw string) float64 {
	m := numberRe.FindString(raw)
	if m == "" {
		return DefaultSegmentDuration
	}
	d, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return DefaultSegmentDuration
	}
	return d
}

// Slugify turns a topic or file stem into a safe artifact identifier.
func Slugify(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch {
		case r < 128 && (r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9'):
			sb.WriteRune(r)
		case r == ' ' || r == '-':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	out := []rune(sb.String())
	if len(out) > 50 {
		out = out[:50]
	}
	slug := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(string(out)), " ", "_"))
	if slug == "" {
		return "script"
	}
	return slug
}
