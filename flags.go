package main

import (
	"flag"
	"io"

	"reels-pipeline/config"
)

// runOptions carries the command-line choices for run, iterate and schedule.
type runOptions struct {
	Target     string
	ConfigPath string

	Lyrical    bool
	Song       bool
	Voiceover  bool
	Iterate    bool
	Rate       bool
	SingleClip bool
	Upload     bool
	Music      string

	Segments    int
	Duration    int
	MaxAttempts int
	MinScore    float64
	MusicVolume float64

	// fromDraft skips footage and assembly and polishes an existing draft.
	fromDraft bool
	set       map[string]bool
}

func newRunFlags(o *runOptions, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&o.ConfigPath, "config", "config.yaml", "config file")
	fs.BoolVar(&o.Lyrical, "lyrical", false, "generate rhymed lyrics instead of captions")
	fs.BoolVar(&o.Song, "song", false, "compose a sung track from the lyrics (implies --lyrical and single clip)")
	fs.BoolVar(&o.Voiceover, "voiceover", false, "add a TTS voiceover")
	fs.StringVar(&o.Music, "m", "", "background music file, or 'auto' to pick by mood")
	fs.StringVar(&o.Music, "music", "", "alias for -m")
	fs.BoolVar(&o.Iterate, "iterate", false, "repeat render and rating until the score passes")
	fs.BoolVar(&o.Rate, "rate", false, "rate the single pass for quality")
	fs.BoolVar(&o.SingleClip, "single-clip", false, "use one long clip for the whole reel")
	fs.IntVar(&o.Segments, "n", 0, "number of segments when generating a script")
	fs.IntVar(&o.Duration, "d", 0, "target duration in seconds when generating a script")
	fs.IntVar(&o.MaxAttempts, "max-iterations", 0, "maximum render attempts")
	fs.Float64Var(&o.MinScore, "min-score", 0, "minimum passing quality score")
	fs.Float64Var(&o.MusicVolume, "music-volume", 0, "music volume 0-1")
	fs.BoolVar(&o.Upload, "upload", false, "upload to YouTube when the run passes")
	return fs
}

func newIterateFlags(o *runOptions, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("iterate", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&o.ConfigPath, "config", "config.yaml", "config file")
	fs.IntVar(&o.MaxAttempts, "n", 0, "maximum render attempts")
	fs.IntVar(&o.MaxAttempts, "max-iterations", 0, "alias for -n")
	fs.Float64Var(&o.MinScore, "min-score", 0, "minimum passing quality score")
	fs.BoolVar(&o.Voiceover, "voiceover", false, "add a TTS voiceover")
	fs.StringVar(&o.Music, "m", "", "background music file, or 'auto'")
	fs.StringVar(&o.Music, "music", "", "alias for -m")
	fs.Float64Var(&o.MusicVolume, "music-volume", 0, "music volume 0-1")
	fs.BoolVar(&o.Upload, "upload", false, "upload to YouTube when the run passes")
	return fs
}

// parseInterspersed lets flags follow positional arguments, which the flag
// package alone does not allow.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

// parseRun parses flags for run (iterate=false) or iterate (iterate=true).
func parseRun(args []string, iterateCmd bool, out io.Writer) (*runOptions, error) {
	o := &runOptions{set: map[string]bool{}}
	var fs *flag.FlagSet
	if iterateCmd {
		fs = newIterateFlags(o, out)
	} else {
		fs = newRunFlags(o, out)
	}
	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return nil, err
	}
	if len(positional) != 1 {
		return nil, errUsage
	}
	o.Target = positional[0]
	fs.Visit(func(f *flag.Flag) {
		name := f.Name
		switch {
		case iterateCmd && name == "n":
			name = "max-iterations"
		case name == "music":
			name = "m"
		}
		o.set[name] = true
	})
	if iterateCmd {
		o.Iterate = true
		o.fromDraft = true
	}
	if o.Song {
		o.Lyrical = true
		o.SingleClip = true
	}
	return o, nil
}

// apply copies explicitly set flags over the loaded config.
func (o *runOptions) apply(cfg *config.Config) {
	if o.set["n"] {
		cfg.Script.Segments = o.Segments
	}
	if o.set["d"] {
		cfg.Script.DurationSec = o.Duration
	}
	if o.set["max-iterations"] {
		cfg.Iterate.MaxAttempts = o.MaxAttempts
	}
	if o.set["min-score"] {
		cfg.Iterate.MinScore = o.MinScore
	}
	if o.set["music-volume"] {
		cfg.Music.Volume = o.MusicVolume
	}
	if o.set["single-clip"] || o.Song {
		cfg.Footage.SingleClip = true
	}
	if o.Upload {
		cfg.Upload.Enabled = true
	}
}
