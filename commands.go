package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"reels-pipeline/artifact"
	"reels-pipeline/config"
	"reels-pipeline/llm"
	"reels-pipeline/media"
	"reels-pipeline/types"

	script "reels-pipeline/01_script"
	music "reels-pipeline/03_music"
	overlay "reels-pipeline/05_overlay"
	rate "reels-pipeline/06_rate"
	safety "reels-pipeline/07_safety"
	iterate "reels-pipeline/08_iterate"
)

// reviewArgs are the shared inputs of the rate and safety commands.
type reviewArgs struct {
	video, script string
	configPath    string
	outDir        string
	voiceover     bool
}

func parseReview(name string, args []string, out io.Writer) (*reviewArgs, error) {
	a := &reviewArgs{}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&a.configPath, "config", "config.yaml", "config file")
	fs.StringVar(&a.outDir, "o", "", "report directory (default: next to the video)")
	if name == "rate" {
		fs.BoolVar(&a.voiceover, "voiceover", false, "also score voiceover and caption sync")
	}
	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return nil, err
	}
	if len(positional) != 2 {
		return nil, errUsage
	}
	a.video, a.script = positional[0], positional[1]
	if a.outDir == "" {
		a.outDir = filepath.Dir(a.video)
	}
	return a, nil
}

// prepareReview loads config and script and checks the video exists.
func prepareReview(a *reviewArgs) (*config.Config, *types.Script, *llm.Client, io.Closer, error) {
	cfg, closer, err := setup(a.configPath, nil)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	fail := func(err error) (*config.Config, *types.Script, *llm.Client, io.Closer, error) {
		closer.Close()
		return nil, nil, nil, nil, err
	}
	if _, err := os.Stat(a.video); err != nil {
		return fail(types.NewConfigError("video", "%v", err))
	}
	s, err := script.Load(a.script)
	if err != nil {
		return fail(types.NewConfigError("script", "%v", err))
	}
	client, err := llm.NewFromEnv(llmRequestsPerMinute)
	if err != nil {
		return fail(types.NewConfigError("OPENAI_API_KEY", "%v", err))
	}
	return cfg, s, client, closer, nil
}

func cmdRate(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a, err := parseReview("rate", args, stderr)
	if err != nil {
		if err == errUsage {
			fmt.Fprintln(stderr, "usage: reels rate <video> <script> [--voiceover] [-o dir]")
		}
		return iterate.ExitError
	}
	cfg, s, client, closer, err := prepareReview(a)
	if err != nil {
		fmt.Fprintf(stderr, "reels: %v\n", err)
		return iterate.ExitCode(nil, err)
	}
	defer closer.Close()

	report, err := rate.New(cfg, client, nil, a.voiceover).Rate(ctx, a.video, s)
	if err != nil {
		fmt.Fprintf(stderr, "reels: %v\n", err)
		return iterate.ExitCode(nil, err)
	}
	report.Pass = report.OverallScore >= cfg.Iterate.MinScore

	path := filepath.Join(a.outDir, stem(a.video)+"_rating.json")
	if err := artifact.WriteJSON(path, report); err != nil {
		fmt.Fprintf(stderr, "reels: %v\n", err)
		return iterate.ExitError
	}
	rate.PrintReport(stdout, report)
	fmt.Fprintf(stdout, "Saved: %s\n", path)
	return iterate.ExitPassed
}

func cmdSafety(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a, err := parseReview("safety", args, stderr)
	if err != nil {
		if err == errUsage {
			fmt.Fprintln(stderr, "usage: reels safety <video> <script> [-o dir]")
		}
		return iterate.ExitError
	}
	cfg, s, client, closer, err := prepareReview(a)
	if err != nil {
		fmt.Fprintf(stderr, "reels: %v\n", err)
		return iterate.ExitCode(nil, err)
	}
	defer closer.Close()

	report, err := safety.New(cfg, client, nil).Check(ctx, a.video, s)
	if err != nil {
		fmt.Fprintf(stderr, "reels: %v\n", err)
		return iterate.ExitCode(nil, err)
	}

	path := filepath.Join(a.outDir, stem(a.video)+"_safety.json")
	if err := artifact.WriteJSON(path, report); err != nil {
		fmt.Fprintf(stderr, "reels: %v\n", err)
		return iterate.ExitError
	}
	safety.PrintReport(stdout, report)
	fmt.Fprintf(stdout, "Saved: %s\n", path)
	if report.Verdict == types.VerdictRejected {
		return iterate.ExitRejected
	}
	return iterate.ExitPassed
}

// topicRotation hands out configured topics round robin.
type topicRotation struct {
	mu     sync.Mutex
	topics []string
	next   int
}

func (r *topicRotation) Next() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.topics[r.next%len(r.topics)]
	r.next++
	return t
}

func cmdSchedule(ctx context.Context, args []string, stderr io.Writer) int {
	base := &runOptions{set: map[string]bool{}}
	fs := flag.NewFlagSet("schedule", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&base.ConfigPath, "config", "config.yaml", "config file")
	fs.BoolVar(&base.Voiceover, "voiceover", false, "add a TTS voiceover")
	fs.StringVar(&base.Music, "m", "", "background music file, or 'auto'")
	fs.BoolVar(&base.Upload, "upload", false, "upload passing runs to YouTube")
	if err := fs.Parse(args); err != nil {
		return iterate.ExitError
	}

	cfg, closer, err := setup(base.ConfigPath, base)
	if err != nil {
		fmt.Fprintf(stderr, "reels: %v\n", err)
		return iterate.ExitCode(nil, err)
	}
	defer closer.Close()

	if len(cfg.Schedule.Topics) == 0 {
		err := types.NewConfigError("schedule.topics", "no topics configured")
		fmt.Fprintf(stderr, "reels: %v\n", err)
		return iterate.ExitConfig
	}
	topics := &topicRotation{topics: cfg.Schedule.Topics}

	logger := cron.PrintfLogger(logrus.StandardLogger())
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	_, err = c.AddFunc(cfg.Schedule.Cron, func() {
		opts := *base
		opts.Target = topics.Next()
		opts.Iterate = true
		opts.set = map[string]bool{}
		runOnce(ctx, cfg, &opts)
	})
	if err != nil {
		err = types.NewConfigError("schedule.cron", "%v", err)
		fmt.Fprintf(stderr, "reels: %v\n", err)
		return iterate.ExitConfig
	}

	logrus.WithFields(logrus.Fields{"cron": cfg.Schedule.Cron, "topics": len(cfg.Schedule.Topics)}).Info("Scheduler started")
	c.Start()
	<-ctx.Done()
	logrus.Info("Stopping scheduler, waiting for the running job")
	<-c.Stop().Done()
	return iterate.ExitPassed
}

type check struct {
	name     string
	required bool
	err      error
}

// doctor prints one line per dependency and reports whether every
// required one is present.
func doctor(w io.Writer, cfg *config.Config, getenv func(string) string, ffmpeg func() error, tts func() (string, error)) bool {
	env := func(keys ...string) error {
		var missing []string
		for _, k := range keys {
			if strings.TrimSpace(getenv(k)) == "" {
				missing = append(missing, k)
			}
		}
		if len(missing) > 0 {
			return errors.Errorf("%s not set", strings.Join(missing, ", "))
		}
		return nil
	}

	checks := []check{
		{name: "ffmpeg/ffprobe", required: true, err: ffmpeg()},
		{name: "PEXELS_API_KEY", required: true, err: env("PEXELS_API_KEY")},
		{name: "OPENAI_API_KEY", required: true, err: env("OPENAI_API_KEY")},
		{name: "ELEVENLABS_API_KEY (--song)", err: env("ELEVENLABS_API_KEY")},
		{name: "YouTube upload", err: env("YOUTUBE_CLIENT_ID", "YOUTUBE_CLIENT_SECRET", "YOUTUBE_REFRESH_TOKEN")},
		{name: "Spaces mirror", err: env("SPACES_ACCESS_KEY", "SPACES_SECRET_KEY")},
	}
	engine, err := tts()
	if err == nil {
		engine = "TTS engine: " + engine
	} else {
		engine = "TTS engine (--voiceover)"
	}
	checks = append(checks, check{name: engine, err: err})

	tracks, err := music.Tracks(cfg.Paths.Music)
	if err == nil && len(tracks) == 0 {
		err = errors.Errorf("no tracks in %s", cfg.Paths.Music)
	}
	checks = append(checks, check{name: fmt.Sprintf("music tracks (%d)", len(tracks)), err: err})

	ok := true
	for _, c := range checks {
		switch {
		case c.err == nil:
			fmt.Fprintf(w, "  ok    %s\n", c.name)
		case c.required:
			ok = false
			fmt.Fprintf(w, "  FAIL  %s: %v\n", c.name, c.err)
		default:
			fmt.Fprintf(w, "  warn  %s: %v\n", c.name, c.err)
		}
	}
	return ok
}

func cmdDoctor(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "config.yaml", "config file")
	if err := fs.Parse(args); err != nil {
		return iterate.ExitError
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "reels: %v\n", err)
		return iterate.ExitConfig
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stdout, "  FAIL  %s: %v\n", *configPath, err)
		return iterate.ExitConfig
	}
	fmt.Fprintf(stdout, "Checked %s at %s\n", *configPath, time.Now().Format(time.RFC3339))
	if !doctor(stdout, cfg, os.Getenv, media.Check, overlay.NewVoice(cfg).Engine) {
		return iterate.ExitConfig
	}
	return iterate.ExitPassed
}
