package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"reels-pipeline/artifact"
	"reels-pipeline/config"
	"reels-pipeline/logging"
	"reels-pipeline/types"

	iterate "reels-pipeline/08_iterate"
)

var errUsage = errors.New("usage")

const usageText = `Usage: reels <command> [flags]

Commands:
  run <topic|script>       script, footage, draft, polish, safety (and rating with --iterate/--rate)
  iterate <script>         polish an existing draft, rating until it passes
  rate <video> <script>    rate a rendered video
  safety <video> <script>  safety check a rendered video
  schedule                 run configured topics on the cron schedule
  doctor                   check ffmpeg and API keys

Exit codes: 0 passed, 1 error, 2 exhausted, 3 rejected, 4 render failed,
5 rater unavailable, 6 configuration error.
`

func main() {
	// Load .env (local dev only; CI injects secrets)
	_ = godotenv.Load()
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usageText)
		return iterate.ExitError
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "run", "iterate":
		return cmdRun(ctx, rest, cmd == "iterate", stderr)
	case "rate":
		return cmdRate(ctx, rest, stdout, stderr)
	case "safety":
		return cmdSafety(ctx, rest, stdout, stderr)
	case "schedule":
		return cmdSchedule(ctx, rest, stderr)
	case "doctor":
		return cmdDoctor(rest, stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usageText)
		return iterate.ExitPassed
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usageText)
		return iterate.ExitError
	}
}

// setup loads config, applies flag overrides, validates and starts logging.
func setup(configPath string, o *runOptions) (*config.Config, io.Closer, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, types.NewConfigError("config", "%v", err)
	}
	if o != nil {
		o.apply(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	closer, err := logging.Setup(cfg.Log, cfg.Paths.Logs)
	if err != nil {
		return nil, nil, errors.Wrap(err, "logging")
	}
	for _, dir := range []string{cfg.Paths.Scripts, cfg.Paths.Clips, cfg.Paths.Output} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			closer.Close()
			return nil, nil, errors.Wrapf(err, "create dir %s", dir)
		}
	}
	return cfg, closer, nil
}

func cmdRun(ctx context.Context, args []string, iterateCmd bool, stderr io.Writer) int {
	opts, err := parseRun(args, iterateCmd, stderr)
	if err != nil {
		if err == errUsage {
			fmt.Fprint(stderr, usageText)
		}
		return iterate.ExitError
	}
	cfg, closer, err := setup(opts.ConfigPath, opts)
	if err != nil {
		fmt.Fprintf(stderr, "reels: %v\n", err)
		return iterate.ExitCode(nil, err)
	}
	defer closer.Close()

	outcome, err := runOnce(ctx, cfg, opts)
	return iterate.ExitCode(outcome, err)
}

// runOnce runs one pipeline under the configured timeout and saves its state.
func runOnce(ctx context.Context, cfg *config.Config, opts *runOptions) (*iterate.Outcome, error) {
	if cfg.Iterate.TimeoutMin > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.Iterate.TimeoutMin)*time.Minute)
		defer cancel()
	}

	p := newPipeline(cfg, opts)
	log := logging.Stage("main").WithField("run_id", p.runID)
	log.Infof("Reels pipeline starting: %s", opts.Target)

	outcome, err := p.run(ctx)

	p.state.CompletedAt = time.Now().UTC().Format(time.RFC3339)
	if err != nil {
		p.state.Error = err.Error()
	}
	saveState(p.state, cfg.Paths.Logs)

	switch {
	case outcome != nil:
		log.WithFields(logrus.Fields{
			"disposition": outcome.Disposition,
			"reason":      outcome.StopReason,
			"attempts":    outcome.Attempts,
			"video":       outcome.FinalVideo,
		}).Info("Pipeline finished")
		if outcome.NeedsReview {
			log.Warn("Safety verdict is needs_review, check the safety report before publishing")
		}
	case err != nil:
		log.WithError(err).Error("Pipeline failed")
	}
	return outcome, err
}

func saveState(state *types.PipelineState, dir string) {
	path := filepath.Join(dir, "run_"+state.RunID+".json")
	if err := artifact.WriteJSON(path, state); err != nil {
		logging.Stage("main").WithError(err).Warnf("Could not save %s", path)
	}
}
