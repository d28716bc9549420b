package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"reels-pipeline/artifact"
	"reels-pipeline/config"
	"reels-pipeline/ledger"
	"reels-pipeline/llm"
	"reels-pipeline/logging"
	"reels-pipeline/types"

	script "reels-pipeline/01_script"
	footage "reels-pipeline/02_footage"
	music "reels-pipeline/03_music"
	assemble "reels-pipeline/04_assemble"
	overlay "reels-pipeline/05_overlay"
	rate "reels-pipeline/06_rate"
	safety "reels-pipeline/07_safety"
	iterate "reels-pipeline/08_iterate"
	upload "reels-pipeline/09_upload"
)

// llmRequestsPerMinute keeps script, rating and safety calls under the
// default OpenAI tier limit.
const llmRequestsPerMinute = 60

type pipeline struct {
	cfg   *config.Config
	opts  *runOptions
	runID string
	state *types.PipelineState
	log   *logrus.Entry
}

func newPipeline(cfg *config.Config, opts *runOptions) *pipeline {
	runID := uuid.NewString()[:8]
	return &pipeline{
		cfg:   cfg,
		opts:  opts,
		runID: runID,
		state: &types.PipelineState{
			RunID:     runID,
			Topic:     opts.Target,
			StartedAt: time.Now().UTC().Format(time.RFC3339),
		},
		log: logging.Stage("pipeline").WithField("run_id", runID),
	}
}

func (p *pipeline) run(ctx context.Context) (*iterate.Outcome, error) {
	// ━━━ Music ━━━
	// resolved first so a bad path fails before any paid call
	musicFile, err := music.Resolve(p.opts.Music, p.cfg.Paths.Music, p.cfg.Music.Mood)
	if err != nil {
		return nil, types.NewConfigError("music", "%v", err)
	}
	if p.opts.Music == music.Auto && musicFile == "" {
		p.log.Warnf("No tracks in %s, continuing without music", p.cfg.Paths.Music)
	}
	p.state.MusicFile = musicFile

	client, err := llm.NewFromEnv(llmRequestsPerMinute)
	if err != nil {
		return nil, types.NewConfigError("OPENAI_API_KEY", "%v", err)
	}

	// ━━━ STAGE 1: Script ━━━
	s, err := p.script(ctx, client)
	if err != nil {
		return nil, err
	}
	p.state.Script = s

	store, err := artifact.NewStore(p.cfg.Paths.Output, s.ID)
	if err != nil {
		return nil, err
	}

	// ━━━ STAGE 3: Song ━━━
	var songFile string
	if p.opts.Song {
		songFile, s, err = p.song(ctx, s, store)
		if err != nil {
			return nil, err
		}
		p.state.SongFile = songFile
		p.state.Script = s
	}

	// ━━━ STAGES 2 + 4: Footage and draft ━━━
	draft := store.DraftVideo()
	if p.opts.fromDraft {
		if _, err := os.Stat(draft); err != nil {
			return nil, types.NewRenderError("pipeline.draft", err, "no draft for "+s.ID+", run without iterate first")
		}
		p.log.WithField("draft", draft).Info("Reusing existing draft")
	} else if err := p.draft(ctx, s, store); err != nil {
		return nil, err
	}
	p.state.DraftVideo = draft

	// ━━━ STAGES 5-8: Polish, rate, safety ━━━
	ctrl, err := p.controller(client, store)
	if err != nil {
		return nil, err
	}
	outcome, err := ctrl.Run(ctx, p.runID, s, types.RenderOptions{
		DraftVideo:  draft,
		Voiceover:   p.opts.Voiceover,
		MusicFile:   musicFile,
		MusicVolume: p.cfg.Music.Volume,
		SongAudio:   songFile,
	})
	if outcome != nil {
		p.state.Disposition = string(outcome.Disposition)
		p.state.VideoFile = outcome.FinalVideo
		p.publish(ctx, s, store, outcome)
	}
	return outcome, err
}

// script loads the target as a script file or, when it is not a file,
// generates one for it as a topic.
func (p *pipeline) script(ctx context.Context, client *llm.Client) (*types.Script, error) {
	if _, err := os.Stat(p.opts.Target); err == nil {
		s, err := script.Load(p.opts.Target)
		if err != nil {
			return nil, types.NewConfigError("script", "%v", err)
		}
		p.log.WithField("path", p.opts.Target).Infof("Loaded script: %d segments, %.0fs", len(s.Segments), s.TotalDuration())
		return s, nil
	}
	if p.opts.fromDraft {
		return nil, types.NewConfigError("script", "%s does not exist", p.opts.Target)
	}

	mode := types.ModeStandard
	if p.opts.Lyrical {
		mode = types.ModeLyrical
	}
	p.log.Infof("Writing %s script for %q", mode, p.opts.Target)
	return script.New(p.cfg, client).Run(ctx, p.opts.Target, script.Options{
		Segments:    p.cfg.Script.Segments,
		DurationSec: p.cfg.Script.DurationSec,
		Lyrical:     p.opts.Lyrical,
	})
}

// song composes the sung track and returns a copy of the script whose
// segment durations add up to the song length.
func (p *pipeline) song(ctx context.Context, s *types.Script, store *artifact.Store) (string, *types.Script, error) {
	composer, err := music.NewComposerFromEnv(p.cfg)
	if err != nil {
		return "", nil, types.NewConfigError("ELEVENLABS_API_KEY", "%v", err)
	}
	dir, err := store.WorkDir("song")
	if err != nil {
		return "", nil, err
	}
	path, seconds, err := composer.Compose(ctx, s, dir)
	if err != nil {
		return "", nil, types.NewRenderError("music.Compose", err, "song generation failed")
	}
	return path, stretchTo(s, seconds), nil
}

// stretchTo scales every segment so the script lasts total seconds.
func stretchTo(s *types.Script, total float64) *types.Script {
	current := s.TotalDuration()
	if total <= 0 || current <= 0 {
		return s
	}
	out := *s
	out.Segments = make([]types.Segment, len(s.Segments))
	factor := total / current
	for i, seg := range s.Segments {
		seg.Duration *= factor
		out.Segments[i] = seg
	}
	return &out
}

func (p *pipeline) draft(ctx context.Context, s *types.Script, store *artifact.Store) error {
	scout, err := footage.NewFromEnv(p.cfg)
	if err != nil {
		return types.NewConfigError("PEXELS_API_KEY", "%v", err)
	}
	clipsDir := filepath.Join(p.cfg.Paths.Clips, s.ID)
	director := assemble.New(p.cfg)

	if p.cfg.Footage.SingleClip {
		clip, err := scout.RunSingle(ctx, s, clipsDir)
		if err != nil {
			return types.NewRenderError("footage.RunSingle", err, "no usable clip")
		}
		p.state.Clips = []string{clip}
		_, err = director.RunSingle(ctx, s, clip, store.DraftVideo())
		return err
	}

	clips, err := scout.Run(ctx, s, clipsDir)
	if err != nil {
		return types.NewRenderError("footage.Run", err, "footage download failed")
	}
	p.state.Clips = clips
	workDir, err := store.WorkDir("assemble")
	if err != nil {
		return err
	}
	_, err = director.Run(ctx, s, clips, workDir, store.DraftVideo())
	return err
}

func (p *pipeline) controller(client *llm.Client, store *artifact.Store) (*iterate.Controller, error) {
	policy, err := policyFrom(p.cfg, p.opts)
	if err != nil {
		return nil, err
	}
	var quality iterate.QualityRater = unrated{score: p.cfg.Rating.ScoreMin}
	if p.opts.Iterate || p.opts.Rate {
		quality = rate.New(p.cfg, client, nil, p.opts.Voiceover)
	}
	return iterate.New(overlay.New(p.cfg), quality, safety.New(p.cfg, client, nil), store, policy)
}

// policyFrom builds the stop policy. A plain run renders once; without
// --rate the quality gate is open and only safety decides.
func policyFrom(cfg *config.Config, opts *runOptions) (iterate.Policy, error) {
	tie, err := iterate.ParseTieBreak(cfg.Iterate.TieBreak)
	if err != nil {
		return iterate.Policy{}, err
	}
	p := iterate.Policy{
		MaxAttempts: cfg.Iterate.MaxAttempts,
		MinScore:    cfg.Iterate.MinScore,
		ScoreMin:    cfg.Rating.ScoreMin,
		ScoreMax:    cfg.Rating.ScoreMax,
		TieBreak:    tie,
	}
	if !opts.Iterate {
		p.MaxAttempts = 1
		if !opts.Rate {
			p.MinScore = p.ScoreMin
		}
	}
	return p, nil
}

// unrated stands in for the quality rater when rating is off.
type unrated struct {
	score float64
}

func (u unrated) Rate(_ context.Context, video string, _ *types.Script) (*types.RatingReport, error) {
	return &types.RatingReport{
		Video:        video,
		OverallScore: u.score,
		Pass:         true,
		Scores:       map[string]float64{},
		Suggestions:  []string{"quality rating skipped, pass --rate or --iterate to score"},
		RatedAt:      time.Now().UTC(),
	}, nil
}

// publish records the run and, for runs that may go out, mirrors and
// uploads the final video. Failures here never change the outcome.
func (p *pipeline) publish(ctx context.Context, s *types.Script, store *artifact.Store, o *iterate.Outcome) {
	var db *ledger.Ledger
	if p.cfg.Paths.Ledger != "" {
		var err error
		if db, err = ledger.Open(p.cfg.Paths.Ledger); err != nil {
			p.log.WithError(err).Warn("Run ledger unavailable")
		} else {
			defer db.Close()
			if err := db.RecordOutcome(ctx, o); err != nil {
				p.log.WithError(err).Warn("Could not record run")
				db = nil
			}
		}
	}

	var mirrorURL, youtubeURL string
	if p.cfg.Mirror.Enabled && o.FinalVideo != "" {
		mirrorURL = p.mirror(ctx, store, o)
	}

	// ━━━ STAGE 9: Upload ━━━
	if p.cfg.Upload.Enabled {
		if err := upload.Allowed(p.cfg, o); err != nil {
			p.log.WithError(err).Info("Skipping upload")
		} else {
			meta := upload.MetadataFor(p.cfg, s, o)
			videoID, videoURL, err := upload.New(p.cfg).Run(ctx, o.FinalVideo, meta)
			if err != nil {
				p.log.WithError(err).Warn("Upload failed")
			} else {
				youtubeURL = videoURL
				p.state.YouTubeID = videoID
				p.state.YouTubeURL = videoURL
				if _, err := upload.LogUpload(videoID, videoURL, o.FinalVideo, p.cfg.Paths.Logs, meta); err != nil {
					p.log.WithError(err).Warn("Could not log upload")
				}
			}
		}
	}

	if db != nil && (mirrorURL != "" || youtubeURL != "") {
		if err := db.RecordPublish(ctx, o.RunID, youtubeURL, mirrorURL); err != nil {
			p.log.WithError(err).Warn("Could not record publish")
		}
	}
}

func (p *pipeline) mirror(ctx context.Context, store *artifact.Store, o *iterate.Outcome) string {
	m, err := upload.NewMirror(ctx, p.cfg.Mirror)
	if err != nil {
		p.log.WithError(err).Warn("Mirror unavailable")
		return ""
	}
	files := []string{o.FinalVideo, store.SummaryPath()}
	if o.FinalAttempt > 0 {
		files = append(files, store.RatingPath(o.FinalAttempt), store.SafetyPath(o.FinalAttempt))
	}
	url, err := m.Push(ctx, o.RunID, files...)
	if err != nil {
		p.log.WithError(err).Warn("Mirror push failed")
		return ""
	}
	p.state.MirrorURL = url
	p.log.WithField("url", url).Info("Mirrored run artifacts")
	return url
}

// stem is the file name of path without directory or extension.
func stem(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}
