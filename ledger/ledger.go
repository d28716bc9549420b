package ledger

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	iterate "reels-pipeline/08_iterate"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    script_id TEXT NOT NULL,
    disposition TEXT NOT NULL,
    stop_reason TEXT NOT NULL,
    attempts INTEGER NOT NULL,
    final_attempt INTEGER,
    final_video TEXT,
    score REAL,
    verdict TEXT,
    needs_review INTEGER NOT NULL DEFAULT 0,
    error TEXT,
    youtube_url TEXT,
    mirror_url TEXT,
    started_at DATETIME NOT NULL,
    finished_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS attempts (
    run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
    attempt INTEGER NOT NULL,
    video TEXT,
    score REAL,
    verdict TEXT,
    decision TEXT NOT NULL,
    error TEXT,
    PRIMARY KEY (run_id, attempt)
);

CREATE INDEX IF NOT EXISTS idx_runs_script ON runs(script_id);
CREATE INDEX IF NOT EXISTS idx_runs_finished ON runs(finished_at);
`

// Run is one row of the runs table.
type Run struct {
	RunID        string
	ScriptID     string
	Disposition  string
	StopReason   string
	Attempts     int
	FinalAttempt int
	FinalVideo   string
	Score        float64
	Verdict      string
	NeedsReview  bool
	Error        string
	YouTubeURL   string
	MirrorURL    string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Ledger keeps a history of controller runs in SQLite.
type Ledger struct {
	db *sql.DB
}

// Open creates or opens the ledger database at path.
func Open(path string) (*Ledger, error) {
	const op = "ledger.Open"
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrapf(err, "%s: create directory", op)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: open database", op)
	}
	// one writer at a time
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "%s: %s", op, pragma)
		}
	}
	if err := execSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Ledger{db: db}, nil
}

func execSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin schema transaction")
	}
	defer tx.Rollback()

	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.Exec(stmt); err != nil {
			return errors.Wrapf(err, "schema statement %q", stmt)
		}
	}
	return errors.Wrap(tx.Commit(), "commit schema")
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// RecordOutcome stores a run and its attempt history, replacing any earlier
// record with the same run ID.
func (l *Ledger) RecordOutcome(ctx context.Context, o *iterate.Outcome) error {
	if o == nil {
		return errors.New("nil outcome")
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	var score sql.NullFloat64
	if o.Rating != nil {
		score = sql.NullFloat64{Float64: o.Rating.OverallScore, Valid: true}
	}
	var verdict sql.NullString
	if o.Safety != nil {
		verdict = sql.NullString{String: string(o.Safety.Verdict), Valid: true}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM attempts WHERE run_id = ?`, o.RunID); err != nil {
		return errors.Wrap(err, "clear attempts")
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, script_id, disposition, stop_reason, attempts, final_attempt,
			final_video, score, verdict, needs_review, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			disposition = excluded.disposition,
			stop_reason = excluded.stop_reason,
			attempts = excluded.attempts,
			final_attempt = excluded.final_attempt,
			final_video = excluded.final_video,
			score = excluded.score,
			verdict = excluded.verdict,
			needs_review = excluded.needs_review,
			error = excluded.error,
			finished_at = excluded.finished_at`,
		o.RunID, o.ScriptID, string(o.Disposition), o.StopReason, o.Attempts, o.FinalAttempt,
		o.FinalVideo, score, verdict, o.NeedsReview, o.Error, o.StartedAt.UTC(), o.FinishedAt.UTC(),
	)
	if err != nil {
		return errors.Wrap(err, "insert run")
	}

	for _, a := range o.History {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO attempts (run_id, attempt, video, score, verdict, decision, error)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			o.RunID, a.Attempt, a.Video, a.Score, string(a.Verdict), a.Decision, a.Error,
		)
		if err != nil {
			return errors.Wrapf(err, "insert attempt %d", a.Attempt)
		}
	}
	return errors.Wrap(tx.Commit(), "commit run")
}

// RecordPublish attaches upload and mirror URLs to a stored run.
func (l *Ledger) RecordPublish(ctx context.Context, runID, youtubeURL, mirrorURL string) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE runs SET youtube_url = COALESCE(NULLIF(?, ''), youtube_url),
			mirror_url = COALESCE(NULLIF(?, ''), mirror_url) WHERE run_id = ?`,
		youtubeURL, mirrorURL, runID)
	if err != nil {
		return errors.Wrap(err, "update run")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Errorf("run %s not found", runID)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Run, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT run_id, script_id, disposition, stop_reason, attempts,
			COALESCE(final_attempt, 0), COALESCE(final_video, ''), COALESCE(score, 0),
			COALESCE(verdict, ''), needs_review, COALESCE(error, ''),
			COALESCE(youtube_url, ''), COALESCE(mirror_url, ''), started_at, finished_at
		FROM runs ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query runs")
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.RunID, &r.ScriptID, &r.Disposition, &r.StopReason, &r.Attempts,
			&r.FinalAttempt, &r.FinalVideo, &r.Score, &r.Verdict, &r.NeedsReview, &r.Error,
			&r.YouTubeURL, &r.MirrorURL, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AttemptCount returns how many attempts are stored for a run.
func (l *Ledger) AttemptCount(ctx context.Context, runID string) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attempts WHERE run_id = ?`, runID).Scan(&n)
	return n, errors.Wrap(err, "count attempts")
}
