// Package tracking records pipeline runs, their artifacts and user
// feedback in a local DuckDB database.
package tracking

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/rwe/agent/pkg/pipeline"
	"github.com/malbeclabs/rwe/pkg/duck"
	"github.com/malbeclabs/rwe/pkg/metrics"
)

var ErrRunNotFound = errors.New("run not found")

const (
	MaxQueryParamLength   = 300
	MaxFeedbackCommentLen = 500

	ParamUserQuery       = "user_query"
	ParamFeedbackComment = "user_feedback_comment"
	MetricTotalLatencyMS = "total_latency_ms"
	MetricFeedbackUseful = "user_feedback_useful"

	StatusRunning  = "RUNNING"
	StatusFinished = "FINISHED"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		run_id VARCHAR PRIMARY KEY,
		status VARCHAR NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS run_params (
		run_id VARCHAR NOT NULL,
		key VARCHAR NOT NULL,
		value VARCHAR NOT NULL,
		PRIMARY KEY (run_id, key)
	)`,
	`CREATE TABLE IF NOT EXISTS run_metrics (
		run_id VARCHAR NOT NULL,
		key VARCHAR NOT NULL,
		value DOUBLE NOT NULL,
		logged_at TIMESTAMP NOT NULL,
		PRIMARY KEY (run_id, key)
	)`,
	`CREATE TABLE IF NOT EXISTS run_artifacts (
		run_id VARCHAR NOT NULL,
		name VARCHAR NOT NULL,
		content VARCHAR NOT NULL,
		PRIMARY KEY (run_id, name)
	)`,
}

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	// Path of the database file. Empty keeps runs in memory.
	Path string
	// Params are logged with every run, e.g. prompt ids and model names.
	Params map[string]string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Tracker implements pipeline.Tracker.
type Tracker struct {
	log *slog.Logger
	cfg Config
	db  *duck.DB
}

var _ pipeline.Tracker = (*Tracker)(nil)

func Open(ctx context.Context, cfg Config) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := duck.Open(ctx, cfg.Logger, cfg.Path)
	if err != nil {
		return nil, err
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create tracking schema: %w", err)
		}
	}
	return &Tracker{log: cfg.Logger, cfg: cfg, db: db}, nil
}

func (t *Tracker) Close() error {
	return t.db.Close()
}

// StartRun opens a run for query and returns its id and start time.
func (t *Tracker) StartRun(ctx context.Context, query string) (string, time.Time, error) {
	runID := uuid.NewString()
	start := t.cfg.Clock.Now()

	if _, err := t.db.ExecContext(ctx,
		"INSERT INTO runs (run_id, status, started_at) VALUES (?, ?, ?)",
		runID, StatusRunning, start.UTC(),
	); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to start run: %w", err)
	}

	params := map[string]string{ParamUserQuery: truncate(query, MaxQueryParamLength)}
	for k, v := range t.cfg.Params {
		params[k] = v
	}
	for k, v := range params {
		if err := t.logParam(ctx, runID, k, v); err != nil {
			return "", time.Time{}, err
		}
	}

	t.log.Debug("tracking: run started", "runID", runID)
	return runID, start, nil
}

// FinishRun logs the run's latency and stores whatever the run produced
// as artifacts.
func (t *Tracker) FinishRun(ctx context.Context, runID string, start time.Time, rec *pipeline.Record) error {
	now := t.cfg.Clock.Now()
	latencyMS := float64(now.Sub(start)) / float64(time.Millisecond)

	res, err := t.db.ExecContext(ctx,
		"UPDATE runs SET status = ?, finished_at = ? WHERE run_id = ?",
		StatusFinished, now.UTC(), runID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	if err := t.logMetric(ctx, runID, MetricTotalLatencyMS, latencyMS); err != nil {
		return err
	}

	if rec != nil {
		for name, content := range artifacts(rec) {
			if _, err := t.db.ExecContext(ctx,
				"INSERT OR REPLACE INTO run_artifacts (run_id, name, content) VALUES (?, ?, ?)",
				runID, name, content,
			); err != nil {
				return fmt.Errorf("failed to store artifact %s: %w", name, err)
			}
		}
	}

	t.log.Debug("tracking: run finished", "runID", runID, "latencyMS", latencyMS)
	return nil
}

// LogFeedback attaches a useful/not-useful verdict and an optional comment
// to a finished run.
func (t *Tracker) LogFeedback(ctx context.Context, runID string, useful bool, comment string) error {
	if _, err := t.GetRun(ctx, runID); err != nil {
		return err
	}
	value := 0.0
	if useful {
		value = 1.0
	}
	if err := t.logMetric(ctx, runID, MetricFeedbackUseful, value); err != nil {
		return err
	}
	if comment != "" {
		if err := t.logParam(ctx, runID, ParamFeedbackComment, truncate(comment, MaxFeedbackCommentLen)); err != nil {
			return err
		}
	}
	metrics.FeedbackTotal.WithLabelValues(strconv.FormatBool(useful)).Inc()
	t.log.Info("tracking: feedback logged", "runID", runID, "useful", useful)
	return nil
}

// Run is a stored run with everything logged against it.
type Run struct {
	ID         string             `json:"run_id"`
	Status     string             `json:"status"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
	Params     map[string]string  `json:"params"`
	Metrics    map[string]float64 `json:"metrics"`
	Artifacts  map[string]string  `json:"artifacts"`
}

func (t *Tracker) GetRun(ctx context.Context, runID string) (*Run, error) {
	run := &Run{
		ID:        runID,
		Params:    map[string]string{},
		Metrics:   map[string]float64{},
		Artifacts: map[string]string{},
	}
	var finished sql.NullTime
	err := t.db.QueryRowContext(ctx,
		"SELECT status, started_at, finished_at FROM runs WHERE run_id = ?", runID,
	).Scan(&run.Status, &run.StartedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", runID, err)
	}
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}

	if err := t.scanPairs(ctx, "SELECT key, value FROM run_params WHERE run_id = ?", runID, func(rows *sql.Rows) error {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return err
		}
		run.Params[k] = v
		return nil
	}); err != nil {
		return nil, err
	}
	if err := t.scanPairs(ctx, "SELECT key, value FROM run_metrics WHERE run_id = ?", runID, func(rows *sql.Rows) error {
		var k string
		var v float64
		if err := rows.Scan(&k, &v); err != nil {
			return err
		}
		run.Metrics[k] = v
		return nil
	}); err != nil {
		return nil, err
	}
	if err := t.scanPairs(ctx, "SELECT name, content FROM run_artifacts WHERE run_id = ?", runID, func(rows *sql.Rows) error {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return err
		}
		run.Artifacts[k] = v
		return nil
	}); err != nil {
		return nil, err
	}
	return run, nil
}

func (t *Tracker) scanPairs(ctx context.Context, query, runID string, scan func(*sql.Rows) error) error {
	rows, err := t.db.QueryContext(ctx, query, runID)
	if err != nil {
		return fmt.Errorf("failed to query run %s: %w", runID, err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return fmt.Errorf("failed to scan run %s: %w", runID, err)
		}
	}
	return rows.Err()
}

func (t *Tracker) logParam(ctx context.Context, runID, key, value string) error {
	if _, err := t.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO run_params (run_id, key, value) VALUES (?, ?, ?)",
		runID, key, value,
	); err != nil {
		return fmt.Errorf("failed to log param %s: %w", key, err)
	}
	return nil
}

func (t *Tracker) logMetric(ctx context.Context, runID, key string, value float64) error {
	if _, err := t.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO run_metrics (run_id, key, value, logged_at) VALUES (?, ?, ?, ?)",
		runID, key, value, t.cfg.Clock.Now().UTC(),
	); err != nil {
		return fmt.Errorf("failed to log metric %s: %w", key, err)
	}
	return nil
}

// artifacts renders the parts of rec worth keeping, keyed by file name.
func artifacts(rec *pipeline.Record) map[string]string {
	out := map[string]string{}
	if raw := rec.Interpretation.JSON(); raw != nil {
		out["interpretation.json"] = string(raw)
	}
	if raw := rec.Plan.JSON(); raw != nil {
		out["plan.json"] = string(raw)
	}
	if rec.ExecutionResult != nil {
		if b, err := json.Marshal(rec.ExecutionResult); err == nil {
			out["execution_result.json"] = string(b)
		}
	}
	if rec.FinalAnswer != nil {
		out["final_answer.md"] = *rec.FinalAnswer
	}
	if rec.GeneratedCode != nil {
		out["analysis.star"] = *rec.GeneratedCode
	}
	if rec.AnalysisError != nil {
		out["analysis_error.txt"] = *rec.AnalysisError
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
