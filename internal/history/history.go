// Package history keeps an optional SQLite ledger of fetch runs and the
// per-feed outcome of each one.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ppiankov/rssdigest/internal/fetch"
)

// Fixed width so stored timestamps compare correctly as strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type Store struct {
	db *sql.DB
}

// Run is the summary row of one fetch.
type Run struct {
	ID               string
	FetchedAt        time.Time
	Hours            int
	TotalFeeds       int
	SuccessfulFeeds  int
	TotalArticles    int
	FilteredArticles int
}

// FeedOutcome is what happened to one feed during a run.
type FeedOutcome struct {
	Name       string
	URL        string
	Status     string
	HTTPStatus int
	Format     string
	Candidates int
	Retained   int
	Error      string
	Elapsed    time.Duration
}

// FeedHealth aggregates the outcomes of one feed across runs.
type FeedHealth struct {
	Name        string
	URL         string
	Attempts    int
	Successes   int
	Failures    int
	LastSuccess time.Time // zero if the feed never succeeded
	LastError   string
	AvgItems    float64
}

// NewRunID returns a random run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// FromResult converts a fetch result into a Run and its outcomes. An empty
// id gets a fresh one.
func FromResult(id string, res *fetch.Result) (Run, []FeedOutcome) {
	if id == "" {
		id = NewRunID()
	}
	run := Run{
		ID:               id,
		FetchedAt:        res.FetchedAt,
		Hours:            res.Hours,
		TotalFeeds:       res.TotalFeeds,
		SuccessfulFeeds:  res.SuccessfulFeeds,
		TotalArticles:    res.TotalArticles,
		FilteredArticles: res.FilteredArticles,
	}

	outcomes := make([]FeedOutcome, 0, len(res.Outcomes))
	for _, o := range res.Outcomes {
		fo := FeedOutcome{
			Name:       o.Source.Name,
			URL:        o.Source.URL,
			Status:     string(o.Status),
			HTTPStatus: o.HTTPStatus,
			Format:     string(o.Format),
			Candidates: o.Candidates,
			Retained:   o.Retained,
			Elapsed:    o.Elapsed,
		}
		if o.Err != nil {
			fo.Error = o.Err.Error()
		}
		outcomes = append(outcomes, fo)
	}
	return run, outcomes
}

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// PRAGMA foreign_keys is per connection; cascades need it on every one.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordRun stores a run and its outcomes in one transaction.
func (s *Store) RecordRun(ctx context.Context, run Run, outcomes []FeedOutcome) error {
	if s == nil || s.db == nil {
		return errors.New("history is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(run.ID) == "" {
		return errors.New("run id is required")
	}
	if run.FetchedAt.IsZero() {
		return errors.New("fetched_at is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			id, fetched_at, hours, total_feeds, successful_feeds, total_articles, filtered_articles
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		formatTime(run.FetchedAt),
		run.Hours,
		run.TotalFeeds,
		run.SuccessfulFeeds,
		run.TotalArticles,
		run.FilteredArticles,
	)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO feed_results (
			run_id, name, url, status, http_status, format, candidates, retained, error, elapsed_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare feed result: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, o := range outcomes {
		var errVal sql.NullString
		if o.Error != "" {
			errVal = sql.NullString{String: o.Error, Valid: true}
		}
		format := o.Format
		if format == "" {
			format = "unknown"
		}
		if _, err := stmt.ExecContext(ctx,
			run.ID, o.Name, o.URL, o.Status, o.HTTPStatus, format,
			o.Candidates, o.Retained, errVal, o.Elapsed.Milliseconds(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert feed result %s: %w", o.URL, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

// FeedHealth returns per-feed aggregates over runs fetched at or after since,
// ordered by feed name. Feeds are keyed by URL and reported under the name
// seen in their most recent run.
func (s *Store) FeedHealth(ctx context.Context, since time.Time) ([]FeedHealth, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("history is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	sinceValue := formatTime(since)
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			(
				SELECT f3.name
				FROM feed_results f3
				JOIN runs r3 ON r3.id = f3.run_id
				WHERE f3.url = f.url AND r3.fetched_at >= ?
				ORDER BY r3.fetched_at DESC, f3.id DESC
				LIMIT 1
			) AS name,
			f.url,
			COUNT(*) AS attempts,
			SUM(CASE WHEN f.status = 'ok' THEN 1 ELSE 0 END) AS successes,
			MAX(CASE WHEN f.status = 'ok' THEN r.fetched_at END) AS last_success,
			AVG(CASE WHEN f.status = 'ok' THEN f.candidates END) AS avg_items,
			(
				SELECT f2.error
				FROM feed_results f2
				JOIN runs r2 ON r2.id = f2.run_id
				WHERE f2.url = f.url AND f2.status != 'ok' AND r2.fetched_at >= ?
				ORDER BY r2.fetched_at DESC
				LIMIT 1
			) AS last_error
		FROM feed_results f
		JOIN runs r ON r.id = f.run_id
		WHERE r.fetched_at >= ?
		GROUP BY f.url
		ORDER BY name, f.url
	`, sinceValue, sinceValue, sinceValue)
	if err != nil {
		return nil, fmt.Errorf("get feed health: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []FeedHealth
	for rows.Next() {
		var (
			h           FeedHealth
			lastSuccess sql.NullString
			avgItems    sql.NullFloat64
			lastError   sql.NullString
		)
		if err := rows.Scan(&h.Name, &h.URL, &h.Attempts, &h.Successes, &lastSuccess, &avgItems, &lastError); err != nil {
			return nil, fmt.Errorf("scan feed health: %w", err)
		}
		h.Failures = h.Attempts - h.Successes
		if lastSuccess.Valid {
			h.LastSuccess, err = parseTime(lastSuccess.String)
			if err != nil {
				return nil, fmt.Errorf("parse last_success: %w", err)
			}
		}
		h.AvgItems = avgItems.Float64
		h.LastError = lastError.String
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feed health: %w", err)
	}

	return out, nil
}

// Runs returns the number of runs fetched at or after since.
func (s *Store) Runs(ctx context.Context, since time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("history is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var n int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM runs WHERE fetched_at >= ?", formatTime(since),
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return n, nil
}

// PruneOld deletes runs older than retainDays. Feed results cascade.
// Returns the number of runs removed.
func (s *Store) PruneOld(ctx context.Context, retainDays int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("history is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if retainDays <= 0 {
		return 0, nil
	}

	cutoff := formatTime(time.Now().AddDate(0, 0, -retainDays))
	res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE fetched_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune old runs: %w", err)
	}

	n, _ := res.RowsAffected()
	return n, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, value)
}
