package history

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/rssdigest/internal/feed"
	"github.com/ppiankov/rssdigest/internal/fetch"
	"github.com/ppiankov/rssdigest/internal/source"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "history.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st, path
}

func TestOpenAndMigrate(t *testing.T) {
	st, path := openTestStore(t)

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("db file not created: %v", err)
	}

	var version string
	if err := st.db.QueryRow("SELECT value FROM metadata WHERE key = 'schema_version'").Scan(&version); err != nil {
		t.Fatalf("read schema version: %v", err)
	}
	if version != "1" {
		t.Fatalf("unexpected schema version: %s", version)
	}
}

func TestOpen_Reopen(t *testing.T) {
	st, path := openTestStore(t)
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	again, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = again.Close() })
}

func TestOpen_NewerSchemaRejected(t *testing.T) {
	st, path := openTestStore(t)
	if _, err := st.db.Exec("UPDATE metadata SET value = '99' WHERE key = 'schema_version'"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = st.Close()

	if _, err := Open(path); err == nil {
		t.Fatal("expected error for newer schema")
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestNilStore(t *testing.T) {
	var st *Store
	if err := st.Close(); err != nil {
		t.Errorf("Close on nil: %v", err)
	}
	if err := st.RecordRun(context.Background(), Run{ID: "x", FetchedAt: time.Now()}, nil); err == nil {
		t.Error("RecordRun on nil store should fail")
	}
	if _, err := st.FeedHealth(context.Background(), time.Time{}); err == nil {
		t.Error("FeedHealth on nil store should fail")
	}
}

func TestRecordRun_Validation(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	if err := st.RecordRun(ctx, Run{FetchedAt: time.Now()}, nil); err == nil {
		t.Error("expected error for missing id")
	}
	if err := st.RecordRun(ctx, Run{ID: "r1"}, nil); err == nil {
		t.Error("expected error for missing fetched_at")
	}
}

func TestRecordRun_DuplicateIDRollsBack(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	run := Run{ID: "dup", FetchedAt: now, TotalFeeds: 1}
	outcomes := []FeedOutcome{{Name: "a", URL: "https://a.example/feed", Status: "ok"}}
	if err := st.RecordRun(ctx, run, outcomes); err != nil {
		t.Fatalf("first record: %v", err)
	}
	if err := st.RecordRun(ctx, run, outcomes); err == nil {
		t.Fatal("expected error for duplicate run id")
	}

	var n int
	if err := st.db.QueryRow("SELECT COUNT(*) FROM feed_results").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("feed_results = %d, want 1", n)
	}
}

func TestFeedHealth(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	runs := []struct {
		at       time.Time
		outcomes []FeedOutcome
	}{
		{base, []FeedOutcome{
			{Name: "alpha", URL: "https://alpha.example/rss", Status: "ok", Format: "rss", Candidates: 10, Retained: 2},
			{Name: "beta", URL: "https://beta.example/atom", Status: "fetch_error", HTTPStatus: 503, Error: "unexpected status 503"},
		}},
		{base.Add(24 * time.Hour), []FeedOutcome{
			{Name: "alpha", URL: "https://alpha.example/rss", Status: "ok", Format: "rss", Candidates: 20, Retained: 4},
			{Name: "beta", URL: "https://beta.example/atom", Status: "parse_error", Format: "unknown", Error: "unsupported feed format"},
		}},
	}
	for i, r := range runs {
		run := Run{ID: string(rune('a' + i)), FetchedAt: r.at, Hours: 24, TotalFeeds: 2, SuccessfulFeeds: 1}
		if err := st.RecordRun(ctx, run, r.outcomes); err != nil {
			t.Fatalf("record run %d: %v", i, err)
		}
	}

	health, err := st.FeedHealth(ctx, base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("feed health: %v", err)
	}
	if len(health) != 2 {
		t.Fatalf("health rows = %d, want 2", len(health))
	}

	alpha, beta := health[0], health[1]
	if alpha.Name != "alpha" || beta.Name != "beta" {
		t.Fatalf("unexpected order: %s, %s", alpha.Name, beta.Name)
	}
	if alpha.Attempts != 2 || alpha.Successes != 2 || alpha.Failures != 0 {
		t.Errorf("alpha counts = %+v", alpha)
	}
	if alpha.AvgItems != 15 {
		t.Errorf("alpha avg items = %v, want 15", alpha.AvgItems)
	}
	if !alpha.LastSuccess.Equal(base.Add(24 * time.Hour)) {
		t.Errorf("alpha last success = %v", alpha.LastSuccess)
	}
	if alpha.LastError != "" {
		t.Errorf("alpha last error = %q", alpha.LastError)
	}

	if beta.Attempts != 2 || beta.Successes != 0 || beta.Failures != 2 {
		t.Errorf("beta counts = %+v", beta)
	}
	if !beta.LastSuccess.IsZero() {
		t.Errorf("beta never succeeded, got %v", beta.LastSuccess)
	}
	if beta.LastError != "unsupported feed format" {
		t.Errorf("beta last error = %q", beta.LastError)
	}

	// Window excludes the first run.
	health, err = st.FeedHealth(ctx, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("feed health: %v", err)
	}
	if health[0].Attempts != 1 || health[0].AvgItems != 20 {
		t.Errorf("windowed alpha = %+v", health[0])
	}

	n, err := st.Runs(ctx, base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if n != 2 {
		t.Errorf("runs = %d, want 2", n)
	}
}

func TestFeedHealth_RenamedFeed(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	names := []string{"Old Name", "New Name"}
	for i, name := range names {
		run := Run{ID: name, FetchedAt: base.Add(time.Duration(i) * time.Hour), TotalFeeds: 1}
		outcomes := []FeedOutcome{{Name: name, URL: "https://renamed.example/rss", Status: "ok", Candidates: 4}}
		if err := st.RecordRun(ctx, run, outcomes); err != nil {
			t.Fatalf("record %s: %v", name, err)
		}
	}

	health, err := st.FeedHealth(ctx, base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("feed health: %v", err)
	}
	if len(health) != 1 {
		t.Fatalf("health rows = %d, want 1", len(health))
	}
	if health[0].Name != "New Name" {
		t.Errorf("name = %q, want the latest name", health[0].Name)
	}
	if health[0].Attempts != 2 || health[0].Successes != 2 {
		t.Errorf("counts = %+v, want 2 attempts and 2 successes", health[0])
	}
}

func TestFeedHealth_Empty(t *testing.T) {
	st, _ := openTestStore(t)
	health, err := st.FeedHealth(context.Background(), time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("feed health: %v", err)
	}
	if len(health) != 0 {
		t.Errorf("expected no rows, got %d", len(health))
	}
}

func TestPruneOld(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	outcomes := []FeedOutcome{{Name: "a", URL: "https://a.example/feed", Status: "ok"}}
	if err := st.RecordRun(ctx, Run{ID: "old", FetchedAt: now.AddDate(0, 0, -60)}, outcomes); err != nil {
		t.Fatalf("record old: %v", err)
	}
	if err := st.RecordRun(ctx, Run{ID: "new", FetchedAt: now.Add(-time.Hour)}, outcomes); err != nil {
		t.Fatalf("record new: %v", err)
	}

	if n, err := st.PruneOld(ctx, 0); err != nil || n != 0 {
		t.Fatalf("PruneOld(0) = %d, %v; want no-op", n, err)
	}

	n, err := st.PruneOld(ctx, 30)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}

	var results int
	if err := st.db.QueryRow("SELECT COUNT(*) FROM feed_results").Scan(&results); err != nil {
		t.Fatalf("count: %v", err)
	}
	if results != 1 {
		t.Errorf("feed_results = %d, want 1 after cascade", results)
	}
}

func TestFromResult(t *testing.T) {
	fetchedAt := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	res := &fetch.Result{
		Outcomes: []fetch.Outcome{
			{
				Source:     source.FeedSource{Name: "ok", URL: "https://ok.example/rss"},
				Status:     fetch.StatusOK,
				HTTPStatus: 200,
				Format:     feed.FormatRSS,
				Candidates: 5,
				Retained:   1,
				Elapsed:    1500 * time.Millisecond,
			},
			{
				Source: source.FeedSource{Name: "bad", URL: "https://bad.example/rss"},
				Status: fetch.StatusFetchError,
				Format: feed.FormatUnknown,
				Err:    errors.New("connection refused"),
			},
		},
		TotalFeeds:       2,
		SuccessfulFeeds:  1,
		TotalArticles:    5,
		FilteredArticles: 1,
		Hours:            12,
		FetchedAt:        fetchedAt,
	}

	run, outcomes := FromResult("", res)
	if run.ID == "" {
		t.Error("run id should be generated")
	}
	if run.Hours != 12 || run.TotalFeeds != 2 || run.SuccessfulFeeds != 1 || !run.FetchedAt.Equal(fetchedAt) {
		t.Errorf("run = %+v", run)
	}
	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(outcomes))
	}
	if outcomes[0].Status != "ok" || outcomes[0].Format != "rss" || outcomes[0].Error != "" {
		t.Errorf("outcome[0] = %+v", outcomes[0])
	}
	if outcomes[1].Status != "fetch_error" || outcomes[1].Error != "connection refused" {
		t.Errorf("outcome[1] = %+v", outcomes[1])
	}

	other, _ := FromResult("", res)
	if other.ID == run.ID {
		t.Error("each run should get a distinct id")
	}
	fixed, _ := FromResult("run-42", res)
	if fixed.ID != "run-42" {
		t.Errorf("id = %q, want run-42", fixed.ID)
	}

	st, _ := openTestStore(t)
	if err := st.RecordRun(context.Background(), run, outcomes); err != nil {
		t.Fatalf("record converted run: %v", err)
	}
}
