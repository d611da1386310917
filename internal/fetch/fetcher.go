// Package fetch retrieves a list of feed sources with bounded concurrency and
// keeps the items published inside a look-back window.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/rssdigest/internal/feed"
	"github.com/ppiankov/rssdigest/internal/source"
)

const (
	DefaultTimeout      = 15 * time.Second
	DefaultConcurrency  = 10
	DefaultRetries      = 2
	DefaultRetryBase    = 500 * time.Millisecond
	DefaultMaxBodyBytes = 10 << 20
	DefaultUserAgent    = "Mozilla/5.0 (compatible; rssdigest/1.0; +https://github.com/ppiankov/rssdigest)"

	acceptHeader = "application/rss+xml, application/atom+xml, application/xml;q=0.9, text/xml;q=0.8, */*;q=0.5"
)

// Options tunes a Fetcher. Use DefaultOptions as the starting point.
type Options struct {
	// Timeout bounds everything done for one source: rate-limit waits,
	// every attempt and the backoff between them.
	Timeout time.Duration

	// Concurrency is the number of sources in flight at once.
	Concurrency int

	// Retries is the number of extra attempts after a transient failure.
	Retries   int
	RetryBase time.Duration

	MaxBodyBytes int64
	UserAgent    string

	// HostInterval spaces requests to the same host. Zero disables it.
	HostInterval time.Duration

	Client *http.Client
	Now    func() time.Time
	Logger *slog.Logger
}

// DefaultOptions returns the stock timeout, concurrency and retry settings.
func DefaultOptions() Options {
	return Options{
		Timeout:      DefaultTimeout,
		Concurrency:  DefaultConcurrency,
		Retries:      DefaultRetries,
		RetryBase:    DefaultRetryBase,
		MaxBodyBytes: DefaultMaxBodyBytes,
		UserAgent:    DefaultUserAgent,
	}
}

// Status is the outcome class of a single source.
type Status string

const (
	StatusOK         Status = "ok"
	StatusFetchError Status = "fetch_error"
	StatusParseError Status = "parse_error"
)

// Outcome records what happened to one source during a run.
type Outcome struct {
	Source     source.FeedSource
	Status     Status
	HTTPStatus int
	Format     feed.Format
	Candidates int // items in the parsed document
	Retained   int // items inside the window
	Err        error
	Elapsed    time.Duration
}

// Article is a feed item that survived the window filter.
type Article struct {
	Title       string
	Link        string
	Published   time.Time
	Description string
	SourceName  string
	SourceURL   string
}

// Result is the aggregate of one run.
type Result struct {
	Articles []Article
	Outcomes []Outcome

	TotalFeeds       int
	SuccessfulFeeds  int
	TotalArticles    int
	FilteredArticles int

	Hours     int
	Since     time.Time
	Until     time.Time
	FetchedAt time.Time
}

// Fetcher retrieves feeds. It is safe for sequential reuse.
type Fetcher struct {
	opts   Options
	client *http.Client
	hosts  *hostLimiter
	log    *slog.Logger
}

// New builds a Fetcher, filling unset options with defaults.
func New(opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = DefaultRetryBase
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	f := &Fetcher{opts: opts, client: client, log: logger}
	if opts.HostInterval > 0 {
		f.hosts = newHostLimiter(opts.HostInterval)
	}
	return f
}

// Fetch retrieves every source and returns the items published within the
// last hours. Per-source failures are recorded in Outcomes and never abort
// the run; an error is returned only for invalid input or a cancelled ctx.
func (f *Fetcher) Fetch(ctx context.Context, sources []source.FeedSource, hours int) (*Result, error) {
	if hours < 0 {
		return nil, fmt.Errorf("hours must be >= 0, got %d", hours)
	}

	now := f.opts.Now()
	since := now.Add(-time.Duration(hours) * time.Hour)

	f.log.InfoContext(ctx, "fetch started",
		"feeds", len(sources),
		"hours", hours,
		"concurrency", f.opts.Concurrency,
		"timeout", f.opts.Timeout,
	)

	outcomes := make([]Outcome, len(sources))
	perSource := make([][]Article, len(sources))

	var done atomic.Int32
	var g errgroup.Group
	g.SetLimit(f.opts.Concurrency)
	for i, src := range sources {
		g.Go(func() error {
			outcomes[i], perSource[i] = f.fetchOne(ctx, src, since, now)
			n := done.Add(1)
			f.logOutcome(ctx, outcomes[i], int(n), len(sources))
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("fetch interrupted: %w", err)
	}

	res := &Result{
		Articles:   []Article{},
		Outcomes:   outcomes,
		TotalFeeds: len(sources),
		Hours:      hours,
		Since:      since,
		Until:      now,
	}
	for i, o := range outcomes {
		if o.Status == StatusOK {
			res.SuccessfulFeeds++
			res.TotalArticles += o.Candidates
		}
		res.Articles = append(res.Articles, perSource[i]...)
	}
	res.FilteredArticles = len(res.Articles)
	res.FetchedAt = f.opts.Now()

	f.log.InfoContext(ctx, "fetch finished",
		"feeds", res.TotalFeeds,
		"successful", res.SuccessfulFeeds,
		"articles", res.TotalArticles,
		"in_window", res.FilteredArticles,
	)

	return res, nil
}

func (f *Fetcher) fetchOne(parent context.Context, src source.FeedSource, since, until time.Time) (Outcome, []Article) {
	ctx, cancel := context.WithTimeout(parent, f.opts.Timeout)
	defer cancel()

	start := time.Now()
	out := Outcome{Source: src, Format: feed.FormatUnknown}

	body, code, err := f.getWithRetry(ctx, src.URL)
	out.HTTPStatus = code
	if err != nil {
		out.Status = StatusFetchError
		out.Err = err
		out.Elapsed = time.Since(start)
		return out, nil
	}

	format, items, err := feed.Parse(body)
	out.Format = format
	if err != nil {
		out.Status = StatusParseError
		out.Err = err
		out.Elapsed = time.Since(start)
		return out, nil
	}

	out.Status = StatusOK
	out.Candidates = len(items)
	articles := filterWindow(items, src, since, until)
	out.Retained = len(articles)
	out.Elapsed = time.Since(start)
	return out, articles
}

// filterWindow keeps items with since <= published <= until. Undated items
// are dropped.
func filterWindow(items []feed.Item, src source.FeedSource, since, until time.Time) []Article {
	var out []Article
	for _, it := range items {
		p := it.Published
		if p.IsZero() || p.Before(since) || p.After(until) {
			continue
		}
		out = append(out, Article{
			Title:       it.Title,
			Link:        it.Link,
			Published:   p.UTC(),
			Description: it.Description,
			SourceName:  src.Name,
			SourceURL:   src.URL,
		})
	}
	return out
}

func (f *Fetcher) getWithRetry(ctx context.Context, feedURL string) ([]byte, int, error) {
	var (
		body    []byte
		code    int
		lastErr error
	)

	backoff := retry.WithMaxRetries(uint64(f.opts.Retries), retry.NewExponential(f.opts.RetryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		body, code, err = f.get(ctx, feedURL)
		if err == nil {
			return nil
		}
		lastErr = err
		if isRetryableError(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		// go-retry reports ctx.Err() when the deadline lands during a backoff
		// sleep; the last attempt's error is more useful.
		if errors.Is(err, context.DeadlineExceeded) && lastErr != nil && !errors.Is(lastErr, context.DeadlineExceeded) {
			err = fmt.Errorf("%w (last attempt: %v)", err, lastErr)
		}
		return nil, code, err
	}
	return body, code, nil
}

func (f *Fetcher) get(ctx context.Context, feedURL string) ([]byte, int, error) {
	if f.hosts != nil {
		if err := f.hosts.Wait(ctx, feedURL); err != nil {
			return nil, 0, fmt.Errorf("host rate limit: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", acceptHeader)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, resp.StatusCode, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes+1))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > f.opts.MaxBodyBytes {
		return nil, resp.StatusCode, ErrBodyTooLarge
	}
	return data, resp.StatusCode, nil
}

func (f *Fetcher) logOutcome(ctx context.Context, o Outcome, done, total int) {
	progress := fmt.Sprintf("%d/%d", done, total)
	if o.Status == StatusOK {
		f.log.InfoContext(ctx, "feed fetched",
			"progress", progress,
			"feed", o.Source.Name,
			"format", string(o.Format),
			"items", o.Candidates,
			"in_window", o.Retained,
			"elapsed", o.Elapsed.Round(time.Millisecond),
		)
		return
	}
	f.log.WarnContext(ctx, "feed failed",
		"progress", progress,
		"feed", o.Source.Name,
		"status", string(o.Status),
		"http_status", o.HTTPStatus,
		"error", o.Err,
		"elapsed", o.Elapsed.Round(time.Millisecond),
	)
}
