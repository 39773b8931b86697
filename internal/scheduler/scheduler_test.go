package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/sitecrawl/internal/canonical"
	"github.com/jonesrussell/sitecrawl/internal/domain"
	"github.com/jonesrussell/sitecrawl/internal/extract"
	"github.com/jonesrussell/sitecrawl/internal/fetcher"
	"github.com/jonesrussell/sitecrawl/internal/frontier"
	"github.com/jonesrussell/sitecrawl/internal/logger"
	"github.com/jonesrussell/sitecrawl/internal/metrics"
	"github.com/jonesrussell/sitecrawl/internal/ratelimit"
	"github.com/jonesrussell/sitecrawl/internal/robots"
	"github.com/jonesrussell/sitecrawl/internal/scheduler"
	"github.com/jonesrussell/sitecrawl/internal/seen"
)

// fakeRobots serves robots.txt bodies by host; missing hosts behave like 404.
type fakeRobots struct {
	bodies map[string]string
}

func (f *fakeRobots) FetchRobots(_ context.Context, _, host string) ([]byte, error) {
	body, ok := f.bodies[host]
	if !ok {
		return nil, fetcher.ErrRobotsNotFound
	}

	return []byte(body), nil
}

// fakeFetcher serves scripted outcomes per URL; the last outcome repeats.
type fakeFetcher struct {
	mu       sync.Mutex
	script   map[string][]fetcher.Outcome
	calls    map[string]int
	times    map[string][]time.Time
	headers  map[string]http.Header
	slowness time.Duration
}

func newFakeFetcher(script map[string][]fetcher.Outcome) *fakeFetcher {
	return &fakeFetcher{
		script:  script,
		calls:   make(map[string]int),
		times:   make(map[string][]time.Time),
		headers: make(map[string]http.Header),
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, req fetcher.Request) fetcher.Outcome {
	if f.slowness > 0 {
		select {
		case <-time.After(f.slowness):
		case <-ctx.Done():
			return fetcher.Failed(false, ctx.Err())
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[req.URL]++
	f.times[req.URL] = append(f.times[req.URL], time.Now())
	f.headers[req.URL] = req.Headers

	queue, ok := f.script[req.URL]
	if !ok || len(queue) == 0 {
		return fetcher.Failed(false, fmt.Errorf("unscripted url %s", req.URL))
	}

	outcome := queue[0]
	if len(queue) > 1 {
		f.script[req.URL] = queue[1:]
	}

	return outcome
}

func (f *fakeFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[url]
}

func htmlPage(links ...string) fetcher.Outcome {
	body := "<html><body>"
	for _, link := range links {
		body += fmt.Sprintf("<a href=%q>x</a>", link)
	}
	body += "</body></html>"

	return fetcher.Success(200, nil, []byte(body), "text/html; charset=utf-8")
}

func textPage(body string) fetcher.Outcome {
	return fetcher.Success(200, nil, []byte(body), "text/plain")
}

type testEnv struct {
	sched   *scheduler.Scheduler
	fetcher *fakeFetcher
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T, cfg scheduler.Config, script map[string][]fetcher.Outcome, robotsBodies map[string]string) *testEnv {
	t.Helper()

	canon, err := canonical.New(nil, nil)
	require.NoError(t, err)

	policy, err := robots.NewStore(robots.Config{
		RobotsFetcher:  &fakeRobots{bodies: robotsBodies},
		UserAgent:      "sitecrawl-test",
		AllowedDomains: []string{"example.com", "other.org"},
	})
	require.NoError(t, err)

	governor := ratelimit.NewGovernor(ratelimit.Config{
		Delay:             time.Millisecond,
		GlobalConcurrency: int64(max(cfg.Workers, 1)),
		DomainConcurrency: int64(max(cfg.Workers, 1)),
	})

	fake := newFakeFetcher(script)
	m := metrics.NewMetrics()

	sched := scheduler.New(cfg, scheduler.Deps{
		Canonicalizer: canon,
		Seen:          seen.NewRegistry(),
		Policy:        policy,
		Governor:      governor,
		Fetcher:       fake,
		Extractor:     extract.NewHTMLExtractor(),
		Metrics:       m,
		Logger:        logger.NewNoOp(),
	})

	return &testEnv{sched: sched, fetcher: fake, metrics: m}
}

func bfsConfig(workers int) scheduler.Config {
	return scheduler.Config{
		Mode:             frontier.ModeBFS,
		MaxDepth:         3,
		Workers:          workers,
		MaxRetryAttempts: 1,
		RetryBaseDelay:   time.Millisecond,
		RetryMaxDelay:    5 * time.Millisecond,
		RedirectHopLimit: 3,
	}
}

func TestRun_CrawlsDiscoveredLinks(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, bfsConfig(2), map[string][]fetcher.Outcome{
		"https://example.com/":  {htmlPage("/a", "/b")},
		"https://example.com/a": {textPage("a")},
		"https://example.com/b": {textPage("b")},
	}, nil)

	require.NoError(t, env.sched.Seed("https://example.com/"))

	termination := env.sched.Run(context.Background())

	assert.Equal(t, domain.TerminationCompleted, termination)
	assert.Equal(t, int64(3), env.metrics.GetOutcomes().Success)
	assert.Equal(t, 1, env.fetcher.callCount("https://example.com/a"))
	assert.Equal(t, 1, env.fetcher.callCount("https://example.com/b"))
}

func TestRun_SingleDispatchPerCanonicalURL(t *testing.T) {
	t.Parallel()

	// Two parents discover the same child concurrently; it is fetched once.
	env := newTestEnv(t, bfsConfig(4), map[string][]fetcher.Outcome{
		"https://example.com/p1":     {htmlPage("/shared")},
		"https://example.com/p2":     {htmlPage("/shared?utm_source=x")},
		"https://example.com/shared": {textPage("s")},
	}, nil)

	require.NoError(t, env.sched.Seed("https://example.com/p1"))
	require.NoError(t, env.sched.Seed("https://example.com/p2"))

	env.sched.Run(context.Background())

	assert.Equal(t, 1, env.fetcher.callCount("https://example.com/shared"))
	assert.Equal(t, int64(3), env.metrics.GetOutcomes().Success)
}

func TestRun_RetryOffByOne(t *testing.T) {
	t.Parallel()

	// Three attempts allowed in total: a URL answering 503 three times ends
	// terminally failed after exactly three fetches.
	cfg := bfsConfig(1)
	cfg.MaxRetryAttempts = 3

	serverErr := errors.New("http status 503")
	env := newTestEnv(t, cfg, map[string][]fetcher.Outcome{
		"https://example.com/flaky": {fetcher.Failed(true, serverErr)},
	}, nil)

	require.NoError(t, env.sched.Seed("https://example.com/flaky"))

	termination := env.sched.Run(context.Background())

	assert.Equal(t, domain.TerminationCompleted, termination)
	assert.Equal(t, 3, env.fetcher.callCount("https://example.com/flaky"))
	assert.Equal(t, int64(1), env.metrics.GetOutcomes().Failed)
	assert.Equal(t, int64(2), env.metrics.GetRetries())
}

func TestRun_RetryThenSuccess(t *testing.T) {
	t.Parallel()

	cfg := bfsConfig(1)
	cfg.MaxRetryAttempts = 3

	env := newTestEnv(t, cfg, map[string][]fetcher.Outcome{
		"https://example.com/flaky": {
			fetcher.Failed(true, errors.New("http status 503")),
			fetcher.Failed(true, errors.New("http status 503")),
			textPage("finally"),
		},
	}, nil)

	require.NoError(t, env.sched.Seed("https://example.com/flaky"))
	env.sched.Run(context.Background())

	assert.Equal(t, 3, env.fetcher.callCount("https://example.com/flaky"))
	assert.Equal(t, int64(1), env.metrics.GetOutcomes().Success)
	assert.Equal(t, int64(0), env.metrics.GetOutcomes().Failed)
	assert.Equal(t, int64(2), env.metrics.GetRetries())
}

func TestRun_NonRetryableFailsImmediately(t *testing.T) {
	t.Parallel()

	cfg := bfsConfig(1)
	cfg.MaxRetryAttempts = 3

	env := newTestEnv(t, cfg, map[string][]fetcher.Outcome{
		"https://example.com/gone": {fetcher.Failed(false, errors.New("http status 404"))},
	}, nil)

	require.NoError(t, env.sched.Seed("https://example.com/gone"))
	env.sched.Run(context.Background())

	assert.Equal(t, 1, env.fetcher.callCount("https://example.com/gone"))
	assert.Equal(t, int64(1), env.metrics.GetOutcomes().Failed)
	assert.Equal(t, int64(0), env.metrics.GetRetries())
}

func TestRun_RedirectReentersAtSameDepth(t *testing.T) {
	t.Parallel()

	// Depth cap 1: the redirect target keeps depth 0, so its child at depth 1
	// is still admitted. A traversal step at the redirect would lose it.
	cfg := bfsConfig(1)
	cfg.MaxDepth = 1

	env := newTestEnv(t, cfg, map[string][]fetcher.Outcome{
		"https://example.com/old":   {fetcher.Redirect(301, "/new", 2)},
		"https://example.com/new":   {htmlPage("/child")},
		"https://example.com/child": {textPage("c")},
	}, nil)

	require.NoError(t, env.sched.Seed("https://example.com/old"))
	env.sched.Run(context.Background())

	assert.Equal(t, int64(1), env.metrics.GetOutcomes().Redirect)
	assert.Equal(t, int64(2), env.metrics.GetOutcomes().Success)
	assert.Equal(t, 1, env.fetcher.callCount("https://example.com/child"))
}

func TestRun_RedirectHopLimitExhausted(t *testing.T) {
	t.Parallel()

	cfg := bfsConfig(1)
	cfg.RedirectHopLimit = 1

	env := newTestEnv(t, cfg, map[string][]fetcher.Outcome{
		"https://example.com/r1": {fetcher.Redirect(302, "/r2", 0)},
		"https://example.com/r2": {fetcher.Redirect(302, "/r3", 0)},
		"https://example.com/r3": {textPage("end")},
	}, nil)

	require.NoError(t, env.sched.Seed("https://example.com/r1"))
	env.sched.Run(context.Background())

	// One hop allowed: r1 -> r2 is followed, r2 -> r3 is dropped.
	assert.Equal(t, 1, env.fetcher.callCount("https://example.com/r2"))
	assert.Equal(t, 0, env.fetcher.callCount("https://example.com/r3"))
	assert.Equal(t, int64(2), env.metrics.GetOutcomes().Redirect)
}

func TestRun_DomainBudgetTwoOfFive(t *testing.T) {
	t.Parallel()

	cfg := bfsConfig(1)
	cfg.MaxPagesPerDomain = 2

	script := map[string][]fetcher.Outcome{}
	for i := 1; i <= 5; i++ {
		script[fmt.Sprintf("https://example.com/p%d", i)] = []fetcher.Outcome{textPage("x")}
	}

	env := newTestEnv(t, cfg, script, nil)

	for i := 1; i <= 5; i++ {
		require.NoError(t, env.sched.Seed(fmt.Sprintf("https://example.com/p%d", i)))
	}

	env.sched.Run(context.Background())

	assert.Equal(t, int64(2), env.metrics.GetOutcomes().Success)
	assert.Equal(t, int64(3), env.sched.DroppedBudget())
}

func TestRun_TotalBudgetTermination(t *testing.T) {
	t.Parallel()

	cfg := bfsConfig(1)
	cfg.MaxPagesTotal = 2

	env := newTestEnv(t, cfg, map[string][]fetcher.Outcome{
		"https://example.com/a": {textPage("a")},
		"https://example.com/b": {textPage("b")},
		"https://example.com/c": {textPage("c")},
	}, nil)

	require.NoError(t, env.sched.Seed("https://example.com/a"))
	require.NoError(t, env.sched.Seed("https://example.com/b"))
	require.NoError(t, env.sched.Seed("https://example.com/c"))

	termination := env.sched.Run(context.Background())

	assert.Equal(t, domain.TerminationPageBudget, termination)
	assert.Equal(t, int64(2), env.metrics.GetOutcomes().Success)
}

func TestRun_RobotsDisallowNeverFetched(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, bfsConfig(2), map[string][]fetcher.Outcome{
		"https://example.com/public": {textPage("ok")},
	}, map[string]string{
		"example.com": "User-agent: *\nDisallow: /private/\n",
	})

	require.NoError(t, env.sched.Seed("https://example.com/public"))
	require.NoError(t, env.sched.Seed("https://example.com/private/page"))

	env.sched.Run(context.Background())

	assert.Equal(t, 0, env.fetcher.callCount("https://example.com/private/page"))
	assert.Equal(t, int64(1), env.metrics.GetOutcomes().Blocked)
	assert.Equal(t, int64(1), env.metrics.GetOutcomes().Success)
}

func TestRun_ConditionalRefetch(t *testing.T) {
	t.Parallel()

	cfg := bfsConfig(1)
	cfg.CountNotModified = true
	cfg.MaxPagesTotal = 1

	env := newTestEnv(t, cfg, map[string][]fetcher.Outcome{
		"https://example.com/cached": {fetcher.NotModified(nil)},
	}, nil)

	env.sched.SeedValidator("https://example.com/cached", `"v1"`, "")
	require.NoError(t, env.sched.Seed("https://example.com/cached"))

	termination := env.sched.Run(context.Background())

	env.fetcher.mu.Lock()
	sent := env.fetcher.headers["https://example.com/cached"]
	env.fetcher.mu.Unlock()

	require.NotNil(t, sent)
	assert.Equal(t, `"v1"`, sent.Get("If-None-Match"))
	assert.Equal(t, int64(1), env.metrics.GetOutcomes().NotModified)
	// A 304 spends budget when count_not_modified is on.
	assert.Equal(t, domain.TerminationPageBudget, termination)
}

func TestRun_SeedOutsideAllowlistRefused(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, bfsConfig(1), nil, nil)

	err := env.sched.Seed("https://evil.test/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), robots.ReasonDomainNotAllowed)
}

func TestRun_ContextCancelStops(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, bfsConfig(1), map[string][]fetcher.Outcome{
		"https://example.com/slow": {textPage("slow")},
	}, nil)
	env.fetcher.slowness = 200 * time.Millisecond

	require.NoError(t, env.sched.Seed("https://example.com/slow"))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	termination := env.sched.Run(ctx)

	assert.Equal(t, domain.TerminationStopped, termination)
}

func TestRun_DeadlineReported(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, bfsConfig(1), map[string][]fetcher.Outcome{
		"https://example.com/slow": {textPage("slow")},
	}, nil)
	env.fetcher.slowness = 200 * time.Millisecond

	require.NoError(t, env.sched.Seed("https://example.com/slow"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	termination := env.sched.Run(ctx)

	assert.Equal(t, domain.TerminationDeadline, termination)
}

func TestRun_FragmentVariantsFetchedOnce(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, bfsConfig(2), map[string][]fetcher.Outcome{
		"https://example.com/":  {htmlPage("/x", "/x?utm_source=feed")},
		"https://example.com/x": {textPage("x")},
	}, nil)

	require.NoError(t, env.sched.Seed("https://example.com/"))
	env.sched.Run(context.Background())

	assert.Equal(t, 1, env.fetcher.callCount("https://example.com/x"))
}
