package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/ptt-stock-crawler/internal/analysis"
	"github.com/JakeFAU/ptt-stock-crawler/internal/crawler"
	"github.com/JakeFAU/ptt-stock-crawler/internal/id/uuid"
	pubmemory "github.com/JakeFAU/ptt-stock-crawler/internal/publisher/memory"
	"github.com/JakeFAU/ptt-stock-crawler/internal/storage/memory"
	"github.com/JakeFAU/ptt-stock-crawler/internal/store"
)

var now = time.Date(2025, 10, 16, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeSource struct {
	posts   map[string][]crawler.RawPost
	errs    map[string]error
	panicOn string
	entered chan string
	release chan struct{}

	mu    sync.Mutex
	calls []string
}

func (f *fakeSource) FetchPostsForAuthor(ctx context.Context, author string, _ time.Duration, _ int) ([]crawler.RawPost, error) {
	f.mu.Lock()
	f.calls = append(f.calls, author)
	f.mu.Unlock()
	if f.entered != nil {
		f.entered <- author
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if author == f.panicOn {
		panic("parser exploded")
	}
	if err := f.errs[author]; err != nil {
		return nil, err
	}
	return append([]crawler.RawPost(nil), f.posts[author]...), nil
}

type staticExploratory struct {
	result crawler.Analysis
}

func (s staticExploratory) AnalyzeExploratory(context.Context, string) crawler.Analysis {
	return s.result
}

func rawPost(author, ext string, published time.Time, codes ...string) crawler.RawPost {
	instruments := make([]crawler.Instrument, 0, len(codes))
	for _, code := range codes {
		instruments = append(instruments, crawler.Instrument{Code: code, Market: crawler.MarketDomestic, Confirmed: true})
	}
	return crawler.RawPost{
		ExternalID:    ext,
		URL:           "https://www.ptt.cc/bbs/Stock/" + ext + ".html",
		Board:         "Stock",
		Title:         "[標的] " + ext,
		AuthorClaimed: author,
		Body:          "看好 半導體 突破",
		PublishedAt:   published,
		Instruments:   instruments,
	}
}

type fixture struct {
	orch  *Orchestrator
	store *memory.Store
	clock *testClock
	blobs *memory.BlobStore
	pub   *pubmemory.Publisher
}

func newFixture(t *testing.T, src PostSource, authors ...string) fixture {
	t.Helper()
	f := fixture{
		store: memory.NewStore(),
		clock: &testClock{now: now},
		blobs: memory.NewBlobStore(),
		pub:   pubmemory.New(),
	}
	orch, err := New(Deps{
		Source:    src,
		Analyzer:  analysis.RuleAnalyzer{},
		Posts:     f.store,
		Sessions:  f.store,
		Profiles:  f.store,
		Blobs:     f.blobs,
		Publisher: f.pub,
		Clock:     f.clock,
		IDs:       uuid.New(),
	}, Config{
		Authors:        authors,
		MaxAge:         72 * time.Hour,
		MaxPosts:       50,
		DedupTolerance: time.Minute,
		ArchivePrefix:  "posts",
		Event:          "post.saved",
	}, zap.NewNop())
	require.NoError(t, err)
	f.orch = orch
	return f
}

func countPosts(t *testing.T, s *memory.Store) int {
	t.Helper()
	n, err := s.CountPosts(context.Background())
	require.NoError(t, err)
	return n
}

func TestRunSessionIsIdempotent(t *testing.T) {
	t.Parallel()

	src := &fakeSource{posts: map[string][]crawler.RawPost{
		"mrp": {
			rawPost("mrp", "M.3.A.003", now.Add(-time.Hour), "2330"),
			rawPost("mrp", "M.2.A.002", now.Add(-5*time.Hour)),
			rawPost("mrp", "M.1.A.001", now.Add(-30*time.Hour), "2454"),
		},
		"kobe": {rawPost("kobe", "M.4.A.004", now.Add(-2*time.Hour))},
	}}
	f := newFixture(t, src, "mrp", "kobe")

	first, err := f.orch.RunSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, crawler.SessionSuccess, first.Status)
	assert.Equal(t, 4, first.Found)
	assert.Equal(t, 4, first.Saved)
	assert.Equal(t, 4, first.Analyzed)
	assert.Equal(t, 4, countPosts(t, f.store))

	second, err := f.orch.RunSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, crawler.SessionSuccess, second.Status)
	assert.Equal(t, 0, second.Saved)
	assert.Equal(t, 4, second.Skipped)
	assert.Equal(t, 4, countPosts(t, f.store))

	sessions, err := f.store.ListCrawlSessions(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestRunSessionDedupsByPublishWindow(t *testing.T) {
	t.Parallel()

	src := &fakeSource{posts: map[string][]crawler.RawPost{
		"mrp": {rawPost("mrp", "M.1.A.001", now.Add(-time.Hour))},
	}}
	f := newFixture(t, src, "mrp")
	_, err := f.orch.RunSession(context.Background())
	require.NoError(t, err)

	// Same post rediscovered under a new id and URL, 30s apart.
	src.posts["mrp"] = []crawler.RawPost{rawPost("mrp", "M.1.A.00F", now.Add(-time.Hour+30*time.Second))}
	session, err := f.orch.RunSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, session.Skipped)
	assert.Equal(t, 1, countPosts(t, f.store))
}

func TestRunSessionPersistsAnalysisAndRelevance(t *testing.T) {
	t.Parallel()

	src := &fakeSource{posts: map[string][]crawler.RawPost{
		"mrp": {
			rawPost("mrp", "M.2.A.002", now.Add(-time.Hour), "2330"),
			rawPost("mrp", "M.1.A.001", now.Add(-2*time.Hour)),
		},
	}}
	f := newFixture(t, src, "mrp")
	_, err := f.orch.RunSession(context.Background())
	require.NoError(t, err)

	posts, err := f.store.ListPosts(context.Background(), store.PostFilter{})
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "M.2.A.002", posts[0].ExternalID)
	assert.True(t, posts[0].IsRelevant)
	assert.False(t, posts[1].IsRelevant)
	for _, p := range posts {
		assert.True(t, p.IsAnalyzed)
		assert.True(t, p.IsProcessed)
		assert.Equal(t, crawler.SourceRules, p.Analysis.Source)
		assert.Equal(t, crawler.SentimentPositive, p.Analysis.Sentiment)
		require.NotNil(t, p.AnalyzedAt)
	}

	profile, err := f.store.GetAuthorProfile(context.Background(), "mrp")
	require.NoError(t, err)
	assert.Equal(t, 2, profile.TotalPosts)
	assert.Equal(t, []string{"2330"}, profile.PreferredStocks)
	assert.True(t, now.Add(-time.Hour).Equal(profile.LastActivity))
}

func TestRunSessionArchivesAndPublishes(t *testing.T) {
	t.Parallel()

	src := &fakeSource{posts: map[string][]crawler.RawPost{
		"mrp": {rawPost("mrp", "M.1.A.001", now.Add(-time.Hour), "2330")},
	}}
	f := newFixture(t, src, "mrp")
	_, err := f.orch.RunSession(context.Background())
	require.NoError(t, err)

	data, ok := f.blobs.Object("posts/Stock/M.1.A.001.json")
	require.True(t, ok)
	assert.Contains(t, string(data), `"external_id":"M.1.A.001"`)

	msgs := f.pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "post.saved", msgs[0].Event)
	payload, ok := msgs[0].Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "M.1.A.001", payload["external_id"])
	assert.Equal(t, true, payload["is_relevant"])
}

func TestRunSessionStatuses(t *testing.T) {
	t.Parallel()

	boom := errors.New("search page unavailable")

	t.Run("partial", func(t *testing.T) {
		t.Parallel()
		src := &fakeSource{
			posts: map[string][]crawler.RawPost{"mrp": {rawPost("mrp", "M.1.A.001", now)}},
			errs:  map[string]error{"kobe": boom},
		}
		f := newFixture(t, src, "mrp", "kobe")
		session, err := f.orch.RunSession(context.Background())
		require.NoError(t, err)
		assert.Equal(t, crawler.SessionPartial, session.Status)
		assert.Equal(t, 1, session.Saved)
		require.Len(t, session.Errors, 1)
		assert.Contains(t, session.Errors[0], "kobe")
	})

	t.Run("every author failed", func(t *testing.T) {
		t.Parallel()
		src := &fakeSource{errs: map[string]error{"mrp": boom, "kobe": boom}}
		f := newFixture(t, src, "mrp", "kobe")
		session, err := f.orch.RunSession(context.Background())
		require.NoError(t, err)
		assert.Equal(t, crawler.SessionError, session.Status)
		assert.Len(t, session.Errors, 2)

		stored, err := f.store.ListCrawlSessions(context.Background(), 10, 0)
		require.NoError(t, err)
		require.Len(t, stored, 1)
		assert.Equal(t, crawler.SessionError, stored[0].Status)
	})

	t.Run("panic is contained", func(t *testing.T) {
		t.Parallel()
		src := &fakeSource{
			posts:   map[string][]crawler.RawPost{"mrp": {rawPost("mrp", "M.1.A.001", now)}},
			panicOn: "kobe",
		}
		f := newFixture(t, src, "mrp", "kobe")
		session, err := f.orch.RunSession(context.Background())
		require.NoError(t, err)
		assert.Equal(t, crawler.SessionError, session.Status)
		assert.Equal(t, 1, session.Saved)
		require.NotEmpty(t, session.Errors)
		assert.Contains(t, session.Errors[len(session.Errors)-1], "panic")
	})

	t.Run("canceled", func(t *testing.T) {
		t.Parallel()
		src := &fakeSource{}
		f := newFixture(t, src, "mrp")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		session, err := f.orch.RunSession(ctx)
		require.NoError(t, err)
		assert.Equal(t, crawler.SessionError, session.Status)
		assert.Empty(t, src.calls)
	})
}

// racingStore never finds a post, so a second insert hits the unique check.
type racingStore struct {
	*memory.Store
}

func (racingStore) FindPost(context.Context, store.DedupQuery) (crawler.Post, error) {
	return crawler.Post{}, store.ErrNotFound
}

func TestInsertRaceCountsAsSkip(t *testing.T) {
	t.Parallel()

	mem := memory.NewStore()
	src := &fakeSource{posts: map[string][]crawler.RawPost{"mrp": {rawPost("mrp", "M.1.A.001", now)}}}
	orch, err := New(Deps{
		Source:   src,
		Analyzer: analysis.RuleAnalyzer{},
		Posts:    racingStore{mem},
		Sessions: mem,
		IDs:      uuid.New(),
	}, Config{Authors: []string{"mrp"}}, nil)
	require.NoError(t, err)

	_, err = orch.RunSession(context.Background())
	require.NoError(t, err)
	session, err := orch.RunSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, crawler.SessionSuccess, session.Status)
	assert.Equal(t, 1, session.Skipped)
	assert.Empty(t, session.Errors)
}

func TestCrawlSingleAuthorIsMutuallyExclusive(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		posts:   map[string][]crawler.RawPost{"mrp": {rawPost("mrp", "M.1.A.001", now)}},
		entered: make(chan string, 4),
		release: make(chan struct{}),
	}
	f := newFixture(t, src, "mrp")

	done := make(chan crawler.CrawlSession, 1)
	go func() {
		session, err := f.orch.CrawlSingleAuthor(context.Background(), "mrp")
		assert.NoError(t, err)
		done <- session
	}()
	require.Equal(t, "mrp", <-src.entered)
	f.clock.Advance(42 * time.Second)

	_, err := f.orch.CrawlSingleAuthor(context.Background(), "kobe")
	require.ErrorIs(t, err, ErrAlreadyRunning)
	var running *AlreadyRunningError
	require.ErrorAs(t, err, &running)
	assert.Equal(t, "mrp", running.Author)
	assert.Equal(t, 42*time.Second, running.Elapsed)

	_, err = f.orch.RunSession(context.Background())
	require.ErrorIs(t, err, ErrAlreadyRunning)
	_, err = f.orch.AnalyzePending(context.Background(), 10)
	require.ErrorIs(t, err, ErrAlreadyRunning)

	author, elapsed, ok := f.orch.Running()
	require.True(t, ok)
	assert.Equal(t, "mrp", author)
	assert.Equal(t, 42*time.Second, elapsed)

	close(src.release)
	session := <-done
	assert.Equal(t, 1, session.Saved)
	assert.Equal(t, []string{"mrp"}, session.Authors)

	_, _, ok = f.orch.Running()
	assert.False(t, ok)
	src.mu.Lock()
	assert.Equal(t, []string{"mrp"}, src.calls)
	src.mu.Unlock()

	session, err = f.orch.CrawlSingleAuthor(context.Background(), "kobe")
	require.NoError(t, err)
	assert.Equal(t, []string{"kobe"}, session.Authors)
}

func TestCrawlSingleAuthorRequiresAuthor(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeSource{}, "mrp")
	_, err := f.orch.CrawlSingleAuthor(context.Background(), "  ")
	require.Error(t, err)
}

func TestAnalyzePendingUsesExploratoryAnalyzer(t *testing.T) {
	t.Parallel()

	mem := memory.NewStore()
	require.NoError(t, mem.InsertPost(context.Background(), crawler.Post{
		ID: "p1", ExternalID: "M.1.A.001", URL: "u1", Author: "mrp", PublishedAt: now, Title: "t", Body: "b",
	}))
	require.NoError(t, mem.InsertPost(context.Background(), crawler.Post{
		ID: "p2", ExternalID: "M.2.A.002", URL: "u2", Author: "mrp", PublishedAt: now.Add(-time.Hour), IsAnalyzed: true,
	}))
	result := crawler.Analysis{
		RecommendedStocks: []string{"2330"},
		Sentiment:         crawler.SentimentPositive,
		Sectors:           []string{},
		Strategy:          "逢低布局",
		RiskLevel:         crawler.RiskLow,
		Reason:            "營收創高",
		Source:            crawler.SourceLLM,
	}
	orch, err := New(Deps{
		Source:      &fakeSource{},
		Analyzer:    analysis.RuleAnalyzer{},
		Exploratory: staticExploratory{result: result},
		Posts:       mem,
		Sessions:    mem,
		Clock:       &testClock{now: now},
		IDs:         uuid.New(),
	}, Config{}, nil)
	require.NoError(t, err)

	n, err := orch.AnalyzePending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := mem.GetPost(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, result, got.Analysis)
	assert.True(t, got.IsAnalyzed)
	assert.True(t, got.IsRelevant)
}

func TestBuildProfileRanksByRecency(t *testing.T) {
	t.Parallel()

	post := func(age time.Duration, sectors []string, codes ...string) crawler.Post {
		return crawler.Post{
			PublishedAt: now.Add(-age),
			Instruments: codes,
			Analysis:    crawler.Analysis{Sectors: sectors},
		}
	}
	posts := []crawler.Post{
		post(time.Hour, []string{"科技"}, "2330"),
		post(10*24*time.Hour, []string{"金融", "航運"}, "2454", "2317"),
		post(11*24*time.Hour, []string{"金融"}, "2454"),
		post(2*time.Hour, []string{"能源", "零售"}, "AAPL", "1101", "2603", "2881"),
	}
	profile := BuildProfile("mrp", posts, now)
	assert.Equal(t, 4, profile.TotalPosts)
	assert.True(t, now.Add(-time.Hour).Equal(profile.LastActivity))
	assert.Equal(t, []string{"2330", "1101", "2603", "2881", "AAPL"}, profile.PreferredStocks)
	assert.Equal(t, []string{"科技", "能源", "零售"}, profile.PreferredSectors)

	empty := BuildProfile("ghost", nil, now)
	assert.Equal(t, []string{}, empty.PreferredStocks)
	assert.Equal(t, []string{}, empty.PreferredSectors)
}

// pagedStore hands back at most one post per listing.
type pagedStore struct {
	*memory.Store
}

func (p pagedStore) ListPosts(ctx context.Context, filter store.PostFilter) ([]crawler.Post, error) {
	filter.Limit = 1
	return p.Store.ListPosts(ctx, filter)
}

func TestRefreshProfilesCountsEveryStoredPost(t *testing.T) {
	t.Parallel()

	mem := memory.NewStore()
	for i, ext := range []string{"M.1.A.001", "M.2.A.002", "M.3.A.003"} {
		post := crawler.Post{
			ID:          ext,
			ExternalID:  ext,
			URL:         "https://www.ptt.cc/bbs/Stock/" + ext + ".html",
			Author:      "mrp",
			PublishedAt: now.Add(-time.Duration(i) * time.Hour),
			Instruments: []string{"2330"},
		}
		require.NoError(t, mem.InsertPost(context.Background(), post))
	}
	orch, err := New(Deps{
		Source:   &fakeSource{},
		Analyzer: analysis.RuleAnalyzer{},
		Posts:    pagedStore{mem},
		Sessions: mem,
		Profiles: mem,
		Clock:    &testClock{now: now},
		IDs:      uuid.New(),
	}, Config{Authors: []string{"mrp"}}, nil)
	require.NoError(t, err)

	orch.refreshProfiles(context.Background(), []string{"mrp"}, zap.NewNop())

	profile, err := mem.GetAuthorProfile(context.Background(), "mrp")
	require.NoError(t, err)
	assert.Equal(t, 3, profile.TotalPosts)
	assert.Equal(t, []string{"2330"}, profile.PreferredStocks)
}

func TestNewValidatesDeps(t *testing.T) {
	t.Parallel()

	_, err := New(Deps{}, Config{}, nil)
	require.Error(t, err)
}
