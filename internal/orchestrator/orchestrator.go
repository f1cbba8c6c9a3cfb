// Package orchestrator runs crawl sessions: discover posts per author, skip
// duplicates, analyze and persist the rest, and write one audit record.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ptt-stock-crawler/internal/clock/system"
	"github.com/JakeFAU/ptt-stock-crawler/internal/crawler"
	"github.com/JakeFAU/ptt-stock-crawler/internal/metrics"
	"github.com/JakeFAU/ptt-stock-crawler/internal/store"
)

// allAuthors labels the lock while a full session runs.
const allAuthors = "*"

// PostSource discovers recent posts for one author.
type PostSource interface {
	FetchPostsForAuthor(ctx context.Context, author string, maxAge time.Duration, maxCount int) ([]crawler.RawPost, error)
}

// ExploratoryAnalyzer analyzes on the long deadline used outside live crawls.
type ExploratoryAnalyzer interface {
	AnalyzeExploratory(ctx context.Context, body string) crawler.Analysis
}

// Config controls Orchestrator behavior.
type Config struct {
	Authors        []string
	MaxAge         time.Duration
	MaxPosts       int
	DedupTolerance time.Duration
	ArchivePrefix  string
	Event          string
}

// Deps are the collaborators an Orchestrator drives. Profiles, Blobs,
// Publisher and Exploratory are optional.
type Deps struct {
	Source      PostSource
	Analyzer    crawler.Analyzer
	Exploratory ExploratoryAnalyzer
	Posts       store.PostRepository
	Sessions    store.SessionRepository
	Profiles    store.ProfileRepository
	Blobs       crawler.BlobStore
	Publisher   crawler.Publisher
	Clock       crawler.Clock
	IDs         crawler.IDGenerator
}

// Orchestrator owns the crawl lock and the per-session pipeline.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	running string
	since   time.Time
}

// New constructs an Orchestrator.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Orchestrator, error) {
	if deps.Source == nil || deps.Analyzer == nil {
		return nil, errors.New("post source and analyzer are required")
	}
	if deps.Posts == nil || deps.Sessions == nil {
		return nil, errors.New("post and session repositories are required")
	}
	if deps.IDs == nil {
		return nil, errors.New("id generator is required")
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxPosts <= 0 {
		cfg.MaxPosts = 100
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 72 * time.Hour
	}
	return &Orchestrator{deps: deps, cfg: cfg, logger: logger.Named("orchestrator")}, nil
}

// RunSession crawls every configured author once.
func (o *Orchestrator) RunSession(ctx context.Context) (crawler.CrawlSession, error) {
	release, err := o.acquire(allAuthors)
	if err != nil {
		return crawler.CrawlSession{}, err
	}
	defer release()
	return o.run(ctx, o.cfg.Authors)
}

// CrawlSingleAuthor runs the session flow for one author. It fails with an
// *AlreadyRunningError when any crawl is in flight.
func (o *Orchestrator) CrawlSingleAuthor(ctx context.Context, author string) (crawler.CrawlSession, error) {
	author = strings.TrimSpace(author)
	if author == "" {
		return crawler.CrawlSession{}, errors.New("author is required")
	}
	release, err := o.acquire(author)
	if err != nil {
		return crawler.CrawlSession{}, err
	}
	defer release()
	return o.run(ctx, []string{author})
}

// Running reports the in-flight crawl, if any.
func (o *Orchestrator) Running() (string, time.Duration, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running == "" {
		return "", 0, false
	}
	return o.running, o.deps.Clock.Now().Sub(o.since), true
}

func (o *Orchestrator) acquire(label string) (func(), error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running != "" {
		return nil, &AlreadyRunningError{Author: o.running, Elapsed: o.deps.Clock.Now().Sub(o.since)}
	}
	o.running = label
	o.since = o.deps.Clock.Now()
	metrics.SetCrawlInProgress(true)
	return func() {
		o.mu.Lock()
		o.running = ""
		o.since = time.Time{}
		o.mu.Unlock()
		metrics.SetCrawlInProgress(false)
	}, nil
}

// tally accumulates the counters of one session.
type tally struct {
	found    int
	saved    int
	analyzed int
	skipped  int
	crawled  int
	errors   []string
}

func (t *tally) fail(format string, args ...any) {
	t.errors = append(t.errors, fmt.Sprintf(format, args...))
}

func (o *Orchestrator) run(ctx context.Context, authors []string) (crawler.CrawlSession, error) {
	id, err := o.deps.IDs.NewID()
	if err != nil {
		return crawler.CrawlSession{}, fmt.Errorf("session id: %w", err)
	}
	started := o.deps.Clock.Now()
	logger := o.logger.With(zap.String("session_id", id))
	logger.Info("crawl session started", zap.Strings("authors", authors))

	var t tally
	escaped := o.crawlAuthors(ctx, authors, &t, logger)
	if escaped != nil {
		t.fail("session: %v", escaped)
	}

	session := crawler.CrawlSession{
		ID:        id,
		StartedAt: started,
		Authors:   append([]string{}, authors...),
		Found:     t.found,
		Saved:     t.saved,
		Analyzed:  t.analyzed,
		Skipped:   t.skipped,
		Errors:    append([]string{}, t.errors...),
		Duration:  o.deps.Clock.Now().Sub(started),
		Status:    deriveStatus(escaped, t, len(authors)),
	}
	metrics.ObserveSession(string(session.Status), session.Duration)

	// The audit record is written even when the caller has gone away.
	writeCtx := context.WithoutCancel(ctx)
	if err := o.deps.Sessions.InsertCrawlSession(writeCtx, session); err != nil {
		logger.Error("write crawl session failed", zap.Error(err))
		return session, fmt.Errorf("insert crawl session: %w", err)
	}
	if escaped == nil {
		o.refreshProfiles(writeCtx, authors, logger)
	}

	logger.Info("crawl session finished",
		zap.String("status", string(session.Status)),
		zap.Int("found", session.Found),
		zap.Int("saved", session.Saved),
		zap.Int("skipped", session.Skipped),
		zap.Int("errors", len(session.Errors)),
		zap.Duration("duration", session.Duration),
	)
	return session, nil
}

// crawlAuthors runs the author loop and converts a panic or cancellation
// into the session-level failure it reports.
func (o *Orchestrator) crawlAuthors(ctx context.Context, authors []string, t *tally, logger *zap.Logger) (escaped error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("crawl session panicked", zap.Any("panic", r), zap.Stack("stack"))
			escaped = fmt.Errorf("panic: %v", r)
		}
	}()
	for _, author := range authors {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.crawlAuthor(ctx, author, t, logger.With(zap.String("author", author)))
	}
	return ctx.Err()
}

func (o *Orchestrator) crawlAuthor(ctx context.Context, author string, t *tally, logger *zap.Logger) {
	raws, err := o.deps.Source.FetchPostsForAuthor(ctx, author, o.cfg.MaxAge, o.cfg.MaxPosts)
	if err != nil {
		logger.Error("discover posts failed", zap.Error(err))
		t.fail("%s: %v", author, err)
		return
	}
	t.crawled++
	t.found += len(raws)
	logger.Debug("posts discovered", zap.Int("count", len(raws)))

	for _, raw := range raws {
		if ctx.Err() != nil {
			return
		}
		o.processPost(ctx, raw, t, logger.With(zap.String("external_id", raw.ExternalID)))
	}
}

func (o *Orchestrator) processPost(ctx context.Context, raw crawler.RawPost, t *tally, logger *zap.Logger) {
	_, err := o.deps.Posts.FindPost(ctx, store.DedupQuery{
		ExternalID:  raw.ExternalID,
		URL:         raw.URL,
		Author:      raw.AuthorClaimed,
		PublishedAt: raw.PublishedAt,
		Tolerance:   o.cfg.DedupTolerance,
	})
	switch {
	case err == nil:
		t.skipped++
		metrics.ObservePost("duplicate")
		logger.Debug("post already stored")
		return
	case !errors.Is(err, store.ErrNotFound):
		t.fail("%s: dedup lookup: %v", raw.ExternalID, err)
		metrics.ObservePost("error")
		logger.Error("dedup lookup failed", zap.Error(err))
		return
	}

	post, err := o.buildPost(ctx, raw)
	if err != nil {
		t.fail("%s: %v", raw.ExternalID, err)
		metrics.ObservePost("error")
		logger.Error("build post failed", zap.Error(err))
		return
	}

	if err := o.deps.Posts.InsertPost(ctx, post); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			t.skipped++
			metrics.ObservePost("duplicate")
			logger.Info("post stored concurrently, skipping")
			return
		}
		t.fail("%s: insert: %v", raw.ExternalID, err)
		metrics.ObservePost("error")
		logger.Error("insert post failed", zap.Error(err))
		return
	}
	t.saved++
	t.analyzed++
	metrics.ObservePost("saved")
	logger.Info("post saved",
		zap.String("post_id", post.ID),
		zap.Strings("instruments", post.Instruments),
		zap.String("analysis_source", string(post.Analysis.Source)),
	)

	if err := o.archive(ctx, post); err != nil {
		t.fail("%s: archive: %v", raw.ExternalID, err)
		logger.Warn("archive post failed", zap.Error(err))
	}
	if err := o.publish(ctx, post); err != nil {
		t.fail("%s: publish: %v", raw.ExternalID, err)
		logger.Warn("publish post failed", zap.Error(err))
	}
}

func (o *Orchestrator) buildPost(ctx context.Context, raw crawler.RawPost) (crawler.Post, error) {
	id, err := o.deps.IDs.NewID()
	if err != nil {
		return crawler.Post{}, fmt.Errorf("post id: %w", err)
	}
	analysis := o.deps.Analyzer.Analyze(ctx, analysisText(raw.Title, raw.Body))
	codes := raw.Codes()
	now := o.deps.Clock.Now()
	return crawler.Post{
		ID:          id,
		ExternalID:  raw.ExternalID,
		URL:         raw.URL,
		Board:       raw.Board,
		Title:       raw.Title,
		Author:      raw.AuthorClaimed,
		Body:        raw.Body,
		PublishedAt: raw.PublishedAt,
		CrawledAt:   now,
		Engagement:  raw.Engagement,
		Instruments: codes,
		Analysis:    analysis,
		AnalyzedAt:  &now,
		IsAnalyzed:  true,
		IsProcessed: true,
		IsRelevant:  isRelevant(codes, analysis),
	}, nil
}

// AnalyzePending re-analyzes up to limit stored posts that have no analysis
// yet, using the exploratory deadline. It shares the crawl lock.
func (o *Orchestrator) AnalyzePending(ctx context.Context, limit int) (int, error) {
	release, err := o.acquire("analyze-pending")
	if err != nil {
		return 0, err
	}
	defer release()

	pending, err := o.deps.Posts.ListPosts(ctx, store.PostFilter{OnlyPending: true, Limit: limit})
	if err != nil {
		return 0, fmt.Errorf("list pending posts: %w", err)
	}
	updated := 0
	for _, post := range pending {
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		text := analysisText(post.Title, post.Body)
		var analysis crawler.Analysis
		if o.deps.Exploratory != nil {
			analysis = o.deps.Exploratory.AnalyzeExploratory(ctx, text)
		} else {
			analysis = o.deps.Analyzer.Analyze(ctx, text)
		}
		relevant := isRelevant(post.Instruments, analysis)
		if err := o.deps.Posts.UpdateAnalysis(ctx, post.ID, analysis, relevant, o.deps.Clock.Now()); err != nil {
			o.logger.Error("update analysis failed", zap.String("post_id", post.ID), zap.Error(err))
			continue
		}
		updated++
	}
	o.logger.Info("pending posts analyzed", zap.Int("candidates", len(pending)), zap.Int("updated", updated))
	return updated, nil
}

func deriveStatus(escaped error, t tally, authors int) crawler.SessionStatus {
	switch {
	case escaped != nil:
		return crawler.SessionError
	case authors > 0 && t.crawled == 0:
		return crawler.SessionError
	case len(t.errors) > 0:
		return crawler.SessionPartial
	default:
		return crawler.SessionSuccess
	}
}

func isRelevant(codes []string, analysis crawler.Analysis) bool {
	return len(codes) > 0 || len(analysis.RecommendedStocks) > 0
}

func analysisText(title, body string) string {
	if title == "" {
		return body
	}
	return title + "\n\n" + body
}
