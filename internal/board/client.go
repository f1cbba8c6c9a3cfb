package board

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ptt-stock-crawler/internal/clock/system"
	"github.com/JakeFAU/ptt-stock-crawler/internal/crawler"
	"github.com/JakeFAU/ptt-stock-crawler/internal/metrics"
	"github.com/JakeFAU/ptt-stock-crawler/internal/stocks"
)

// SessionSource hands out a fresh board session per crawl.
type SessionSource interface {
	Acquire(ctx context.Context) (crawler.PageFetcher, error)
}

// Config identifies the board and how its timestamps are read.
type Config struct {
	BaseURL  string
	Board    string
	Location *time.Location
}

// Client discovers posts by author. It persists nothing.
type Client struct {
	cfg       Config
	base      *url.URL
	sessions  SessionSource
	validator crawler.InstrumentValidator
	clock     crawler.Clock
	logger    *zap.Logger
}

// NewClient validates the base URL and wires collaborators. validator may be
// nil, in which case posts carry no instruments.
func NewClient(
	cfg Config,
	sessions SessionSource,
	validator crawler.InstrumentValidator,
	clock crawler.Clock,
	logger *zap.Logger,
) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid board base url %q", cfg.BaseURL)
	}
	if cfg.Board == "" {
		return nil, errors.New("board name is required")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:       cfg,
		base:      base,
		sessions:  sessions,
		validator: validator,
		clock:     clock,
		logger:    logger.Named("board").With(zap.String("board", cfg.Board)),
	}, nil
}

// SearchURL is the author-scoped search listing.
func (c *Client) SearchURL(author string) string {
	q := url.Values{"q": {"author:" + author}}
	return fmt.Sprintf("%s/bbs/%s/search?%s", c.base.String(), url.PathEscape(c.cfg.Board), q.Encode())
}

// FetchPostsForAuthor returns up to maxCount posts by author published within
// maxAge, newest first. Results are visited in listing order and discovery
// stops at the first post older than the window. A post is kept only when
// the author on its own page equals author exactly. The returned error is
// non-nil only when the session or the search itself fails.
func (c *Client) FetchPostsForAuthor(
	ctx context.Context,
	author string,
	maxAge time.Duration,
	maxCount int,
) ([]crawler.RawPost, error) {
	log := c.logger.With(zap.String("author", author))
	session, err := c.sessions.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("open board session: %w", err)
	}
	defer session.Close()

	search, ok := session.Get(ctx, c.SearchURL(author))
	if !ok {
		return nil, fmt.Errorf("search author %s: listing unavailable", author)
	}
	results, err := ParseSearchResults(search.Body, c.base)
	if err != nil {
		return nil, fmt.Errorf("search author %s: %w", author, err)
	}
	log.Info("search results parsed", zap.Int("results", len(results)))

	cutoff := c.clock.Now().Add(-maxAge)
	posts := make([]crawler.RawPost, 0)
	seen := make(map[string]struct{}, len(results))
	for _, result := range results {
		if maxCount > 0 && len(posts) >= maxCount {
			break
		}
		if ctx.Err() != nil {
			log.Warn("discovery interrupted", zap.Error(ctx.Err()))
			break
		}
		if _, dup := seen[result.URL]; dup {
			continue
		}
		seen[result.URL] = struct{}{}

		post, ok := c.fetchArticle(ctx, session, result, log)
		if !ok {
			continue
		}
		if post.AuthorClaimed != author {
			metrics.ObservePost("author_mismatch")
			log.Info("discarding search false positive",
				zap.String("url", result.URL), zap.String("page_author", post.AuthorClaimed))
			continue
		}
		if post.PublishedAt.Before(cutoff) {
			metrics.ObservePost("too_old")
			log.Info("reached time window boundary",
				zap.String("url", result.URL), zap.Time("published_at", post.PublishedAt))
			break
		}
		post.Instruments = c.instruments(ctx, post.Title+"\n"+post.Body)
		posts = append(posts, post)
	}
	log.Info("author crawl finished", zap.Int("posts", len(posts)))
	return posts, nil
}

func (c *Client) fetchArticle(
	ctx context.Context,
	session crawler.PageFetcher,
	result SearchResult,
	log *zap.Logger,
) (crawler.RawPost, bool) {
	page, ok := session.Get(ctx, result.URL)
	if !ok {
		metrics.ObservePost("unavailable")
		log.Warn("article unavailable", zap.String("url", result.URL))
		return crawler.RawPost{}, false
	}
	article, err := ParseArticle(page.Body)
	if err != nil {
		metrics.ObservePost("unparsable")
		log.Warn("article unparsable", zap.String("url", result.URL), zap.Error(err))
		return crawler.RawPost{}, false
	}
	published, ok := ParseTimestamp(article.MetaValues, c.cfg.Location)
	if !ok {
		published = c.clock.Now()
		log.Warn("publish time unparsable, using now", zap.String("url", result.URL))
	}
	engagement := article.Engagement
	if result.Push != 0 {
		engagement.Push = result.Push
	}
	return crawler.RawPost{
		ExternalID:    ExternalID(result.URL),
		URL:           result.URL,
		Board:         c.cfg.Board,
		Title:         result.Title,
		AuthorClaimed: article.Author,
		Body:          article.Body,
		PublishedAt:   published,
		Engagement:    engagement,
		Instruments:   []crawler.Instrument{},
	}, true
}

func (c *Client) instruments(ctx context.Context, text string) []crawler.Instrument {
	if c.validator == nil {
		return []crawler.Instrument{}
	}
	domestic, foreign := stocks.Candidates(text)
	if len(domestic) == 0 && len(foreign) == 0 {
		return []crawler.Instrument{}
	}
	found := c.validator.Validate(ctx, domestic, foreign)
	if found == nil {
		return []crawler.Instrument{}
	}
	return found
}
