package store

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/ptt-stock-crawler/internal/crawler"
)

var (
	// ErrNotFound signals that the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate signals that a post with the same external id or URL is
	// already stored.
	ErrDuplicate = errors.New("duplicate post")
)

// DedupQuery matches a post by external id, by URL, or by a publish time
// within Tolerance of PublishedAt for the same author. Any arm matching is
// enough.
type DedupQuery struct {
	ExternalID  string
	URL         string
	Author      string
	PublishedAt time.Time
	Tolerance   time.Duration
}

// HasTimeWindow reports whether the publish-time arm is active.
func (q DedupQuery) HasTimeWindow() bool {
	return !q.PublishedAt.IsZero() && q.Tolerance > 0 && q.Author != ""
}

// PostFilter narrows post listings. Results are newest-first by publish time.
type PostFilter struct {
	Author      string
	OnlyPending bool
	Limit       int
	Offset      int
}

// PostRepository persists posts. InsertPost runs in its own transaction so a
// failed post never rolls back earlier ones.
type PostRepository interface {
	// FindPost returns the first post matching q or ErrNotFound.
	FindPost(ctx context.Context, q DedupQuery) (crawler.Post, error)
	// InsertPost stores a new post or returns ErrDuplicate.
	InsertPost(ctx context.Context, post crawler.Post) error
	// UpdateAnalysis attaches an analysis to a stored post in one write.
	UpdateAnalysis(ctx context.Context, id string, analysis crawler.Analysis, relevant bool, at time.Time) error
	// GetPost loads a post by row id or ErrNotFound.
	GetPost(ctx context.Context, id string) (crawler.Post, error)
	// ListPosts pages through posts newest-first.
	ListPosts(ctx context.Context, filter PostFilter) ([]crawler.Post, error)
	// CountPosts returns the number of stored posts.
	CountPosts(ctx context.Context) (int, error)
	// CountPostsByAuthor returns the number of stored posts by author.
	CountPostsByAuthor(ctx context.Context, author string) (int, error)
}

// SessionRepository persists crawl session audit records. Records are
// written once and never updated.
type SessionRepository interface {
	InsertCrawlSession(ctx context.Context, session crawler.CrawlSession) error
	ListCrawlSessions(ctx context.Context, limit, offset int) ([]crawler.CrawlSession, error)
}

// ProfileRepository persists derived per-author aggregates.
type ProfileRepository interface {
	UpsertAuthorProfile(ctx context.Context, profile crawler.AuthorProfile) error
	GetAuthorProfile(ctx context.Context, username string) (crawler.AuthorProfile, error)
}
