// Package memory provides in-process implementations of the repositories and
// blob store for tests and single-node runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/ptt-stock-crawler/internal/crawler"
	"github.com/JakeFAU/ptt-stock-crawler/internal/store"
)

// Store implements store.PostRepository, store.SessionRepository and
// store.ProfileRepository. Reads return copies.
type Store struct {
	mu       sync.RWMutex
	posts    []crawler.Post
	byID     map[string]int
	sessions []crawler.CrawlSession
	profiles map[string]crawler.AuthorProfile
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		byID:     make(map[string]int),
		profiles: make(map[string]crawler.AuthorProfile),
	}
}

// FindPost returns the earliest stored post matching any arm of q.
func (s *Store) FindPost(_ context.Context, q store.DedupQuery) (crawler.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.posts {
		if matches(p, q) {
			return clonePost(p), nil
		}
	}
	return crawler.Post{}, store.ErrNotFound
}

func matches(p crawler.Post, q store.DedupQuery) bool {
	if q.ExternalID != "" && p.ExternalID == q.ExternalID {
		return true
	}
	if q.URL != "" && p.URL == q.URL {
		return true
	}
	if q.HasTimeWindow() && p.Author == q.Author {
		delta := p.PublishedAt.Sub(q.PublishedAt)
		if delta < 0 {
			delta = -delta
		}
		return delta <= q.Tolerance
	}
	return false
}

// InsertPost stores post unless its id, external id or URL is taken.
func (s *Store) InsertPost(_ context.Context, post crawler.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[post.ID]; exists {
		return store.ErrDuplicate
	}
	for _, p := range s.posts {
		if p.ExternalID == post.ExternalID || p.URL == post.URL {
			return store.ErrDuplicate
		}
	}
	s.byID[post.ID] = len(s.posts)
	s.posts = append(s.posts, clonePost(post))
	return nil
}

// UpdateAnalysis attaches analysis to the post with row id.
func (s *Store) UpdateAnalysis(
	_ context.Context,
	id string,
	analysis crawler.Analysis,
	relevant bool,
	at time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	p := s.posts[idx]
	p.Analysis = cloneAnalysis(analysis)
	p.IsAnalyzed = true
	p.IsProcessed = true
	p.IsRelevant = relevant
	analyzedAt := at
	p.AnalyzedAt = &analyzedAt
	s.posts[idx] = p
	return nil
}

// GetPost loads a post by row id.
func (s *Store) GetPost(_ context.Context, id string) (crawler.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[id]
	if !ok {
		return crawler.Post{}, store.ErrNotFound
	}
	return clonePost(s.posts[idx]), nil
}

// ListPosts returns posts newest-first by publish time.
func (s *Store) ListPosts(_ context.Context, filter store.PostFilter) ([]crawler.Post, error) {
	s.mu.RLock()
	out := make([]crawler.Post, 0, len(s.posts))
	for _, p := range s.posts {
		if filter.Author != "" && p.Author != filter.Author {
			continue
		}
		if filter.OnlyPending && p.IsAnalyzed {
			continue
		}
		out = append(out, clonePost(p))
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PublishedAt.After(out[j].PublishedAt)
	})
	return page(out, filter.Limit, filter.Offset), nil
}

// CountPosts returns the number of stored posts.
func (s *Store) CountPosts(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.posts), nil
}

// CountPostsByAuthor returns the number of stored posts by author.
func (s *Store) CountPostsByAuthor(_ context.Context, author string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.posts {
		if p.Author == author {
			n++
		}
	}
	return n, nil
}

// InsertCrawlSession appends an audit record. A repeated id is rejected.
func (s *Store) InsertCrawlSession(_ context.Context, session crawler.CrawlSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sessions {
		if existing.ID == session.ID {
			return store.ErrDuplicate
		}
	}
	session.Authors = cloneStrings(session.Authors)
	session.Errors = cloneStrings(session.Errors)
	s.sessions = append(s.sessions, session)
	return nil
}

// ListCrawlSessions returns audit records newest-first.
func (s *Store) ListCrawlSessions(_ context.Context, limit, offset int) ([]crawler.CrawlSession, error) {
	s.mu.RLock()
	out := make([]crawler.CrawlSession, 0, len(s.sessions))
	for _, cs := range s.sessions {
		cs.Authors = cloneStrings(cs.Authors)
		cs.Errors = cloneStrings(cs.Errors)
		out = append(out, cs)
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return page(out, limit, offset), nil
}

// UpsertAuthorProfile replaces the profile for profile.Username.
func (s *Store) UpsertAuthorProfile(_ context.Context, profile crawler.AuthorProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile.PreferredStocks = cloneStrings(profile.PreferredStocks)
	profile.PreferredSectors = cloneStrings(profile.PreferredSectors)
	s.profiles[profile.Username] = profile
	return nil
}

// GetAuthorProfile loads a profile by username.
func (s *Store) GetAuthorProfile(_ context.Context, username string) (crawler.AuthorProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profile, ok := s.profiles[username]
	if !ok {
		return crawler.AuthorProfile{}, store.ErrNotFound
	}
	profile.PreferredStocks = cloneStrings(profile.PreferredStocks)
	profile.PreferredSectors = cloneStrings(profile.PreferredSectors)
	return profile, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func clonePost(p crawler.Post) crawler.Post {
	p.Instruments = cloneStrings(p.Instruments)
	p.Analysis = cloneAnalysis(p.Analysis)
	if p.AnalyzedAt != nil {
		at := *p.AnalyzedAt
		p.AnalyzedAt = &at
	}
	return p
}

func cloneAnalysis(a crawler.Analysis) crawler.Analysis {
	a.RecommendedStocks = cloneStrings(a.RecommendedStocks)
	a.Sectors = cloneStrings(a.Sectors)
	return a
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
