package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/ptt-stock-crawler/internal/crawler"
	"github.com/JakeFAU/ptt-stock-crawler/internal/store"
)

const postColumns = `id, external_id, url, board, title, author, body, published_at, crawled_at,
	push_count, boo_count, arrow_count, instruments,
	recommended_stocks, sentiment, sectors, strategy, risk_level, reason, analysis_source,
	analyzed_at, is_analyzed, is_processed, is_relevant`

const findPostSQL = `SELECT ` + postColumns + ` FROM posts
WHERE ($1 <> '' AND external_id = $1)
   OR ($2 <> '' AND url = $2)
   OR ($3::boolean AND author = $4 AND published_at BETWEEN $5 AND $6)
ORDER BY crawled_at
LIMIT 1`

const insertPostSQL = `INSERT INTO posts (` + postColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`

const updateAnalysisSQL = `UPDATE posts SET
	recommended_stocks = $2,
	sentiment = $3,
	sectors = $4,
	strategy = $5,
	risk_level = $6,
	reason = $7,
	analysis_source = $8,
	analyzed_at = $9,
	is_relevant = $10,
	is_analyzed = TRUE,
	is_processed = TRUE
WHERE id = $1`

const getPostSQL = `SELECT ` + postColumns + ` FROM posts WHERE id = $1`

const listPostsSQL = `SELECT ` + postColumns + ` FROM posts
WHERE ($1 = '' OR author = $1)
  AND (NOT $2::boolean OR NOT is_analyzed)
ORDER BY published_at DESC
LIMIT $3 OFFSET $4`

const countPostsSQL = `SELECT COUNT(*) FROM posts`

const countAuthorPostsSQL = `SELECT COUNT(*) FROM posts WHERE author = $1`

// FindPost returns the earliest-crawled post matching any arm of q.
func (s *Store) FindPost(ctx context.Context, q store.DedupQuery) (crawler.Post, error) {
	window := q.HasTimeWindow()
	var from, to time.Time
	if window {
		from, to = q.PublishedAt.Add(-q.Tolerance), q.PublishedAt.Add(q.Tolerance)
	}
	post, err := scanPost(s.pool.QueryRow(ctx, findPostSQL, q.ExternalID, q.URL, window, q.Author, from, to))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Post{}, store.ErrNotFound
		}
		return crawler.Post{}, fmt.Errorf("find post: %w", err)
	}
	return post, nil
}

// InsertPost writes one post in its own transaction.
func (s *Store) InsertPost(ctx context.Context, post crawler.Post) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin insert post: %w", err)
	}
	a := post.Analysis
	_, err = tx.Exec(ctx, insertPostSQL,
		post.ID, post.ExternalID, post.URL, post.Board, post.Title, post.Author, post.Body,
		post.PublishedAt, post.CrawledAt,
		post.Engagement.Push, post.Engagement.Boo, post.Engagement.Arrow, nonNil(post.Instruments),
		nonNil(a.RecommendedStocks), string(a.Sentiment), nonNil(a.Sectors), a.Strategy,
		string(a.RiskLevel), a.Reason, string(a.Source),
		post.AnalyzedAt, post.IsAnalyzed, post.IsProcessed, post.IsRelevant,
	)
	if err != nil {
		_ = tx.Rollback(ctx)
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return fmt.Errorf("insert post %s: %w", post.ExternalID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit insert post %s: %w", post.ExternalID, err)
	}
	return nil
}

// UpdateAnalysis attaches analysis and flips the processing flags in one statement.
func (s *Store) UpdateAnalysis(ctx context.Context, id string, analysis crawler.Analysis, relevant bool, at time.Time) error {
	tag, err := s.pool.Exec(ctx, updateAnalysisSQL,
		id, nonNil(analysis.RecommendedStocks), string(analysis.Sentiment), nonNil(analysis.Sectors),
		analysis.Strategy, string(analysis.RiskLevel), analysis.Reason, string(analysis.Source),
		at, relevant,
	)
	if err != nil {
		return fmt.Errorf("update analysis %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetPost loads a post by row id.
func (s *Store) GetPost(ctx context.Context, id string) (crawler.Post, error) {
	post, err := scanPost(s.pool.QueryRow(ctx, getPostSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Post{}, store.ErrNotFound
		}
		return crawler.Post{}, fmt.Errorf("get post %s: %w", id, err)
	}
	return post, nil
}

// ListPosts pages through posts newest-first.
func (s *Store) ListPosts(ctx context.Context, filter store.PostFilter) ([]crawler.Post, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, listPostsSQL, filter.Author, filter.OnlyPending, limit, max(filter.Offset, 0))
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	var out []crawler.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		out = append(out, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return out, nil
}

// CountPosts returns the number of stored posts.
func (s *Store) CountPosts(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, countPostsSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	return n, nil
}

// CountPostsByAuthor returns the number of stored posts by author.
func (s *Store) CountPostsByAuthor(ctx context.Context, author string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, countAuthorPostsSQL, author).Scan(&n); err != nil {
		return 0, fmt.Errorf("count posts by %s: %w", author, err)
	}
	return n, nil
}

func scanPost(row pgx.Row) (crawler.Post, error) {
	var (
		p                       crawler.Post
		sentiment, risk, source string
	)
	err := row.Scan(
		&p.ID, &p.ExternalID, &p.URL, &p.Board, &p.Title, &p.Author, &p.Body, &p.PublishedAt, &p.CrawledAt,
		&p.Engagement.Push, &p.Engagement.Boo, &p.Engagement.Arrow, &p.Instruments,
		&p.Analysis.RecommendedStocks, &sentiment, &p.Analysis.Sectors, &p.Analysis.Strategy, &risk, &p.Analysis.Reason, &source,
		&p.AnalyzedAt, &p.IsAnalyzed, &p.IsProcessed, &p.IsRelevant,
	)
	if err != nil {
		return crawler.Post{}, err
	}
	p.Analysis.Sentiment = crawler.Sentiment(sentiment)
	p.Analysis.RiskLevel = crawler.RiskLevel(risk)
	p.Analysis.Source = crawler.AnalysisSource(source)
	p.Instruments = nonNil(p.Instruments)
	p.Analysis.RecommendedStocks = nonNil(p.Analysis.RecommendedStocks)
	p.Analysis.Sectors = nonNil(p.Analysis.Sectors)
	return p, nil
}
