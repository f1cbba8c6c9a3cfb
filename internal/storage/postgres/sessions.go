package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/ptt-stock-crawler/internal/crawler"
	"github.com/JakeFAU/ptt-stock-crawler/internal/store"
)

const insertSessionSQL = `INSERT INTO crawl_sessions
	(id, started_at, authors, found, saved, analyzed, skipped, errors, duration_ms, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

const listSessionsSQL = `SELECT id, started_at, authors, found, saved, analyzed, skipped, errors, duration_ms, status
FROM crawl_sessions
ORDER BY started_at DESC
LIMIT $1 OFFSET $2`

// InsertCrawlSession writes one audit record.
func (s *Store) InsertCrawlSession(ctx context.Context, session crawler.CrawlSession) error {
	_, err := s.pool.Exec(ctx, insertSessionSQL,
		session.ID, session.StartedAt, nonNil(session.Authors),
		session.Found, session.Saved, session.Analyzed, session.Skipped,
		nonNil(session.Errors), session.Duration.Milliseconds(), string(session.Status),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return fmt.Errorf("insert crawl session %s: %w", session.ID, err)
	}
	return nil
}

// ListCrawlSessions returns sessions newest-first.
func (s *Store) ListCrawlSessions(ctx context.Context, limit, offset int) ([]crawler.CrawlSession, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, listSessionsSQL, limit, max(offset, 0))
	if err != nil {
		return nil, fmt.Errorf("list crawl sessions: %w", err)
	}
	defer rows.Close()

	var out []crawler.CrawlSession
	for rows.Next() {
		var (
			cs         crawler.CrawlSession
			durationMS int64
			status     string
		)
		if err := rows.Scan(&cs.ID, &cs.StartedAt, &cs.Authors, &cs.Found, &cs.Saved, &cs.Analyzed,
			&cs.Skipped, &cs.Errors, &durationMS, &status); err != nil {
			return nil, fmt.Errorf("scan crawl session: %w", err)
		}
		cs.Duration = time.Duration(durationMS) * time.Millisecond
		cs.Status = crawler.SessionStatus(status)
		out = append(out, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate crawl sessions: %w", err)
	}
	return out, nil
}
