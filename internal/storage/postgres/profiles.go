package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/ptt-stock-crawler/internal/crawler"
	"github.com/JakeFAU/ptt-stock-crawler/internal/store"
)

const upsertProfileSQL = `INSERT INTO author_profiles
	(username, total_posts, last_activity, preferred_stocks, preferred_sectors, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (username) DO UPDATE SET
	total_posts = EXCLUDED.total_posts,
	last_activity = EXCLUDED.last_activity,
	preferred_stocks = EXCLUDED.preferred_stocks,
	preferred_sectors = EXCLUDED.preferred_sectors,
	updated_at = EXCLUDED.updated_at`

const getProfileSQL = `SELECT username, total_posts, last_activity, preferred_stocks, preferred_sectors, updated_at
FROM author_profiles WHERE username = $1`

// UpsertAuthorProfile replaces the aggregate for profile.Username.
func (s *Store) UpsertAuthorProfile(ctx context.Context, profile crawler.AuthorProfile) error {
	_, err := s.pool.Exec(ctx, upsertProfileSQL,
		profile.Username, profile.TotalPosts, profile.LastActivity,
		nonNil(profile.PreferredStocks), nonNil(profile.PreferredSectors), profile.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert author profile %s: %w", profile.Username, err)
	}
	return nil
}

// GetAuthorProfile loads the aggregate for username.
func (s *Store) GetAuthorProfile(ctx context.Context, username string) (crawler.AuthorProfile, error) {
	var p crawler.AuthorProfile
	err := s.pool.QueryRow(ctx, getProfileSQL, username).
		Scan(&p.Username, &p.TotalPosts, &p.LastActivity, &p.PreferredStocks, &p.PreferredSectors, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.AuthorProfile{}, store.ErrNotFound
		}
		return crawler.AuthorProfile{}, fmt.Errorf("get author profile %s: %w", username, err)
	}
	p.PreferredStocks = nonNil(p.PreferredStocks)
	p.PreferredSectors = nonNil(p.PreferredSectors)
	return p, nil
}
