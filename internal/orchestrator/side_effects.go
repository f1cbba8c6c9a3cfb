package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ptt-stock-crawler/internal/crawler"
	"github.com/JakeFAU/ptt-stock-crawler/internal/store"
)

const (
	maxPreferredStocks  = 5
	maxPreferredSectors = 3
	profileScanLimit    = 1000
)

func (o *Orchestrator) archivePath(post crawler.Post) string {
	name := post.ExternalID + ".json"
	prefix := strings.Trim(o.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return path.Join(post.Board, name)
	}
	return path.Join(prefix, post.Board, name)
}

func (o *Orchestrator) archive(ctx context.Context, post crawler.Post) error {
	if o.deps.Blobs == nil {
		return nil
	}
	data, err := json.Marshal(post)
	if err != nil {
		return fmt.Errorf("marshal post: %w", err)
	}
	if _, err := o.deps.Blobs.PutObject(ctx, o.archivePath(post), "application/json", data); err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, post crawler.Post) error {
	if o.cfg.Event == "" || o.deps.Publisher == nil {
		return nil
	}
	payload := map[string]any{
		"id":           post.ID,
		"external_id":  post.ExternalID,
		"url":          post.URL,
		"author":       post.Author,
		"published_at": post.PublishedAt.Format(time.RFC3339),
		"instruments":  post.Instruments,
		"sentiment":    post.Analysis.Sentiment,
		"is_relevant":  post.IsRelevant,
	}
	if _, err := o.deps.Publisher.Publish(ctx, o.cfg.Event, payload); err != nil {
		return fmt.Errorf("publish payload: %w", err)
	}
	return nil
}

// refreshProfiles recomputes the aggregate of each author from stored posts.
// Failures are logged only.
func (o *Orchestrator) refreshProfiles(ctx context.Context, authors []string, logger *zap.Logger) {
	if o.deps.Profiles == nil {
		return
	}
	now := o.deps.Clock.Now()
	for _, author := range authors {
		posts, err := o.deps.Posts.ListPosts(ctx, store.PostFilter{Author: author, Limit: profileScanLimit})
		if err != nil {
			logger.Warn("load author posts failed", zap.String("author", author), zap.Error(err))
			continue
		}
		if len(posts) == 0 {
			continue
		}
		profile := BuildProfile(author, posts, now)
		total, err := o.deps.Posts.CountPostsByAuthor(ctx, author)
		if err != nil {
			logger.Warn("count author posts failed", zap.String("author", author), zap.Error(err))
			continue
		}
		profile.TotalPosts = total
		if err := o.deps.Profiles.UpsertAuthorProfile(ctx, profile); err != nil {
			logger.Warn("upsert author profile failed", zap.String("author", author), zap.Error(err))
		}
	}
}

// BuildProfile aggregates posts into an AuthorProfile. Preferred stocks and
// sectors are ranked by mentions weighted 1/(1+age in days), ties broken by
// name. TotalPosts counts only the posts given.
func BuildProfile(author string, posts []crawler.Post, now time.Time) crawler.AuthorProfile {
	profile := crawler.AuthorProfile{
		Username:   author,
		TotalPosts: len(posts),
		UpdatedAt:  now,
	}
	stocks := make(map[string]float64)
	sectors := make(map[string]float64)
	for _, post := range posts {
		if post.PublishedAt.After(profile.LastActivity) {
			profile.LastActivity = post.PublishedAt
		}
		days := math.Max(now.Sub(post.PublishedAt).Hours()/24, 0)
		weight := 1 / (1 + days)
		for _, code := range post.Instruments {
			stocks[code] += weight
		}
		for _, sector := range post.Analysis.Sectors {
			sectors[sector] += weight
		}
	}
	profile.PreferredStocks = topWeighted(stocks, maxPreferredStocks)
	profile.PreferredSectors = topWeighted(sectors, maxPreferredSectors)
	return profile
}

func topWeighted(weights map[string]float64, limit int) []string {
	out := make([]string, 0, len(weights))
	for key := range weights {
		out = append(out, key)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if weights[a] != weights[b] {
			return weights[a] > weights[b]
		}
		return a < b
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
