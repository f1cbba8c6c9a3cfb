package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/ptt-stock-crawler/internal/analysis"
	"github.com/JakeFAU/ptt-stock-crawler/internal/board"
	"github.com/JakeFAU/ptt-stock-crawler/internal/clock/system"
	"github.com/JakeFAU/ptt-stock-crawler/internal/config"
	"github.com/JakeFAU/ptt-stock-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/ptt-stock-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/ptt-stock-crawler/internal/id/uuid"
	"github.com/JakeFAU/ptt-stock-crawler/internal/orchestrator"
	"github.com/JakeFAU/ptt-stock-crawler/internal/policy/ratelimit"
	pubsubpublisher "github.com/JakeFAU/ptt-stock-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/ptt-stock-crawler/internal/stocks"
	"github.com/JakeFAU/ptt-stock-crawler/internal/storage/gcs"
	"github.com/JakeFAU/ptt-stock-crawler/internal/storage/local"
	"github.com/JakeFAU/ptt-stock-crawler/internal/storage/memory"
	"github.com/JakeFAU/ptt-stock-crawler/internal/storage/postgres"
	"github.com/JakeFAU/ptt-stock-crawler/internal/store"
)

const postSavedEvent = "post.saved"

// repositories is satisfied by both the memory and the Postgres store.
type repositories interface {
	store.PostRepository
	store.SessionRepository
	store.ProfileRepository
}

// service holds the long-lived collaborators and their cleanup hooks.
type service struct {
	orch     *orchestrator.Orchestrator
	sessions store.SessionRepository
	ready    *postgres.Store
	closers  []func()
}

// Close releases resources in reverse order of acquisition.
func (s *service) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*service, error) {
	svc := &service{}
	clock := system.New()

	repos, err := buildRepositories(ctx, cfg, svc, logger)
	if err != nil {
		svc.Close()
		return nil, err
	}
	svc.sessions = repos

	validator, err := buildValidator(ctx, cfg, svc, logger)
	if err != nil {
		svc.Close()
		return nil, err
	}

	minDelay, maxDelay := cfg.DelayRange()
	backoffBase, backoffMax := cfg.Backoff()
	fetcher := collyfetcher.New(collyfetcher.Config{
		BaseURL:    cfg.Board.BaseURL,
		Board:      cfg.Board.Name,
		UserAgents: cfg.HTTP.UserAgents,
		Timeout:    cfg.RequestTimeout(),
		MinDelay:   minDelay,
		MaxDelay:   maxDelay,
		ProxyURL:   cfg.HTTP.ProxyURL,
	},
		crawler.NewExponentialRetryPolicy(cfg.HTTP.MaxAttempts, backoffBase, backoffMax),
		ratelimit.New(ratelimit.Config{RPS: cfg.HTTP.RequestsPerSecond}),
		logger.Named("fetcher"),
	)
	source, err := board.NewClient(board.Config{
		BaseURL:  cfg.Board.BaseURL,
		Board:    cfg.Board.Name,
		Location: cfg.Location(),
	}, fetcher, validator, clock, logger)
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("board client: %w", err)
	}

	pipeline := buildPipeline(cfg, logger)

	deps := orchestrator.Deps{
		Source:      source,
		Analyzer:    pipeline,
		Exploratory: pipeline,
		Posts:       repos,
		Sessions:    repos,
		Profiles:    repos,
		Clock:       clock,
		IDs:         uuid.New(),
	}
	if deps.Blobs, err = buildArchive(ctx, cfg, svc); err != nil {
		svc.Close()
		return nil, err
	}
	event := ""
	if cfg.PubSub.TopicName != "" {
		pub, err := buildPublisher(ctx, cfg, svc)
		if err != nil {
			svc.Close()
			return nil, err
		}
		deps.Publisher = pub
		event = postSavedEvent
	}

	svc.orch, err = orchestrator.New(deps, orchestrator.Config{
		Authors:        cfg.Board.Authors,
		MaxAge:         time.Duration(cfg.Board.SearchDays) * 24 * time.Hour,
		MaxPosts:       cfg.Board.MaxPostsPerCrawl,
		DedupTolerance: cfg.DedupTolerance(),
		ArchivePrefix:  cfg.Storage.Prefix,
		Event:          event,
	}, logger)
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	return svc, nil
}

func buildRepositories(ctx context.Context, cfg config.Config, svc *service, logger *zap.Logger) (repositories, error) {
	if cfg.Storage.Backend != "postgres" {
		logger.Info("using in-memory post store")
		return memory.NewStore(), nil
	}
	pg, err := postgres.New(ctx, postgres.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: int32(cfg.DB.MaxConns), // #nosec G115 -- validated small config value.
	})
	if err != nil {
		return nil, err
	}
	svc.closers = append(svc.closers, pg.Close)
	if cfg.DB.EnsureSchema {
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, err
		}
	}
	svc.ready = pg
	logger.Info("using postgres post store")
	return pg, nil
}

func buildValidator(ctx context.Context, cfg config.Config, svc *service, logger *zap.Logger) (*stocks.Validator, error) {
	client := &http.Client{Timeout: cfg.LookupTimeout()}
	limiter := ratelimit.New(ratelimit.Config{RPS: cfg.Lookup.RequestsPerSecond})

	var domestic, foreign stocks.Lookup
	domestic = stocks.NewFinMind(cfg.Lookup.FinMindURL, cfg.Lookup.FinMindToken, client, limiter)
	if cfg.Lookup.AlphaVantageKey != "" {
		foreign = stocks.NewAlphaVantage(cfg.Lookup.AlphaVantageURL, cfg.Lookup.AlphaVantageKey, client, limiter)
	} else {
		logger.Warn("alpha vantage key not set, foreign tickers will not be confirmed")
	}

	var cache stocks.Cache = stocks.NewMemoryCache()
	if cfg.Lookup.ValkeyAddr != "" {
		vk, err := stocks.DialValkey(ctx, cfg.Lookup.ValkeyAddr, cfg.Lookup.ValkeyPassword)
		if err != nil {
			return nil, err
		}
		svc.closers = append(svc.closers, vk.Close)
		cache = stocks.NewValkeyCache(vk, "")
	}

	return stocks.NewValidator(domestic, foreign, cache, stocks.ValidatorConfig{
		Timeout:     cfg.LookupTimeout(),
		Concurrency: cfg.Lookup.Concurrency,
		CacheTTL:    time.Duration(cfg.Lookup.CacheTTLMinutes) * time.Minute,
	}, logger.Named("stocks")), nil
}

func buildPipeline(cfg config.Config, logger *zap.Logger) *analysis.Pipeline {
	hybrid, exploratory := cfg.LLMDeadlines()
	deadlines := analysis.Deadlines{Hybrid: hybrid, Exploratory: exploratory}
	if !cfg.LLM.Enabled {
		return analysis.NewPipeline(nil, nil, deadlines, logger)
	}
	gen := analysis.NewOllamaClient(analysis.OllamaConfig{
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		PromptChars: cfg.LLM.PromptChars,
		Options: analysis.ModelOptions{
			Temperature: cfg.LLM.Temperature,
			NumCtx:      cfg.LLM.NumCtx,
			NumPredict:  cfg.LLM.NumPredict,
		},
	}, nil)
	breaker := analysis.NewBreaker(analysis.BreakerOpts{
		FailThreshold: cfg.LLM.BreakerFailures,
		Cooldown:      time.Duration(cfg.LLM.BreakerCooldownSeconds) * time.Second,
	})
	return analysis.NewPipeline(gen, breaker, deadlines, logger)
}

func buildArchive(ctx context.Context, cfg config.Config, svc *service) (crawler.BlobStore, error) {
	switch cfg.Storage.Archive {
	case "local":
		bs, err := local.New(local.Config{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local archive: %w", err)
		}
		return bs, nil
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		svc.closers = append(svc.closers, func() { _ = client.Close() })
		bs, err := gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs archive: %w", err)
		}
		return bs, nil
	default:
		return nil, nil
	}
}

func buildPublisher(ctx context.Context, cfg config.Config, svc *service) (crawler.Publisher, error) {
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	svc.closers = append(svc.closers, func() { _ = client.Close() })
	pub := pubsubpublisher.New(client.Topic(cfg.PubSub.TopicName))
	svc.closers = append(svc.closers, pub.Stop)
	return pub, nil
}
