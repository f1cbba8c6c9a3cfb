package stocks

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/ptt-stock-crawler/internal/crawler"
	"github.com/JakeFAU/ptt-stock-crawler/internal/metrics"
)

// ValidatorConfig tunes lookup fan-out.
type ValidatorConfig struct {
	// Timeout bounds each single lookup.
	Timeout time.Duration
	// Concurrency caps in-flight lookups across both markets.
	Concurrency int
	// CacheTTL is how long definitive answers are reused.
	CacheTTL time.Duration
}

// Validator confirms candidate codes. It implements crawler.InstrumentValidator.
type Validator struct {
	domestic Lookup
	foreign  Lookup
	cache    Cache
	cfg      ValidatorConfig
	logger   *zap.Logger
}

// NewValidator wires lookups and an optional cache. A nil lookup disables
// validation for that market; its candidates are never confirmed.
func NewValidator(domestic, foreign Lookup, cache Cache, cfg ValidatorConfig, logger *zap.Logger) *Validator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		domestic: domestic,
		foreign:  foreign,
		cache:    cache,
		cfg:      cfg,
		logger:   logger,
	}
}

// ValidateText extracts candidates from text and confirms them.
func (v *Validator) ValidateText(ctx context.Context, text string) []crawler.Instrument {
	domestic, foreign := Candidates(text)
	return v.Validate(ctx, domestic, foreign)
}

type job struct {
	lookup Lookup
	code   string
}

// Validate confirms each candidate against its market's lookup concurrently.
// Per-candidate failures are logged and omitted. The result keeps candidate
// order (domestic first) with duplicate codes merged.
func (v *Validator) Validate(ctx context.Context, domestic, foreign []string) []crawler.Instrument {
	jobs := make([]job, 0, len(domestic)+len(foreign))
	for _, code := range domestic {
		if v.domestic != nil {
			jobs = append(jobs, job{lookup: v.domestic, code: code})
		}
	}
	for _, code := range foreign {
		if v.foreign != nil {
			jobs = append(jobs, job{lookup: v.foreign, code: code})
		}
	}
	if len(jobs) == 0 {
		return []crawler.Instrument{}
	}

	results := make([]*crawler.Instrument, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.cfg.Concurrency)
	for i, j := range jobs {
		g.Go(func() error {
			if inst, ok := v.confirm(gctx, j); ok {
				results[i] = &inst
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]crawler.Instrument, 0, len(results))
	seen := make(map[string]struct{}, len(results))
	for _, inst := range results {
		if inst == nil {
			continue
		}
		if _, dup := seen[inst.Code]; dup {
			continue
		}
		seen[inst.Code] = struct{}{}
		out = append(out, *inst)
	}
	return out
}

func (v *Validator) confirm(ctx context.Context, j job) (crawler.Instrument, bool) {
	market := j.lookup.Market()
	key := cacheKey(market, j.code)
	log := v.logger.With(zap.String("code", j.code), zap.String("market", string(market)))

	if v.cache != nil {
		entry, hit, err := v.cache.Get(ctx, key)
		if err != nil {
			log.Warn("lookup cache read failed", zap.Error(err))
		} else if hit {
			metrics.ObserveLookup(string(market), "cached")
			return entry.Instrument, entry.Confirmed
		}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()
	inst, ok, err := j.lookup.Lookup(lookupCtx, j.code)
	if err != nil {
		metrics.ObserveLookup(string(market), "error")
		log.Warn("instrument lookup failed", zap.Error(err))
		return crawler.Instrument{}, false
	}
	if ok {
		metrics.ObserveLookup(string(market), "confirmed")
	} else {
		metrics.ObserveLookup(string(market), "unconfirmed")
	}

	if v.cache != nil {
		if err := v.cache.Set(ctx, key, Entry{Instrument: inst, Confirmed: ok}, v.cfg.CacheTTL); err != nil {
			log.Warn("lookup cache write failed", zap.Error(err))
		}
	}
	return inst, ok
}
