package analysis

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ptt-stock-crawler/internal/crawler"
	"github.com/JakeFAU/ptt-stock-crawler/internal/metrics"
)

// Generator produces a tagged analysis attempt from post text.
type Generator interface {
	Attempt(ctx context.Context, content string) Attempt
}

// Deadlines bound a generation call. Hybrid is used while crawling;
// Exploratory for deliberate re-analysis.
type Deadlines struct {
	Hybrid      time.Duration
	Exploratory time.Duration
}

// Pipeline tries the generation service under a deadline and falls back to
// keyword rules. Every path returns the same shape.
type Pipeline struct {
	gen       Generator
	breaker   *Breaker
	deadlines Deadlines
	logger    *zap.Logger
}

// NewPipeline wires the pipeline. A nil gen disables the generation step and
// a nil breaker never trips.
func NewPipeline(gen Generator, breaker *Breaker, deadlines Deadlines, logger *zap.Logger) *Pipeline {
	if deadlines.Hybrid <= 0 {
		deadlines.Hybrid = 5 * time.Second
	}
	if deadlines.Exploratory <= 0 {
		deadlines.Exploratory = 3 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		gen:       gen,
		breaker:   breaker,
		deadlines: deadlines,
		logger:    logger.Named("analysis"),
	}
}

// Analyze runs the hybrid path. It implements crawler.Analyzer.
func (p *Pipeline) Analyze(ctx context.Context, body string) crawler.Analysis {
	return p.run(ctx, body, p.deadlines.Hybrid)
}

// AnalyzeExploratory runs the long-deadline path.
func (p *Pipeline) AnalyzeExploratory(ctx context.Context, body string) crawler.Analysis {
	return p.run(ctx, body, p.deadlines.Exploratory)
}

func (p *Pipeline) run(ctx context.Context, body string, deadline time.Duration) crawler.Analysis {
	if p.gen == nil {
		return p.fallback(body, "disabled")
	}
	if p.breaker != nil {
		if err := p.breaker.Allow(); err != nil {
			return p.fallback(body, "circuit_open")
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, deadline)
	start := time.Now()
	attempt := p.gen.Attempt(callCtx, body)
	cancel()
	metrics.ObserveLLMDuration(time.Since(start))

	if p.breaker != nil {
		switch {
		case ctx.Err() != nil:
			// the caller gave up; says nothing about the service
			p.breaker.Release()
		default:
			p.breaker.Record(attempt.Outcome != OutcomeUnreachable)
		}
	}

	if attempt.Outcome == OutcomeSuccess {
		metrics.ObserveAnalysis(string(crawler.SourceLLM), attempt.Outcome.String())
		return attempt.Analysis
	}
	p.logger.Warn("generation failed, using rules",
		zap.Stringer("outcome", attempt.Outcome),
		zap.Duration("deadline", deadline),
		zap.Error(attempt.Err))
	return p.fallback(body, attempt.Outcome.String())
}

func (p *Pipeline) fallback(body, reason string) crawler.Analysis {
	metrics.ObserveAnalysis(string(crawler.SourceRules), reason)
	return Rules(body)
}
