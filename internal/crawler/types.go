// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"time"
)

// Sentiment is the overall market tone of a post.
type Sentiment string

// Sentiment values accepted by the analysis schema.
const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// Valid reports whether s is one of the schema values.
func (s Sentiment) Valid() bool {
	switch s {
	case SentimentPositive, SentimentNegative, SentimentNeutral:
		return true
	default:
		return false
	}
}

// RiskLevel grades how aggressive the discussed positions are.
type RiskLevel string

// Risk levels accepted by the analysis schema.
const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Valid reports whether r is one of the schema values.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	default:
		return false
	}
}

// Strategy values produced by the rule analyzer. The generation service may
// return free text instead.
const (
	StrategyBullish = "bullish"
	StrategyBearish = "bearish"
	StrategyMixed   = "mixed"
	StrategyUnknown = "unknown"
)

// AnalysisSource records which branch of the pipeline produced a result.
type AnalysisSource string

// Analysis sources.
const (
	SourceLLM   AnalysisSource = "llm"
	SourceRules AnalysisSource = "rules"
)

// Analysis is the fixed-shape investment read of one post.
type Analysis struct {
	RecommendedStocks []string       `json:"recommended_stocks"`
	Sentiment         Sentiment      `json:"sentiment"`
	Sectors           []string       `json:"sectors"`
	Strategy          string         `json:"strategy"`
	RiskLevel         RiskLevel      `json:"risk_level"`
	Reason            string         `json:"reason"`
	Source            AnalysisSource `json:"source"`
}

// Engagement carries the push/boo/arrow reaction counts of a post.
type Engagement struct {
	Push  int `json:"push_count"`
	Boo   int `json:"boo_count"`
	Arrow int `json:"arrow_count"`
}

// Instrument is a stock code confirmed by an external lookup service.
type Instrument struct {
	Code        string `json:"code"`
	DisplayName string `json:"display_name"`
	Market      Market `json:"market"`
	Confirmed   bool   `json:"confirmed"`
}

// Market distinguishes the lookup service that confirmed an instrument.
type Market string

// Markets.
const (
	MarketDomestic Market = "TW"
	MarketForeign  Market = "US"
)

// RawPost is a post as discovered on the board before dedup and analysis.
type RawPost struct {
	ExternalID    string       `json:"external_id"`
	URL           string       `json:"url"`
	Board         string       `json:"board"`
	Title         string       `json:"title"`
	AuthorClaimed string       `json:"author"`
	Body          string       `json:"body"`
	PublishedAt   time.Time    `json:"published_at"`
	Engagement    Engagement   `json:"engagement"`
	Instruments   []Instrument `json:"instruments"`
}

// Codes returns the confirmed instrument codes in discovery order.
func (r RawPost) Codes() []string {
	out := make([]string, 0, len(r.Instruments))
	for _, inst := range r.Instruments {
		out = append(out, inst.Code)
	}
	return out
}

// Post is the persisted form of a discovered post.
type Post struct {
	ID          string     `json:"id"`
	ExternalID  string     `json:"external_id"`
	URL         string     `json:"url"`
	Board       string     `json:"board"`
	Title       string     `json:"title"`
	Author      string     `json:"author"`
	Body        string     `json:"body"`
	PublishedAt time.Time  `json:"published_at"`
	CrawledAt   time.Time  `json:"crawled_at"`
	Engagement  Engagement `json:"engagement"`
	Instruments []string   `json:"instruments"`
	Analysis    Analysis   `json:"analysis"`
	AnalyzedAt  *time.Time `json:"analyzed_at,omitempty"`
	IsAnalyzed  bool       `json:"is_analyzed"`
	IsProcessed bool       `json:"is_processed"`
	IsRelevant  bool       `json:"is_relevant"`
}

// SessionStatus is the terminal state of a crawl session.
type SessionStatus string

// Session statuses.
const (
	SessionSuccess SessionStatus = "success"
	SessionPartial SessionStatus = "partial"
	SessionError   SessionStatus = "error"
)

// CrawlSession is the audit record written once per orchestrator run.
type CrawlSession struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"started_at"`
	Authors   []string      `json:"authors"`
	Found     int           `json:"found"`
	Saved     int           `json:"saved"`
	Analyzed  int           `json:"analyzed"`
	Skipped   int           `json:"skipped"`
	Errors    []string      `json:"errors"`
	Duration  time.Duration `json:"duration"`
	Status    SessionStatus `json:"status"`
}

// AuthorProfile aggregates activity of one tracked author.
type AuthorProfile struct {
	Username         string    `json:"username"`
	TotalPosts       int       `json:"total_posts"`
	LastActivity     time.Time `json:"last_activity"`
	PreferredStocks  []string  `json:"preferred_stocks"`
	PreferredSectors []string  `json:"preferred_sectors"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// FetchResponse is a single page returned by the board session.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Attempts   int
}
