// Package collyfetcher implements the anti-bot board session using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/ptt-stock-crawler/internal/crawler"
	"github.com/JakeFAU/ptt-stock-crawler/internal/metrics"
)

// Config controls collector behavior.
type Config struct {
	// BaseURL is the site root, e.g. https://www.ptt.cc.
	BaseURL string
	// Board is the board name used for the consent form's return path.
	Board      string
	UserAgents []string
	Timeout    time.Duration
	MinDelay   time.Duration
	MaxDelay   time.Duration
	ProxyURL   string
}

// waiter paces requests per host.
type waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Fetcher opens board sessions. Each session owns its own cookie jar and
// connection pool.
type Fetcher struct {
	cfg     Config
	retry   *crawler.ExponentialRetryPolicy
	pauser  crawler.Pauser
	limiter waiter
	logger  *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. limiter may be nil.
func New(cfg Config, retry *crawler.ExponentialRetryPolicy, limiter waiter, logger *zap.Logger) *Fetcher {
	if retry == nil {
		retry = crawler.NewExponentialRetryPolicy(0, 0, 0)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Fetcher{
		cfg:     cfg,
		retry:   retry,
		pauser:  crawler.TimerPauser{},
		limiter: limiter,
		logger:  logger,
	}
}

// Open acquires a fresh HTTP session and clears the board's age gate. The
// caller must Close the session on every path.
func (f *Fetcher) Open(ctx context.Context) (*Session, error) {
	s, err := f.newSession()
	if err != nil {
		return nil, err
	}
	if err := s.EnsureAccess(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Acquire is Open typed as the crawler.PageFetcher the board client consumes.
func (f *Fetcher) Acquire(ctx context.Context) (crawler.PageFetcher, error) {
	s, err := f.Open(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (f *Fetcher) newSession() (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	transport, err := newHTTPTransport(f.cfg.ProxyURL)
	if err != nil {
		return nil, err
	}
	base := colly.NewCollector(colly.Async(false))
	base.SetCookieJar(jar)
	base.WithTransport(transport)
	base.SetRequestTimeout(f.cfg.Timeout)
	base.AllowURLRevisit = true
	base.ParseHTTPErrorResponse = true
	base.IgnoreRobotsTxt = true

	return &Session{
		fetcher:   f,
		base:      base,
		jar:       jar,
		transport: transport,
		identity:  newIdentityPool(f.cfg.UserAgents),
		logger:    f.logger.Named("board-session"),
	}, nil
}

// Session is one crawl's HTTP identity: a cookie jar, a transport and the
// current user agent.
type Session struct {
	fetcher   *Fetcher
	base      *colly.Collector
	jar       http.CookieJar
	transport *http.Transport
	identity  *identityPool
	logger    *zap.Logger
	closed    bool
}

// Get fetches url, retrying throttled responses with a fresh identity and
// consent. It reports false when the page could not be recovered.
func (s *Session) Get(ctx context.Context, target string) (crawler.FetchResponse, bool) {
	retry := s.fetcher.retry
	log := s.logger.With(zap.String("url", target))
	for attempt := 1; ; attempt++ {
		if err := s.pace(ctx, target); err != nil {
			log.Debug("fetch canceled", zap.Error(err))
			metrics.ObserveBoardFetch(0)
			return crawler.FetchResponse{}, false
		}
		resp, err := s.do(ctx, http.MethodGet, target, nil)
		resp.Attempts = attempt

		var retryable bool
		switch {
		case err != nil:
			retryable = retry.ShouldRetry(err, attempt)
			log.Warn("board fetch failed", zap.Int("attempt", attempt), zap.Error(err))
		case resp.StatusCode == http.StatusOK && !isGated(resp):
			metrics.ObserveBoardFetch(resp.StatusCode)
			return resp, true
		case isGated(resp):
			// consent cookie lost or expired; same remedy as a 403
			retryable = retry.ShouldRetryStatus(http.StatusForbidden, attempt)
			log.Warn("board fetch hit age gate", zap.Int("attempt", attempt))
		default:
			retryable = retry.ShouldRetryStatus(resp.StatusCode, attempt)
			log.Warn("board fetch rejected", zap.Int("attempt", attempt), zap.Int("status", resp.StatusCode))
		}
		if !retryable {
			metrics.ObserveBoardFetch(0)
			log.Warn("board fetch abandoned", zap.Int("attempts", attempt))
			return crawler.FetchResponse{}, false
		}

		metrics.ObserveBoardRetry()
		s.identity.Rotate()
		if err := s.consent(ctx); err != nil {
			log.Warn("consent refresh failed", zap.Error(err))
		}
		if err := s.fetcher.pauser.Pause(ctx, retry.Backoff(attempt)); err != nil {
			metrics.ObserveBoardFetch(0)
			return crawler.FetchResponse{}, false
		}
	}
}

// Close releases the session's pooled connections. It is safe to call twice.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.transport.CloseIdleConnections()
}

// UserAgent returns the identity currently presented to the board.
func (s *Session) UserAgent() string {
	return s.identity.Current()
}

// pace applies the per-host token bucket and the jittered politeness delay
// that precede every outbound request.
func (s *Session) pace(ctx context.Context, target string) error {
	if s.fetcher.limiter != nil {
		if err := s.fetcher.limiter.Wait(ctx, target); err != nil {
			return err
		}
	}
	delay := crawler.JitterDelay(s.fetcher.cfg.MinDelay, s.fetcher.cfg.MaxDelay)
	if err := s.fetcher.pauser.Pause(ctx, delay); err != nil {
		return fmt.Errorf("politeness delay: %w", err)
	}
	return nil
}

func (s *Session) do(
	ctx context.Context,
	method string,
	target string,
	form map[string]string,
) (crawler.FetchResponse, error) {
	var (
		result   crawler.FetchResponse
		fetchErr error
	)
	collector := s.base.Clone()
	collector.UserAgent = s.identity.Current()
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true
	s.configureCollectorHooks(collector, time.Now(), &result, &fetchErr)

	done := make(chan error, 1)
	go func() {
		if method == http.MethodPost {
			done <- collector.Post(target, form)
			return
		}
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return crawler.FetchResponse{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return crawler.FetchResponse{}, fmt.Errorf("colly visit failed: %w", err)
		}
		if fetchErr != nil {
			return crawler.FetchResponse{}, fmt.Errorf("colly response failed: %w", fetchErr)
		}
		if result.StatusCode == 0 {
			return crawler.FetchResponse{}, errors.New("colly returned no response")
		}
		return result, nil
	}
}

func (s *Session) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *crawler.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "zh-TW,zh;q=0.9,en-US;q=0.8,en;q=0.7")
		r.Headers.Set("Cache-Control", "no-cache")
		if s.fetcher.cfg.BaseURL != "" {
			r.Headers.Set("Referer", s.fetcher.cfg.BaseURL+"/")
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = crawler.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func newHTTPTransport(proxyURL string) (*http.Transport, error) {
	proxy := http.ProxyFromEnvironment
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		proxy = http.ProxyURL(u)
	}
	return &http.Transport{
		Proxy: proxy,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
	}, nil
}
