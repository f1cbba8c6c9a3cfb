package stocks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/JakeFAU/ptt-stock-crawler/internal/crawler"
)

// Lookup confirms one candidate code. A false return with a nil error means
// the service answered and the code is not a listed instrument.
type Lookup interface {
	Market() crawler.Market
	Lookup(ctx context.Context, code string) (crawler.Instrument, bool, error)
}

// waiter paces outbound calls per host.
type waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

type noWait struct{}

func (noWait) Wait(context.Context, string) error { return nil }

// FinMind looks up domestic listings via the FinMind taiwan_stock_info dataset.
type FinMind struct {
	baseURL string
	token   string
	client  *http.Client
	limiter waiter
}

// NewFinMind builds a FinMind lookup. limiter may be nil.
func NewFinMind(baseURL, token string, client *http.Client, limiter waiter) *FinMind {
	if client == nil {
		client = http.DefaultClient
	}
	if limiter == nil {
		limiter = noWait{}
	}
	return &FinMind{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
		limiter: limiter,
	}
}

// Market implements Lookup.
func (f *FinMind) Market() crawler.Market { return crawler.MarketDomestic }

type finMindResponse struct {
	Status int    `json:"status"`
	Msg    string `json:"msg"`
	Data   []struct {
		StockID   string `json:"stock_id"`
		StockName string `json:"stock_name"`
	} `json:"data"`
}

// Lookup implements Lookup.
func (f *FinMind) Lookup(ctx context.Context, code string) (crawler.Instrument, bool, error) {
	q := url.Values{}
	q.Set("stock_id", code)
	if f.token != "" {
		q.Set("token", f.token)
	}
	endpoint := f.baseURL + "/taiwan_stock_info?" + q.Encode()

	var body finMindResponse
	if err := getJSON(ctx, f.client, f.limiter, endpoint, &body); err != nil {
		return crawler.Instrument{}, false, fmt.Errorf("finmind lookup %s: %w", code, err)
	}
	if body.Status != http.StatusOK {
		return crawler.Instrument{}, false, fmt.Errorf("finmind lookup %s: status %d: %s", code, body.Status, body.Msg)
	}
	for _, row := range body.Data {
		if row.StockID == code {
			return crawler.Instrument{
				Code:        code,
				DisplayName: row.StockName,
				Market:      crawler.MarketDomestic,
				Confirmed:   true,
			}, true, nil
		}
	}
	return crawler.Instrument{}, false, nil
}

// AlphaVantage looks up foreign symbols via the SYMBOL_SEARCH function.
type AlphaVantage struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter waiter
}

// NewAlphaVantage builds an Alpha Vantage lookup. limiter may be nil.
func NewAlphaVantage(baseURL, apiKey string, client *http.Client, limiter waiter) *AlphaVantage {
	if client == nil {
		client = http.DefaultClient
	}
	if limiter == nil {
		limiter = noWait{}
	}
	return &AlphaVantage{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
		limiter: limiter,
	}
}

// Market implements Lookup.
func (a *AlphaVantage) Market() crawler.Market { return crawler.MarketForeign }

type symbolSearchResponse struct {
	BestMatches []map[string]string `json:"bestMatches"`

	// Throttled responses come back as 200 with one of these set.
	Note        string `json:"Note"`
	Information string `json:"Information"`
}

// Lookup implements Lookup. Only the best match counts, and only when its
// symbol equals the code.
func (a *AlphaVantage) Lookup(ctx context.Context, code string) (crawler.Instrument, bool, error) {
	q := url.Values{}
	q.Set("function", "SYMBOL_SEARCH")
	q.Set("keywords", code)
	q.Set("apikey", a.apiKey)
	endpoint := a.baseURL + "/query?" + q.Encode()

	var body symbolSearchResponse
	if err := getJSON(ctx, a.client, a.limiter, endpoint, &body); err != nil {
		return crawler.Instrument{}, false, fmt.Errorf("alpha vantage lookup %s: %w", code, err)
	}
	if body.Note != "" || body.Information != "" {
		return crawler.Instrument{}, false, fmt.Errorf("alpha vantage lookup %s: throttled", code)
	}
	if len(body.BestMatches) == 0 {
		return crawler.Instrument{}, false, nil
	}
	best := body.BestMatches[0]
	if !strings.EqualFold(best["1. symbol"], code) {
		return crawler.Instrument{}, false, nil
	}
	return crawler.Instrument{
		Code:        code,
		DisplayName: best["2. name"],
		Market:      crawler.MarketForeign,
		Confirmed:   true,
	}, true, nil
}

func getJSON(ctx context.Context, client *http.Client, limiter waiter, endpoint string, out any) error {
	if err := limiter.Wait(ctx, endpoint); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
