package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/JakeFAU/ptt-stock-crawler/internal/crawler"
)

// Outcome tags the result of one generation call.
type Outcome int

// Outcomes of a generation call.
const (
	OutcomeSuccess Outcome = iota
	OutcomeMalformed
	OutcomeUnreachable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// Attempt is the tagged result of asking the generation service. Analysis is
// only meaningful when Outcome is OutcomeSuccess.
type Attempt struct {
	Outcome  Outcome
	Analysis crawler.Analysis
	Err      error
}

// ModelOptions are the sampling options sent with each request.
type ModelOptions struct {
	Temperature float64 `json:"temperature"`
	NumCtx      int     `json:"num_ctx"`
	NumPredict  int     `json:"num_predict"`
}

// OllamaConfig configures the generation client.
type OllamaConfig struct {
	BaseURL     string
	Model       string
	PromptChars int
	Options     ModelOptions
}

// OllamaClient calls a local Ollama server's generate endpoint.
type OllamaClient struct {
	cfg    OllamaConfig
	client *http.Client
}

// NewOllamaClient creates a generation client. Deadlines come from the
// caller's context, so client has no timeout of its own.
func NewOllamaClient(cfg OllamaConfig, client *http.Client) *OllamaClient {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.PromptChars <= 0 {
		cfg.PromptChars = DefaultPromptChars
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &OllamaClient{cfg: cfg, client: client}
}

type generateRequest struct {
	Model   string       `json:"model"`
	Prompt  string       `json:"prompt"`
	Stream  bool         `json:"stream"`
	Options ModelOptions `json:"options"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Generate sends prompt and returns the raw model text.
func (c *OllamaClient) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:   c.cfg.Model,
		Prompt:  prompt,
		Stream:  false,
		Options: c.cfg.Options,
	})
	if err != nil {
		return "", fmt.Errorf("encode generate request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama generate: status %d", resp.StatusCode)
	}
	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("ollama generate decode: %w", err)
	}
	return out.Response, nil
}

// Attempt runs one analysis call and classifies what came back. Transport
// failures, timeouts and non-200 answers are Unreachable; a reply with no
// decodable JSON object is Malformed.
func (c *OllamaClient) Attempt(ctx context.Context, content string) Attempt {
	text, err := c.Generate(ctx, BuildPrompt(content, c.cfg.PromptChars))
	if err != nil {
		return Attempt{Outcome: OutcomeUnreachable, Err: err}
	}
	obj, ok := ExtractJSON(text)
	if !ok {
		return Attempt{Outcome: OutcomeMalformed, Err: fmt.Errorf("no json object in %d byte reply", len(text))}
	}
	return Attempt{Outcome: OutcomeSuccess, Analysis: Normalize(obj)}
}
