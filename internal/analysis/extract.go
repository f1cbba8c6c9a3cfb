package analysis

import (
	"encoding/json"
	"strings"

	"github.com/JakeFAU/ptt-stock-crawler/internal/crawler"
)

const defaultReason = "技術分析"

var fieldNames = []string{
	"recommended_stocks",
	"sentiment",
	"reason",
	"sectors",
	"strategy",
	"risk_level",
}

// jsonCandidates lists substrings of text that may hold the model's JSON
// object, in the order they should be tried.
func jsonCandidates(text string) []string {
	text = strings.TrimSpace(text)
	var out []string

	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		out = append(out, text[start:end+1])
	}

	lines := strings.Split(text, "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "{") && strings.HasSuffix(line, "}") {
			out = append(out, line)
		}
	}

	for _, line := range lines {
		start, end := strings.Index(line, "{"), strings.LastIndex(line, "}")
		if start < 0 || end <= start {
			continue
		}
		for _, name := range fieldNames {
			if strings.Contains(line, name) {
				out = append(out, line[start:end+1])
				break
			}
		}
	}
	return out
}

// ExtractJSON returns the first candidate that decodes as a JSON object.
func ExtractJSON(text string) (map[string]any, bool) {
	for _, candidate := range jsonCandidates(text) {
		var obj map[string]any
		if err := json.Unmarshal([]byte(candidate), &obj); err != nil || obj == nil {
			continue
		}
		return obj, true
	}
	return nil, false
}

// Normalize coerces a decoded object into the fixed analysis shape. Each
// field that is missing or of the wrong type gets its own default.
func Normalize(obj map[string]any) crawler.Analysis {
	out := crawler.Analysis{
		RecommendedStocks: stringList(obj["recommended_stocks"]),
		Sentiment:         crawler.SentimentNeutral,
		Sectors:           stringList(obj["sectors"]),
		Strategy:          crawler.StrategyUnknown,
		RiskLevel:         crawler.RiskMedium,
		Reason:            defaultReason,
		Source:            crawler.SourceLLM,
	}
	if s, ok := obj["sentiment"].(string); ok && crawler.Sentiment(s).Valid() {
		out.Sentiment = crawler.Sentiment(s)
	}
	if r, ok := obj["risk_level"].(string); ok && crawler.RiskLevel(r).Valid() {
		out.RiskLevel = crawler.RiskLevel(r)
	}
	if s, ok := obj["strategy"].(string); ok && strings.TrimSpace(s) != "" {
		out.Strategy = strings.TrimSpace(s)
	}
	if s, ok := obj["reason"].(string); ok && strings.TrimSpace(s) != "" {
		out.Reason = strings.TrimSpace(s)
	}
	return out
}

// stringList keeps the non-empty string elements of a JSON array. Anything
// that is not an array yields an empty, non-nil slice.
func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
