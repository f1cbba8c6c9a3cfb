package analysis

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ptt-stock-crawler/internal/crawler"
)

func TestExtractJSONStages(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		text string
		want string
		ok   bool
	}{
		{
			name: "outer braces",
			text: "好的，以下是分析：\n{\"sentiment\":\"positive\",\"sectors\":[\"科技\"]}\n希望有幫助",
			want: "positive",
			ok:   true,
		},
		{
			name: "single line object after broken outer span",
			text: "{ 先說結論 }\n{\"sentiment\":\"negative\"}",
			want: "negative",
			ok:   true,
		},
		{
			name: "field line with trailing prose",
			text: "{ 開頭\n結果: {\"sentiment\":\"neutral\"} 完\n結尾 }x",
			want: "neutral",
			ok:   true,
		},
		{
			name: "no json",
			text: "模型暫時無法回答",
			ok:   false,
		},
		{
			name: "array is not an object",
			text: "[1,2,3]",
			ok:   false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			obj, ok := ExtractJSON(tc.text)
			require.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, obj["sentiment"])
			}
		})
	}
}

func TestNormalizeDefaultsPerField(t *testing.T) {
	t.Parallel()

	got := Normalize(map[string]any{
		"recommended_stocks": "2330",
		"sentiment":          "pos",
		"sectors":            []any{"半導體", 42, " ", "AI"},
		"strategy":           "",
		"risk_level":         "extreme",
		"reason":             nil,
	})
	assert.Equal(t, []string{}, got.RecommendedStocks)
	assert.Equal(t, crawler.SentimentNeutral, got.Sentiment)
	assert.Equal(t, []string{"半導體", "AI"}, got.Sectors)
	assert.Equal(t, crawler.StrategyUnknown, got.Strategy)
	assert.Equal(t, crawler.RiskMedium, got.RiskLevel)
	assert.Equal(t, defaultReason, got.Reason)
	assert.Equal(t, crawler.SourceLLM, got.Source)
}

func TestNormalizeKeepsValidFields(t *testing.T) {
	t.Parallel()

	got := Normalize(map[string]any{
		"recommended_stocks": []any{"2330", "AAPL"},
		"sentiment":          "negative",
		"sectors":            []any{},
		"strategy":           "逢高減碼",
		"risk_level":         "high",
		"reason":             "外資賣超",
	})
	assert.Equal(t, []string{"2330", "AAPL"}, got.RecommendedStocks)
	assert.Equal(t, crawler.SentimentNegative, got.Sentiment)
	assert.Equal(t, []string{}, got.Sectors)
	assert.Equal(t, "逢高減碼", got.Strategy)
	assert.Equal(t, crawler.RiskHigh, got.RiskLevel)
	assert.Equal(t, "外資賣超", got.Reason)
}

func TestBuildPromptTruncatesByRunes(t *testing.T) {
	t.Parallel()

	content := strings.Repeat("台", 500)
	prompt := BuildPrompt(content, 300)
	assert.Contains(t, prompt, strings.Repeat("台", 300))
	assert.NotContains(t, prompt, strings.Repeat("台", 301))
	assert.True(t, utf8.ValidString(prompt))
	assert.Contains(t, prompt, "recommended_stocks")
	assert.NotContains(t, prompt, "%CONTENT%")
}
