package analysis

import (
	"context"
	"strings"

	"github.com/JakeFAU/ptt-stock-crawler/internal/crawler"
)

const (
	maxSectorTags = 3
	rulesReason   = "關鍵字規則分析"
)

var (
	positiveWords = []string{"漲", "多", "看好", "推薦", "買入", "強勢", "突破", "利多", "好", "優", "佳", "樂觀", "成長", "機會", "潛力", "上漲"}
	negativeWords = []string{"跌", "空", "看壞", "賣出", "弱勢", "破底", "利空", "壞", "差", "劣", "糟", "悲觀", "衰退", "下跌"}
	buySignals    = []string{"買", "多", "看多", "推薦", "建議", "建倉", "加倉", "持有"}
	sellSignals   = []string{"賣", "空", "看空", "減倉", "出場", "獲利了結"}
	highRiskWords = []string{"高風險", "槓桿", "期貨", "選擇權", "當沖", "投機"}
	lowRiskWords  = []string{"穩健", "保守", "定存", "債券", "ETF"}
)

type sectorRule struct {
	name     string
	keywords []string
}

// Order decides which tags survive the cap.
var sectorRules = []sectorRule{
	{"科技", []string{"科技", "半導體", "IC", "晶片", "AI", "人工智慧"}},
	{"金融", []string{"金融", "銀行", "保險", "證券"}},
	{"能源", []string{"能源", "石油", "天然氣", "太陽能", "風電"}},
	{"醫療", []string{"醫療", "生技", "製藥", "健康"}},
	{"消費", []string{"消費", "零售", "食品", "飲料"}},
	{"工業", []string{"工業", "製造", "機械", "鋼鐵"}},
	{"地產", []string{"地產", "房地產", "建設", "營建"}},
}

// RuleAnalyzer scores text with fixed keyword lists. It needs no network and
// always returns a complete result.
type RuleAnalyzer struct{}

// Analyze implements crawler.Analyzer.
func (RuleAnalyzer) Analyze(_ context.Context, body string) crawler.Analysis {
	return Rules(body)
}

// Rules is the keyword analysis of body.
func Rules(body string) crawler.Analysis {
	return crawler.Analysis{
		RecommendedStocks: []string{},
		Sentiment:         ruleSentiment(body),
		Sectors:           ruleSectors(body),
		Strategy:          ruleStrategy(body),
		RiskLevel:         ruleRisk(body),
		Reason:            rulesReason,
		Source:            crawler.SourceRules,
	}
}

func ruleSentiment(text string) crawler.Sentiment {
	score := countHits(text, positiveWords) - countHits(text, negativeWords)
	switch {
	case score > 0:
		return crawler.SentimentPositive
	case score < 0:
		return crawler.SentimentNegative
	default:
		return crawler.SentimentNeutral
	}
}

func ruleStrategy(text string) string {
	buy, sell := containsAny(text, buySignals), containsAny(text, sellSignals)
	switch {
	case buy && sell:
		return crawler.StrategyMixed
	case buy:
		return crawler.StrategyBullish
	case sell:
		return crawler.StrategyBearish
	default:
		return crawler.StrategyUnknown
	}
}

func ruleSectors(text string) []string {
	out := make([]string, 0, maxSectorTags)
	for _, rule := range sectorRules {
		if len(out) == maxSectorTags {
			break
		}
		if containsAny(text, rule.keywords) {
			out = append(out, rule.name)
		}
	}
	return out
}

func ruleRisk(text string) crawler.RiskLevel {
	switch {
	case containsAny(text, highRiskWords):
		return crawler.RiskHigh
	case containsAny(text, lowRiskWords):
		return crawler.RiskLow
	default:
		return crawler.RiskMedium
	}
}

// countHits counts how many distinct lexicon words appear in text.
func countHits(text string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(text, w) {
			n++
		}
	}
	return n
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
