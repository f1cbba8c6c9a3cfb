package analysis

import (
	"strings"
	"unicode/utf8"
)

// DefaultPromptChars is the content budget used when none is configured.
const DefaultPromptChars = 300

const promptTemplate = `你是一位資深的證券研究分析師，熟悉台灣與國際股市的新聞解讀與市場心理。忽略政治立場或網路俚語，只分析對股票市場的潛在影響，只用繁體中文回覆並以 JSON 格式輸出。

請從技術面、基本面、消息面三個角度分析以下股票文章，並只返回JSON格式，不要其他文字：

%CONTENT%

必須返回以下JSON格式：
{"recommended_stocks":["股票代碼"],"sentiment":"positive/negative/neutral","reason":"分析原因","sectors":["產業類別"],"strategy":"投資策略","risk_level":"low/medium/high"}

分析要求：
- 情緒分析請考慮：市場恐慌程度、投資人信心、資金流向、外資動向
- 風險等級請考慮：市場風險、流動性風險、政策風險、個股風險
- 投資策略請包含：進場時機、停損點位、目標價位、持有期間
- 產業類別請包含：主要產業、次產業、相關概念股、上下游供應鏈`

// BuildPrompt embeds at most budget characters of content into the analysis
// instructions. Truncation counts runes, not bytes.
func BuildPrompt(content string, budget int) string {
	if budget <= 0 {
		budget = DefaultPromptChars
	}
	content = strings.TrimSpace(content)
	if utf8.RuneCountInString(content) > budget {
		content = string([]rune(content)[:budget])
	}
	return strings.Replace(promptTemplate, "%CONTENT%", content, 1)
}
