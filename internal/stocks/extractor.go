package stocks

import (
	"regexp"
	"strconv"
)

var (
	domesticPattern = regexp.MustCompile(`\b(\d{4})\b`)
	foreignPattern  = regexp.MustCompile(`\b([A-Z]{1,5})\b`)
)

// Calendar years in this range are never read as stock codes.
const (
	yearFloor = 2020
	yearCeil  = 2030
)

// numericNoise lists four digit figures that show up as prices, index levels
// and hardware specs far more often than as tickers.
var numericNoise = setOf(
	"0000", "1111", "2222", "3333", "4444", "5555", "6666", "7777", "8888", "9999",
	"1000", "2000", "3000", "8000", "2500", "5800", "5600", "2800", "1400",
	"3120", "1230", "1070", "1090", "1330", "1575", "8550",
)

// letterNoise is upper-case English that is not a ticker in practice.
var letterNoise = setOf(
	// articles, prepositions, conjunctions
	"THE", "AND", "FOR", "ARE", "BUT", "NOT", "WITH", "FROM", "INTO", "OVER",
	"ABOUT", "AFTER", "UNDER", "UNTIL", "UPON", "THROUGH", "BETWEEN", "DURING",
	"AT", "BY", "IN", "ON", "TO", "OF", "AS", "OR", "AN", "IS", "IT", "BE", "DO",
	// pronouns
	"YOU", "HER", "HIM", "HIS", "OUR", "THEIR", "THEM", "THESE", "THOSE", "THIS",
	"THAT", "HE", "SHE", "WE", "THEY", "US", "MY", "YOUR", "ITS", "WHO", "WHICH",
	"WHAT", "WHOSE", "WHOM",
	// verbs
	"WAS", "WERE", "HAD", "HAS", "BEEN", "BEING", "HAVE", "CAN", "COULD", "WILL",
	"WOULD", "SHALL", "MAY", "MIGHT", "MUST", "SAID", "DID", "MADE",
	"COME", "CAME", "MAKE", "TAKE", "GIVE", "FIND", "CALL", "GET", "GO", "KNOW",
	"SEE", "SAY", "USE", "TELL", "WORK", "SHOW", "LEAVE", "FEEL", "PUT", "KEEP",
	"LET", "BEGIN", "SEEM", "HELP", "TURN", "START", "WRITE", "MOVE", "TRY",
	"LIVE", "STAND", "MEAN", "LEAD", "HEAR", "MEET", "RUN", "LOOK", "THINK",
	"WANT", "NEED", "ASK", "BRING", "HOLD", "LOSE", "PAY",
	// adjectives
	"ONE", "TWO", "FIRST", "LAST", "LONG", "GOOD", "NEW", "OLD", "HIGH", "GREAT",
	"BIG", "SMALL", "LARGE", "BEST", "NEXT", "EARLY", "YOUNG", "SAME", "FEW",
	"OWN", "OTHER", "RIGHT", "SURE", "REAL", "TRUE", "FULL", "LESS", "MOST",
	"MUCH", "MANY", "MORE", "SUCH", "BOTH", "EACH", "EVERY", "WHOLE",
	// nouns
	"TIME", "YEAR", "WAY", "DAY", "MAN", "THING", "WOMAN", "LIFE", "CHILD", "WORLD",
	"STATE", "GROUP", "HAND", "PART", "PLACE", "CASE", "WEEK", "NIGHT", "POINT",
	"HOME", "WATER", "ROOM", "AREA", "MONEY", "STORY", "FACT", "MONTH", "BOOK",
	"EYE", "JOB", "WORD", "ISSUE", "SIDE", "KIND", "HEAD", "HOUSE", "POWER", "HOUR",
	"GAME", "LINE", "END", "LAW", "DOOR", "BACK", "FACE", "BODY", "NAME", "IDEA",
	"LEVEL",
	// adverbs and fillers
	"ALL", "WHEN", "THERE", "IF", "UP", "OUT", "THEN", "SO", "SOME", "LIKE",
	"NOW", "DOWN", "ONLY", "ALSO", "WELL", "VERY", "EVEN", "JUST", "WHERE",
	"HOW", "WHY", "TOO", "HERE", "THAN", "ONCE", "AGAIN", "NEVER", "AWAY",
	"STILL", "WHILE", "SINCE", "YET", "EVER", "QUITE", "YES", "NO", "MAYBE",
	"OKAY", "OK", "THANK", "SORRY", "HELLO", "THREE", "FOUR", "FIVE", "SIX",
	"SEVEN", "EIGHT", "NINE", "TEN",
	// market jargon
	"ATH", "EPS", "PE", "PB", "ROE", "DJI", "AI", "TOP", "ETF", "IPO", "CEO",
	"CFO", "GDP", "CPI", "PMI", "FED", "FOMC", "USD", "TWD", "NTD", "YOY", "QOQ",
	"MOM", "EOD", "IMO", "LOL", "PTT",
)

// Candidates returns the domestic (four digit) and foreign (letter) codes in
// text that survive the static exclusion rules, each deduplicated in first
// occurrence order.
func Candidates(text string) (domestic []string, foreign []string) {
	domestic = collect(domesticPattern, text, keepDomestic)
	foreign = collect(foreignPattern, text, keepForeign)
	return domestic, foreign
}

func keepDomestic(code string) bool {
	if _, noisy := numericNoise[code]; noisy {
		return false
	}
	// listed common stocks never start with 0 or 9
	if code[0] == '0' || code[0] == '9' {
		return false
	}
	n, err := strconv.Atoi(code)
	if err != nil {
		return false
	}
	return n < yearFloor || n > yearCeil
}

func keepForeign(code string) bool {
	if len(code) < 2 {
		return false
	}
	_, noisy := letterNoise[code]
	return !noisy
}

func collect(re *regexp.Regexp, text string, keep func(string) bool) []string {
	out := []string{}
	seen := map[string]struct{}{}
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		code := m[1]
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		if keep(code) {
			out = append(out, code)
		}
	}
	return out
}

func setOf(items ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, item := range items {
		out[item] = struct{}{}
	}
	return out
}
