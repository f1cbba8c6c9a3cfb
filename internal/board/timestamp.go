package board

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	stampPattern    = regexp.MustCompile(`(\w{3})\s+(\w{3})\s+(\d{1,2})\s+(\d{2}):(\d{2}):(\d{2})\s+(\d{4})`)
	localizedDate   = regexp.MustCompile(`(\d{4})年(\d{1,2})月(\d{1,2})日`)
	slashDate       = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{2}|\d{4})$`)
	isoDatePrefix   = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})`)
	monthAbbrevs    = map[string]time.Month{}
	defaultLocation = time.UTC
)

func init() {
	for m := time.January; m <= time.December; m++ {
		monthAbbrevs[m.String()[:3]] = m
	}
}

// ParseTimestamp scans the article meta values in order and returns the
// first one that matches a known date encoding, interpreted in loc. The
// boolean is false when nothing matched.
func ParseTimestamp(values []string, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = defaultLocation
	}
	for _, raw := range values {
		if t, ok := parseOne(strings.TrimSpace(raw), loc); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseOne(text string, loc *time.Location) (time.Time, bool) {
	if m := stampPattern.FindStringSubmatch(text); m != nil {
		month, ok := monthAbbrevs[m[2]]
		if !ok {
			return time.Time{}, false
		}
		return date(loc, m[7], month, m[3], m[4], m[5], m[6])
	}
	if m := localizedDate.FindStringSubmatch(text); m != nil {
		month, err := strconv.Atoi(m[2])
		if err != nil {
			return time.Time{}, false
		}
		return date(loc, m[1], time.Month(month), m[3], "0", "0", "0")
	}
	if m := slashDate.FindStringSubmatch(text); m != nil {
		year := m[3]
		if len(year) == 2 {
			year = "20" + year
		}
		month, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, false
		}
		return date(loc, year, time.Month(month), m[2], "0", "0", "0")
	}
	if m := isoDatePrefix.FindStringSubmatch(text); m != nil {
		month, err := strconv.Atoi(m[2])
		if err != nil {
			return time.Time{}, false
		}
		return date(loc, m[1], time.Month(month), m[3], "0", "0", "0")
	}
	return time.Time{}, false
}

// date builds a time and rejects out-of-range fields instead of letting
// time.Date normalize them.
func date(loc *time.Location, year string, month time.Month, day, hour, minute, second string) (time.Time, bool) {
	fields := make([]int, 0, 5)
	for _, s := range []string{year, day, hour, minute, second} {
		n, err := strconv.Atoi(s)
		if err != nil {
			return time.Time{}, false
		}
		fields = append(fields, n)
	}
	y, d, h, mi, s := fields[0], fields[1], fields[2], fields[3], fields[4]
	if month < time.January || month > time.December || d < 1 || h > 23 || mi > 59 || s > 59 {
		return time.Time{}, false
	}
	t := time.Date(y, month, d, h, mi, s, 0, loc)
	if t.Day() != d {
		return time.Time{}, false
	}
	return t.UTC(), true
}
