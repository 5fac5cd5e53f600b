package query

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	countedRange = regexp.MustCompile(`(?i)\b(?:last|past)\s+(\d+)\s+(hour|day|week|month)s?\b`)
	rollingRange = regexp.MustCompile(`(?i)\bpast\s+(hour|day|week|month)\b`)
	namedRange   = regexp.MustCompile(`(?i)\b(today|yesterday|this\s+week|last\s+week|this\s+month|last\s+month|last\s+day|last\s+hour|recently|recent)\b`)
)

// detectTimeRange returns the first time-range phrase in q, normalized to
// lower case with single spaces, and q with the phrase removed.
func detectTimeRange(q string) (string, string) {
	for _, re := range []*regexp.Regexp{countedRange, rollingRange, namedRange} {
		if loc := re.FindStringIndex(q); loc != nil {
			phrase := collapse(strings.ToLower(q[loc[0]:loc[1]]))
			return phrase, collapse(q[:loc[0]] + " " + q[loc[1]:])
		}
	}
	return "", q
}

// recentWindow is the span covered by "recent".
const recentWindow = 7 * 24 * time.Hour

// TimeRangeBounds converts a time-range phrase into a [start, end) interval
// relative to now. Calendar ranges (today, this week, last month) use now's
// location; weeks start on Monday.
func TimeRangeBounds(phrase string, now time.Time) (start, end time.Time, ok bool) {
	phrase = collapse(strings.ToLower(phrase))
	if phrase == "" {
		return time.Time{}, time.Time{}, false
	}

	if m := countedRange.FindStringSubmatch(phrase); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return time.Time{}, time.Time{}, false
		}
		return rolling(now, n, m[2]), now, true
	}
	if m := rollingRange.FindStringSubmatch(phrase); m != nil {
		return rolling(now, 1, m[1]), now, true
	}

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	weekStart := midnight.AddDate(0, 0, -((int(now.Weekday()) + 6) % 7))
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	switch phrase {
	case "today":
		return midnight, now, true
	case "yesterday":
		return midnight.AddDate(0, 0, -1), midnight, true
	case "this week":
		return weekStart, now, true
	case "last week":
		return weekStart.AddDate(0, 0, -7), weekStart, true
	case "this month":
		return monthStart, now, true
	case "last month":
		return monthStart.AddDate(0, -1, 0), monthStart, true
	case "last day":
		return now.Add(-24 * time.Hour), now, true
	case "last hour":
		return now.Add(-time.Hour), now, true
	case "recent", "recently":
		return now.Add(-recentWindow), now, true
	}
	return time.Time{}, time.Time{}, false
}

func rolling(now time.Time, n int, unit string) time.Time {
	switch strings.ToLower(unit) {
	case "hour":
		return now.Add(-time.Duration(n) * time.Hour)
	case "day":
		return now.AddDate(0, 0, -n)
	case "week":
		return now.AddDate(0, 0, -7*n)
	default:
		return now.AddDate(0, -n, 0)
	}
}
