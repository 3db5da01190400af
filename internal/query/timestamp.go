package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// absoluteLayouts are tried in order. Layouts without a zone are read in
// the local time zone.
var absoluteLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTime resolves a timestamp literal. It accepts RFC 3339 date-times,
// local dates such as "2024-05-01 10:00:00", "now" and relative expressions
// such as "2 hours ago". Relative expressions are resolved against now.
func ParseTime(text string, now time.Time) (time.Time, error) {
	s := strings.TrimSpace(text)
	if strings.EqualFold(s, "now") {
		return now, nil
	}
	for _, layout := range absoluteLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	if t, ok := parseRelative(s, now); ok {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %s", quote(text))
}

// parseRelative handles "<n> <unit> ago" and "<n><unit> ago".
func parseRelative(s string, now time.Time) (time.Time, bool) {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) < 2 || fields[len(fields)-1] != "ago" {
		return time.Time{}, false
	}
	amount := strings.Join(fields[:len(fields)-1], "")

	split := 0
	for split < len(amount) && amount[split] >= '0' && amount[split] <= '9' {
		split++
	}
	if split == 0 {
		return time.Time{}, false
	}
	n, err := strconv.Atoi(amount[:split])
	if err != nil {
		return time.Time{}, false
	}

	unit := amount[split:]
	if unit == "ms" || strings.HasPrefix(unit, "millisecond") {
		return now.Add(-time.Duration(n) * time.Millisecond), true
	}

	switch strings.TrimSuffix(unit, "s") {
	case "", "sec", "second":
		return now.Add(-time.Duration(n) * time.Second), true
	case "m", "min", "minute":
		return now.Add(-time.Duration(n) * time.Minute), true
	case "h", "hour":
		return now.Add(-time.Duration(n) * time.Hour), true
	case "d", "day":
		return now.AddDate(0, 0, -n), true
	case "w", "week":
		return now.AddDate(0, 0, -7*n), true
	case "month":
		return now.AddDate(0, -n, 0), true
	case "y", "year":
		return now.AddDate(-n, 0, 0), true
	}
	return time.Time{}, false
}
