package expr

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

var multiSpace = regexp.MustCompile(`\s\s+`)

// IsCronLike reports whether the string looks like a cron expression
// rather than a date. A '*' anywhere, or 4 to 6 whitespace separated
// tokens, counts as cron-like.
func IsCronLike(expression string) bool {
	if strings.Contains(expression, "*") {
		return true
	}
	cleaned := multiSpace.ReplaceAllString(strings.TrimSpace(expression), " ")
	n := len(strings.Split(cleaned, " "))
	return n >= 4 && n <= 6
}

// dateLayouts are tried in order when parsing a date token.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDateToken parses one date-like token: an RFC3339 or common
// date-time string, or a millisecond epoch number. Tokens that look
// cron-like are rejected outright.
func ParseDateToken(token string, loc *time.Location) (time.Time, bool) {
	token = strings.TrimSpace(token)
	if token == "" || IsCronLike(token) {
		return time.Time{}, false
	}
	if ms, err := strconv.ParseInt(token, 10, 64); err == nil {
		return time.UnixMilli(ms), true
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, token, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseDateSequence parses a CSV of date-like tokens into a sorted
// sequence of instants. Every token must parse; a single cron-like or
// unparseable token fails the whole sequence.
func ParseDateSequence(expression string, loc *time.Location) ([]time.Time, bool) {
	parts := strings.Split(expression, ",")
	dates := make([]time.Time, 0, len(parts))
	for _, part := range parts {
		t, ok := ParseDateToken(part, loc)
		if !ok {
			return nil, false
		}
		dates = append(dates, t)
	}
	if len(dates) == 0 {
		return nil, false
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, true
}

// IsDateSequence reports whether the expression parses as a date sequence.
func IsDateSequence(expression string, loc *time.Location) bool {
	_, ok := ParseDateSequence(expression, loc)
	return ok
}

// FutureDates returns the dates at or after ref, preserving order.
func FutureDates(dates []time.Time, ref time.Time) []time.Time {
	out := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		if !d.Before(ref) {
			out = append(out, d)
		}
	}
	return out
}
