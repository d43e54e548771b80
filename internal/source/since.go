package source

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var durationFlag = regexp.MustCompile(`^(\d+)([DWMY])$`)

// ParseSince parses a --since flag. Accepted forms:
//
//	2025-01-15      absolute date
//	30D, 4W, 7M, 1Y duration before today (days, weeks, months, years)
//
// Month and year arithmetic is calendar-aware via time.AddDate.
func ParseSince(s string) (time.Time, error) {
	return parseSinceFrom(s, time.Now())
}

func parseSinceFrom(s string, now time.Time) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}

	m := durationFlag.FindStringSubmatch(strings.ToUpper(s))
	if m == nil {
		return time.Time{}, fmt.Errorf(
			"invalid --since format %q: expected YYYY-MM-DD or a duration like 7M, 30D, 1Y, 4W", s)
	}
	amount, err := strconv.Atoi(m[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since amount %q: %w", m[1], err)
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch m[2] {
	case "D":
		return today.AddDate(0, 0, -amount), nil
	case "W":
		return today.AddDate(0, 0, -7*amount), nil
	case "M":
		return today.AddDate(0, -amount, 0), nil
	default: // "Y", guaranteed by the pattern
		return today.AddDate(-amount, 0, 0), nil
	}
}
