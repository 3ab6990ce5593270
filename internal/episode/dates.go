package episode

import (
	"fmt"
	"strings"
	"time"

	"github.com/hpungsan/malaise/internal/errors"
)

// DateLayout is the calendar date format used for episode and entry dates.
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD calendar date as midnight UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, errors.NewInvalidRequest(fmt.Sprintf("invalid date %q: expected YYYY-MM-DD", s))
	}
	return t, nil
}

// NormalizeDate validates s and returns it in canonical form.
func NormalizeDate(s string) (string, error) {
	t, err := ParseDate(s)
	if err != nil {
		return "", err
	}
	return t.Format(DateLayout), nil
}

// DayGap returns the absolute number of whole days between two calendar dates.
func DayGap(a, b string) (int, error) {
	ta, err := ParseDate(a)
	if err != nil {
		return 0, err
	}
	tb, err := ParseDate(b)
	if err != nil {
		return 0, err
	}
	days := int(ta.Sub(tb).Hours() / 24)
	if days < 0 {
		days = -days
	}
	return days, nil
}

// Today returns the calendar date of now in the local time zone.
func Today(now time.Time) string {
	return now.Format(DateLayout)
}
