// Package timeparse resolves natural-language time expressions into
// absolute timestamps.
//
// The grammar is a fixed, ordered list of matchers and the first match
// wins. Relative durations are tried before the bare clock form so the
// precedence is a visible contract rather than an accident of source
// order; new forms must be appended with their position chosen on purpose.
package timeparse

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrUnrecognized reports input that matches none of the supported forms
// or fails range validation within a matched form.
var ErrUnrecognized = errors.New("unrecognized time expression")

type matcher func(s string, now time.Time) (time.Time, bool, error)

// Tried in order: relative duration, bare clock, absolute date-time,
// natural date.
var matchers = []matcher{
	matchRelative,
	matchClock,
	matchAbsolute,
	matchNaturalDate,
}

// Parse resolves input against now. Malformed input returns
// ErrUnrecognized; a zero now is a programmer error and panics.
func Parse(input string, now time.Time) (time.Time, error) {
	if now.IsZero() {
		panic("timeparse: Parse called with zero now")
	}
	s := strings.ToLower(strings.TrimSpace(input))
	for _, m := range matchers {
		t, ok, err := m(s, now)
		if err != nil {
			return time.Time{}, err
		}
		if ok {
			return t, nil
		}
	}
	return time.Time{}, ErrUnrecognized
}

// Relative durations: "через N <unit>" / "in N <unit>" with full and
// abbreviated unit spellings in both languages.
var relativePatterns = []struct {
	re   *regexp.Regexp
	unit time.Duration
}{
	{regexp.MustCompile(`^через\s+(\d+)\s*(дней|дня|день|дн)$`), 24 * time.Hour},
	{regexp.MustCompile(`^через\s+(\d+)\s*(часов|часа|час|ч)$`), time.Hour},
	{regexp.MustCompile(`^через\s+(\d+)\s*(минут|минуты|минуту|мин|м)$`), time.Minute},
	{regexp.MustCompile(`^in\s+(\d+)\s*(days?|d)$`), 24 * time.Hour},
	{regexp.MustCompile(`^in\s+(\d+)\s*(hours?|h)$`), time.Hour},
	{regexp.MustCompile(`^in\s+(\d+)\s*(minutes?|mins?|m)$`), time.Minute},
}

func matchRelative(s string, now time.Time) (time.Time, bool, error) {
	for _, p := range relativePatterns {
		m := p.re.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, false, ErrUnrecognized
		}
		return now.Add(time.Duration(n) * p.unit), true, nil
	}
	return time.Time{}, false, nil
}

var clockRe = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

// matchClock resolves "HH:MM" to the nearest future occurrence of that
// time of day: today, or tomorrow when today's reading is not strictly
// after now. Never rolls more than one day.
func matchClock(s string, now time.Time) (time.Time, bool, error) {
	m := clockRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false, nil
	}
	hr, _ := strconv.Atoi(m[1])
	mn, _ := strconv.Atoi(m[2])
	if hr > 23 || mn > 59 {
		return time.Time{}, false, ErrUnrecognized
	}
	t := time.Date(now.Year(), now.Month(), now.Day(), hr, mn, 0, 0, now.Location())
	if !t.After(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t, true, nil
}

// Input is lowercased before matching, so the T separator appears as "t".
var absoluteRe = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})[ t](\d{2}):(\d{2})$`)

// matchAbsolute parses "YYYY-MM-DD HH:MM" (or with a T separator)
// literally, with no rollover.
func matchAbsolute(s string, now time.Time) (time.Time, bool, error) {
	m := absoluteRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false, nil
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	hr, _ := strconv.Atoi(m[4])
	mn, _ := strconv.Atoi(m[5])
	if hr > 23 || mn > 59 || !validDate(year, month, day) {
		return time.Time{}, false, ErrUnrecognized
	}
	return time.Date(year, time.Month(month), day, hr, mn, 0, 0, now.Location()), true, nil
}

var monthNames = map[string]time.Month{
	"января": time.January, "февраля": time.February, "марта": time.March,
	"апреля": time.April, "мая": time.May, "июня": time.June,
	"июля": time.July, "августа": time.August, "сентября": time.September,
	"октября": time.October, "ноября": time.November, "декабря": time.December,

	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June,
	"july": time.July, "august": time.August, "september": time.September,
	"october": time.October, "november": time.November, "december": time.December,
}

var naturalRe = regexp.MustCompile(`^(\d{1,2})\s+([a-zа-яё]+)\s+(\d{1,2}):(\d{2})$`)

// matchNaturalDate resolves "D <month-name> HH:MM" in the current year,
// advancing exactly one year when the literal reading is not strictly
// after now.
func matchNaturalDate(s string, now time.Time) (time.Time, bool, error) {
	m := naturalRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false, nil
	}
	month, ok := monthNames[m[2]]
	if !ok {
		return time.Time{}, false, ErrUnrecognized
	}
	day, _ := strconv.Atoi(m[1])
	hr, _ := strconv.Atoi(m[3])
	mn, _ := strconv.Atoi(m[4])
	if hr > 23 || mn > 59 || !validDate(now.Year(), int(month), day) {
		return time.Time{}, false, ErrUnrecognized
	}
	t := time.Date(now.Year(), month, day, hr, mn, 0, 0, now.Location())
	if !t.After(now) {
		// Feb 29 can be valid this year but not next.
		if !validDate(now.Year()+1, int(month), day) {
			return time.Time{}, false, ErrUnrecognized
		}
		t = time.Date(now.Year()+1, month, day, hr, mn, 0, 0, now.Location())
	}
	return t, true, nil
}

// validDate rejects day/month combinations that time.Date would silently
// normalize into the next month.
func validDate(year, month, day int) bool {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return t.Day() == day && t.Month() == time.Month(month)
}
