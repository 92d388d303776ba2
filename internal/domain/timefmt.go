package domain

import "time"

// TimeLayout is fixed width so lexical order matches chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime accepts TimeLayout and RFC3339 variants written by other clients.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// Stamp returns now formatted, bumped forward so it sorts strictly after prev.
func Stamp(prev string, now time.Time) string {
	now = now.UTC().Truncate(time.Microsecond)
	if prev == "" {
		return FormatTime(now)
	}
	p, err := ParseTime(prev)
	if err != nil || now.After(p) {
		return FormatTime(now)
	}
	return FormatTime(p.Truncate(time.Microsecond).Add(time.Microsecond))
}
