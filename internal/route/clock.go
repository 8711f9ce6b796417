package route

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrBadClock = errors.New("bad clock string")

// ParseClock reads a 12-hour "h:mm AM" clock string into minutes since midnight.
func ParseClock(s string) (int, error) {
	v := strings.TrimSpace(s)
	if len(v) < 4 {
		return 0, fmt.Errorf("%w: %q", ErrBadClock, s)
	}

	suffix := strings.ToUpper(v[len(v)-2:])
	if suffix != "AM" && suffix != "PM" {
		return 0, fmt.Errorf("%w: %q", ErrBadClock, s)
	}
	hm := strings.TrimSpace(v[:len(v)-2])

	hs, ms, ok := strings.Cut(hm, ":")
	if !ok || len(hs) == 0 || len(hs) > 2 || len(ms) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrBadClock, s)
	}
	h, err := strconv.Atoi(hs)
	if err != nil || h < 1 || h > 12 {
		return 0, fmt.Errorf("%w: %q", ErrBadClock, s)
	}
	m, err := strconv.Atoi(ms)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: %q", ErrBadClock, s)
	}

	if h == 12 {
		h = 0
	}
	if suffix == "PM" {
		h += 12
	}
	return h*60 + m, nil
}

// FormatClock is the inverse of ParseClock; minutes wrap around a 24h day.
func FormatClock(minutes int) string {
	minutes %= 24 * 60
	if minutes < 0 {
		minutes += 24 * 60
	}
	h, m := minutes/60, minutes%60
	suffix := "AM"
	if h >= 12 {
		suffix = "PM"
	}
	h %= 12
	if h == 0 {
		h = 12
	}
	return fmt.Sprintf("%02d:%02d %s", h, m, suffix)
}
