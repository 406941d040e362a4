// Package workhours decides whether a worker may claim work at a given time of day.
package workhours

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/EnviralDesign/media-spacesaver-suite/pkg/types"
)

var ErrInvalidWindow = errors.New("invalid work-hours window")

// ParseClock parses "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("%w: %q is not HH:MM", ErrInvalidWindow, s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%w: bad hour in %q", ErrInvalidWindow, s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || len(mm) != 2 {
		return 0, fmt.Errorf("%w: bad minute in %q", ErrInvalidWindow, s)
	}
	return h*60 + m, nil
}

// Validate checks every window of a list.
func Validate(windows []types.WorkWindow) error {
	for i, w := range windows {
		if _, err := ParseClock(w.Start); err != nil {
			return fmt.Errorf("window %d start: %w", i, err)
		}
		if _, err := ParseClock(w.End); err != nil {
			return fmt.Errorf("window %d end: %w", i, err)
		}
	}
	return nil
}

// Contains reports whether minute-of-day now falls inside the window.
// A window with end <= start wraps midnight.
func Contains(w types.WorkWindow, now int) (bool, error) {
	start, err := ParseClock(w.Start)
	if err != nil {
		return false, err
	}
	end, err := ParseClock(w.End)
	if err != nil {
		return false, err
	}
	if end <= start {
		return now >= start || now < end, nil
	}
	return start <= now && now < end, nil
}

// Eligible reports whether t falls inside at least one window. No windows means always.
// Unparseable windows never match.
func Eligible(windows []types.WorkWindow, t time.Time) bool {
	if len(windows) == 0 {
		return true
	}
	now := t.Hour()*60 + t.Minute()
	for _, w := range windows {
		if ok, err := Contains(w, now); err == nil && ok {
			return true
		}
	}
	return false
}

// Gate evaluates windows against an injectable clock.
type Gate struct {
	Now func() time.Time
}

// NewGate returns a gate on the local wall clock.
func NewGate() *Gate {
	return &Gate{Now: time.Now}
}

// Eligible evaluates windows at the gate's current time.
func (g *Gate) Eligible(windows []types.WorkWindow) bool {
	return Eligible(windows, g.Now())
}
