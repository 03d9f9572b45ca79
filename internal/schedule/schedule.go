// Package schedule suggests the next posting slot for a draft that has no
// explicit schedule.
package schedule

import (
	"fmt"
	"time"
)

// DefaultTimezone is where the posting audience is assumed to be.
const DefaultTimezone = "America/New_York"

// SlotHours are the candidate posting hours, ascending.
var SlotHours = []int{8, 12, 17, 20}

// Suggestion is a proposed posting time and its display label.
type Suggestion struct {
	Time  time.Time
	Label string
}

// Next returns the first slot whose hour is strictly after now's hour in loc,
// or the first slot on the following calendar day. It is a pure function of
// its inputs.
func Next(now time.Time, loc *time.Location) Suggestion {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	y, m, d := local.Date()

	for _, h := range SlotHours {
		if h > local.Hour() {
			t := time.Date(y, m, d, h, 0, 0, 0, loc)
			return Suggestion{Time: t, Label: Label(local, t)}
		}
	}

	// time.Date normalises d+1 across month and year ends.
	t := time.Date(y, m, d+1, SlotHours[0], 0, 0, 0, loc)
	return Suggestion{Time: t, Label: Label(local, t)}
}

// Label renders t relative to now: "Today 8pm EST", "Tomorrow 8am EST" or
// "Friday 5pm EST". The zone abbreviation is the one in effect at t.
func Label(now, t time.Time) string {
	now = now.In(t.Location())
	ny, nm, nd := now.Date()
	ty, tm, td := t.Date()

	var day string
	switch {
	case ny == ty && nm == tm && nd == td:
		day = "Today"
	case isNextDay(now, t):
		day = "Tomorrow"
	default:
		day = t.Weekday().String()
	}

	zone, _ := t.Zone()
	return fmt.Sprintf("%s %s %s", day, hourLabel(t.Hour()), zone)
}

func isNextDay(now, t time.Time) bool {
	y, m, d := now.Date()
	next := time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
	ty, tm, td := t.Date()
	ny, nm, nd := next.Date()
	return ty == ny && tm == nm && td == nd
}

func hourLabel(h int) string {
	switch {
	case h == 0:
		return "12am"
	case h < 12:
		return fmt.Sprintf("%dam", h)
	case h == 12:
		return "12pm"
	default:
		return fmt.Sprintf("%dpm", h-12)
	}
}

// LoadLocation resolves name, falling back to DefaultTimezone and then UTC.
func LoadLocation(name string) *time.Location {
	if name == "" {
		name = DefaultTimezone
	}
	if loc, err := time.LoadLocation(name); err == nil {
		return loc
	}
	if loc, err := time.LoadLocation(DefaultTimezone); err == nil {
		return loc
	}
	return time.UTC
}
