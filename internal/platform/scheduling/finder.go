package scheduling

import (
	"errors"
	"fmt"

	"github.com/ehr/ehrsim/internal/domain/scheduling"
)

// Common errors returned by the slot finder.
var (
	// ErrNoSlot means no feasible start exists within the search window.
	// It abandons one booking attempt and is not fatal.
	ErrNoSlot = errors.New("no slot available within the search window")
	// ErrNoWorkSchedule means the practitioner was set up without working
	// hours. It is a configuration bug.
	ErrNoWorkSchedule = errors.New("practitioner has no work schedule")
	// ErrInvalidDuration is returned for a non-positive slot length.
	ErrInvalidDuration = errors.New("slot duration must be positive")
)

// DefaultLookahead is the search window length: one week.
const DefaultLookahead = scheduling.MinutesPerWeek

// SlotFinder searches a practitioner's calendar for a free slot.
type SlotFinder interface {
	FindNextSlot(practitionerID string, ws scheduling.WorkSchedule, requested, duration int64) (int64, error)
	IsAvailable(practitionerID string, ws scheduling.WorkSchedule, start, duration int64) bool
}

var _ SlotFinder = (*Finder)(nil)

// Finder implements SlotFinder over a Calendar.
type Finder struct {
	calendar  *Calendar
	lookahead int64
}

// NewFinder creates a Finder. A non-positive lookahead selects DefaultLookahead.
func NewFinder(c *Calendar, lookahead int64) *Finder {
	if lookahead <= 0 {
		lookahead = DefaultLookahead
	}
	return &Finder{calendar: c, lookahead: lookahead}
}

// FindNextSlot returns the earliest start >= requested such that
// [start, start+duration) lies inside one working block of its day and
// overlaps no calendar entry. Candidate starts are limited to
// [requested, requested+lookahead).
//
// The scan walks working blocks day by day. Inside a block the cursor jumps
// past the end of every entry it collides with, which visits the same
// candidates a minute-by-minute scan would accept, in the same order.
func (f *Finder) FindNextSlot(practitionerID string, ws scheduling.WorkSchedule, requested, duration int64) (int64, error) {
	if ws.IsEmpty() {
		return 0, fmt.Errorf("%w: %s", ErrNoWorkSchedule, practitionerID)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidDuration, duration)
	}

	windowEnd := requested + f.lookahead
	busy := f.calendar.Busy(practitionerID, scheduling.Interval{Start: requested, End: windowEnd + duration})

	for day := scheduling.DayStart(requested); day < windowEnd; day += scheduling.MinutesPerDay {
		for _, blk := range ws.Blocks(scheduling.Weekday(day)) {
			blockEnd := day + blk.End
			start := max(requested, day+blk.Start)
			for start+duration <= blockEnd {
				if start >= windowEnd {
					return 0, ErrNoSlot
				}
				next, clear := advancePast(busy, scheduling.Interval{Start: start, End: start + duration})
				if clear {
					return start, nil
				}
				start = next
			}
		}
	}
	return 0, ErrNoSlot
}

// advancePast returns true if slot is free, otherwise the latest end among
// the entries it collides with.
func advancePast(busy []Entry, slot scheduling.Interval) (int64, bool) {
	next := slot.Start
	for _, e := range busy {
		if e.Span.Start >= slot.End {
			break
		}
		if e.Span.Overlaps(slot) && e.Span.End > next {
			next = e.Span.End
		}
	}
	return next, next == slot.Start
}

// IsAvailable is the direct conflict check used for ad hoc visits: the
// interval must be inside working hours and overlap no entry.
func (f *Finder) IsAvailable(practitionerID string, ws scheduling.WorkSchedule, start, duration int64) bool {
	if duration <= 0 || !ws.Fits(start, duration) {
		return false
	}
	return !f.calendar.Conflicts(practitionerID, scheduling.Interval{Start: start, End: start + duration})
}
