package scheduling

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
)

// Time constants, in virtual minutes. t=0 is a Monday at 00:00.
const (
	MinutesPerDay  = 24 * 60
	MinutesPerWeek = 7 * MinutesPerDay
	DaysPerWeek    = 7
)

// Interval is a half-open minute range [Start, End).
type Interval struct {
	Start int64 `json:"start" yaml:"start"`
	End   int64 `json:"end" yaml:"end"`
}

// Len returns the interval length in minutes.
func (iv Interval) Len() int64 { return iv.End - iv.Start }

// Overlaps reports whether two half-open intervals share at least one minute.
func (iv Interval) Overlaps(o Interval) bool {
	return iv.Start < o.End && o.Start < iv.End
}

// Contains reports whether o lies entirely inside iv.
func (iv Interval) Contains(o Interval) bool {
	return iv.Start <= o.Start && o.End <= iv.End
}

func (iv Interval) String() string {
	return fmt.Sprintf("[%d,%d)", iv.Start, iv.End)
}

// Weekday returns the day of the week for a virtual time, Monday=0.
func Weekday(t int64) int {
	return int((t / MinutesPerDay) % DaysPerWeek)
}

// MinuteOfDay returns the minute within the day for a virtual time.
func MinuteOfDay(t int64) int64 {
	return t % MinutesPerDay
}

// DayStart returns the virtual time of midnight on the day containing t.
func DayStart(t int64) int64 {
	return t - MinuteOfDay(t)
}

// ErrInvalidWorkSchedule is returned by WorkSchedule.Validate.
var ErrInvalidWorkSchedule = errors.New("invalid work schedule")

// WorkSchedule maps weekday (Monday=0) to ordered, disjoint working-hours
// blocks within a day. It is fixed for a practitioner for the whole run.
type WorkSchedule [DaysPerWeek][]Interval

// Validate checks that every block lies in [0,1440), is non-empty and that
// the blocks of a day are sorted and disjoint.
func (ws WorkSchedule) Validate() error {
	for day, blocks := range ws {
		var prevEnd int64 = -1
		for _, b := range blocks {
			if b.Start < 0 || b.End > MinutesPerDay || b.Start >= b.End {
				return fmt.Errorf("%w: day %d block %s out of range", ErrInvalidWorkSchedule, day, b)
			}
			if b.Start < prevEnd {
				return fmt.Errorf("%w: day %d block %s overlaps or is out of order", ErrInvalidWorkSchedule, day, b)
			}
			prevEnd = b.End
		}
	}
	return nil
}

// IsEmpty reports whether the schedule has no working hours at all.
func (ws WorkSchedule) IsEmpty() bool {
	for _, blocks := range ws {
		if len(blocks) > 0 {
			return false
		}
	}
	return true
}

// Blocks returns the working-hours blocks for a weekday.
func (ws WorkSchedule) Blocks(day int) []Interval {
	return ws[day]
}

// Fits reports whether [start, start+duration) lies inside a single working
// block of start's day. A slot never spans a block boundary or midnight.
func (ws WorkSchedule) Fits(start, duration int64) bool {
	_, ok := ws.BlockAt(start, duration)
	return ok
}

// BlockAt returns the working block, in absolute virtual time, that contains
// [start, start+duration).
func (ws WorkSchedule) BlockAt(start, duration int64) (Interval, bool) {
	day := DayStart(start)
	slot := Interval{Start: start, End: start + duration}
	for _, b := range ws[Weekday(start)] {
		abs := Interval{Start: day + b.Start, End: day + b.End}
		if abs.Contains(slot) {
			return abs, true
		}
	}
	return Interval{}, false
}

// WeeklyMinutes returns the total working minutes per week.
func (ws WorkSchedule) WeeklyMinutes() int64 {
	var total int64
	for _, blocks := range ws {
		for _, b := range blocks {
			total += b.Len()
		}
	}
	return total
}

// ---------------------------------------------------------------------------
// Templates
// ---------------------------------------------------------------------------

// ScheduleKind names a work-schedule template.
type ScheduleKind string

const (
	ScheduleFullTime ScheduleKind = "full_time"
	ScheduleEvening  ScheduleKind = "evening"
	ScheduleSplit    ScheduleKind = "split"
	SchedulePartTime ScheduleKind = "part_time"
	ScheduleWeekend  ScheduleKind = "weekend"
	ScheduleRotating ScheduleKind = "rotating"
)

// ScheduleKinds lists every template in a stable order.
var ScheduleKinds = []ScheduleKind{
	ScheduleFullTime,
	ScheduleEvening,
	ScheduleSplit,
	SchedulePartTime,
	ScheduleWeekend,
	ScheduleRotating,
}

// ErrUnknownScheduleKind is returned for a template name that does not exist.
var ErrUnknownScheduleKind = errors.New("unknown schedule kind")

// ParseScheduleKind validates a template name.
func ParseScheduleKind(s string) (ScheduleKind, error) {
	for _, k := range ScheduleKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownScheduleKind, s)
}

func hours(h int64) int64 { return h * 60 }

func weekdays(blocks ...Interval) WorkSchedule {
	var ws WorkSchedule
	for day := 0; day < 5; day++ {
		ws[day] = append([]Interval(nil), blocks...)
	}
	return ws
}

var rotatingShifts = []Interval{
	{Start: 0, End: hours(8)},
	{Start: hours(8), End: hours(16)},
	{Start: hours(16), End: hours(24)},
}

// SampleWorkSchedule builds the template named kind. Only the rotating
// template consumes randomness: one 8-hour shift per day.
func SampleWorkSchedule(rng *rand.Rand, kind ScheduleKind) (WorkSchedule, error) {
	var ws WorkSchedule
	switch kind {
	case ScheduleFullTime:
		ws = weekdays(Interval{Start: hours(9), End: hours(17)})
	case ScheduleEvening:
		ws = weekdays(Interval{Start: hours(14), End: hours(22)})
	case ScheduleSplit:
		ws = weekdays(
			Interval{Start: hours(9), End: hours(12)},
			Interval{Start: hours(14), End: hours(18)},
		)
	case SchedulePartTime:
		for _, day := range []int{1, 3, 5} {
			ws[day] = []Interval{{Start: hours(8), End: hours(12)}}
		}
	case ScheduleWeekend:
		for _, day := range []int{5, 6} {
			ws[day] = []Interval{{Start: hours(10), End: hours(16)}}
		}
	case ScheduleRotating:
		for day := 0; day < DaysPerWeek; day++ {
			ws[day] = []Interval{rotatingShifts[rng.Intn(len(rotatingShifts))]}
		}
	default:
		return ws, fmt.Errorf("%w: %q", ErrUnknownScheduleKind, kind)
	}
	return ws, nil
}

// NewWorkSchedule builds a schedule from a weekday map, sorting each day's
// blocks. The result is validated.
func NewWorkSchedule(days map[int][]Interval) (WorkSchedule, error) {
	var ws WorkSchedule
	for day := 0; day < DaysPerWeek; day++ {
		blocks := append([]Interval(nil), days[day]...)
		sort.Slice(blocks, func(i, j int) bool { return blocks[i].Start < blocks[j].Start })
		ws[day] = blocks
	}
	for day := range days {
		if day < 0 || day >= DaysPerWeek {
			return ws, fmt.Errorf("%w: weekday %d", ErrInvalidWorkSchedule, day)
		}
	}
	if err := ws.Validate(); err != nil {
		return ws, err
	}
	return ws, nil
}
