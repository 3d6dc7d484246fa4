package scheduling

import (
	"sort"

	"github.com/ehr/ehrsim/internal/domain/scheduling"
)

// EntryKind says what occupies a calendar entry.
type EntryKind string

const (
	EntryAppointment EntryKind = "appointment"
	EntryEncounter   EntryKind = "encounter"
	EntryObservation EntryKind = "observation"
	EntryHold        EntryKind = "hold"
)

// Entry is one busy interval on a practitioner's calendar. Ref is the id of
// the record or hold that owns it.
type Entry struct {
	Ref  string              `json:"ref"`
	Kind EntryKind           `json:"kind"`
	Span scheduling.Interval `json:"span"`
}

// book holds one practitioner's entries sorted by start time. maxLen is an
// upper bound on entry length used to bound the backwards search in Busy.
type book struct {
	entries []Entry
	maxLen  int64
}

// Calendar is the occupied-interval index the slot finder searches. It is
// owned by a single simulation and is not safe for concurrent use.
type Calendar struct {
	books map[string]*book
}

// NewCalendar creates an empty calendar.
func NewCalendar() *Calendar {
	return &Calendar{books: make(map[string]*book)}
}

func (c *Calendar) book(practitionerID string) *book {
	b, ok := c.books[practitionerID]
	if !ok {
		b = &book{}
		c.books[practitionerID] = b
	}
	return b
}

// Reserve adds an entry. Entries with equal start times keep insertion order.
func (c *Calendar) Reserve(practitionerID string, e Entry) {
	b := c.book(practitionerID)
	idx := sort.Search(len(b.entries), func(i int) bool {
		return b.entries[i].Span.Start > e.Span.Start
	})
	b.entries = append(b.entries, Entry{})
	copy(b.entries[idx+1:], b.entries[idx:])
	b.entries[idx] = e
	if l := e.Span.Len(); l > b.maxLen {
		b.maxLen = l
	}
}

// Release removes the entry owned by ref and reports whether it existed.
func (c *Calendar) Release(practitionerID, ref string) bool {
	b, ok := c.books[practitionerID]
	if !ok {
		return false
	}
	for i := len(b.entries) - 1; i >= 0; i-- {
		if b.entries[i].Ref == ref {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Busy returns the entries overlapping window, sorted by start.
func (c *Calendar) Busy(practitionerID string, window scheduling.Interval) []Entry {
	b, ok := c.books[practitionerID]
	if !ok {
		return nil
	}
	from := window.Start - b.maxLen
	lo := sort.Search(len(b.entries), func(i int) bool {
		return b.entries[i].Span.Start >= from
	})
	var out []Entry
	for i := lo; i < len(b.entries) && b.entries[i].Span.Start < window.End; i++ {
		if b.entries[i].Span.Overlaps(window) {
			out = append(out, b.entries[i])
		}
	}
	return out
}

// Conflicts reports whether any entry overlaps iv.
func (c *Calendar) Conflicts(practitionerID string, iv scheduling.Interval) bool {
	return len(c.Busy(practitionerID, iv)) > 0
}

// Len returns the number of entries on a practitioner's calendar.
func (c *Calendar) Len(practitionerID string) int {
	if b, ok := c.books[practitionerID]; ok {
		return len(b.entries)
	}
	return 0
}

// Prune drops entries that end at or before t. Searches never start before
// the current time, so entries in the past only cost memory.
func (c *Calendar) Prune(t int64) int {
	dropped := 0
	for _, b := range c.books {
		kept := b.entries[:0]
		for _, e := range b.entries {
			if e.Span.End > t {
				kept = append(kept, e)
			} else {
				dropped++
			}
		}
		for i := len(kept); i < len(b.entries); i++ {
			b.entries[i] = Entry{}
		}
		b.entries = kept
	}
	return dropped
}
