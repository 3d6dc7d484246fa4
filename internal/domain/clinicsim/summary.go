package clinicsim

import (
	"github.com/ehr/ehrsim/internal/domain/auditevent"
	"github.com/ehr/ehrsim/internal/domain/scheduling"
	"github.com/ehr/ehrsim/internal/platform/sim"
)

// AppointmentCounts tallies appointments by their status at the end of a run.
type AppointmentCounts struct {
	Created   int `json:"created"`
	Booked    int `json:"booked"`
	Cancelled int `json:"cancelled"`
	NoShow    int `json:"noshow"`
	Finished  int `json:"finished"`
}

func (a *AppointmentCounts) moved(to scheduling.AppointmentStatus) {
	a.Booked--
	switch to {
	case scheduling.StatusCancelled:
		a.Cancelled++
	case scheduling.StatusNoShow:
		a.NoShow++
	case scheduling.StatusFinished:
		a.Finished++
	}
}

// AccessCounts tallies access events.
type AccessCounts struct {
	Emergency  int `json:"emergency"`
	Care       int `json:"care"`
	Standalone int `json:"standalone"`
}

func (a *AccessCounts) add(kind auditevent.AccessKind, standalone bool) {
	if kind == auditevent.Emergency {
		a.Emergency++
	} else {
		a.Care++
	}
	if standalone {
		a.Standalone++
	}
}

// PopulationSample is the active population at one point in time.
type PopulationSample struct {
	At     int64 `json:"t"`
	Active int   `json:"active"`
}

// Summary describes a finished run.
type Summary struct {
	Seed          int64 `json:"seed"`
	Horizon       int64 `json:"horizon"`
	Practitioners int   `json:"practitioners"`

	Appointments    AppointmentCounts `json:"appointments"`
	Encounters      int               `json:"encounters"`
	AdHocEncounters int               `json:"ad_hoc_encounters"`
	Observations    int               `json:"observations"`
	AccessEvents    AccessCounts      `json:"access_events"`

	Admissions         int `json:"admissions"`
	Discharges         int `json:"discharges"`
	SchedulingFailures int `json:"scheduling_failures"`
	AdHocRejections    int `json:"ad_hoc_rejections"`
	ReferenceErrors    int `json:"reference_errors"`

	Population    []PopulationSample `json:"population"`
	PopulationMin int                `json:"population_min"`
	PopulationMax int                `json:"population_max"`

	Kernel sim.RunStats `json:"kernel"`
}

func (s *Summary) finish() {
	for i, p := range s.Population {
		if i == 0 || p.Active < s.PopulationMin {
			s.PopulationMin = p.Active
		}
		if i == 0 || p.Active > s.PopulationMax {
			s.PopulationMax = p.Active
		}
	}
}
