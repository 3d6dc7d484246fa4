package encounter

import (
	"errors"
	"math/rand"

	"github.com/ehr/ehrsim/internal/domain/scheduling"
	"github.com/ehr/ehrsim/pkg/fhirmodels"
)

// ErrInvalidEncounter is returned by Validate.
var ErrInvalidEncounter = errors.New("invalid encounter")

// Encounter is a patient-practitioner interaction. AppointmentID is empty for
// ad hoc encounters. Times are virtual minutes.
type Encounter struct {
	ID             string `db:"id" json:"id"`
	PatientID      string `db:"patient_id" json:"patient_id"`
	PractitionerID string `db:"practitioner_id" json:"practitioner_id"`
	AppointmentID  string `db:"appointment_id" json:"appointment_id,omitempty"`
	Start          int64  `db:"actual_start" json:"actual_start"`
	Duration       int64  `db:"duration" json:"duration"`
	Status         string `db:"status" json:"status"`
	ClassCode      string `db:"class_code" json:"class_code"`
}

// New builds a finished ambulatory encounter occupying span.
func New(patientID, practitionerID, appointmentID string, span scheduling.Interval) *Encounter {
	return &Encounter{
		PatientID:      patientID,
		PractitionerID: practitionerID,
		AppointmentID:  appointmentID,
		Start:          span.Start,
		Duration:       span.Len(),
		Status:         fhirmodels.EncounterStatusFinished,
		ClassCode:      fhirmodels.EncounterClassAmbulatory,
	}
}

// End returns the actual end time.
func (e *Encounter) End() int64 { return e.Start + e.Duration }

// Span returns the occupied interval.
func (e *Encounter) Span() scheduling.Interval {
	return scheduling.Interval{Start: e.Start, End: e.End()}
}

// AdHoc reports whether the encounter happened without an appointment.
func (e *Encounter) AdHoc() bool { return e.AppointmentID == "" }

// Validate checks required references and a positive duration.
func (e *Encounter) Validate() error {
	switch {
	case e.PatientID == "":
		return errors.Join(ErrInvalidEncounter, errors.New("patient_id is required"))
	case e.PractitionerID == "":
		return errors.Join(ErrInvalidEncounter, errors.New("practitioner_id is required"))
	case e.Duration <= 0:
		return errors.Join(ErrInvalidEncounter, errors.New("duration must be positive"))
	}
	return nil
}

// PlanWithin picks the actual interval of an encounter inside a visit
// window: the length is uniform in [len/2, len] but at least minDuration
// (never more than the window), and it starts at a uniform offset that keeps
// it inside the window.
func PlanWithin(rng *rand.Rand, window scheduling.Interval, minDuration int64) scheduling.Interval {
	total := window.Len()
	half := total / 2
	d := half + rng.Int63n(total-half+1)
	if d < minDuration {
		d = minDuration
	}
	if d > total {
		d = total
	}
	delay := rng.Int63n(total - d + 1)
	start := window.Start + delay
	return scheduling.Interval{Start: start, End: start + d}
}
