package scheduling

import (
	"errors"
	"fmt"

	"github.com/ehr/ehrsim/pkg/fhirmodels"
)

// AppointmentStatus is the lifecycle status of an Appointment.
type AppointmentStatus string

const (
	StatusBooked    AppointmentStatus = fhirmodels.AppointmentStatusBooked
	StatusCancelled AppointmentStatus = fhirmodels.AppointmentStatusCancelled
	StatusNoShow    AppointmentStatus = fhirmodels.AppointmentStatusNoShow
	StatusFinished  AppointmentStatus = fhirmodels.AppointmentStatusFinished
)

// ErrInvalidTransition is returned when a status change is not allowed.
var ErrInvalidTransition = errors.New("invalid appointment status transition")

var validAppointmentStatuses = map[AppointmentStatus]bool{
	StatusBooked: true, StatusCancelled: true, StatusNoShow: true, StatusFinished: true,
}

// Valid reports whether s is a known status.
func (s AppointmentStatus) Valid() bool { return validAppointmentStatuses[s] }

// Terminal reports whether no further transition is possible from s.
func (s AppointmentStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusNoShow || s == StatusFinished
}

// Occupies reports whether an appointment in this status holds its slot on
// the practitioner's calendar.
func (s AppointmentStatus) Occupies() bool {
	return s == StatusBooked || s == StatusNoShow
}

// CanTransition reports whether from -> to is allowed. Booked moves to
// exactly one terminal status and never reverts.
func CanTransition(from, to AppointmentStatus) bool {
	return from == StatusBooked && to.Terminal()
}

// Appointment is a scheduled visit between a patient and a practitioner.
// Times are virtual minutes.
type Appointment struct {
	ID                 string            `json:"id"`
	PatientID          string            `json:"patient_id"`
	PractitionerID     string            `json:"practitioner_id"`
	Created            int64             `json:"created"`
	Start              int64             `json:"scheduled_start"`
	Duration           int64             `json:"duration"`
	Status             AppointmentStatus `json:"status"`
	CancellationReason string            `json:"cancellation_reason,omitempty"`
}

// End returns the scheduled end time.
func (a *Appointment) End() int64 { return a.Start + a.Duration }

// Window returns the scheduled interval.
func (a *Appointment) Window() Interval {
	return Interval{Start: a.Start, End: a.End()}
}

// Transition moves the appointment to a terminal status. reason is kept only
// for cancellations.
func (a *Appointment) Transition(to AppointmentStatus, reason string) error {
	if !CanTransition(a.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, to)
	}
	a.Status = to
	if to == StatusCancelled {
		a.CancellationReason = reason
	}
	return nil
}
