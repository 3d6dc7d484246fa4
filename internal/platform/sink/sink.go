// Package sink receives the records a simulation run emits. Every
// implementation validates references the same way, so a record naming an
// unregistered patient or practitioner is rejected regardless of backend.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/ehr/ehrsim/internal/domain/auditevent"
	"github.com/ehr/ehrsim/internal/domain/clinical"
	"github.com/ehr/ehrsim/internal/domain/encounter"
	"github.com/ehr/ehrsim/internal/domain/identity"
	"github.com/ehr/ehrsim/internal/domain/scheduling"
	"github.com/ehr/ehrsim/pkg/fhirmodels"
)

// ErrUnknownReference is wrapped by every reference error.
var ErrUnknownReference = errors.New("unknown reference")

var (
	ErrUnknownPatient      = fmt.Errorf("%w: patient", ErrUnknownReference)
	ErrUnknownPractitioner = fmt.Errorf("%w: practitioner", ErrUnknownReference)
	ErrUnknownAppointment  = fmt.Errorf("%w: appointment", ErrUnknownReference)
	ErrUnknownEncounter    = fmt.Errorf("%w: encounter", ErrUnknownReference)
	ErrUnknownContext      = fmt.Errorf("%w: access context", ErrUnknownReference)
)

// ErrDuplicate is returned when an entity is registered twice.
var ErrDuplicate = errors.New("duplicate registration")

// IsReferenceError reports whether err was caused by a dangling reference.
func IsReferenceError(err error) bool {
	return errors.Is(err, ErrUnknownReference)
}

// Sink is the destination of all simulated records. Create methods assign and
// return the record id. UpdateAppointmentStatus returns the id of the status
// change record.
type Sink interface {
	RegisterPractitioner(ctx context.Context, p *identity.Practitioner) error
	RegisterPatient(ctx context.Context, p *identity.Patient) error
	CreateAppointment(ctx context.Context, a *scheduling.Appointment) (string, error)
	UpdateAppointmentStatus(ctx context.Context, appointmentID string, to scheduling.AppointmentStatus, reason string, recorded int64) (string, error)
	CreateEncounter(ctx context.Context, e *encounter.Encounter) (string, error)
	CreateObservation(ctx context.Context, o *clinical.Observation) (string, error)
	CreateAccessEvent(ctx context.Context, e *auditevent.AccessEvent) (string, error)
	Close() error
}

// registry tracks the ids a sink has accepted. It is not safe for concurrent
// use; callers hold their own lock.
type registry struct {
	patients      map[string]bool
	practitioners map[string]bool
	appointments  map[string]*scheduling.Appointment
	encounters    map[string]bool
	observations  map[string]bool
}

func newRegistry() *registry {
	return &registry{
		patients:      make(map[string]bool),
		practitioners: make(map[string]bool),
		appointments:  make(map[string]*scheduling.Appointment),
		encounters:    make(map[string]bool),
		observations:  make(map[string]bool),
	}
}

func (r *registry) addPractitioner(id string) error {
	if r.practitioners[id] {
		return fmt.Errorf("%w: practitioner %s", ErrDuplicate, id)
	}
	r.practitioners[id] = true
	return nil
}

func (r *registry) addPatient(id string) error {
	if r.patients[id] {
		return fmt.Errorf("%w: patient %s", ErrDuplicate, id)
	}
	r.patients[id] = true
	return nil
}

func (r *registry) checkParties(patientID, practitionerID string) error {
	if !r.patients[patientID] {
		return fmt.Errorf("%w %s", ErrUnknownPatient, patientID)
	}
	if !r.practitioners[practitionerID] {
		return fmt.Errorf("%w %s", ErrUnknownPractitioner, practitionerID)
	}
	return nil
}

func (r *registry) checkAppointment(a *scheduling.Appointment) error {
	if err := r.checkParties(a.PatientID, a.PractitionerID); err != nil {
		return err
	}
	if a.Status != scheduling.StatusBooked {
		return fmt.Errorf("%w: new appointment must be %s, got %s",
			scheduling.ErrInvalidTransition, scheduling.StatusBooked, a.Status)
	}
	return nil
}

// transition validates a status change and returns the snapshots before and
// after it. The stored appointment is only updated by commitTransition.
func (r *registry) transition(id string, to scheduling.AppointmentStatus, reason string) (before, after scheduling.Appointment, err error) {
	cur, ok := r.appointments[id]
	if !ok {
		return before, after, fmt.Errorf("%w %s", ErrUnknownAppointment, id)
	}
	before = *cur
	after = *cur
	if err := after.Transition(to, reason); err != nil {
		return before, after, err
	}
	return before, after, nil
}

func (r *registry) commitTransition(a scheduling.Appointment) {
	stored := a
	r.appointments[a.ID] = &stored
}

func (r *registry) checkEncounter(e *encounter.Encounter) error {
	if err := r.checkParties(e.PatientID, e.PractitionerID); err != nil {
		return err
	}
	if e.AppointmentID != "" {
		if _, ok := r.appointments[e.AppointmentID]; !ok {
			return fmt.Errorf("%w %s", ErrUnknownAppointment, e.AppointmentID)
		}
	}
	return e.Validate()
}

func (r *registry) checkObservation(o *clinical.Observation) error {
	if err := r.checkParties(o.PatientID, o.PractitionerID); err != nil {
		return err
	}
	if o.EncounterID != "" && !r.encounters[o.EncounterID] {
		return fmt.Errorf("%w %s", ErrUnknownEncounter, o.EncounterID)
	}
	return nil
}

func (r *registry) checkAccess(e *auditevent.AccessEvent) error {
	if err := r.checkParties(e.PatientID, e.PractitionerID); err != nil {
		return err
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("invalid access kind %q", e.Kind)
	}
	if e.Context == nil {
		return nil
	}
	var known bool
	switch e.Context.ResourceType {
	case fhirmodels.ResourceTypeAppointment:
		_, known = r.appointments[e.Context.ResourceID]
	case fhirmodels.ResourceTypeEncounter:
		known = r.encounters[e.Context.ResourceID]
	case fhirmodels.ResourceTypeObservation:
		known = r.observations[e.Context.ResourceID]
	}
	if !known {
		return fmt.Errorf("%w %s/%s", ErrUnknownContext, e.Context.ResourceType, e.Context.ResourceID)
	}
	return nil
}
