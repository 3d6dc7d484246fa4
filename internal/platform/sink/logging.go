package sink

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/ehr/ehrsim/internal/domain/auditevent"
	"github.com/ehr/ehrsim/internal/domain/clinical"
	"github.com/ehr/ehrsim/internal/domain/encounter"
	"github.com/ehr/ehrsim/internal/domain/identity"
	"github.com/ehr/ehrsim/internal/domain/scheduling"
)

type loggingSink struct {
	next   Sink
	logger zerolog.Logger
}

// WithLogging wraps next so that every accepted record is logged at debug
// level and every rejected one at warn level.
func WithLogging(next Sink, logger zerolog.Logger) Sink {
	return &loggingSink{next: next, logger: logger.With().Str("component", "sink").Logger()}
}

func (s *loggingSink) log(kind RecordKind, id string, at int64, patientID, practitionerID string, err error) {
	evt := s.logger.Debug()
	if err != nil {
		evt = s.logger.Warn().Err(err)
	}
	evt.
		Str("kind", string(kind)).
		Str("id", id).
		Int64("t", at).
		Str("patient_id", patientID).
		Str("practitioner_id", practitionerID).
		Msg("record")
}

func (s *loggingSink) RegisterPractitioner(ctx context.Context, p *identity.Practitioner) error {
	err := s.next.RegisterPractitioner(ctx, p)
	evt := s.logger.Debug()
	if err != nil {
		evt = s.logger.Warn().Err(err)
	}
	evt.Str("practitioner_id", p.ID).Str("schedule", string(p.ScheduleKind)).Msg("practitioner registered")
	return err
}

func (s *loggingSink) RegisterPatient(ctx context.Context, p *identity.Patient) error {
	err := s.next.RegisterPatient(ctx, p)
	evt := s.logger.Debug()
	if err != nil {
		evt = s.logger.Warn().Err(err)
	}
	evt.Str("patient_id", p.ID).Int64("t", p.Admitted).Msg("patient registered")
	return err
}

func (s *loggingSink) CreateAppointment(ctx context.Context, a *scheduling.Appointment) (string, error) {
	id, err := s.next.CreateAppointment(ctx, a)
	s.log(KindAppointment, id, a.Created, a.PatientID, a.PractitionerID, err)
	return id, err
}

func (s *loggingSink) UpdateAppointmentStatus(ctx context.Context, appointmentID string, to scheduling.AppointmentStatus, reason string, recorded int64) (string, error) {
	id, err := s.next.UpdateAppointmentStatus(ctx, appointmentID, to, reason, recorded)
	evt := s.logger.Debug()
	if err != nil {
		evt = s.logger.Warn().Err(err)
	}
	evt.
		Str("kind", string(KindStatusChange)).
		Str("id", id).
		Str("appointment_id", appointmentID).
		Str("status", string(to)).
		Int64("t", recorded).
		Msg("record")
	return id, err
}

func (s *loggingSink) CreateEncounter(ctx context.Context, e *encounter.Encounter) (string, error) {
	id, err := s.next.CreateEncounter(ctx, e)
	s.log(KindEncounter, id, e.Start, e.PatientID, e.PractitionerID, err)
	return id, err
}

func (s *loggingSink) CreateObservation(ctx context.Context, o *clinical.Observation) (string, error) {
	id, err := s.next.CreateObservation(ctx, o)
	s.log(KindObservation, id, o.Timestamp, o.PatientID, o.PractitionerID, err)
	return id, err
}

func (s *loggingSink) CreateAccessEvent(ctx context.Context, e *auditevent.AccessEvent) (string, error) {
	id, err := s.next.CreateAccessEvent(ctx, e)
	s.log(KindAccessEvent, id, e.Recorded, e.PatientID, e.PractitionerID, err)
	return id, err
}

func (s *loggingSink) Close() error {
	return s.next.Close()
}
