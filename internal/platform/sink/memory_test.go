package sink

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ehr/ehrsim/internal/domain/auditevent"
	"github.com/ehr/ehrsim/internal/domain/clinical"
	"github.com/ehr/ehrsim/internal/domain/encounter"
	"github.com/ehr/ehrsim/internal/domain/identity"
	"github.com/ehr/ehrsim/internal/domain/scheduling"
	"github.com/ehr/ehrsim/pkg/fhirmodels"
)

type fixture struct {
	patient      *identity.Patient
	practitioner *identity.Practitioner
}

func register(t *testing.T, s Sink) fixture {
	t.Helper()
	ctx := context.Background()
	gen := identity.NewGenerator(7)
	ws, err := scheduling.SampleWorkSchedule(nil, scheduling.ScheduleFullTime)
	if err != nil {
		t.Fatalf("SampleWorkSchedule() error: %v", err)
	}
	pr := gen.Practitioner(scheduling.ScheduleFullTime, ws)
	pa := gen.Patient(0)
	if err := s.RegisterPractitioner(ctx, pr); err != nil {
		t.Fatalf("RegisterPractitioner() error: %v", err)
	}
	if err := s.RegisterPatient(ctx, pa); err != nil {
		t.Fatalf("RegisterPatient() error: %v", err)
	}
	return fixture{patient: pa, practitioner: pr}
}

func booked(f fixture, start int64) *scheduling.Appointment {
	return &scheduling.Appointment{
		PatientID:      f.patient.ID,
		PractitionerID: f.practitioner.ID,
		Created:        10,
		Start:          start,
		Duration:       30,
		Status:         scheduling.StatusBooked,
	}
}

func TestMemory_Cascade(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(1)
	f := register(t, m)

	a := booked(f, 540)
	apptID, err := m.CreateAppointment(ctx, a)
	if err != nil {
		t.Fatalf("CreateAppointment() error: %v", err)
	}
	if apptID == "" || a.ID != apptID {
		t.Fatalf("expected appointment id to be assigned, got %q / %q", apptID, a.ID)
	}

	enc := encounter.New(f.patient.ID, f.practitioner.ID, apptID, scheduling.Interval{Start: 545, End: 560})
	encID, err := m.CreateEncounter(ctx, enc)
	if err != nil {
		t.Fatalf("CreateEncounter() error: %v", err)
	}

	v := clinical.VitalSignFor(0)
	obs := clinical.NewObservation(f.patient.ID, f.practitioner.ID, encID, 575, v, "98.6 °F")
	obsID, err := m.CreateObservation(ctx, obs)
	if err != nil {
		t.Fatalf("CreateObservation() error: %v", err)
	}

	access := auditevent.New(auditevent.Care, f.patient.ID, f.practitioner.ID, 576,
		&auditevent.Context{ResourceType: fhirmodels.ResourceTypeObservation, ResourceID: obsID})
	if _, err := m.CreateAccessEvent(ctx, access); err != nil {
		t.Fatalf("CreateAccessEvent() error: %v", err)
	}

	if _, err := m.UpdateAppointmentStatus(ctx, apptID, scheduling.StatusFinished, "", 570); err != nil {
		t.Fatalf("UpdateAppointmentStatus() error: %v", err)
	}

	counts := m.Count()
	for _, k := range []RecordKind{KindAppointment, KindEncounter, KindObservation, KindAccessEvent, KindStatusChange} {
		if counts[k] != 1 {
			t.Errorf("expected 1 %s record, got %d", k, counts[k])
		}
	}

	got, ok := m.Appointment(apptID)
	if !ok || got.Status != scheduling.StatusFinished {
		t.Errorf("expected finished appointment, got %+v", got)
	}

	recs := m.Records(KindAppointment)
	if recs[0].Appointment.Status != scheduling.StatusBooked {
		t.Errorf("appointment record should keep its booked snapshot, got %s", recs[0].Appointment.Status)
	}
	for i, r := range m.Records() {
		if r.Seq != i+1 {
			t.Errorf("record %d has seq %d", i, r.Seq)
		}
	}
}

func TestMemory_OnRecord(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(1)
	var seen []Record
	m.OnRecord(func(r Record) { seen = append(seen, r) })
	f := register(t, m)

	apptID, err := m.CreateAppointment(ctx, booked(f, 540))
	if err != nil {
		t.Fatalf("CreateAppointment() error: %v", err)
	}
	if _, err := m.UpdateAppointmentStatus(ctx, apptID, scheduling.StatusCancelled, "Patient cancelled", 100); err != nil {
		t.Fatalf("UpdateAppointmentStatus() error: %v", err)
	}
	if _, err := m.CreateEncounter(ctx, encounter.New("nobody", f.practitioner.ID, "", scheduling.Interval{Start: 1, End: 2})); err == nil {
		t.Fatal("expected reference error")
	}

	if len(seen) != 2 {
		t.Fatalf("expected 2 records, got %d", len(seen))
	}
	if seen[0].Kind != KindAppointment || seen[1].Kind != KindStatusChange {
		t.Errorf("unexpected kinds %s, %s", seen[0].Kind, seen[1].Kind)
	}
	if seen[1].Seq != 2 {
		t.Errorf("expected seq 2, got %d", seen[1].Seq)
	}
}

func TestMemory_UnknownReferences(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(1)
	f := register(t, m)

	a := booked(f, 540)
	a.PatientID = "nobody"
	if _, err := m.CreateAppointment(ctx, a); !errors.Is(err, ErrUnknownPatient) {
		t.Errorf("expected ErrUnknownPatient, got %v", err)
	}

	a = booked(f, 540)
	a.PractitionerID = "nobody"
	if _, err := m.CreateAppointment(ctx, a); !errors.Is(err, ErrUnknownPractitioner) {
		t.Errorf("expected ErrUnknownPractitioner, got %v", err)
	}

	if _, err := m.UpdateAppointmentStatus(ctx, "missing", scheduling.StatusCancelled, "", 0); !errors.Is(err, ErrUnknownAppointment) {
		t.Errorf("expected ErrUnknownAppointment, got %v", err)
	}

	enc := encounter.New(f.patient.ID, f.practitioner.ID, "missing", scheduling.Interval{Start: 0, End: 10})
	if _, err := m.CreateEncounter(ctx, enc); !errors.Is(err, ErrUnknownAppointment) {
		t.Errorf("expected ErrUnknownAppointment, got %v", err)
	}

	obs := clinical.NewObservation(f.patient.ID, f.practitioner.ID, "missing", 5, clinical.VitalSignFor(1), "72 bpm")
	if _, err := m.CreateObservation(ctx, obs); !errors.Is(err, ErrUnknownEncounter) {
		t.Errorf("expected ErrUnknownEncounter, got %v", err)
	}

	access := auditevent.New(auditevent.Emergency, f.patient.ID, f.practitioner.ID, 5,
		&auditevent.Context{ResourceType: fhirmodels.ResourceTypeEncounter, ResourceID: "missing"})
	_, err := m.CreateAccessEvent(ctx, access)
	if !errors.Is(err, ErrUnknownContext) || !IsReferenceError(err) {
		t.Errorf("expected ErrUnknownContext, got %v", err)
	}

	if m.Len() != 0 {
		t.Errorf("rejected records must not be stored, got %d", m.Len())
	}
}

func TestMemory_DuplicateRegistration(t *testing.T) {
	m := NewMemory(1)
	f := register(t, m)
	if err := m.RegisterPatient(context.Background(), f.patient); !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestMemory_TransitionIsFinal(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(1)
	f := register(t, m)

	id, err := m.CreateAppointment(ctx, booked(f, 540))
	if err != nil {
		t.Fatalf("CreateAppointment() error: %v", err)
	}
	if _, err := m.UpdateAppointmentStatus(ctx, id, scheduling.StatusCancelled, "Patient cancelled", 20); err != nil {
		t.Fatalf("UpdateAppointmentStatus() error: %v", err)
	}
	if _, err := m.UpdateAppointmentStatus(ctx, id, scheduling.StatusFinished, "", 30); !errors.Is(err, scheduling.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}

	changes := m.Records(KindStatusChange)
	if len(changes) != 1 {
		t.Fatalf("expected 1 status change, got %d", len(changes))
	}
	sc := changes[0].StatusChange
	if sc.From != scheduling.StatusBooked || sc.To != scheduling.StatusCancelled || sc.Reason != "Patient cancelled" {
		t.Errorf("unexpected status change: %+v", sc)
	}
}

func TestMemory_RejectsNonBookedCreate(t *testing.T) {
	m := NewMemory(1)
	f := register(t, m)
	a := booked(f, 540)
	a.Status = scheduling.StatusFinished
	if _, err := m.CreateAppointment(context.Background(), a); !errors.Is(err, scheduling.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestMemory_DigestDeterministic(t *testing.T) {
	build := func() string {
		ctx := context.Background()
		m := NewMemory(99)
		f := register(t, m)
		for i := int64(0); i < 3; i++ {
			if _, err := m.CreateAppointment(ctx, booked(f, 540+i*60)); err != nil {
				t.Fatalf("CreateAppointment() error: %v", err)
			}
		}
		return m.Digest()
	}
	if a, b := build(), build(); a != b {
		t.Errorf("expected equal digests, got %s and %s", a, b)
	}
}

func TestWithLogging_PassesThrough(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	m := NewMemory(1)
	s := WithLogging(m, logger)
	f := register(t, s)

	if _, err := s.CreateAppointment(context.Background(), booked(f, 540)); err != nil {
		t.Fatalf("CreateAppointment() error: %v", err)
	}
	a := booked(f, 600)
	a.PatientID = "nobody"
	if _, err := s.CreateAppointment(context.Background(), a); !IsReferenceError(err) {
		t.Errorf("expected reference error to pass through, got %v", err)
	}

	if m.Len() != 1 {
		t.Errorf("expected 1 record in wrapped sink, got %d", m.Len())
	}
	out := buf.String()
	if !strings.Contains(out, `"kind":"appointment"`) {
		t.Errorf("expected appointment log line, got %s", out)
	}
	if !strings.Contains(out, `"level":"warn"`) {
		t.Errorf("expected warn line for rejected record, got %s", out)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}
