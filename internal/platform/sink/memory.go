package sink

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math/rand"
	"sync"

	"github.com/google/uuid"

	"github.com/ehr/ehrsim/internal/domain/auditevent"
	"github.com/ehr/ehrsim/internal/domain/clinical"
	"github.com/ehr/ehrsim/internal/domain/encounter"
	"github.com/ehr/ehrsim/internal/domain/identity"
	"github.com/ehr/ehrsim/internal/domain/scheduling"
)

// RecordKind labels an entry in the memory sink's log.
type RecordKind string

const (
	KindAppointment  RecordKind = "appointment"
	KindStatusChange RecordKind = "appointment-status"
	KindEncounter    RecordKind = "encounter"
	KindObservation  RecordKind = "observation"
	KindAccessEvent  RecordKind = "access"
)

// StatusChange is the record of an appointment moving to a terminal status.
type StatusChange struct {
	ID            string                       `json:"id"`
	AppointmentID string                       `json:"appointment_id"`
	From          scheduling.AppointmentStatus `json:"from"`
	To            scheduling.AppointmentStatus `json:"to"`
	Reason        string                       `json:"reason,omitempty"`
	Recorded      int64                        `json:"recorded"`
}

// Record is one accepted record, in acceptance order. Exactly one of the
// payload pointers is set, matching Kind.
type Record struct {
	Seq            int        `json:"seq"`
	Kind           RecordKind `json:"kind"`
	ID             string     `json:"id"`
	At             int64      `json:"at"`
	PatientID      string     `json:"patient_id"`
	PractitionerID string     `json:"practitioner_id"`

	Appointment  *scheduling.Appointment `json:"appointment,omitempty"`
	StatusChange *StatusChange           `json:"status_change,omitempty"`
	Encounter    *encounter.Encounter    `json:"encounter,omitempty"`
	Observation  *clinical.Observation   `json:"observation,omitempty"`
	AccessEvent  *auditevent.AccessEvent `json:"access_event,omitempty"`
}

// Memory keeps every record in process. Ids are drawn from a seeded source,
// so two runs with the same seed produce identical logs.
type Memory struct {
	mu            sync.RWMutex
	reg           *registry
	ids           *rand.Rand
	practitioners []identity.Practitioner
	patients      []identity.Patient
	appointments  []string
	records       []Record
	onRecord      func(Record)
}

// NewMemory returns an empty in-memory sink.
func NewMemory(seed int64) *Memory {
	return &Memory{
		reg: newRegistry(),
		ids: rand.New(rand.NewSource(seed)),
	}
}

func (m *Memory) newID() string {
	return uuid.Must(uuid.NewRandomFromReader(m.ids)).String()
}

func (m *Memory) append(r Record) {
	r.Seq = len(m.records) + 1
	m.records = append(m.records, r)
	if m.onRecord != nil {
		m.onRecord(r)
	}
}

// OnRecord sets a function called with every accepted record. It runs with
// the sink locked and must not call back into it.
func (m *Memory) OnRecord(fn func(Record)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRecord = fn
}

func (m *Memory) RegisterPractitioner(_ context.Context, p *identity.Practitioner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.reg.addPractitioner(p.ID); err != nil {
		return err
	}
	m.practitioners = append(m.practitioners, *p)
	return nil
}

func (m *Memory) RegisterPatient(_ context.Context, p *identity.Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.reg.addPatient(p.ID); err != nil {
		return err
	}
	m.patients = append(m.patients, *p)
	return nil
}

func (m *Memory) CreateAppointment(_ context.Context, a *scheduling.Appointment) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.reg.checkAppointment(a); err != nil {
		return "", err
	}
	a.ID = m.newID()
	m.reg.commitTransition(*a)
	m.appointments = append(m.appointments, a.ID)

	snapshot := *a
	m.append(Record{
		Kind: KindAppointment, ID: a.ID, At: a.Created,
		PatientID: a.PatientID, PractitionerID: a.PractitionerID,
		Appointment: &snapshot,
	})
	return a.ID, nil
}

func (m *Memory) UpdateAppointmentStatus(_ context.Context, appointmentID string, to scheduling.AppointmentStatus, reason string, recorded int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	before, after, err := m.reg.transition(appointmentID, to, reason)
	if err != nil {
		return "", err
	}
	m.reg.commitTransition(after)

	change := &StatusChange{
		ID:            m.newID(),
		AppointmentID: appointmentID,
		From:          before.Status,
		To:            after.Status,
		Reason:        after.CancellationReason,
		Recorded:      recorded,
	}
	m.append(Record{
		Kind: KindStatusChange, ID: change.ID, At: recorded,
		PatientID: after.PatientID, PractitionerID: after.PractitionerID,
		StatusChange: change,
	})
	return change.ID, nil
}

func (m *Memory) CreateEncounter(_ context.Context, e *encounter.Encounter) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.reg.checkEncounter(e); err != nil {
		return "", err
	}
	e.ID = m.newID()
	m.reg.encounters[e.ID] = true

	snapshot := *e
	m.append(Record{
		Kind: KindEncounter, ID: e.ID, At: e.Start,
		PatientID: e.PatientID, PractitionerID: e.PractitionerID,
		Encounter: &snapshot,
	})
	return e.ID, nil
}

func (m *Memory) CreateObservation(_ context.Context, o *clinical.Observation) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.reg.checkObservation(o); err != nil {
		return "", err
	}
	o.ID = m.newID()
	m.reg.observations[o.ID] = true

	snapshot := *o
	m.append(Record{
		Kind: KindObservation, ID: o.ID, At: o.Timestamp,
		PatientID: o.PatientID, PractitionerID: o.PractitionerID,
		Observation: &snapshot,
	})
	return o.ID, nil
}

func (m *Memory) CreateAccessEvent(_ context.Context, e *auditevent.AccessEvent) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.reg.checkAccess(e); err != nil {
		return "", err
	}
	e.ID = m.newID()

	snapshot := *e
	if e.Context != nil {
		c := *e.Context
		snapshot.Context = &c
	}
	m.append(Record{
		Kind: KindAccessEvent, ID: e.ID, At: e.Recorded,
		PatientID: e.PatientID, PractitionerID: e.PractitionerID,
		AccessEvent: &snapshot,
	})
	return e.ID, nil
}

// Close is a no-op; the records stay readable.
func (m *Memory) Close() error { return nil }

// Records returns the accepted records in order. With no kinds it returns
// all of them.
func (m *Memory) Records(kinds ...RecordKind) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		if len(kinds) == 0 || containsKind(kinds, r.Kind) {
			out = append(out, r)
		}
	}
	return out
}

func containsKind(kinds []RecordKind, k RecordKind) bool {
	for _, want := range kinds {
		if want == k {
			return true
		}
	}
	return false
}

// Count returns the number of records per kind.
func (m *Memory) Count() map[RecordKind]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[RecordKind]int)
	for _, r := range m.records {
		out[r.Kind]++
	}
	return out
}

// Len returns the total number of records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Appointments returns the current state of every appointment in creation
// order.
func (m *Memory) Appointments() []scheduling.Appointment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]scheduling.Appointment, 0, len(m.appointments))
	for _, id := range m.appointments {
		out = append(out, *m.reg.appointments[id])
	}
	return out
}

// Appointment returns the current state of one appointment.
func (m *Memory) Appointment(id string) (scheduling.Appointment, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.reg.appointments[id]
	if !ok {
		return scheduling.Appointment{}, false
	}
	return *a, true
}

// Practitioners returns registered practitioners in registration order.
func (m *Memory) Practitioners() []identity.Practitioner {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]identity.Practitioner(nil), m.practitioners...)
}

// Patients returns registered patients in registration order.
func (m *Memory) Patients() []identity.Patient {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]identity.Patient(nil), m.patients...)
}

// Digest returns a SHA-256 over the JSON encoding of the record log. Equal
// digests mean identical logs.
func (m *Memory) Digest() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h := sha256.New()
	enc := json.NewEncoder(h)
	for i := range m.records {
		// Record holds only plain fields; encoding cannot fail.
		_ = enc.Encode(&m.records[i])
	}
	return hex.EncodeToString(h.Sum(nil))
}
