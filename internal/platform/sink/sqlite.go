package sink

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ehr/ehrsim/internal/domain/auditevent"
	"github.com/ehr/ehrsim/internal/domain/clinical"
	"github.com/ehr/ehrsim/internal/domain/encounter"
	"github.com/ehr/ehrsim/internal/domain/identity"
	"github.com/ehr/ehrsim/internal/domain/scheduling"
	"github.com/ehr/ehrsim/pkg/fhirmodels"
)

// SQLite writes records to a SQLite database. Each record and its provenance
// row are written in one transaction. Rows are scoped by run id so several
// runs can share a file.
type SQLite struct {
	mu    sync.Mutex
	db    *sql.DB
	runID string
	reg   *registry
	// seq numbers record writes in call order; provenance rows share the
	// number of the write they describe.
	seq int64
}

// NewSQLite starts a new run in db. The schema must already be migrated.
func NewSQLite(ctx context.Context, db *sql.DB, seed, horizon int64) (*SQLite, error) {
	s := &SQLite{db: db, runID: uuid.New().String(), reg: newRegistry()}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO sim_run (id, seed, horizon) VALUES (?, ?, ?)`,
		s.runID, seed, horizon,
	); err != nil {
		return nil, fmt.Errorf("insert sim_run: %w", err)
	}
	return s, nil
}

// RunID returns the id every row of this run is tagged with.
func (s *SQLite) RunID() string { return s.runID }

func (s *SQLite) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLite) insertProvenance(ctx context.Context, tx *sql.Tx, p provenance) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO provenance
		(id, run_id, seq, target_type, target_id, activity, practitioner_id, recorded, before_state, after_state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, s.runID, p.Seq, p.TargetType, p.TargetID, p.Activity, nullable(p.PractitionerID), p.Recorded, p.Before, p.After,
	)
	if err != nil {
		return fmt.Errorf("insert provenance: %w", err)
	}
	return nil
}

func (s *SQLite) RegisterPractitioner(ctx context.Context, p *identity.Practitioner) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reg.practitioners[p.ID] {
		return fmt.Errorf("%w: practitioner %s", ErrDuplicate, p.ID)
	}
	schedule, err := scheduleJSON(p)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO practitioner
		(id, run_id, npi, first_name, last_name, gender, role, schedule_kind, schedule)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, s.runID, p.NPI, p.FirstName, p.LastName, p.Gender, p.Role, string(p.ScheduleKind), schedule,
	); err != nil {
		return fmt.Errorf("insert practitioner: %w", err)
	}
	return s.reg.addPractitioner(p.ID)
}

func (s *SQLite) RegisterPatient(ctx context.Context, p *identity.Patient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reg.patients[p.ID] {
		return fmt.Errorf("%w: patient %s", ErrDuplicate, p.ID)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO patient
		(id, run_id, mrn, first_name, last_name, gender, birth_date, admitted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, s.runID, p.MRN, p.FirstName, p.LastName, p.Gender, p.BirthDate, p.Admitted,
	); err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	return s.reg.addPatient(p.ID)
}

func (s *SQLite) CreateAppointment(ctx context.Context, a *scheduling.Appointment) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reg.checkAppointment(a); err != nil {
		return "", err
	}
	a.ID = uuid.New().String()
	seq := s.seq + 1
	prov, err := createProvenance(uuid.New().String(), fhirmodels.ResourceTypeAppointment, a.ID, a.PractitionerID, a.Created, a)
	if err != nil {
		return "", err
	}
	prov.Seq = seq
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO appointment
			(id, run_id, seq, patient_id, practitioner_id, created, scheduled_start, duration, status, cancellation_reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, s.runID, seq, a.PatientID, a.PractitionerID, a.Created, a.Start, a.Duration, string(a.Status), nullable(a.CancellationReason),
		); err != nil {
			return fmt.Errorf("insert appointment: %w", err)
		}
		return s.insertProvenance(ctx, tx, prov)
	})
	if err != nil {
		return "", err
	}
	s.seq = seq
	s.reg.commitTransition(*a)
	return a.ID, nil
}

func (s *SQLite) UpdateAppointmentStatus(ctx context.Context, appointmentID string, to scheduling.AppointmentStatus, reason string, recorded int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before, after, err := s.reg.transition(appointmentID, to, reason)
	if err != nil {
		return "", err
	}
	seq := s.seq + 1
	prov, err := updateProvenance(uuid.New().String(), before, after, recorded)
	if err != nil {
		return "", err
	}
	prov.Seq = seq
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE appointment SET status = ?, cancellation_reason = ? WHERE id = ? AND run_id = ?`,
			string(after.Status), nullable(after.CancellationReason), appointmentID, s.runID,
		); err != nil {
			return fmt.Errorf("update appointment status: %w", err)
		}
		return s.insertProvenance(ctx, tx, prov)
	})
	if err != nil {
		return "", err
	}
	s.seq = seq
	s.reg.commitTransition(after)
	return prov.ID, nil
}

func (s *SQLite) CreateEncounter(ctx context.Context, e *encounter.Encounter) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reg.checkEncounter(e); err != nil {
		return "", err
	}
	e.ID = uuid.New().String()
	seq := s.seq + 1
	prov, err := createProvenance(uuid.New().String(), fhirmodels.ResourceTypeEncounter, e.ID, e.PractitionerID, e.Start, e)
	if err != nil {
		return "", err
	}
	prov.Seq = seq
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO encounter
			(id, run_id, seq, patient_id, practitioner_id, appointment_id, actual_start, duration, status, class_code)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, s.runID, seq, e.PatientID, e.PractitionerID, nullable(e.AppointmentID), e.Start, e.Duration, e.Status, e.ClassCode,
		); err != nil {
			return fmt.Errorf("insert encounter: %w", err)
		}
		return s.insertProvenance(ctx, tx, prov)
	})
	if err != nil {
		return "", err
	}
	s.seq = seq
	s.reg.encounters[e.ID] = true
	return e.ID, nil
}

func (s *SQLite) CreateObservation(ctx context.Context, o *clinical.Observation) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reg.checkObservation(o); err != nil {
		return "", err
	}
	o.ID = uuid.New().String()
	seq := s.seq + 1
	prov, err := createProvenance(uuid.New().String(), fhirmodels.ResourceTypeObservation, o.ID, o.PractitionerID, o.Timestamp, o)
	if err != nil {
		return "", err
	}
	prov.Seq = seq
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO observation
			(id, run_id, seq, patient_id, practitioner_id, encounter_id, timestamp, status, category_code, code_value, code_display, value_string)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			o.ID, s.runID, seq, o.PatientID, o.PractitionerID, nullable(o.EncounterID), o.Timestamp, o.Status, o.Category, o.Code, o.Display, o.Value,
		); err != nil {
			return fmt.Errorf("insert observation: %w", err)
		}
		return s.insertProvenance(ctx, tx, prov)
	})
	if err != nil {
		return "", err
	}
	s.seq = seq
	s.reg.observations[o.ID] = true
	return o.ID, nil
}

func (s *SQLite) CreateAccessEvent(ctx context.Context, e *auditevent.AccessEvent) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reg.checkAccess(e); err != nil {
		return "", err
	}
	e.ID = uuid.New().String()
	seq := s.seq + 1
	rt, rid := accessContext(e)
	if _, err := s.db.ExecContext(ctx, `INSERT INTO access_event
		(id, run_id, seq, patient_id, practitioner_id, recorded, kind, type_code, action, outcome,
		 purpose_of_use_code, purpose_of_event, target_resource_type, target_resource_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, s.runID, seq, e.PatientID, e.PractitionerID, e.Recorded, string(e.Kind), e.TypeCode, e.Action, e.Outcome,
		e.PurposeCode, e.PurposeText, rt, rid,
	); err != nil {
		return "", fmt.Errorf("insert access event: %w", err)
	}
	s.seq = seq
	return e.ID, nil
}

// CountRecords returns the number of rows per event table for this run.
func (s *SQLite) CountRecords(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64)
	for _, table := range []string{"appointment", "encounter", "observation", "access_event", "provenance"} {
		var n int64
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM `+table+` WHERE run_id = ?`, s.runID,
		).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		out[table] = n
	}
	return out, nil
}

// Close leaves the database open; its owner closes it.
func (s *SQLite) Close() error { return nil }
