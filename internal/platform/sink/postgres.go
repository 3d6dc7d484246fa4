package sink

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/ehrsim/internal/domain/auditevent"
	"github.com/ehr/ehrsim/internal/domain/clinical"
	"github.com/ehr/ehrsim/internal/domain/encounter"
	"github.com/ehr/ehrsim/internal/domain/identity"
	"github.com/ehr/ehrsim/internal/domain/scheduling"
	"github.com/ehr/ehrsim/pkg/fhirmodels"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

const (
	practitionerCols = `id, run_id, npi, first_name, last_name, gender, role, schedule_kind, schedule`
	patientCols      = `id, run_id, mrn, first_name, last_name, gender, birth_date, admitted`
	appointmentCols  = `id, run_id, seq, patient_id, practitioner_id, created, scheduled_start, duration, status, cancellation_reason`
	encounterCols    = `id, run_id, seq, patient_id, practitioner_id, appointment_id, actual_start, duration, status, class_code`
	observationCols  = `id, run_id, seq, patient_id, practitioner_id, encounter_id, timestamp, status, category_code, code_value, code_display, value_string`
	accessEventCols  = `id, run_id, seq, patient_id, practitioner_id, recorded, kind, type_code, action, outcome,
		purpose_of_use_code, purpose_of_event, target_resource_type, target_resource_id`
	provenanceCols = `id, run_id, seq, target_type, target_id, activity, practitioner_id, recorded, before_state, after_state`
)

// Postgres writes records through a pgx pool. Like SQLite, every row carries
// the run id.
type Postgres struct {
	mu    sync.Mutex
	pool  *pgxpool.Pool
	runID string
	reg   *registry
	seq   int64
}

// NewPostgres starts a new run. The schema must already be migrated.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool, seed, horizon int64) (*Postgres, error) {
	s := &Postgres{pool: pool, runID: uuid.New().String(), reg: newRegistry()}
	if _, err := pool.Exec(ctx,
		`INSERT INTO sim_run (id, seed, horizon) VALUES ($1, $2, $3)`,
		s.runID, seed, horizon,
	); err != nil {
		return nil, fmt.Errorf("insert sim_run: %w", err)
	}
	return s, nil
}

// RunID returns the id every row of this run is tagged with.
func (s *Postgres) RunID() string { return s.runID }

func (s *Postgres) inTx(ctx context.Context, fn func(q queryable) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Postgres) insertProvenance(ctx context.Context, q queryable, p provenance) error {
	_, err := q.Exec(ctx, `INSERT INTO provenance (`+provenanceCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, s.runID, p.Seq, p.TargetType, p.TargetID, p.Activity, nullable(p.PractitionerID), p.Recorded, p.Before, p.After,
	)
	if err != nil {
		return fmt.Errorf("insert provenance: %w", err)
	}
	return nil
}

func (s *Postgres) RegisterPractitioner(ctx context.Context, p *identity.Practitioner) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reg.practitioners[p.ID] {
		return fmt.Errorf("%w: practitioner %s", ErrDuplicate, p.ID)
	}
	schedule, err := scheduleJSON(p)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `INSERT INTO practitioner (`+practitionerCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, s.runID, p.NPI, p.FirstName, p.LastName, p.Gender, p.Role, string(p.ScheduleKind), schedule,
	); err != nil {
		return fmt.Errorf("insert practitioner: %w", err)
	}
	return s.reg.addPractitioner(p.ID)
}

func (s *Postgres) RegisterPatient(ctx context.Context, p *identity.Patient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reg.patients[p.ID] {
		return fmt.Errorf("%w: patient %s", ErrDuplicate, p.ID)
	}
	if _, err := s.pool.Exec(ctx, `INSERT INTO patient (`+patientCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, s.runID, p.MRN, p.FirstName, p.LastName, p.Gender, p.BirthDate, p.Admitted,
	); err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	return s.reg.addPatient(p.ID)
}

func (s *Postgres) CreateAppointment(ctx context.Context, a *scheduling.Appointment) (string, error) {
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
	err = s.inTx(ctx, func(q queryable) error {
		if _, err := q.Exec(ctx, `INSERT INTO appointment (`+appointmentCols+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			a.ID, s.runID, seq, a.PatientID, a.PractitionerID, a.Created, a.Start, a.Duration, string(a.Status), nullable(a.CancellationReason),
		); err != nil {
			return fmt.Errorf("insert appointment: %w", err)
		}
		return s.insertProvenance(ctx, q, prov)
	})
	if err != nil {
		return "", err
	}
	s.seq = seq
	s.reg.commitTransition(*a)
	return a.ID, nil
}

func (s *Postgres) UpdateAppointmentStatus(ctx context.Context, appointmentID string, to scheduling.AppointmentStatus, reason string, recorded int64) (string, error) {
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
	err = s.inTx(ctx, func(q queryable) error {
		if _, err := q.Exec(ctx,
			`UPDATE appointment SET status = $1, cancellation_reason = $2 WHERE id = $3 AND run_id = $4`,
			string(after.Status), nullable(after.CancellationReason), appointmentID, s.runID,
		); err != nil {
			return fmt.Errorf("update appointment status: %w", err)
		}
		return s.insertProvenance(ctx, q, prov)
	})
	if err != nil {
		return "", err
	}
	s.seq = seq
	s.reg.commitTransition(after)
	return prov.ID, nil
}

func (s *Postgres) CreateEncounter(ctx context.Context, e *encounter.Encounter) (string, error) {
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
	err = s.inTx(ctx, func(q queryable) error {
		if _, err := q.Exec(ctx, `INSERT INTO encounter (`+encounterCols+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			e.ID, s.runID, seq, e.PatientID, e.PractitionerID, nullable(e.AppointmentID), e.Start, e.Duration, e.Status, e.ClassCode,
		); err != nil {
			return fmt.Errorf("insert encounter: %w", err)
		}
		return s.insertProvenance(ctx, q, prov)
	})
	if err != nil {
		return "", err
	}
	s.seq = seq
	s.reg.encounters[e.ID] = true
	return e.ID, nil
}

func (s *Postgres) CreateObservation(ctx context.Context, o *clinical.Observation) (string, error) {
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
	err = s.inTx(ctx, func(q queryable) error {
		if _, err := q.Exec(ctx, `INSERT INTO observation (`+observationCols+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			o.ID, s.runID, seq, o.PatientID, o.PractitionerID, nullable(o.EncounterID), o.Timestamp, o.Status, o.Category, o.Code, o.Display, o.Value,
		); err != nil {
			return fmt.Errorf("insert observation: %w", err)
		}
		return s.insertProvenance(ctx, q, prov)
	})
	if err != nil {
		return "", err
	}
	s.seq = seq
	s.reg.observations[o.ID] = true
	return o.ID, nil
}

func (s *Postgres) CreateAccessEvent(ctx context.Context, e *auditevent.AccessEvent) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reg.checkAccess(e); err != nil {
		return "", err
	}
	e.ID = uuid.New().String()
	seq := s.seq + 1
	rt, rid := accessContext(e)
	if _, err := s.pool.Exec(ctx, `INSERT INTO access_event (`+accessEventCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		e.ID, s.runID, seq, e.PatientID, e.PractitionerID, e.Recorded, string(e.Kind), e.TypeCode, e.Action, e.Outcome,
		e.PurposeCode, e.PurposeText, rt, rid,
	); err != nil {
		return "", fmt.Errorf("insert access event: %w", err)
	}
	s.seq = seq
	return e.ID, nil
}

// CountRecords returns the number of rows per event table for this run.
func (s *Postgres) CountRecords(ctx context.Context) (map[string]int64, error) {
	return countRecords(ctx, s.pool, s.runID)
}

func countRecords(ctx context.Context, q queryable, runID string) (map[string]int64, error) {
	rows, err := q.Query(ctx, `
		SELECT 'appointment', COUNT(*) FROM appointment WHERE run_id = $1
		UNION ALL SELECT 'encounter', COUNT(*) FROM encounter WHERE run_id = $1
		UNION ALL SELECT 'observation', COUNT(*) FROM observation WHERE run_id = $1
		UNION ALL SELECT 'access_event', COUNT(*) FROM access_event WHERE run_id = $1
		UNION ALL SELECT 'provenance', COUNT(*) FROM provenance WHERE run_id = $1`, runID)
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int64)
	for rows.Next() {
		var table string
		var n int64
		if err := rows.Scan(&table, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[table] = n
	}
	return out, rows.Err()
}

// Close leaves the pool open; its owner closes it.
func (s *Postgres) Close() error { return nil }
