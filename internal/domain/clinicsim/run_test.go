package clinicsim

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ehr/ehrsim/internal/domain/encounter"
	"github.com/ehr/ehrsim/internal/domain/scheduling"
	"github.com/ehr/ehrsim/internal/platform/db"
	slots "github.com/ehr/ehrsim/internal/platform/scheduling"
	"github.com/ehr/ehrsim/internal/platform/sink"
)

// smallClinic is a short run that still exercises every cascade.
func smallClinic(seed int64) Config {
	cfg := DefaultConfig()
	cfg.Seed = seed
	cfg.Horizon = 4 * scheduling.MinutesPerWeek
	cfg.Practitioners = 3
	cfg.InitialPatients = 24
	cfg.ScheduleKinds = []string{"full_time", "split", "evening"}
	cfg.FrequentCooldownMin = 60
	cfg.FrequentCooldownMax = 6 * 60
	cfg.RoutineCooldownMin = 12 * 60
	cfg.RoutineCooldownMax = 2 * scheduling.MinutesPerDay
	cfg.EmergencyAccessProbability = 0.1
	cfg.CareAccessProbability = 0.2
	return cfg
}

func runMemory(t *testing.T, cfg Config) (*Summary, *sink.Memory) {
	t.Helper()
	m := sink.NewMemory(cfg.Seed)
	summary, err := Run(context.Background(), cfg, m, zerolog.Nop())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	return summary, m
}

func TestRun_Deterministic(t *testing.T) {
	_, a := runMemory(t, smallClinic(7))
	_, b := runMemory(t, smallClinic(7))
	if a.Len() == 0 {
		t.Fatal("run produced no records")
	}
	if a.Digest() != b.Digest() {
		t.Errorf("same seed produced different logs: %d vs %d records", a.Len(), b.Len())
	}

	_, c := runMemory(t, smallClinic(8))
	if a.Digest() == c.Digest() {
		t.Error("different seeds produced identical logs")
	}
}

func TestRun_SummaryMatchesSink(t *testing.T) {
	summary, m := runMemory(t, smallClinic(11))
	counts := m.Count()

	if got := counts[sink.KindAppointment]; got != summary.Appointments.Created {
		t.Errorf("appointments: sink %d, summary %d", got, summary.Appointments.Created)
	}
	if got := counts[sink.KindEncounter]; got != summary.Encounters {
		t.Errorf("encounters: sink %d, summary %d", got, summary.Encounters)
	}
	if got := counts[sink.KindObservation]; got != summary.Observations {
		t.Errorf("observations: sink %d, summary %d", got, summary.Observations)
	}
	if got := counts[sink.KindAccessEvent]; got != summary.AccessEvents.Emergency+summary.AccessEvents.Care {
		t.Errorf("access events: sink %d, summary %+v", got, summary.AccessEvents)
	}
	a := summary.Appointments
	if a.Booked+a.Cancelled+a.NoShow+a.Finished != a.Created {
		t.Errorf("appointment counts do not add up: %+v", a)
	}
	if summary.ReferenceErrors != 0 {
		t.Errorf("ReferenceErrors = %d, want 0", summary.ReferenceErrors)
	}
	if summary.Encounters == 0 || summary.Observations == 0 || summary.AccessEvents.Standalone == 0 {
		t.Errorf("expected every cascade to fire, got %+v", summary)
	}
}

type busy struct {
	visit string
	span  scheduling.Interval
	what  string
}

func TestRun_NoOverlapPerPractitioner(t *testing.T) {
	_, m := runMemory(t, smallClinic(3))

	// Records of the same visit may nest; records of different visits must
	// not touch.
	byPractitioner := make(map[string][]busy)
	add := func(prID string, b busy) {
		byPractitioner[prID] = append(byPractitioner[prID], b)
	}
	for _, a := range m.Appointments() {
		if a.Status == scheduling.StatusBooked || a.Status == scheduling.StatusNoShow {
			add(a.PractitionerID, busy{visit: "appt/" + a.ID, span: a.Window(), what: "appointment " + a.ID})
		}
	}
	visitOf := make(map[string]string)
	for _, r := range m.Records(sink.KindEncounter) {
		e := r.Encounter
		v := "enc/" + e.ID
		if e.AppointmentID != "" {
			v = "appt/" + e.AppointmentID
		}
		visitOf[e.ID] = v
		add(e.PractitionerID, busy{visit: v, span: e.Span(), what: "encounter " + e.ID})
	}
	for _, r := range m.Records(sink.KindObservation) {
		o := r.Observation
		v := "obs/" + o.ID
		if o.EncounterID != "" {
			v = visitOf[o.EncounterID]
		}
		add(o.PractitionerID, busy{
			visit: v,
			span:  scheduling.Interval{Start: o.Timestamp, End: o.Timestamp + 1},
			what:  "observation " + o.ID,
		})
	}

	if len(byPractitioner) == 0 {
		t.Fatal("no busy intervals recorded")
	}
	for prID, list := range byPractitioner {
		for i := range list {
			for j := i + 1; j < len(list); j++ {
				a, b := list[i], list[j]
				if a.visit != b.visit && a.span.Overlaps(b.span) {
					t.Fatalf("practitioner %s: %s %s overlaps %s %s", prID, a.what, a.span, b.what, b.span)
				}
			}
		}
	}
}

func TestRun_SingleFullTimePractitioner(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Seed = 5
	cfg.Horizon = scheduling.MinutesPerWeek
	cfg.Practitioners = 1
	cfg.InitialPatients = 5
	cfg.ScheduleKinds = []string{"full_time"}
	cfg.CancelProbability = 0
	cfg.NoShowProbability = 0
	cfg.RoutineCooldownMin = 60
	cfg.RoutineCooldownMax = 8 * 60
	summary, m := runMemory(t, cfg)

	if summary.Appointments.Cancelled != 0 || summary.Appointments.NoShow != 0 {
		t.Errorf("unexpected cancellations or no-shows: %+v", summary.Appointments)
	}
	if summary.Appointments.Finished == 0 {
		t.Fatal("no appointment finished")
	}

	ws, err := scheduling.SampleWorkSchedule(nil, scheduling.ScheduleFullTime)
	if err != nil {
		t.Fatalf("SampleWorkSchedule() error: %v", err)
	}
	encountersFor := make(map[string]int)
	for _, r := range m.Records(sink.KindEncounter) {
		if id := r.Encounter.AppointmentID; id != "" {
			encountersFor[id]++
		}
	}
	for _, a := range m.Appointments() {
		if !ws.Fits(a.Start, a.Duration) {
			t.Errorf("appointment %s at %d+%d is outside working hours", a.ID, a.Start, a.Duration)
		}
		switch a.Status {
		case scheduling.StatusFinished:
			if n := encountersFor[a.ID]; n != 1 {
				t.Errorf("finished appointment %s has %d encounters, want 1", a.ID, n)
			}
		case scheduling.StatusBooked:
			if a.End() < cfg.Horizon {
				t.Errorf("appointment %s ended at %d but is still booked", a.ID, a.End())
			}
		default:
			t.Errorf("appointment %s has status %s", a.ID, a.Status)
		}
	}
	// Encounters are planned inside their window and may start past the
	// horizon; everything else is stamped when it happens.
	for _, r := range m.Records(sink.KindAppointment, sink.KindStatusChange, sink.KindObservation, sink.KindAccessEvent) {
		if r.At < 0 || r.At >= cfg.Horizon {
			t.Errorf("%s record %s at %d outside [0,%d)", r.Kind, r.ID, r.At, cfg.Horizon)
		}
	}
}

func TestRun_EncountersInsideTheirAppointment(t *testing.T) {
	_, m := runMemory(t, smallClinic(21))
	for _, r := range m.Records(sink.KindEncounter) {
		e := r.Encounter
		if e.AppointmentID == "" {
			continue
		}
		a, ok := m.Appointment(e.AppointmentID)
		if !ok {
			t.Fatalf("encounter %s references unknown appointment", e.ID)
		}
		if !a.Window().Contains(e.Span()) {
			t.Errorf("encounter %s %s outside appointment window %s", e.ID, e.Span(), a.Window())
		}
		if e.PatientID != a.PatientID || e.PractitionerID != a.PractitionerID {
			t.Errorf("encounter %s parties differ from appointment %s", e.ID, a.ID)
		}
	}
}

func TestRun_CooldownRespected(t *testing.T) {
	cfg := smallClinic(13)
	r, err := newRun(context.Background(), cfg, sink.NewMemory(cfg.Seed), zerolog.Nop())
	if err != nil {
		t.Fatalf("newRun() error: %v", err)
	}
	type visit struct{ started, finished, cooldown int64 }
	last := make(map[string]visit)
	visits := 0
	r.onVisit = func(patientID string, started, finished, cd int64) {
		visits++
		if prev, ok := last[patientID]; ok {
			if started-prev.finished < prev.cooldown {
				t.Errorf("patient %s seen at %d, %d after previous visit, cooldown %d",
					patientID, started, started-prev.finished, prev.cooldown)
			}
		}
		last[patientID] = visit{started: started, finished: finished, cooldown: cd}
	}
	if _, err := r.execute(); err != nil {
		t.Fatalf("execute() error: %v", err)
	}
	if visits == 0 {
		t.Fatal("no visits completed")
	}
}

func TestRun_PopulationWithinBounds(t *testing.T) {
	cfg := smallClinic(17)
	cfg.InitialPatients = 20
	cfg.TargetPopulation = 20
	cfg.MinPopulation = 14
	cfg.DischargeProbability = 0.3
	summary, _ := runMemory(t, cfg)

	if len(summary.Population) == 0 {
		t.Fatal("no population samples")
	}
	for _, s := range summary.Population {
		if s.Active < cfg.MinPopulation || s.Active > cfg.TargetPopulation {
			t.Errorf("t=%d: active population %d outside [%d,%d]", s.At, s.Active, cfg.MinPopulation, cfg.TargetPopulation)
		}
	}
	if summary.Discharges == 0 {
		t.Error("expected discharges with discharge probability 0.3")
	}
	if summary.Admissions <= cfg.InitialPatients {
		t.Errorf("Admissions = %d, want more than the initial %d", summary.Admissions, cfg.InitialPatients)
	}
}

func TestRun_EmptyScheduleRejected(t *testing.T) {
	cfg := smallClinic(1)
	cfg.Schedules = []scheduling.WorkSchedule{{}}
	_, err := Run(context.Background(), cfg, sink.NewMemory(1), zerolog.Nop())
	if !errors.Is(err, slots.ErrNoWorkSchedule) {
		t.Fatalf("Run() error = %v, want ErrNoWorkSchedule", err)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	cfg := smallClinic(1)
	cfg.Practitioners = 0
	_, err := Run(context.Background(), cfg, sink.NewMemory(1), zerolog.Nop())
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Run() error = %v, want ErrInvalidConfig", err)
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := smallClinic(2)
	cfg.Horizon = 48 * scheduling.MinutesPerWeek
	summary, err := Run(ctx, cfg, sink.NewMemory(2), zerolog.Nop())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if summary == nil || summary.Kernel.Now >= cfg.Horizon {
		t.Errorf("run was not interrupted: %+v", summary)
	}
}

// rejectEncounters passes everything through except encounters, which fail
// with err.
type rejectEncounters struct {
	sink.Sink
	err error
}

func (s rejectEncounters) CreateEncounter(context.Context, *encounter.Encounter) (string, error) {
	return "", s.err
}

func TestRun_ReferenceErrorEndsOnlyTheCascade(t *testing.T) {
	cfg := smallClinic(21)
	m := sink.NewMemory(cfg.Seed)
	summary, err := Run(context.Background(), cfg, rejectEncounters{Sink: m, err: sink.ErrUnknownEncounter}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if summary.ReferenceErrors == 0 {
		t.Fatal("expected rejected encounters to be counted")
	}
	if summary.Encounters != 0 || m.Count()[sink.KindEncounter] != 0 {
		t.Errorf("no encounter should be recorded, got %d", summary.Encounters)
	}
	if summary.Kernel.Now != cfg.Horizon {
		t.Errorf("run should reach the horizon, stopped at %d", summary.Kernel.Now)
	}
	if summary.Appointments.Created == 0 {
		t.Error("appointments should still be booked")
	}
}

func TestRun_SinkFailureStopsTheRun(t *testing.T) {
	cfg := smallClinic(21)
	diskFull := errors.New("disk full")
	summary, err := Run(context.Background(), cfg, rejectEncounters{Sink: sink.NewMemory(cfg.Seed), err: diskFull}, zerolog.Nop())
	if !errors.Is(err, diskFull) {
		t.Fatalf("expected the sink error, got %v", err)
	}
	if summary == nil {
		t.Fatal("expected a partial summary")
	}
	if summary.ReferenceErrors != 0 {
		t.Errorf("a plain sink error is not a reference error: %d", summary.ReferenceErrors)
	}
	if summary.Kernel.Now >= cfg.Horizon {
		t.Errorf("run should stop before the horizon, got %d", summary.Kernel.Now)
	}
}

func TestRun_SQLiteSink(t *testing.T) {
	ctx := context.Background()
	sqlDB, err := db.OpenSQLite(ctx, filepath.Join(t.TempDir(), "sim.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	cfg := smallClinic(4)
	cfg.Horizon = scheduling.MinutesPerWeek
	s := mustSQLite(t, sqlDB, cfg)
	summary, err := Run(ctx, cfg, s, zerolog.Nop())
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	counts, err := s.CountRecords(ctx)
	if err != nil {
		t.Fatalf("CountRecords() error: %v", err)
	}
	if counts["appointment"] != int64(summary.Appointments.Created) {
		t.Errorf("appointment rows = %d, summary %d", counts["appointment"], summary.Appointments.Created)
	}
	if counts["encounter"] != int64(summary.Encounters) {
		t.Errorf("encounter rows = %d, summary %d", counts["encounter"], summary.Encounters)
	}
	if counts["observation"] != int64(summary.Observations) {
		t.Errorf("observation rows = %d, summary %d", counts["observation"], summary.Observations)
	}
}

func mustSQLite(t *testing.T, sqlDB *sql.DB, cfg Config) *sink.SQLite {
	t.Helper()
	s, err := sink.NewSQLite(context.Background(), sqlDB, cfg.Seed, cfg.Horizon)
	if err != nil {
		t.Fatalf("NewSQLite() error: %v", err)
	}
	return s
}
