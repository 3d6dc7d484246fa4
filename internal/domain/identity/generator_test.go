package identity

import (
	"testing"

	"github.com/google/uuid"

	"github.com/ehr/ehrsim/internal/domain/scheduling"
)

func TestGenerator_Deterministic(t *testing.T) {
	a, b := NewGenerator(7), NewGenerator(7)
	for i := 0; i < 5; i++ {
		pa, pb := a.Patient(int64(i)), b.Patient(int64(i))
		if *pa != *pb {
			t.Fatalf("patient %d differs: %+v vs %+v", i, pa, pb)
		}
	}
}

func TestGenerator_PatientFields(t *testing.T) {
	g := NewGenerator(1)
	p := g.Patient(90)
	if _, err := uuid.Parse(p.ID); err != nil {
		t.Errorf("expected UUID id, got %q: %v", p.ID, err)
	}
	if p.Admitted != 90 {
		t.Errorf("expected admitted 90, got %d", p.Admitted)
	}
	if p.Gender != "male" && p.Gender != "female" {
		t.Errorf("unexpected gender %q", p.Gender)
	}
	if p.FirstName == "" || p.LastName == "" || p.BirthDate == "" {
		t.Errorf("incomplete patient: %+v", p)
	}
}

func TestGenerator_Practitioner(t *testing.T) {
	g := NewGenerator(1)
	ws, _ := scheduling.SampleWorkSchedule(nil, scheduling.ScheduleFullTime)
	p := g.Practitioner(scheduling.ScheduleFullTime, ws)
	if p.Role != RolePhysician {
		t.Errorf("expected role %q, got %q", RolePhysician, p.Role)
	}
	if p.Schedule.IsEmpty() {
		t.Error("expected practitioner to keep its schedule")
	}
	if len(p.NPI) != 10 {
		t.Errorf("expected 10-digit NPI, got %q", p.NPI)
	}
	if p.DisplayName()[:4] != "Dr. " {
		t.Errorf("unexpected display name %q", p.DisplayName())
	}
}

func TestGenerator_UniqueIDs(t *testing.T) {
	g := NewGenerator(3)
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := g.NewID()
		if seen[id] {
			t.Fatalf("duplicate id %s after %d draws", id, i)
		}
		seen[id] = true
	}
}
