package identity

import (
	"fmt"
	"math/rand"

	"github.com/google/uuid"

	"github.com/ehr/ehrsim/internal/domain/scheduling"
	"github.com/ehr/ehrsim/pkg/fhirmodels"
)

// RolePhysician is the only role the simulator creates.
const RolePhysician = "doctor"

var (
	firstNamesMale = []string{
		"James", "Robert", "John", "Michael", "David", "William", "Richard",
		"Joseph", "Thomas", "Christopher", "Charles", "Daniel", "Matthew",
		"Anthony", "Mark", "Donald", "Steven", "Paul", "Andrew", "Joshua",
		"Kenneth", "Kevin", "Brian", "George", "Timothy", "Ronald", "Edward",
	}
	firstNamesFemale = []string{
		"Mary", "Patricia", "Jennifer", "Linda", "Barbara", "Elizabeth",
		"Susan", "Jessica", "Sarah", "Karen", "Lisa", "Nancy", "Betty",
		"Margaret", "Sandra", "Ashley", "Dorothy", "Kimberly", "Emily",
		"Donna", "Michelle", "Carol", "Amanda", "Melissa", "Deborah",
	}
	lastNames = []string{
		"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia",
		"Miller", "Davis", "Rodriguez", "Martinez", "Hernandez", "Lopez",
		"Gonzalez", "Wilson", "Anderson", "Thomas", "Taylor", "Moore",
		"Jackson", "Martin", "Lee", "Perez", "Thompson", "White", "Harris",
	}
)

// Generator produces deterministic patients and practitioners. It owns its
// random source so that demographics never shift the simulation's draws.
type Generator struct {
	rng *rand.Rand
}

// NewGenerator returns a generator seeded for reproducibility.
func NewGenerator(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

// NewID returns a UUID drawn from the generator's random source.
func (g *Generator) NewID() string {
	return uuid.Must(uuid.NewRandomFromReader(g.rng)).String()
}

func (g *Generator) pick(pool []string) string {
	return pool[g.rng.Intn(len(pool))]
}

func (g *Generator) person() (first, last, gender string) {
	if g.rng.Intn(2) == 0 {
		first, gender = g.pick(firstNamesMale), fhirmodels.GenderMale
	} else {
		first, gender = g.pick(firstNamesFemale), fhirmodels.GenderFemale
	}
	return first, g.pick(lastNames), gender
}

func (g *Generator) randomDate(minYear, maxYear int) string {
	y := minYear + g.rng.Intn(maxYear-minYear+1)
	m := 1 + g.rng.Intn(12)
	d := 1 + g.rng.Intn(28)
	return fmt.Sprintf("%04d-%02d-%02d", y, m, d)
}

// Patient creates a patient admitted at the given virtual time.
func (g *Generator) Patient(admitted int64) *Patient {
	first, last, gender := g.person()
	return &Patient{
		ID:        g.NewID(),
		MRN:       fmt.Sprintf("MRN-%08d", g.rng.Intn(100000000)),
		FirstName: first,
		LastName:  last,
		Gender:    gender,
		BirthDate: g.randomDate(1940, 2010),
		Admitted:  admitted,
	}
}

// Practitioner creates a physician working the given schedule.
func (g *Generator) Practitioner(kind scheduling.ScheduleKind, ws scheduling.WorkSchedule) *Practitioner {
	first, last, gender := g.person()
	return &Practitioner{
		ID:           g.NewID(),
		NPI:          fmt.Sprintf("%010d", g.rng.Int63n(10000000000)),
		FirstName:    first,
		LastName:     last,
		Gender:       gender,
		Role:         RolePhysician,
		ScheduleKind: kind,
		Schedule:     ws,
	}
}
