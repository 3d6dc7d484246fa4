package identity

import (
	"fmt"

	"github.com/ehr/ehrsim/internal/domain/scheduling"
)

// Patient is a simulated patient. Cooldown state is kept by the population
// controller, not here.
type Patient struct {
	ID        string `db:"id" json:"id"`
	MRN       string `db:"mrn" json:"mrn"`
	FirstName string `db:"first_name" json:"first_name"`
	LastName  string `db:"last_name" json:"last_name"`
	Gender    string `db:"gender" json:"gender"`
	BirthDate string `db:"birth_date" json:"birth_date"`
	Admitted  int64  `db:"admitted" json:"admitted"`
}

// DisplayName returns "First Last".
func (p *Patient) DisplayName() string {
	return fmt.Sprintf("%s %s", p.FirstName, p.LastName)
}

// Practitioner is a simulated clinician with fixed working hours.
type Practitioner struct {
	ID           string                  `db:"id" json:"id"`
	NPI          string                  `db:"npi" json:"npi"`
	FirstName    string                  `db:"first_name" json:"first_name"`
	LastName     string                  `db:"last_name" json:"last_name"`
	Gender       string                  `db:"gender" json:"gender"`
	Role         string                  `db:"role" json:"role"`
	ScheduleKind scheduling.ScheduleKind `db:"schedule_kind" json:"schedule_kind"`
	Schedule     scheduling.WorkSchedule `db:"-" json:"schedule"`
}

// DisplayName returns "Dr. First Last".
func (p *Practitioner) DisplayName() string {
	return fmt.Sprintf("Dr. %s %s", p.FirstName, p.LastName)
}
