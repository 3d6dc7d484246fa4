package clinical

import (
	"fmt"
	"math/rand"

	"github.com/ehr/ehrsim/pkg/fhirmodels"
)

// Observation is a single vital-sign measurement. EncounterID is empty for
// ad hoc observations.
type Observation struct {
	ID             string `db:"id" json:"id"`
	PatientID      string `db:"patient_id" json:"patient_id"`
	PractitionerID string `db:"practitioner_id" json:"practitioner_id"`
	EncounterID    string `db:"encounter_id" json:"encounter_id,omitempty"`
	Timestamp      int64  `db:"timestamp" json:"timestamp"`
	Status         string `db:"status" json:"status"`
	Category       string `db:"category_code" json:"category"`
	Code           string `db:"code_value" json:"code"`
	Display        string `db:"code_display" json:"display"`
	Value          string `db:"value_string" json:"value"`
}

// VitalSign describes a LOINC-coded measurement and its plausible range.
type VitalSign struct {
	Code     string
	Display  string
	Unit     string
	Low      float64
	High     float64
	Decimals int
}

var vitalSigns = []VitalSign{
	{"8310-5", "Body temperature", "°F", 96, 99, 1},
	{"8867-4", "Heart rate", "beats/minute", 60, 100, 0},
	{"9279-1", "Respiratory rate", "breaths/minute", 12, 20, 0},
	{"8480-6", "Systolic blood pressure", "mmHg", 90, 140, 0},
	{"2345-7", "Glucose [Mass/volume] in Serum or Plasma", "mg/dL", 70, 140, 0},
}

// VitalSignFor returns the i-th measurement of a batch; batches rotate
// through the table starting with body temperature.
func VitalSignFor(i int) VitalSign {
	return vitalSigns[i%len(vitalSigns)]
}

// Sample draws a formatted value uniformly from the plausible range.
func (v VitalSign) Sample(rng *rand.Rand) string {
	if v.Decimals == 0 {
		lo, hi := int(v.Low), int(v.High)
		return fmt.Sprintf("%d %s", lo+rng.Intn(hi-lo+1), v.Unit)
	}
	x := v.Low + rng.Float64()*(v.High-v.Low)
	return fmt.Sprintf("%.*f %s", v.Decimals, x, v.Unit)
}

// NewObservation builds a final vital-sign observation.
func NewObservation(patientID, practitionerID, encounterID string, ts int64, v VitalSign, value string) *Observation {
	return &Observation{
		PatientID:      patientID,
		PractitionerID: practitionerID,
		EncounterID:    encounterID,
		Timestamp:      ts,
		Status:         fhirmodels.ObsStatusFinal,
		Category:       fhirmodels.ObsCategoryVitalSigns,
		Code:           v.Code,
		Display:        v.Display,
		Value:          value,
	}
}
