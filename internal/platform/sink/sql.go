package sink

import (
	"encoding/json"
	"fmt"

	"github.com/ehr/ehrsim/internal/domain/auditevent"
	"github.com/ehr/ehrsim/internal/domain/identity"
	"github.com/ehr/ehrsim/internal/domain/scheduling"
	"github.com/ehr/ehrsim/pkg/fhirmodels"
)

// provenance is one row of the provenance table. Before is nil for creates.
type provenance struct {
	ID             string
	Seq            int64
	TargetType     string
	TargetID       string
	Activity       string
	PractitionerID string
	Recorded       int64
	Before         *string
	After          *string
}

func createProvenance(id, targetType, targetID, practitionerID string, recorded int64, after any) (provenance, error) {
	a, err := snapshot(after)
	if err != nil {
		return provenance{}, err
	}
	return provenance{
		ID:             id,
		TargetType:     targetType,
		TargetID:       targetID,
		Activity:       fhirmodels.ProvenanceCreate,
		PractitionerID: practitionerID,
		Recorded:       recorded,
		After:          &a,
	}, nil
}

func updateProvenance(id string, before, after scheduling.Appointment, recorded int64) (provenance, error) {
	b, err := snapshot(before)
	if err != nil {
		return provenance{}, err
	}
	a, err := snapshot(after)
	if err != nil {
		return provenance{}, err
	}
	return provenance{
		ID:             id,
		TargetType:     fhirmodels.ResourceTypeAppointment,
		TargetID:       after.ID,
		Activity:       fhirmodels.ProvenanceUpdate,
		PractitionerID: after.PractitionerID,
		Recorded:       recorded,
		Before:         &b,
		After:          &a,
	}, nil
}

func snapshot(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	return string(data), nil
}

func scheduleJSON(p *identity.Practitioner) (string, error) {
	data, err := json.Marshal(p.Schedule)
	if err != nil {
		return "", fmt.Errorf("marshal schedule: %w", err)
	}
	return string(data), nil
}

// nullable maps "" to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func accessContext(e *auditevent.AccessEvent) (any, any) {
	if e.Context == nil {
		return nil, nil
	}
	return e.Context.ResourceType, e.Context.ResourceID
}
