package auditevent

import (
	"fmt"

	"github.com/ehr/ehrsim/pkg/fhirmodels"
)

// AccessKind classifies an access event.
type AccessKind string

const (
	// Emergency is a break-the-glass override.
	Emergency AccessKind = "emergency"
	// Care is routine care-management access.
	Care AccessKind = "care"
)

// Valid reports whether k is a known kind.
func (k AccessKind) Valid() bool { return k == Emergency || k == Care }

// TypeCode returns the audit event type for the kind.
func (k AccessKind) TypeCode() string {
	if k == Emergency {
		return fhirmodels.AuditTypeEmergencyAccess
	}
	return fhirmodels.AuditTypeCareAccess
}

// PurposeCode returns the v3-ActReason purpose of use for the kind.
func (k AccessKind) PurposeCode() string {
	if k == Emergency {
		return fhirmodels.PurposeBreakTheGlass
	}
	return fhirmodels.PurposeCareMgmt
}

// Context is the resource an access event was recorded against.
type Context struct {
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
}

// AccessEvent is an audit record of a practitioner reading a patient's chart.
type AccessEvent struct {
	ID             string     `db:"id" json:"id"`
	PatientID      string     `db:"patient_id" json:"patient_id"`
	PractitionerID string     `db:"practitioner_id" json:"practitioner_id"`
	Recorded       int64      `db:"recorded" json:"recorded"`
	Kind           AccessKind `db:"kind" json:"kind"`
	TypeCode       string     `db:"type_code" json:"type_code"`
	Action         string     `db:"action" json:"action"`
	Outcome        string     `db:"outcome" json:"outcome"`
	PurposeCode    string     `db:"purpose_of_use_code" json:"purpose_of_use_code"`
	PurposeText    string     `db:"purpose_of_event" json:"purpose_of_event"`
	Context        *Context   `db:"-" json:"context,omitempty"`
}

// New builds a successful read access event. ctx may be nil for standalone
// events.
func New(kind AccessKind, patientID, practitionerID string, recorded int64, ctx *Context) *AccessEvent {
	return &AccessEvent{
		PatientID:      patientID,
		PractitionerID: practitionerID,
		Recorded:       recorded,
		Kind:           kind,
		TypeCode:       kind.TypeCode(),
		Action:         fhirmodels.AuditActionRead,
		Outcome:        fhirmodels.AuditOutcomeSuccess,
		PurposeCode:    kind.PurposeCode(),
		PurposeText:    purposeText(kind, ctx),
		Context:        ctx,
	}
}

func purposeText(kind AccessKind, ctx *Context) string {
	label := "Care access"
	if kind == Emergency {
		label = "Emergency access"
	}
	if ctx == nil {
		return label + " - standalone event"
	}
	return fmt.Sprintf("%s during %s", label, ctx.ResourceType)
}

// Standalone reports whether the event has no context resource.
func (e *AccessEvent) Standalone() bool { return e.Context == nil }
