package fhirmodels

// Common FHIR value set constants used across the simulator.

// AppointmentStatus values. The simulator uses the subset a generated
// appointment can reach; "finished" follows the source system's log format.
const (
	AppointmentStatusBooked    = "booked"
	AppointmentStatusCancelled = "cancelled"
	AppointmentStatusNoShow    = "noshow"
	AppointmentStatusFinished  = "finished"
)

// EncounterStatus values per FHIR R4.
const (
	EncounterStatusFinished = "finished"
)

// EncounterClassAmbulatory is the v3-ActCode for an outpatient encounter.
const EncounterClassAmbulatory = "AMB"

// Observation codes.
const (
	ObsCategoryVitalSigns = "vital-signs"
	ObsStatusFinal        = "final"
)

// AdministrativeGender codes.
const (
	GenderMale    = "male"
	GenderFemale  = "female"
	GenderOther   = "other"
	GenderUnknown = "unknown"
)

// AuditEvent type codes (DICOM / HL7 security event types).
const (
	AuditTypeEmergencyAccess = "emergency-access"
	AuditTypeCareAccess      = "care-access"
)

// AuditEvent action and outcome codes.
const (
	AuditActionRead     = "R"
	AuditOutcomeSuccess = "0"
)

// PurposeOfUse codes from v3-ActReason.
const (
	PurposeBreakTheGlass = "BTG"
	PurposeCareMgmt      = "CAREMGT"
)

// ProvenanceActivity codes from v3-DataOperation.
const (
	ProvenanceCreate = "CREATE"
	ProvenanceUpdate = "UPDATE"
)

// FHIR resource type names.
const (
	ResourceTypeAppointment = "Appointment"
	ResourceTypeEncounter   = "Encounter"
	ResourceTypeObservation = "Observation"
)
