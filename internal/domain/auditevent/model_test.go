package auditevent

import "testing"

func TestNew_Emergency(t *testing.T) {
	e := New(Emergency, "pat", "prac", 120, &Context{ResourceType: "Encounter", ResourceID: "enc-1"})
	if e.PurposeCode != "BTG" || e.TypeCode != "emergency-access" {
		t.Errorf("unexpected codes: %+v", e)
	}
	if e.PurposeText != "Emergency access during Encounter" {
		t.Errorf("unexpected purpose text %q", e.PurposeText)
	}
	if e.Standalone() {
		t.Error("event with context reported as standalone")
	}
}

func TestNew_CareStandalone(t *testing.T) {
	e := New(Care, "pat", "prac", 5, nil)
	if e.PurposeCode != "CAREMGT" || e.TypeCode != "care-access" {
		t.Errorf("unexpected codes: %+v", e)
	}
	if e.PurposeText != "Care access - standalone event" {
		t.Errorf("unexpected purpose text %q", e.PurposeText)
	}
	if !e.Standalone() {
		t.Error("expected standalone event")
	}
	if e.Outcome != "0" || e.Action != "R" {
		t.Errorf("unexpected action/outcome %s/%s", e.Action, e.Outcome)
	}
}

func TestAccessKind_Valid(t *testing.T) {
	if !Emergency.Valid() || !Care.Valid() || AccessKind("other").Valid() {
		t.Error("unexpected kind validity")
	}
}
