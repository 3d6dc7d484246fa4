package clinical

import (
	"math/rand"
	"strconv"
	"strings"
	"testing"
)

func TestVitalSignFor_Rotates(t *testing.T) {
	if VitalSignFor(0).Code != "8310-5" {
		t.Errorf("expected batch to start with body temperature, got %s", VitalSignFor(0).Code)
	}
	if VitalSignFor(5).Code != VitalSignFor(0).Code {
		t.Error("expected rotation after five codes")
	}
}

func TestVitalSign_SampleInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	for i := 0; i < 5; i++ {
		v := VitalSignFor(i)
		for n := 0; n < 200; n++ {
			s := v.Sample(rng)
			num, unit, ok := strings.Cut(s, " ")
			if !ok || unit != v.Unit {
				t.Fatalf("%s: unexpected format %q", v.Code, s)
			}
			x, err := strconv.ParseFloat(num, 64)
			if err != nil {
				t.Fatalf("%s: unparseable value %q: %v", v.Code, s, err)
			}
			if x < v.Low || x > v.High {
				t.Fatalf("%s: value %v outside [%v, %v]", v.Code, x, v.Low, v.High)
			}
		}
	}
}

func TestNewObservation(t *testing.T) {
	o := NewObservation("pat", "prac", "", 42, VitalSignFor(1), "72 beats/minute")
	if o.Status != "final" || o.Category != "vital-signs" {
		t.Errorf("unexpected codes: %+v", o)
	}
	if o.Code != "8867-4" || o.Timestamp != 42 {
		t.Errorf("unexpected observation: %+v", o)
	}
}
