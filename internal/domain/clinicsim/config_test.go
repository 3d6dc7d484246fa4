package clinicsim

import (
	"errors"
	"strings"
	"testing"

	"github.com/ehr/ehrsim/internal/domain/scheduling"
)

func TestDefaultConfig_Valid(t *testing.T) {
	if err := DefaultConfig().Resolved().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestConfig_Resolved(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialPatients = 20
	cfg.Lookahead = 0
	r := cfg.Resolved()
	if r.TargetPopulation != 20 {
		t.Errorf("TargetPopulation = %d, want 20", r.TargetPopulation)
	}
	if r.MinPopulation != 14 {
		t.Errorf("MinPopulation = %d, want 14", r.MinPopulation)
	}
	if r.Lookahead != scheduling.MinutesPerWeek {
		t.Errorf("Lookahead = %d, want %d", r.Lookahead, scheduling.MinutesPerWeek)
	}

	cfg.TargetPopulation = 30
	cfg.MinPopulation = 5
	r = cfg.Resolved()
	if r.TargetPopulation != 30 || r.MinPopulation != 5 {
		t.Errorf("explicit bounds overwritten: target=%d min=%d", r.TargetPopulation, r.MinPopulation)
	}
}

func TestConfig_MinVisitDuration(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VisitDurations = []int64{45, 20, 60}
	if got := cfg.MinVisitDuration(); got != 20 {
		t.Errorf("MinVisitDuration() = %d, want 20", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"zero horizon", func(c *Config) { c.Horizon = 0 }, "horizon"},
		{"no practitioners", func(c *Config) { c.Practitioners = 0 }, "practitioners"},
		{"min above target", func(c *Config) { c.TargetPopulation = 10; c.MinPopulation = 11 }, "population bounds"},
		{"probability above one", func(c *Config) { c.CancelProbability = 1.5 }, "cancel probability"},
		{"access sum", func(c *Config) { c.EmergencyAccessProbability = 0.6; c.CareAccessProbability = 0.6 }, "contextual access"},
		{"zero weights", func(c *Config) { c.AppointmentWeight, c.EncounterWeight, c.ObservationWeight = 0, 0, 0 }, "visit weights"},
		{"no durations", func(c *Config) { c.VisitDurations = nil }, "visit duration"},
		{"long duration", func(c *Config) { c.VisitDurations = []int64{30, 2000} }, "out of range"},
		{"low bias", func(c *Config) { c.ObservationBias = 0.5 }, "bias"},
		{"standalone interval", func(c *Config) { c.StandaloneMinInterval = 100; c.StandaloneMaxInterval = 50 }, "standalone interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig().Resolved()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("Validate() = %v, want ErrInvalidConfig", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}
