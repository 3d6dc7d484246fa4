package clinicsim

import (
	"errors"
	"fmt"

	"github.com/ehr/ehrsim/internal/domain/scheduling"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid simulation config")

// Config holds every tunable of a run. Times are virtual minutes. The
// mapstructure tags are the environment keys read by internal/config.
type Config struct {
	Seed    int64 `mapstructure:"SIMULATION_SEED" json:"seed"`
	Horizon int64 `mapstructure:"SIMULATION_HORIZON_MINUTES" json:"horizon_minutes"`

	Practitioners int `mapstructure:"SIMULATION_PRACTITIONERS" json:"practitioners"`
	// ScheduleKinds are assigned to practitioners round-robin. Empty means
	// each practitioner draws a template at random.
	ScheduleKinds []string `mapstructure:"SIMULATION_SCHEDULE_KINDS" json:"schedule_kinds,omitempty"`
	// Schedules, when set, override ScheduleKinds and are also assigned
	// round-robin.
	Schedules []scheduling.WorkSchedule `mapstructure:"-" json:"-"`

	InitialPatients int `mapstructure:"SIMULATION_INITIAL_PATIENTS" json:"initial_patients"`
	// TargetPopulation of 0 means InitialPatients.
	TargetPopulation int `mapstructure:"SIMULATION_TARGET_POPULATION" json:"target_population"`
	// MinPopulation of 0 means 70% of the target.
	MinPopulation        int     `mapstructure:"SIMULATION_MIN_POPULATION" json:"min_population"`
	AdmissionProbability float64 `mapstructure:"SIMULATION_ADMISSION_PROBABILITY" json:"admission_probability"`
	AdmissionBatch       int     `mapstructure:"SIMULATION_ADMISSION_BATCH" json:"admission_batch"`
	DischargeProbability float64 `mapstructure:"SIMULATION_DISCHARGE_PROBABILITY" json:"discharge_probability"`
	ArrivalInterval      float64 `mapstructure:"SIMULATION_ARRIVAL_INTERVAL" json:"arrival_interval"`

	AppointmentWeight float64 `mapstructure:"SIMULATION_APPOINTMENT_WEIGHT" json:"appointment_weight"`
	EncounterWeight   float64 `mapstructure:"SIMULATION_ENCOUNTER_WEIGHT" json:"encounter_weight"`
	ObservationWeight float64 `mapstructure:"SIMULATION_OBSERVATION_WEIGHT" json:"observation_weight"`
	VisitDurations    []int64 `mapstructure:"SIMULATION_VISIT_DURATIONS" json:"visit_durations"`

	CancelProbability float64 `mapstructure:"SIMULATION_CANCEL_PROBABILITY" json:"cancel_probability"`
	NoShowProbability float64 `mapstructure:"SIMULATION_NO_SHOW_PROBABILITY" json:"no_show_probability"`

	ObservationProbability float64 `mapstructure:"SIMULATION_OBSERVATION_PROBABILITY" json:"observation_probability"`
	ObservationMax         int     `mapstructure:"SIMULATION_OBSERVATION_MAX" json:"observation_max"`
	ObservationBias        float64 `mapstructure:"SIMULATION_OBSERVATION_BIAS" json:"observation_bias"`

	EmergencyAccessProbability     float64 `mapstructure:"SIMULATION_EMERGENCY_ACCESS_PROBABILITY" json:"emergency_access_probability"`
	CareAccessProbability          float64 `mapstructure:"SIMULATION_CARE_ACCESS_PROBABILITY" json:"care_access_probability"`
	StandaloneEmergencyProbability float64 `mapstructure:"SIMULATION_STANDALONE_EMERGENCY_PROBABILITY" json:"standalone_emergency_probability"`
	StandaloneCareProbability      float64 `mapstructure:"SIMULATION_STANDALONE_CARE_PROBABILITY" json:"standalone_care_probability"`
	StandaloneMinInterval          int64   `mapstructure:"SIMULATION_STANDALONE_MIN_INTERVAL" json:"standalone_min_interval"`
	StandaloneMaxInterval          int64   `mapstructure:"SIMULATION_STANDALONE_MAX_INTERVAL" json:"standalone_max_interval"`
	AccessMaxDelay                 int64   `mapstructure:"SIMULATION_ACCESS_MAX_DELAY" json:"access_max_delay"`

	FrequentVisitProbability float64 `mapstructure:"SIMULATION_FREQUENT_VISIT_PROBABILITY" json:"frequent_visit_probability"`
	FrequentCooldownMin      int64   `mapstructure:"SIMULATION_FREQUENT_COOLDOWN_MIN" json:"frequent_cooldown_min"`
	FrequentCooldownMax      int64   `mapstructure:"SIMULATION_FREQUENT_COOLDOWN_MAX" json:"frequent_cooldown_max"`
	RoutineCooldownMin       int64   `mapstructure:"SIMULATION_ROUTINE_COOLDOWN_MIN" json:"routine_cooldown_min"`
	RoutineCooldownMax       int64   `mapstructure:"SIMULATION_ROUTINE_COOLDOWN_MAX" json:"routine_cooldown_max"`

	Lookahead      int64 `mapstructure:"SIMULATION_LOOKAHEAD_MINUTES" json:"lookahead_minutes"`
	SampleInterval int64 `mapstructure:"SIMULATION_SAMPLE_INTERVAL" json:"sample_interval"`
}

// DefaultConfig returns the settings of the reference clinic: five
// practitioners, fifty patients, 48 weeks.
func DefaultConfig() Config {
	return Config{
		Seed:                           42,
		Horizon:                        48 * scheduling.MinutesPerWeek,
		Practitioners:                  5,
		InitialPatients:                50,
		AdmissionProbability:           0.1,
		AdmissionBatch:                 3,
		DischargeProbability:           0.05,
		ArrivalInterval:                15,
		AppointmentWeight:              0.75,
		EncounterWeight:                0.20,
		ObservationWeight:              0.05,
		VisitDurations:                 []int64{15, 30, 45, 60},
		CancelProbability:              0.1,
		NoShowProbability:              0.1,
		ObservationProbability:         0.5,
		ObservationMax:                 5,
		ObservationBias:                2.0,
		EmergencyAccessProbability:     0.025,
		CareAccessProbability:          0.10,
		StandaloneEmergencyProbability: 0.0125,
		StandaloneCareProbability:      0.05,
		StandaloneMinInterval:          60,
		StandaloneMaxInterval:          scheduling.MinutesPerDay,
		AccessMaxDelay:                 10,
		FrequentVisitProbability:       0.25,
		FrequentCooldownMin:            scheduling.MinutesPerDay,
		FrequentCooldownMax:            3 * scheduling.MinutesPerDay,
		RoutineCooldownMin:             scheduling.MinutesPerWeek,
		RoutineCooldownMax:             4 * scheduling.MinutesPerWeek,
		Lookahead:                      scheduling.MinutesPerWeek,
		SampleInterval:                 scheduling.MinutesPerDay,
	}
}

// Resolved fills in derived values: population bounds and the lookahead.
func (c Config) Resolved() Config {
	if c.TargetPopulation == 0 {
		c.TargetPopulation = c.InitialPatients
	}
	if c.MinPopulation == 0 {
		c.MinPopulation = c.TargetPopulation * 7 / 10
	}
	if c.Lookahead == 0 {
		c.Lookahead = scheduling.MinutesPerWeek
	}
	return c
}

// MinVisitDuration returns the shortest configured visit length.
func (c Config) MinVisitDuration() int64 {
	m := c.VisitDurations[0]
	for _, d := range c.VisitDurations[1:] {
		m = min(m, d)
	}
	return m
}

// Validate checks a resolved config.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Horizon <= 0 {
		add("horizon must be positive, got %d", c.Horizon)
	}
	if c.Practitioners <= 0 {
		add("practitioners must be positive, got %d", c.Practitioners)
	}
	if c.InitialPatients < 0 {
		add("initial patients must not be negative")
	}
	if c.MinPopulation < 0 || c.MinPopulation > c.TargetPopulation {
		add("population bounds must satisfy 0 <= min <= target, got min=%d target=%d", c.MinPopulation, c.TargetPopulation)
	}
	if c.AdmissionBatch <= 0 {
		add("admission batch must be positive, got %d", c.AdmissionBatch)
	}
	if c.ArrivalInterval < 0 {
		add("arrival interval must not be negative")
	}
	for _, p := range []struct {
		name string
		v    float64
	}{
		{"admission", c.AdmissionProbability},
		{"discharge", c.DischargeProbability},
		{"cancel", c.CancelProbability},
		{"no-show", c.NoShowProbability},
		{"observation", c.ObservationProbability},
		{"frequent visit", c.FrequentVisitProbability},
		{"emergency access", c.EmergencyAccessProbability},
		{"care access", c.CareAccessProbability},
		{"standalone emergency", c.StandaloneEmergencyProbability},
		{"standalone care", c.StandaloneCareProbability},
	} {
		if p.v < 0 || p.v > 1 {
			add("%s probability must be in [0,1], got %g", p.name, p.v)
		}
	}
	if c.EmergencyAccessProbability+c.CareAccessProbability > 1 {
		add("contextual access probabilities sum above 1")
	}
	if c.StandaloneEmergencyProbability+c.StandaloneCareProbability > 1 {
		add("standalone access probabilities sum above 1")
	}
	if c.AppointmentWeight < 0 || c.EncounterWeight < 0 || c.ObservationWeight < 0 ||
		c.AppointmentWeight+c.EncounterWeight+c.ObservationWeight <= 0 {
		add("visit weights must be non-negative with a positive sum")
	}
	if len(c.VisitDurations) == 0 {
		add("at least one visit duration is required")
	}
	for _, d := range c.VisitDurations {
		if d <= 0 || d > scheduling.MinutesPerDay {
			add("visit duration %d out of range (0,%d]", d, scheduling.MinutesPerDay)
		}
	}
	if c.ObservationMax <= 0 {
		add("observation max must be positive, got %d", c.ObservationMax)
	}
	if c.ObservationBias < 1 {
		add("observation bias must be >= 1, got %g", c.ObservationBias)
	}
	if c.StandaloneMinInterval <= 0 || c.StandaloneMaxInterval < c.StandaloneMinInterval {
		add("standalone interval must satisfy 0 < min <= max, got [%d,%d]", c.StandaloneMinInterval, c.StandaloneMaxInterval)
	}
	if c.AccessMaxDelay < 0 {
		add("access max delay must not be negative")
	}
	if c.FrequentCooldownMin < 0 || c.FrequentCooldownMax < c.FrequentCooldownMin {
		add("frequent cooldown range [%d,%d] is invalid", c.FrequentCooldownMin, c.FrequentCooldownMax)
	}
	if c.RoutineCooldownMin < 0 || c.RoutineCooldownMax < c.RoutineCooldownMin {
		add("routine cooldown range [%d,%d] is invalid", c.RoutineCooldownMin, c.RoutineCooldownMax)
	}
	if c.Lookahead <= 0 {
		add("lookahead must be positive, got %d", c.Lookahead)
	}
	if c.SampleInterval <= 0 {
		add("sample interval must be positive, got %d", c.SampleInterval)
	}
	for _, k := range c.ScheduleKinds {
		if _, err := scheduling.ParseScheduleKind(k); err != nil {
			errs = append(errs, err)
		}
	}
	for i, ws := range c.Schedules {
		if err := ws.Validate(); err != nil {
			add("schedule %d: %w", i, err)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
}
