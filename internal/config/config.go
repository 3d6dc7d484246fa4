package config

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/ehr/ehrsim/internal/domain/clinicsim"
)

// Auth modes accepted by AUTH_MODE.
const (
	AuthDevelopment = "development"
	AuthJWT         = "jwt"
)

// Sink kinds accepted by SINK.
const (
	SinkMemory   = "memory"
	SinkSQLite   = "sqlite"
	SinkPostgres = "postgres"
)

type Config struct {
	Env         string `mapstructure:"ENV"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	Port        string `mapstructure:"PORT"`
	Sink        string `mapstructure:"SINK"`
	SQLitePath  string `mapstructure:"SQLITE_PATH"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	AuthMode       string   `mapstructure:"AUTH_MODE"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`

	Simulation clinicsim.Config `mapstructure:",squash"`
}

// Load reads configuration from the environment, on top of the file at path
// when one is given or an optional .env in the working directory otherwise.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigFile(".env")
	}
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PORT", "8000")
	v.SetDefault("SINK", SinkMemory)
	v.SetDefault("SQLITE_PATH", "ehrsim.db")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("AUTH_MODE", "") // inferred from ENV
	v.SetDefault("CORS_ORIGINS", []string{"*"})

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("ENV")
	v.BindEnv("LOG_LEVEL")
	v.BindEnv("PORT")
	v.BindEnv("SINK")
	v.BindEnv("SQLITE_PATH")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("AUTH_MODE")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("AUTH_SIGNING_KEY")
	v.BindEnv("CORS_ORIGINS")

	setSimulationDefaults(v, clinicsim.DefaultConfig())

	if err := v.ReadInConfig(); err != nil && path != "" {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func setSimulationDefaults(v *viper.Viper, d clinicsim.Config) {
	defaults := map[string]any{
		"SIMULATION_SEED":                             d.Seed,
		"SIMULATION_HORIZON_MINUTES":                  d.Horizon,
		"SIMULATION_PRACTITIONERS":                    d.Practitioners,
		"SIMULATION_SCHEDULE_KINDS":                   d.ScheduleKinds,
		"SIMULATION_INITIAL_PATIENTS":                 d.InitialPatients,
		"SIMULATION_TARGET_POPULATION":                d.TargetPopulation,
		"SIMULATION_MIN_POPULATION":                   d.MinPopulation,
		"SIMULATION_ADMISSION_PROBABILITY":            d.AdmissionProbability,
		"SIMULATION_ADMISSION_BATCH":                  d.AdmissionBatch,
		"SIMULATION_DISCHARGE_PROBABILITY":            d.DischargeProbability,
		"SIMULATION_ARRIVAL_INTERVAL":                 d.ArrivalInterval,
		"SIMULATION_APPOINTMENT_WEIGHT":               d.AppointmentWeight,
		"SIMULATION_ENCOUNTER_WEIGHT":                 d.EncounterWeight,
		"SIMULATION_OBSERVATION_WEIGHT":               d.ObservationWeight,
		"SIMULATION_VISIT_DURATIONS":                  d.VisitDurations,
		"SIMULATION_CANCEL_PROBABILITY":               d.CancelProbability,
		"SIMULATION_NO_SHOW_PROBABILITY":              d.NoShowProbability,
		"SIMULATION_OBSERVATION_PROBABILITY":          d.ObservationProbability,
		"SIMULATION_OBSERVATION_MAX":                  d.ObservationMax,
		"SIMULATION_OBSERVATION_BIAS":                 d.ObservationBias,
		"SIMULATION_EMERGENCY_ACCESS_PROBABILITY":     d.EmergencyAccessProbability,
		"SIMULATION_CARE_ACCESS_PROBABILITY":          d.CareAccessProbability,
		"SIMULATION_STANDALONE_EMERGENCY_PROBABILITY": d.StandaloneEmergencyProbability,
		"SIMULATION_STANDALONE_CARE_PROBABILITY":      d.StandaloneCareProbability,
		"SIMULATION_STANDALONE_MIN_INTERVAL":          d.StandaloneMinInterval,
		"SIMULATION_STANDALONE_MAX_INTERVAL":          d.StandaloneMaxInterval,
		"SIMULATION_ACCESS_MAX_DELAY":                 d.AccessMaxDelay,
		"SIMULATION_FREQUENT_VISIT_PROBABILITY":       d.FrequentVisitProbability,
		"SIMULATION_FREQUENT_COOLDOWN_MIN":            d.FrequentCooldownMin,
		"SIMULATION_FREQUENT_COOLDOWN_MAX":            d.FrequentCooldownMax,
		"SIMULATION_ROUTINE_COOLDOWN_MIN":             d.RoutineCooldownMin,
		"SIMULATION_ROUTINE_COOLDOWN_MAX":             d.RoutineCooldownMax,
		"SIMULATION_LOOKAHEAD_MINUTES":                d.Lookahead,
		"SIMULATION_SAMPLE_INTERVAL":                  d.SampleInterval,
	}
	for key, val := range defaults {
		v.SetDefault(key, val)
		v.BindEnv(key)
	}
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// ResolvedAuthMode returns AUTH_MODE, or the mode implied by ENV when it is
// unset: development servers run without authentication.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return AuthDevelopment
	}
	return AuthJWT
}

// Level returns the parsed LOG_LEVEL, info when it is unset.
func (c *Config) Level() (zerolog.Level, error) {
	if c.LogLevel == "" {
		return zerolog.InfoLevel, nil
	}
	return zerolog.ParseLevel(c.LogLevel)
}

// Validate checks the sink selection and the simulation settings.
func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	switch c.Sink {
	case SinkMemory:
	case SinkSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when SINK is %q", SinkSQLite)
		}
	case SinkPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when SINK is %q", SinkPostgres)
		}
	default:
		return fmt.Errorf("SINK must be %q, %q or %q, got %q", SinkMemory, SinkSQLite, SinkPostgres, c.Sink)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return c.Simulation.Resolved().Validate()
}

// ValidateAuth checks the settings the HTTP server needs to authenticate
// callers. Commands that do not serve skip it.
func (c *Config) ValidateAuth() error {
	switch c.ResolvedAuthMode() {
	case AuthDevelopment:
		return nil
	case AuthJWT:
		if c.AuthSigningKey == "" {
			return fmt.Errorf("AUTH_SIGNING_KEY is required when AUTH_MODE is %q (ENV=%q)", AuthJWT, c.Env)
		}
		return nil
	}
	return fmt.Errorf("AUTH_MODE must be %q or %q, got %q", AuthDevelopment, AuthJWT, c.AuthMode)
}
