package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/ehrsim/internal/config"
	"github.com/ehr/ehrsim/internal/domain/clinicsim"
	"github.com/ehr/ehrsim/internal/platform/auth"
	"github.com/ehr/ehrsim/internal/platform/db"
	"github.com/ehr/ehrsim/internal/platform/middleware"
	"github.com/ehr/ehrsim/internal/platform/openapi"
	"github.com/ehr/ehrsim/internal/platform/sandbox"
	"github.com/ehr/ehrsim/internal/platform/sink"
	"github.com/ehr/ehrsim/internal/platform/telemetry"
	"github.com/ehr/ehrsim/internal/platform/websocket"
	"github.com/ehr/ehrsim/pkg/pagination"
)

// options holds the flags shared by the simulation commands. They override
// the loaded configuration only when set.
type options struct {
	configPath    string
	schedulesPath string
	seed          int64
	horizon       int64
	practitioners int
	patients      int
	sink          string
	sqlitePath    string
}

func main() {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:          "ehr-sim",
		Short:        "Clinical operations event stream simulator",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file (yaml, json or .env); defaults to ./.env if present")

	rootCmd.AddCommand(runCmd(opts))
	rootCmd.AddCommand(replicateCmd(opts))
	rootCmd.AddCommand(serveCmd(opts))
	rootCmd.AddCommand(schedulesCmd())
	rootCmd.AddCommand(tokenCmd(opts))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addSimulationFlags(cmd *cobra.Command, opts *options) {
	f := cmd.Flags()
	f.Int64Var(&opts.seed, "seed", 0, "Random seed")
	f.Int64Var(&opts.horizon, "horizon", 0, "Simulated time in minutes")
	f.IntVar(&opts.practitioners, "practitioners", 0, "Number of practitioners")
	f.IntVar(&opts.patients, "patients", 0, "Initial number of patients")
	f.StringVar(&opts.sink, "sink", "", "Record sink: memory, sqlite or postgres")
	f.StringVar(&opts.sqlitePath, "sqlite-path", "", "SQLite database file for the sqlite sink")
	f.StringVar(&opts.schedulesPath, "schedules", "", "YAML file of custom work schedules (see the schedules command)")
}

// load reads the configuration and applies the flags that were set.
func load(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if err := applyFlags(cmd, opts, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, opts *options, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("seed") {
		cfg.Simulation.Seed = opts.seed
	}
	if flags.Changed("horizon") {
		cfg.Simulation.Horizon = opts.horizon
	}
	if flags.Changed("practitioners") {
		cfg.Simulation.Practitioners = opts.practitioners
	}
	if flags.Changed("patients") {
		cfg.Simulation.InitialPatients = opts.patients
	}
	if flags.Changed("sink") {
		cfg.Sink = opts.sink
	}
	if flags.Changed("sqlite-path") {
		cfg.SQLitePath = opts.sqlitePath
	}
	if opts.schedulesPath != "" {
		f, err := os.Open(opts.schedulesPath)
		if err != nil {
			return err
		}
		defer f.Close()
		schedules, err := parseSchedules(f)
		if err != nil {
			return fmt.Errorf("%s: %w", opts.schedulesPath, err)
		}
		cfg.Simulation.Schedules = schedules
	}
	return nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	// stdout carries command output, so logs go to stderr.
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	level, _ := cfg.Level()
	return logger.Level(level)
}

// report is what run and replicate print for each simulation.
type report struct {
	RunID   string             `json:"run_id,omitempty"`
	Digest  string             `json:"digest,omitempty"`
	Rows    map[string]int64   `json:"rows,omitempty"`
	Summary *clinicsim.Summary `json:"summary"`
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one simulation and print its summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd, opts)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			b, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer b.Close()

			rep, err := b.simulate(ctx, cfg.Simulation, logger)
			if err != nil {
				return err
			}
			return writeJSON(cmd, rep)
		},
	}
	addSimulationFlags(cmd, opts)
	return cmd
}

func replicateCmd(opts *options) *cobra.Command {
	var runs, parallel int
	cmd := &cobra.Command{
		Use:   "replicate",
		Short: "Run independent simulations for consecutive seeds in parallel",
		RunE: func(cmd *cobra.Command, args []string) error {
			if runs <= 0 {
				return fmt.Errorf("--runs must be positive")
			}
			cfg, err := load(cmd, opts)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			b, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer b.Close()

			reports, err := replicate(ctx, b, cfg.Simulation, runs, parallel, logger)
			if err != nil {
				return err
			}
			return writeJSON(cmd, reports)
		},
	}
	addSimulationFlags(cmd, opts)
	cmd.Flags().IntVar(&runs, "runs", 4, "Number of simulations; seeds are --seed, --seed+1, ...")
	cmd.Flags().IntVar(&parallel, "parallel", runtime.NumCPU(), "Maximum simulations running at once")
	return cmd
}

// replicate runs one simulation per seed. Each run owns its environment and
// random source, so runs share nothing but the backend.
func replicate(ctx context.Context, b *backend, base clinicsim.Config, runs, parallel int, logger zerolog.Logger) ([]report, error) {
	reports := make([]report, runs)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(parallel, 1))
	for i := 0; i < runs; i++ {
		cfg := base
		cfg.Seed = base.Seed + int64(i)
		g.Go(func() error {
			rep, err := b.simulate(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("seed %d: %w", cfg.Seed, err)
			}
			reports[i] = *rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

func serveCmd(opts *options) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the sandbox HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd, opts)
			if err != nil {
				return err
			}
			if err := cfg.ValidateAuth(); err != nil {
				return err
			}
			return runServer(cfg, timeout)
		},
	}
	addSimulationFlags(cmd, opts)
	cmd.Flags().DurationVar(&timeout, "request-timeout", 2*time.Minute, "Deadline for a single sandbox request")
	return cmd
}

func runServer(cfg *config.Config, timeout time.Duration) error {
	logger := newLogger(cfg)

	ctx := context.Background()
	b, err := openBackend(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open sink backend")
	}
	defer b.Close()

	e := newServer(cfg, b, timeout, logger)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("sink", cfg.Sink).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newServer(cfg *config.Config, b *backend, timeout time.Duration, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, echo.HeaderXRequestID},
	}))

	metrics := telemetry.NewProvider()
	e.Use(metrics.MetricsMiddleware())
	e.GET("/metrics", metrics.PrometheusHandler())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "ok",
			"sink":   cfg.Sink,
		})
	})
	switch {
	case b.pool != nil:
		e.GET("/health/db", db.HealthHandler(b.pool))
	case b.sqlite != nil:
		e.GET("/health/db", db.SQLiteHealthHandler(b.sqlite))
	}

	// The stream is long-lived, so it stays out of the timeout group.
	hub := websocket.NewHub(logger)
	websocket.NewHandler(hub).RegisterRoutes(e.Group("/events"))

	sandboxGroup := e.Group("/sandbox", authMiddleware(cfg), middleware.RequestTimeout(timeout))
	sandbox.NewSimulationHandler(cfg.Simulation, logger).
		WithObserver(metrics).
		WithPublisher(hub).
		RegisterRoutes(sandboxGroup)

	apiDocs(e).RegisterRoutes(e.Group("/api"), "/api/openapi.json")
	return e
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	if cfg.ResolvedAuthMode() == config.AuthDevelopment {
		return auth.DevAuthMiddleware()
	}
	return auth.JWTMiddleware(jwtConfig(cfg))
}

func jwtConfig(cfg *config.Config) auth.JWTConfig {
	return auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
	}
}

func tokenCmd(opts *options) *cobra.Command {
	var subject string
	var roles []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token for the sandbox API with AUTH_SIGNING_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd, opts)
			if err != nil {
				return err
			}
			token, err := auth.IssueToken(jwtConfig(cfg), subject, roles, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "Token subject")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "Roles carried by the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

// version is reported in the API document.
var version = "dev"

func apiDocs(e *echo.Echo) *openapi.Generator {
	return openapi.NewGenerator(e, "Clinic Simulator API", version).
		Describe(http.MethodPost, "/sandbox/simulations", openapi.Operation{
			Summary:     "Run a simulation; body fields override the server configuration",
			Tag:         "simulations",
			RequestBody: "SimulationConfig",
			Response:    "Simulation",
			Status:      http.StatusCreated,
		}).
		Describe(http.MethodGet, "/sandbox/simulations", openapi.Operation{
			Summary: "List retained simulations",
			Tag:     "simulations",
		}).
		Describe(http.MethodGet, "/sandbox/simulations/:id", openapi.Operation{
			Summary:  "Get a simulation",
			Tag:      "simulations",
			Response: "Simulation",
		}).
		Describe(http.MethodGet, "/sandbox/simulations/:id/records", openapi.Operation{
			Summary: "Page through the records of a simulation",
			Tag:     "simulations",
			Query: []openapi.Param{
				{Name: "kind", Type: "string", Description: "appointment, appointment-status, encounter, observation or access"},
				{Name: "limit", Type: "integer"},
				{Name: "offset", Type: "integer"},
			},
			Response: "RecordPage",
		}).
		Describe(http.MethodPost, "/sandbox/reset", openapi.Operation{
			Summary: "Drop all retained simulations",
			Tag:     "simulations",
		}).
		Describe(http.MethodGet, "/events/stream", openapi.Operation{
			Summary: "WebSocket stream of simulation events",
			Tag:     "events",
			Query:   []openapi.Param{{Name: "topics", Type: "string", Description: "comma separated topics"}},
			Status:  http.StatusSwitchingProtocols,
		}).
		Describe(http.MethodGet, "/metrics", openapi.Operation{Summary: "Prometheus metrics"}).
		Describe(http.MethodGet, "/health", openapi.Operation{Summary: "Liveness"}).
		Schema("SimulationConfig", clinicsim.Config{}).
		Schema("Simulation", sandbox.Simulation{}).
		Schema("RecordPage", pagination.Response{})
}

// recordCounter is implemented by the SQL sinks.
type recordCounter interface {
	CountRecords(ctx context.Context) (map[string]int64, error)
}

var (
	_ recordCounter = (*sink.SQLite)(nil)
	_ recordCounter = (*sink.Postgres)(nil)
)
