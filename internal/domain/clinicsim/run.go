// Package clinicsim drives a simulated clinic: practitioners work through
// their patient queues, patients book appointments and are seen, and every
// resulting record is handed to a sink. All randomness comes from one seeded
// source, so a run is reproducible from its Config.
package clinicsim

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/rs/zerolog"

	"github.com/ehr/ehrsim/internal/domain/identity"
	"github.com/ehr/ehrsim/internal/domain/scheduling"
	slots "github.com/ehr/ehrsim/internal/platform/scheduling"
	"github.com/ehr/ehrsim/internal/platform/sim"
	"github.com/ehr/ehrsim/internal/platform/sink"
)

// practitioner is a clinician with the two primitives that gate their work.
type practitioner struct {
	info     *identity.Practitioner
	resource *sim.Resource
	queue    *sim.Queue[*identity.Patient]
	// load counts admitted patients assigned to this practitioner.
	load int
}

func (pr *practitioner) id() string { return pr.info.ID }

type cooldown struct {
	last     int64
	duration int64
}

// run is the state shared by every process of one simulation.
type run struct {
	ctx    context.Context
	cfg    Config
	env    *sim.Env
	rng    *rand.Rand
	people *identity.Generator
	sink   sink.Sink
	logger zerolog.Logger

	calendar *slots.Calendar
	finder   slots.SlotFinder

	practitioners []*practitioner
	// patients lists active patients in admission order.
	patients  []*identity.Patient
	cooldowns map[string]cooldown
	holds     int

	summary Summary

	// onVisit, when set, is called after each completed visit with the
	// cooldown assigned to the patient.
	onVisit func(patientID string, started, finished, cooldown int64)
}

// Run executes one simulation to its horizon and returns its summary. The
// sink is not closed.
func Run(ctx context.Context, cfg Config, s sink.Sink, logger zerolog.Logger) (*Summary, error) {
	r, err := newRun(ctx, cfg, s, logger)
	if err != nil {
		return nil, err
	}
	return r.execute()
}

func newRun(ctx context.Context, cfg Config, s sink.Sink, logger zerolog.Logger) (*run, error) {
	cfg = cfg.Resolved()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger = logger.With().Str("component", "clinicsim").Int64("seed", cfg.Seed).Logger()
	cal := slots.NewCalendar()
	r := &run{
		ctx:       ctx,
		cfg:       cfg,
		env:       sim.NewEnv(logger),
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		people:    identity.NewGenerator(cfg.Seed),
		sink:      s,
		logger:    logger,
		calendar:  cal,
		finder:    slots.NewFinder(cal, cfg.Lookahead),
		cooldowns: make(map[string]cooldown),
	}
	r.summary.Seed = cfg.Seed
	r.summary.Horizon = cfg.Horizon
	r.summary.Practitioners = cfg.Practitioners
	return r, nil
}

func (r *run) execute() (*Summary, error) {
	if err := r.staff(); err != nil {
		return nil, err
	}
	if err := r.admit(r.cfg.InitialPatients); err != nil {
		return nil, err
	}
	r.logger.Info().
		Int("practitioners", len(r.practitioners)).
		Int("patients", len(r.patients)).
		Int64("horizon", r.cfg.Horizon).
		Msg("simulation started")

	for _, pr := range r.practitioners {
		r.env.Spawn("practitioner", r.practitionerLoop(pr))
	}
	r.env.Spawn("standalone-access", r.standaloneAccess)
	r.env.Spawn("sampler", r.sampler)

	stats, err := r.env.Run(r.ctx, r.cfg.Horizon)
	r.summary.Kernel = stats
	r.summary.finish()
	if err != nil {
		r.logger.Error().Err(err).Int64("t", stats.Now).Msg("simulation aborted")
		return &r.summary, err
	}
	r.logger.Info().
		Int("appointments", r.summary.Appointments.Created).
		Int("encounters", r.summary.Encounters).
		Int("observations", r.summary.Observations).
		Int("access_events", r.summary.AccessEvents.Emergency+r.summary.AccessEvents.Care).
		Int("steps", stats.Steps).
		Msg("simulation finished")
	return &r.summary, nil
}

// staff creates and registers the practitioners.
func (r *run) staff() error {
	for i := 0; i < r.cfg.Practitioners; i++ {
		kind, ws, err := r.scheduleFor(i)
		if err != nil {
			return err
		}
		info := r.people.Practitioner(kind, ws)
		if ws.IsEmpty() {
			return fmt.Errorf("%w: %s", slots.ErrNoWorkSchedule, info.ID)
		}
		if err := r.sink.RegisterPractitioner(r.ctx, info); err != nil {
			return fmt.Errorf("register practitioner: %w", err)
		}
		r.practitioners = append(r.practitioners, &practitioner{
			info:     info,
			resource: r.env.NewResource("practitioner/" + info.ID),
			queue:    sim.NewQueue[*identity.Patient](r.env, "queue/"+info.ID),
		})
	}
	return nil
}

// customSchedule labels practitioners whose hours came from Config.Schedules.
const customSchedule scheduling.ScheduleKind = "custom"

func (r *run) scheduleFor(i int) (scheduling.ScheduleKind, scheduling.WorkSchedule, error) {
	if n := len(r.cfg.Schedules); n > 0 {
		return customSchedule, r.cfg.Schedules[i%n], nil
	}
	var kind scheduling.ScheduleKind
	if n := len(r.cfg.ScheduleKinds); n > 0 {
		k, err := scheduling.ParseScheduleKind(r.cfg.ScheduleKinds[i%n])
		if err != nil {
			return "", scheduling.WorkSchedule{}, err
		}
		kind = k
	} else {
		kind = scheduling.ScheduleKinds[r.rng.Intn(len(scheduling.ScheduleKinds))]
	}
	ws, err := scheduling.SampleWorkSchedule(r.rng, kind)
	return kind, ws, err
}

// accept handles the error of a sink call made inside a process. It reports
// whether the caller may continue. Reference errors end only the current
// cascade; anything else ends the run.
func (r *run) accept(err error, op string) bool {
	if err == nil {
		return true
	}
	if sink.IsReferenceError(err) {
		r.summary.ReferenceErrors++
		r.logger.Error().Err(err).Str("op", op).Int64("t", r.env.Now()).Msg("cascade aborted")
		return false
	}
	r.env.Stop(fmt.Errorf("%s: %w", op, err))
	return false
}

// fail stops the run with a configuration or kernel-level error.
func (r *run) fail(err error) sim.Step {
	r.env.Stop(err)
	return sim.Exit()
}

// isFatalScheduling reports whether a finder error must stop the run.
func isFatalScheduling(err error) bool {
	return err != nil && !errors.Is(err, slots.ErrNoSlot)
}
