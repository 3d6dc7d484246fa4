// Package sandbox serves clinic simulations over HTTP. Runs use the memory
// sink and are kept in process so their records can be browsed afterwards.
package sandbox

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/ehrsim/internal/domain/clinicsim"
	"github.com/ehr/ehrsim/internal/domain/scheduling"
	"github.com/ehr/ehrsim/internal/platform/auth"
	"github.com/ehr/ehrsim/internal/platform/sink"
	"github.com/ehr/ehrsim/internal/platform/websocket"
	"github.com/ehr/ehrsim/pkg/pagination"
)

// MaxHorizon bounds a sandbox run so a request cannot occupy the server for
// a simulated year.
const MaxHorizon = 12 * scheduling.MinutesPerWeek

// maxRuns is how many finished runs are kept; the oldest is dropped first.
const maxRuns = 16

// Simulation is a finished sandbox run.
type Simulation struct {
	ID      string             `json:"id"`
	Config  clinicsim.Config   `json:"config"`
	Summary *clinicsim.Summary `json:"summary"`
	Records int                `json:"records"`
	Digest  string             `json:"digest"`
	// RequestedBy is the authenticated caller that started the run.
	RequestedBy string `json:"requested_by,omitempty"`

	mem *sink.Memory
}

// Observer is told about every run the handler executes.
type Observer interface {
	ObserveSimulation(summary *clinicsim.Summary, elapsed time.Duration, err error)
}

// SimulationHandler provides HTTP endpoints for running simulations.
type SimulationHandler struct {
	base     clinicsim.Config
	logger   zerolog.Logger
	observer Observer
	events   websocket.EventPublisher

	mu    sync.Mutex
	runs  map[string]*Simulation
	order []string
}

// NewSimulationHandler creates a handler whose runs start from base. Request
// bodies override individual fields.
func NewSimulationHandler(base clinicsim.Config, logger zerolog.Logger) *SimulationHandler {
	return &SimulationHandler{
		base:   base,
		logger: logger.With().Str("component", "sandbox").Logger(),
		runs:   make(map[string]*Simulation),
	}
}

// WithObserver sets the observer of finished runs.
func (h *SimulationHandler) WithObserver(o Observer) *SimulationHandler {
	h.observer = o
	return h
}

// WithPublisher streams the lifecycle and records of every run to p.
func (h *SimulationHandler) WithPublisher(p websocket.EventPublisher) *SimulationHandler {
	h.events = p
	return h
}

// RegisterRoutes registers sandbox routes on the given Echo group.
func (h *SimulationHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/simulations", h.handleRun)
	g.GET("/simulations", h.handleList)
	g.GET("/simulations/:id", h.handleGet)
	g.GET("/simulations/:id/records", h.handleRecords)
	g.POST("/reset", h.handleReset)
}

func (h *SimulationHandler) handleRun(c echo.Context) error {
	cfg := h.base
	// Decoding reuses slice backing arrays, so detach them from base.
	cfg.VisitDurations = slices.Clone(cfg.VisitDurations)
	cfg.ScheduleKinds = slices.Clone(cfg.ScheduleKinds)
	if err := c.Bind(&cfg); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if cfg.Horizon > MaxHorizon {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "horizon_minutes exceeds the sandbox limit"})
	}

	id := uuid.NewString()
	mem := sink.NewMemory(cfg.Seed)
	ctx := c.Request().Context()
	caller := auth.Subject(ctx)
	logger := h.logger.With().Str("simulation_id", id).Str("requested_by", caller).Logger()
	h.publishRecords(ctx, id, mem)
	h.publish(ctx, websocket.EventSimulationStarted, id, cfg.Resolved())

	start := time.Now()
	summary, err := clinicsim.Run(ctx, cfg, sink.WithLogging(mem, logger), logger)
	if h.observer != nil {
		h.observer.ObserveSimulation(summary, time.Since(start), err)
	}
	if err != nil {
		h.publish(ctx, websocket.EventSimulationFailed, id, map[string]string{"error": err.Error()})
		status := http.StatusInternalServerError
		if errors.Is(err, clinicsim.ErrInvalidConfig) {
			status = http.StatusBadRequest
		}
		return c.JSON(status, map[string]string{"error": err.Error()})
	}

	run := &Simulation{
		ID:      id,
		Config:  cfg.Resolved(),
		Summary: summary,
		Records: mem.Len(),
		Digest:  mem.Digest(),

		RequestedBy: caller,
		mem:         mem,
	}
	h.store(run)
	h.publish(ctx, websocket.EventSimulationFinished, id, summary)
	return c.JSON(http.StatusCreated, run)
}

func (h *SimulationHandler) publish(ctx context.Context, typ, id string, data any) {
	if h.events == nil {
		return
	}
	err := h.events.Publish(ctx, websocket.Event{
		Type:         typ,
		Topic:        websocket.TopicSimulations,
		SimulationID: id,
		Data:         data,
	})
	if err != nil {
		h.logger.Warn().Err(err).Str("simulation_id", id).Msg("failed to publish event")
	}
}

// publishRecords streams every record mem accepts.
func (h *SimulationHandler) publishRecords(ctx context.Context, id string, mem *sink.Memory) {
	if h.events == nil {
		return
	}
	mem.OnRecord(func(r sink.Record) {
		err := h.events.Publish(ctx, websocket.Event{
			Type:         websocket.EventRecordCreated,
			Topic:        websocket.RecordTopic(string(r.Kind)),
			SimulationID: id,
			At:           r.At,
			Data:         r,
		})
		if err != nil {
			h.logger.Warn().Err(err).Str("simulation_id", id).Msg("failed to publish record")
		}
	})
}

func (h *SimulationHandler) store(run *Simulation) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.order) == maxRuns {
		delete(h.runs, h.order[0])
		h.order = h.order[1:]
	}
	h.runs[run.ID] = run
	h.order = append(h.order, run.ID)
}

func (h *SimulationHandler) lookup(id string) (*Simulation, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	run, ok := h.runs[id]
	return run, ok
}

func (h *SimulationHandler) handleList(c echo.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]*Simulation, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.runs[id])
	}
	return c.JSON(http.StatusOK, out)
}

func (h *SimulationHandler) handleGet(c echo.Context) error {
	run, ok := h.lookup(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "simulation not found"})
	}
	return c.JSON(http.StatusOK, run)
}

var recordKinds = map[string]sink.RecordKind{
	string(sink.KindAppointment):  sink.KindAppointment,
	string(sink.KindStatusChange): sink.KindStatusChange,
	string(sink.KindEncounter):    sink.KindEncounter,
	string(sink.KindObservation):  sink.KindObservation,
	string(sink.KindAccessEvent):  sink.KindAccessEvent,
}

func (h *SimulationHandler) handleRecords(c echo.Context) error {
	run, ok := h.lookup(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "simulation not found"})
	}

	var kinds []sink.RecordKind
	if k := c.QueryParam("kind"); k != "" {
		kind, ok := recordKinds[k]
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown record kind: " + k})
		}
		kinds = append(kinds, kind)
	}

	records := run.mem.Records(kinds...)
	return c.JSON(http.StatusOK, pagination.Build(c, records))
}

func (h *SimulationHandler) handleReset(c echo.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.runs = make(map[string]*Simulation)
	h.order = nil
	return c.JSON(http.StatusOK, map[string]string{"status": "reset"})
}
