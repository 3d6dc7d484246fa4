package clinicsim

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/ehr/ehrsim/internal/domain/clinical"
	"github.com/ehr/ehrsim/internal/domain/encounter"
	"github.com/ehr/ehrsim/internal/domain/identity"
	"github.com/ehr/ehrsim/internal/domain/scheduling"
	slots "github.com/ehr/ehrsim/internal/platform/scheduling"
	"github.com/ehr/ehrsim/internal/platform/sim"
	"github.com/ehr/ehrsim/pkg/fhirmodels"
)

// CancelReason is recorded with every cancelled appointment.
const CancelReason = "Patient cancelled"

type visitKind int

const (
	visitAppointment visitKind = iota
	visitEncounter
	visitObservation
)

func (k visitKind) String() string {
	switch k {
	case visitAppointment:
		return "appointment"
	case visitEncounter:
		return "encounter"
	case visitObservation:
		return "observation"
	}
	return fmt.Sprintf("visit(%d)", int(k))
}

// episode is what the sub-processes of one visit share. window is the
// interval held on the practitioner's calendar for the visit; every record
// the visit produces falls inside it.
type episode struct {
	pr            *practitioner
	patient       *identity.Patient
	window        scheduling.Interval
	appointmentID string
}

func (r *run) chooseVisit() visitKind {
	c := r.cfg
	u := r.rng.Float64() * (c.AppointmentWeight + c.EncounterWeight + c.ObservationWeight)
	switch {
	case u < c.AppointmentWeight:
		return visitAppointment
	case u < c.AppointmentWeight+c.EncounterWeight:
		return visitEncounter
	}
	return visitObservation
}

func (r *run) sampleDuration() int64 {
	return r.cfg.VisitDurations[r.rng.Intn(len(r.cfg.VisitDurations))]
}

// visit is the body of one patient turn.
func (r *run) visit(pr *practitioner, patient *identity.Patient) func(p *sim.Process) sim.Step {
	return func(p *sim.Process) sim.Step {
		switch r.chooseVisit() {
		case visitAppointment:
			return r.appointment(p, pr, patient)
		case visitEncounter:
			return r.adHocEncounter(p, pr, patient)
		default:
			return r.adHocObservation(p, pr, patient)
		}
	}
}

// appointment books the next free slot, then plays out cancellation,
// no-show or attendance.
func (r *run) appointment(p *sim.Process, pr *practitioner, patient *identity.Patient) sim.Step {
	now := p.Now()
	duration := r.sampleDuration()
	start, err := r.finder.FindNextSlot(pr.id(), pr.info.Schedule, now, duration)
	if err != nil {
		if isFatalScheduling(err) {
			return r.fail(err)
		}
		r.summary.SchedulingFailures++
		r.logger.Debug().
			Int64("t", now).
			Str("practitioner_id", pr.id()).
			Str("patient_id", patient.ID).
			Int64("duration", duration).
			Msg("no slot available")
		return sim.Exit()
	}

	appt := &scheduling.Appointment{
		PatientID:      patient.ID,
		PractitionerID: pr.id(),
		Created:        now,
		Start:          start,
		Duration:       duration,
		Status:         scheduling.StatusBooked,
	}
	id, err := r.sink.CreateAppointment(r.ctx, appt)
	if !r.accept(err, "create appointment") {
		return sim.Exit()
	}
	r.calendar.Reserve(pr.id(), slots.Entry{Ref: id, Kind: slots.EntryAppointment, Span: appt.Window()})
	r.summary.Appointments.Created++
	r.summary.Appointments.Booked++

	ep := episode{pr: pr, patient: patient, window: appt.Window(), appointmentID: id}
	wait := start - now
	if wait == 0 {
		return r.attend(p, ep)
	}
	check := r.rng.Int63n(wait + 1)
	return sim.Sleep(check, func() sim.Step {
		if r.rng.Float64() < r.cfg.CancelProbability {
			r.transition(ep, scheduling.StatusCancelled, CancelReason)
			r.calendar.Release(pr.id(), id)
			return sim.Exit()
		}
		return sim.Sleep(wait-check, func() sim.Step {
			return r.attend(p, ep)
		})
	})
}

// attend runs at the scheduled start: the patient either does not show up
// or is seen while the practitioner's resource is held.
func (r *run) attend(p *sim.Process, ep episode) sim.Step {
	if r.rng.Float64() < r.cfg.NoShowProbability {
		r.transition(ep, scheduling.StatusNoShow, "")
		return sim.Exit()
	}
	return sim.Wait(sim.Acquire{Resource: ep.pr.resource}, func() sim.Step {
		enc := r.env.Spawn("encounter", r.encounter(ep))
		var cond sim.Condition = sim.Join{Process: enc}
		if acc := r.contextAccess(ep, fhirmodels.ResourceTypeAppointment, ep.appointmentID); acc != nil {
			cond = sim.AnyOf{Conditions: []sim.Condition{cond, sim.Join{Process: acc}}}
		}
		return sim.Wait(cond, func() sim.Step {
			ep.pr.resource.Release(p)
			r.transition(ep, scheduling.StatusFinished, "")
			r.releaseWhenDone(enc, ep.pr, ep.appointmentID)
			return sim.Exit()
		})
	})
}

func (r *run) transition(ep episode, to scheduling.AppointmentStatus, reason string) bool {
	_, err := r.sink.UpdateAppointmentStatus(r.ctx, ep.appointmentID, to, reason, r.env.Now())
	if !r.accept(err, "update appointment status") {
		return false
	}
	r.summary.Appointments.moved(to)
	return true
}

// releaseWhenDone frees a calendar entry once proc has terminated.
func (r *run) releaseWhenDone(proc *sim.Process, pr *practitioner, ref string) {
	if proc.Done() {
		r.calendar.Release(pr.id(), ref)
		return
	}
	r.env.Spawn("release", func(p *sim.Process) sim.Step {
		return sim.Wait(sim.Join{Process: proc}, func() sim.Step {
			r.calendar.Release(pr.id(), ref)
			return sim.Exit()
		})
	})
}

// hold reserves ep.window for an unscheduled visit.
func (r *run) hold(ep episode) string {
	r.holds++
	ref := fmt.Sprintf("hold-%d", r.holds)
	r.calendar.Reserve(ep.pr.id(), slots.Entry{Ref: ref, Kind: slots.EntryHold, Span: ep.window})
	return ref
}

func (r *run) reject(pr *practitioner, patient *identity.Patient, kind visitKind, now int64) sim.Step {
	r.summary.AdHocRejections++
	r.logger.Debug().
		Int64("t", now).
		Str("practitioner_id", pr.id()).
		Str("patient_id", patient.ID).
		Stringer("visit", kind).
		Msg("practitioner busy")
	return sim.Exit()
}

// adHocEncounter sees the patient right away if the practitioner is free
// for a full visit.
func (r *run) adHocEncounter(p *sim.Process, pr *practitioner, patient *identity.Patient) sim.Step {
	now := p.Now()
	duration := r.sampleDuration()
	if !r.finder.IsAvailable(pr.id(), pr.info.Schedule, now, duration) {
		return r.reject(pr, patient, visitEncounter, now)
	}
	ep := episode{pr: pr, patient: patient, window: scheduling.Interval{Start: now, End: now + duration}}
	ref := r.hold(ep)
	return sim.Wait(sim.Acquire{Resource: pr.resource}, func() sim.Step {
		enc := r.env.Spawn("encounter", r.encounter(ep))
		return sim.Wait(sim.Join{Process: enc}, func() sim.Step {
			pr.resource.Release(p)
			r.calendar.Release(pr.id(), ref)
			return sim.Exit()
		})
	})
}

// adHocObservation records observations outside any encounter, inside a
// surrogate window of the shortest visit length.
func (r *run) adHocObservation(p *sim.Process, pr *practitioner, patient *identity.Patient) sim.Step {
	now := p.Now()
	duration := r.cfg.MinVisitDuration()
	if !r.finder.IsAvailable(pr.id(), pr.info.Schedule, now, duration) {
		return r.reject(pr, patient, visitObservation, now)
	}
	ep := episode{pr: pr, patient: patient, window: scheduling.Interval{Start: now, End: now + duration}}
	ref := r.hold(ep)
	obs := r.env.Spawn("observations", r.observations(ep, ep.window, ""))
	return sim.Wait(sim.Join{Process: obs}, func() sim.Step {
		r.calendar.Release(pr.id(), ref)
		return sim.Exit()
	})
}

// encounter records an encounter placed inside the episode window, waits for
// it to end and may follow it with observations in the rest of the window.
func (r *run) encounter(ep episode) func(p *sim.Process) sim.Step {
	return func(p *sim.Process) sim.Step {
		span := encounter.PlanWithin(r.rng, ep.window, r.cfg.MinVisitDuration())
		rec := encounter.New(ep.patient.ID, ep.pr.id(), ep.appointmentID, span)
		id, err := r.sink.CreateEncounter(r.ctx, rec)
		if !r.accept(err, "create encounter") {
			return sim.Exit()
		}
		r.calendar.Reserve(ep.pr.id(), slots.Entry{Ref: id, Kind: slots.EntryEncounter, Span: span})
		r.summary.Encounters++
		if rec.AdHoc() {
			r.summary.AdHocEncounters++
		}

		var cond sim.Condition = sim.Timeout{Delay: max(0, span.End-p.Now())}
		if acc := r.contextAccess(ep, fhirmodels.ResourceTypeEncounter, id); acc != nil {
			cond = sim.AnyOf{Conditions: []sim.Condition{cond, sim.Join{Process: acc}}}
		}
		return sim.Wait(cond, func() sim.Step {
			if r.rng.Float64() >= r.cfg.ObservationProbability {
				return sim.Exit()
			}
			rest := scheduling.Interval{Start: max(p.Now(), span.End), End: ep.window.End}
			if rest.Len() <= 0 {
				return sim.Exit()
			}
			obs := r.env.Spawn("observations", r.observations(ep, rest, id))
			return sim.Wait(sim.Join{Process: obs}, nil)
		})
	}
}

// observations records between one and ObservationMax vital signs inside
// window, each at its own minute, waiting for each timestamp in turn.
func (r *run) observations(ep episode, window scheduling.Interval, encounterID string) func(p *sim.Process) sim.Step {
	return func(p *sim.Process) sim.Step {
		count := 1 + r.rng.Intn(r.cfg.ObservationMax)
		times := observationTimes(r.rng, window, count, r.cfg.ObservationBias)
		i := 0
		var next func() sim.Step
		next = func() sim.Step {
			if i == len(times) {
				return sim.Exit()
			}
			at := times[i]
			return sim.Sleep(max(0, at-p.Now()), func() sim.Step {
				vs := clinical.VitalSignFor(i)
				i++
				rec := clinical.NewObservation(ep.patient.ID, ep.pr.id(), encounterID, at, vs, vs.Sample(r.rng))
				id, err := r.sink.CreateObservation(r.ctx, rec)
				if !r.accept(err, "create observation") {
					return sim.Exit()
				}
				r.calendar.Reserve(ep.pr.id(), slots.Entry{
					Ref:  id,
					Kind: slots.EntryObservation,
					Span: scheduling.Interval{Start: at, End: at + 1},
				})
				r.summary.Observations++
				r.contextAccess(ep, fhirmodels.ResourceTypeObservation, id)
				return next()
			})
		}
		return next()
	}
}

// observationTimes draws count distinct minutes in window, sorted. Offsets
// are width*u^(1/bias), so a bias above 1 favours the end of the window.
// Collisions are pushed to the next free minute and dropped past the end.
func observationTimes(rng *rand.Rand, window scheduling.Interval, count int, bias float64) []int64 {
	width := window.Len()
	if width <= 0 || count <= 0 {
		return nil
	}
	offsets := make([]int64, count)
	for i := range offsets {
		off := int64(float64(width) * math.Pow(rng.Float64(), 1/bias))
		offsets[i] = min(off, width-1)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })

	out := make([]int64, 0, count)
	var free int64
	for _, off := range offsets {
		off = max(off, free)
		if off >= width {
			break
		}
		out = append(out, window.Start+off)
		free = off + 1
	}
	return out
}
