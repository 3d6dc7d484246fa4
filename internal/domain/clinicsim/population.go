package clinicsim

import (
	"fmt"

	"github.com/ehr/ehrsim/internal/domain/identity"
	"github.com/ehr/ehrsim/internal/platform/sim"
)

// maintainPopulation admits a batch when the active count is below the
// minimum, or with the admission probability while it is below the target.
func (r *run) maintainPopulation() error {
	active := len(r.patients)
	if active >= r.cfg.TargetPopulation {
		return nil
	}
	if active >= r.cfg.MinPopulation && r.rng.Float64() >= r.cfg.AdmissionProbability {
		return nil
	}
	return r.admit(min(r.cfg.AdmissionBatch, r.cfg.TargetPopulation-active))
}

// admit registers n new patients, assigns each to the least loaded
// practitioner and starts a feeder that enqueues them after staggered
// arrival delays.
func (r *run) admit(n int) error {
	if n <= 0 {
		return nil
	}
	type arrival struct {
		patient *identity.Patient
		pr      *practitioner
	}
	batch := make([]arrival, 0, n)
	for i := 0; i < n; i++ {
		p := r.people.Patient(r.env.Now())
		if err := r.sink.RegisterPatient(r.ctx, p); err != nil {
			return fmt.Errorf("register patient: %w", err)
		}
		pr := r.leastLoaded()
		pr.load++
		r.patients = append(r.patients, p)
		r.summary.Admissions++
		batch = append(batch, arrival{patient: p, pr: pr})
	}
	r.logger.Debug().
		Int64("t", r.env.Now()).
		Int("admitted", n).
		Int("active", len(r.patients)).
		Msg("patients admitted")

	r.env.Spawn("arrivals", func(p *sim.Process) sim.Step {
		i := 0
		var next func() sim.Step
		next = func() sim.Step {
			if i == len(batch) {
				return sim.Exit()
			}
			return sim.Sleep(r.arrivalDelay(), func() sim.Step {
				a := batch[i]
				i++
				a.pr.queue.Put(a.patient)
				return next()
			})
		}
		return next()
	})
	return nil
}

// leastLoaded returns the practitioner with the fewest assigned patients,
// the earliest one on ties.
func (r *run) leastLoaded() *practitioner {
	best := r.practitioners[0]
	for _, pr := range r.practitioners[1:] {
		if pr.load < best.load {
			best = pr
		}
	}
	return best
}

func (r *run) arrivalDelay() int64 {
	if r.cfg.ArrivalInterval == 0 {
		return 0
	}
	return int64(r.rng.ExpFloat64() * r.cfg.ArrivalInterval)
}

// discharge removes a patient from tracking.
func (r *run) discharge(pr *practitioner, patient *identity.Patient) {
	for i, p := range r.patients {
		if p == patient {
			r.patients = append(r.patients[:i], r.patients[i+1:]...)
			break
		}
	}
	delete(r.cooldowns, patient.ID)
	pr.load--
	r.summary.Discharges++
	r.logger.Debug().
		Int64("t", r.env.Now()).
		Str("patient_id", patient.ID).
		Int("active", len(r.patients)).
		Msg("patient discharged")
}

// sampleCooldown draws the time a patient must wait before their next
// visit: a frequent-visit range with the configured probability, the
// routine range otherwise.
func (r *run) sampleCooldown() int64 {
	lo, hi := r.cfg.RoutineCooldownMin, r.cfg.RoutineCooldownMax
	if r.rng.Float64() < r.cfg.FrequentVisitProbability {
		lo, hi = r.cfg.FrequentCooldownMin, r.cfg.FrequentCooldownMax
	}
	return lo + r.rng.Int63n(hi-lo+1)
}

// remainingCooldown returns how long patient must still wait at time now.
func (r *run) remainingCooldown(patientID string, now int64) int64 {
	cd, ok := r.cooldowns[patientID]
	if !ok {
		return 0
	}
	if elapsed := now - cd.last; elapsed < cd.duration {
		return cd.duration - elapsed
	}
	return 0
}

// sampler records the active population every sample interval and drops
// calendar entries that can no longer conflict with a search.
func (r *run) sampler(p *sim.Process) sim.Step {
	var tick func() sim.Step
	tick = func() sim.Step {
		r.summary.Population = append(r.summary.Population, PopulationSample{At: p.Now(), Active: len(r.patients)})
		if pruned := r.calendar.Prune(p.Now()); pruned > 0 {
			r.logger.Debug().Int64("t", p.Now()).Int("pruned", pruned).Msg("calendar pruned")
		}
		return sim.Sleep(r.cfg.SampleInterval, tick)
	}
	return tick()
}
