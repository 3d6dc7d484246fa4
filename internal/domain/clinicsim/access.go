package clinicsim

import (
	"math/rand"

	"github.com/ehr/ehrsim/internal/domain/auditevent"
	"github.com/ehr/ehrsim/internal/domain/identity"
	"github.com/ehr/ehrsim/internal/platform/sim"
)

// rollAccess draws once against the two access probabilities.
func rollAccess(rng *rand.Rand, emergency, care float64) (auditevent.AccessKind, bool) {
	u := rng.Float64()
	switch {
	case u < emergency:
		return auditevent.Emergency, true
	case u < emergency+care:
		return auditevent.Care, true
	}
	return "", false
}

// contextAccess rolls for an access event about a record the episode just
// produced and starts the process that writes it. It returns nil on a miss.
func (r *run) contextAccess(ep episode, resourceType, resourceID string) *sim.Process {
	kind, ok := rollAccess(r.rng, r.cfg.EmergencyAccessProbability, r.cfg.CareAccessProbability)
	if !ok {
		return nil
	}
	c := &auditevent.Context{ResourceType: resourceType, ResourceID: resourceID}
	return r.env.Spawn("access", r.access(kind, ep.pr, ep.patient, c))
}

// access records one access event after a short random delay.
func (r *run) access(kind auditevent.AccessKind, pr *practitioner, patient *identity.Patient, c *auditevent.Context) func(p *sim.Process) sim.Step {
	return func(p *sim.Process) sim.Step {
		return sim.Sleep(r.rng.Int63n(r.cfg.AccessMaxDelay+1), func() sim.Step {
			ev := auditevent.New(kind, patient.ID, pr.id(), p.Now(), c)
			if _, err := r.sink.CreateAccessEvent(r.ctx, ev); !r.accept(err, "create access event") {
				return sim.Exit()
			}
			r.summary.AccessEvents.add(kind, ev.Standalone())
			return sim.Exit()
		})
	}
}

// standaloneAccess runs for the whole simulation, producing access events
// for a random practitioner and active patient with no clinical context.
func (r *run) standaloneAccess(p *sim.Process) sim.Step {
	lo, hi := r.cfg.StandaloneMinInterval, r.cfg.StandaloneMaxInterval
	var tick func() sim.Step
	tick = func() sim.Step {
		return sim.Sleep(lo+r.rng.Int63n(hi-lo+1), func() sim.Step {
			kind, ok := rollAccess(r.rng, r.cfg.StandaloneEmergencyProbability, r.cfg.StandaloneCareProbability)
			if ok && len(r.patients) > 0 {
				pr := r.practitioners[r.rng.Intn(len(r.practitioners))]
				patient := r.patients[r.rng.Intn(len(r.patients))]
				r.env.Spawn("access", r.access(kind, pr, patient, nil))
			}
			return tick()
		})
	}
	return tick()
}
