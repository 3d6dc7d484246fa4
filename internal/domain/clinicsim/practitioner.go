package clinicsim

import (
	"github.com/ehr/ehrsim/internal/platform/sim"
)

// practitionerLoop is the body of a practitioner's process. Each turn it
// tops up the population, takes the next patient from its queue and either
// waits out the patient's cooldown or runs a visit to completion.
func (r *run) practitionerLoop(pr *practitioner) func(p *sim.Process) sim.Step {
	return func(p *sim.Process) sim.Step {
		var turn func() sim.Step
		turn = func() sim.Step {
			if err := r.maintainPopulation(); err != nil {
				return r.fail(err)
			}
			return sim.Wait(sim.Acquire{Resource: pr.queue}, func() sim.Step {
				patient := pr.queue.Claim(p)

				if wait := r.remainingCooldown(patient.ID, p.Now()); wait > 0 {
					return sim.Sleep(wait, func() sim.Step {
						pr.queue.Put(patient)
						return turn()
					})
				}

				started := p.Now()
				visit := r.env.Spawn("visit", r.visit(pr, patient))
				return sim.Wait(sim.Join{Process: visit}, func() sim.Step {
					now := p.Now()
					cd := cooldown{last: now, duration: r.sampleCooldown()}
					r.cooldowns[patient.ID] = cd
					if r.onVisit != nil {
						r.onVisit(patient.ID, started, now, cd.duration)
					}
					if r.rng.Float64() < r.cfg.DischargeProbability {
						r.discharge(pr, patient)
					} else {
						pr.queue.Put(patient)
					}
					return turn()
				})
			})
		}
		return turn()
	}
}
