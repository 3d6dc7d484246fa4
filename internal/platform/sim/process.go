package sim

import "fmt"

// State is the lifecycle state of a Process.
type State int

const (
	Runnable State = iota
	Suspended
	Terminated
)

func (s State) String() string {
	switch s {
	case Runnable:
		return "runnable"
	case Suspended:
		return "suspended"
	case Terminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Condition is something a process can wait on. The set is closed:
// Timeout, Acquire, Join and AnyOf.
type Condition interface {
	condition()
}

// Timeout fires Delay minutes after it is armed. A zero delay fires at the
// current time, after every wakeup already scheduled for it.
type Timeout struct {
	Delay int64
}

// Acquire fires once the process has been granted the resource.
type Acquire struct {
	Resource Acquirable
}

// Join fires when Process terminates, or immediately if it already has.
type Join struct {
	Process *Process
}

// AnyOf fires when the first of its members fires. Members may only be
// Timeout or Join conditions; the remaining members are disarmed.
type AnyOf struct {
	Conditions []Condition
}

func (Timeout) condition() {}
func (Acquire) condition() {}
func (Join) condition()    {}
func (AnyOf) condition()   {}

// Step is what a process body returns: either a condition to suspend on and
// the continuation to run once it fires, or the end of the process.
type Step struct {
	cond Condition
	then func() Step
}

// Wait suspends the process on cond and runs then when it fires. A nil then
// terminates the process after the wakeup.
func Wait(cond Condition, then func() Step) Step {
	if cond == nil {
		panic("sim: Wait on nil condition")
	}
	return Step{cond: cond, then: then}
}

// Sleep is Wait(Timeout{Delay: d}, then).
func Sleep(d int64, then func() Step) Step {
	return Wait(Timeout{Delay: d}, then)
}

// Exit terminates the process.
func Exit() Step {
	return Step{}
}

// Process is a suspendable unit of sequential logic driven by an Env.
type Process struct {
	env   *Env
	id    int
	name  string
	state State

	next    func() Step
	token   uint64
	joiners []waiter
}

// ID returns the spawn-order identifier of the process.
func (p *Process) ID() int { return p.id }

// Name returns the label given at spawn time.
func (p *Process) Name() string { return p.name }

// Env returns the environment the process runs in.
func (p *Process) Env() *Env { return p.env }

// Now is shorthand for p.Env().Now().
func (p *Process) Now() int64 { return p.env.now }

// State reports the lifecycle state.
func (p *Process) State() State { return p.state }

// Done reports whether the process has terminated.
func (p *Process) Done() bool { return p.state == Terminated }

func (p *Process) String() string {
	return fmt.Sprintf("%s#%d", p.name, p.id)
}

// waiter is a process registered on a condition with the token it held when
// the condition was armed. A wakeup whose token no longer matches is stale.
type waiter struct {
	proc  *Process
	token uint64
}

func (p *Process) addJoiner(w waiter) {
	if p.state == Terminated {
		p.env.schedule(p.env.now, w)
		return
	}
	p.joiners = append(p.joiners, w)
}
