// Package sim is a single-threaded discrete-event kernel. Time is an integer
// number of virtual minutes. Processes are continuations that suspend on a
// closed set of conditions; the Env resumes them in (time, sequence) order so
// that a run is fully determined by its inputs.
package sim

import (
	"container/heap"
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"
)

// Forever is a horizon that never arrives; Run returns once no wakeups remain.
const Forever int64 = math.MaxInt64

// ctxCheckInterval is how many wakeups are dispatched between context checks.
const ctxCheckInterval = 1024

// RunStats describes a finished Run.
type RunStats struct {
	Steps     int   `json:"steps"`
	Processes int   `json:"processes"`
	Pending   int   `json:"pending"`
	Now       int64 `json:"now"`
}

// wakeup is a pending resumption. seq is the global scheduling counter and
// breaks ties between wakeups at the same time.
type wakeup struct {
	at  int64
	seq uint64
	waiter
}

type wakeupQueue []wakeup

func (q wakeupQueue) Len() int { return len(q) }
func (q wakeupQueue) Less(i, j int) bool {
	if q[i].at == q[j].at {
		return q[i].seq < q[j].seq
	}
	return q[i].at < q[j].at
}
func (q wakeupQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *wakeupQueue) Push(x any)   { *q = append(*q, x.(wakeup)) }
func (q *wakeupQueue) Pop() any {
	old := *q
	n := len(old)
	w := old[n-1]
	*q = old[:n-1]
	return w
}

// Env owns the virtual clock and every pending wakeup.
type Env struct {
	now     int64
	seq     uint64
	nextPID int
	queue   wakeupQueue

	stopped bool
	err     error
	logger  zerolog.Logger
}

// NewEnv creates an environment at time zero.
func NewEnv(logger zerolog.Logger) *Env {
	return &Env{logger: logger.With().Str("component", "sim").Logger()}
}

// Now returns the current virtual time in minutes.
func (e *Env) Now() int64 { return e.now }

// Spawn creates a process whose body starts running at the current time,
// after every wakeup already scheduled for that time.
func (e *Env) Spawn(name string, body func(p *Process) Step) *Process {
	e.nextPID++
	p := &Process{env: e, id: e.nextPID, name: name, state: Suspended, token: 1}
	p.next = func() Step { return body(p) }
	e.schedule(e.now, waiter{proc: p, token: p.token})
	return p
}

// Stop ends the current Run after the wakeup being dispatched. The first
// non-nil err is returned from Run.
func (e *Env) Stop(err error) {
	e.stopped = true
	if e.err == nil {
		e.err = err
	}
}

// Run dispatches wakeups strictly before until. When the horizon is reached
// the clock is set to it and processes still suspended are left as they are.
func (e *Env) Run(ctx context.Context, until int64) (RunStats, error) {
	stats := RunStats{}
	for len(e.queue) > 0 && !e.stopped {
		if e.queue[0].at >= until {
			break
		}
		w := heap.Pop(&e.queue).(wakeup)
		e.now = w.at
		e.dispatch(w.waiter)
		stats.Steps++
		if stats.Steps%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return e.finish(stats), fmt.Errorf("sim run interrupted at t=%d: %w", e.now, err)
			}
		}
	}
	if !e.stopped && until != Forever && e.now < until {
		e.now = until
	}
	stats = e.finish(stats)
	e.logger.Debug().
		Int("steps", stats.Steps).
		Int("processes", stats.Processes).
		Int("pending", stats.Pending).
		Int64("now", stats.Now).
		Msg("run finished")
	return stats, e.err
}

func (e *Env) finish(stats RunStats) RunStats {
	stats.Processes = e.nextPID
	stats.Pending = len(e.queue)
	stats.Now = e.now
	return stats
}

func (e *Env) schedule(at int64, w waiter) {
	e.seq++
	heap.Push(&e.queue, wakeup{at: at, seq: e.seq, waiter: w})
}

func (e *Env) dispatch(w waiter) {
	p := w.proc
	if p.state != Suspended || p.token != w.token {
		return
	}
	p.state = Runnable
	next := p.next
	p.next = nil
	if next == nil {
		e.terminate(p)
		return
	}
	e.apply(p, next())
}

func (e *Env) apply(p *Process, s Step) {
	if s.cond == nil {
		e.terminate(p)
		return
	}
	p.token++
	p.state = Suspended
	p.next = s.then
	e.arm(waiter{proc: p, token: p.token}, s.cond, false)
}

func (e *Env) arm(w waiter, c Condition, inAnyOf bool) {
	switch c := c.(type) {
	case Timeout:
		if c.Delay < 0 {
			panic(fmt.Sprintf("sim: negative timeout %d in %s", c.Delay, w.proc))
		}
		e.schedule(e.now+c.Delay, w)
	case Join:
		if c.Process == nil {
			panic(fmt.Sprintf("sim: join on nil process in %s", w.proc))
		}
		c.Process.addJoiner(w)
	case Acquire:
		if inAnyOf {
			panic(fmt.Sprintf("sim: acquire inside AnyOf in %s", w.proc))
		}
		c.Resource.request(w)
	case AnyOf:
		if inAnyOf || len(c.Conditions) == 0 {
			panic(fmt.Sprintf("sim: invalid AnyOf in %s", w.proc))
		}
		for _, m := range c.Conditions {
			e.arm(w, m, true)
		}
	default:
		panic(fmt.Sprintf("sim: unknown condition %T", c))
	}
}

func (e *Env) terminate(p *Process) {
	p.state = Terminated
	p.next = nil
	for _, j := range p.joiners {
		e.schedule(e.now, j)
	}
	p.joiners = nil
}
