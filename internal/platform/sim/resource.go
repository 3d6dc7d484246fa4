package sim

import "fmt"

// Acquirable is implemented by the kernel's blocking primitives, Resource and
// Queue. Waiters are granted in FIFO order.
type Acquirable interface {
	request(w waiter)
}

// Resource is a capacity-1 mutual exclusion primitive.
type Resource struct {
	env     *Env
	name    string
	holder  *Process
	waiters []waiter
}

// NewResource creates a free resource.
func (e *Env) NewResource(name string) *Resource {
	return &Resource{env: e, name: name}
}

// Name returns the resource label.
func (r *Resource) Name() string { return r.name }

// Holder returns the process holding the resource, or nil.
func (r *Resource) Holder() *Process { return r.holder }

// Waiting returns the number of processes queued for the resource.
func (r *Resource) Waiting() int { return len(r.waiters) }

func (r *Resource) request(w waiter) {
	if r.holder == nil {
		r.grant(w)
		return
	}
	r.waiters = append(r.waiters, w)
}

func (r *Resource) grant(w waiter) {
	r.holder = w.proc
	r.env.schedule(r.env.now, w)
}

// Release frees the resource and hands it to the oldest waiter. Releasing a
// resource the process does not hold panics.
func (r *Resource) Release(p *Process) {
	if r.holder != p {
		panic(fmt.Sprintf("sim: %s released %s held by %v", p, r.name, r.holder))
	}
	r.holder = nil
	if len(r.waiters) == 0 {
		return
	}
	next := r.waiters[0]
	r.waiters = r.waiters[1:]
	r.grant(next)
}

// Queue is a FIFO of items with blocking takers. Acquire on a queue fires when
// an item has been reserved for the process; Claim hands it over.
type Queue[T any] struct {
	env     *Env
	name    string
	items   []T
	takers  []waiter
	claimed map[*Process]T
}

// NewQueue creates an empty queue bound to env.
func NewQueue[T any](env *Env, name string) *Queue[T] {
	return &Queue[T]{env: env, name: name, claimed: make(map[*Process]T)}
}

// Name returns the queue label.
func (q *Queue[T]) Name() string { return q.name }

// Len returns the number of items not yet reserved for a taker.
func (q *Queue[T]) Len() int { return len(q.items) }

// Waiting returns the number of blocked takers.
func (q *Queue[T]) Waiting() int { return len(q.takers) }

// Put appends an item. If a taker is blocked, the item goes straight to the
// oldest one.
func (q *Queue[T]) Put(item T) {
	if len(q.takers) > 0 {
		w := q.takers[0]
		q.takers = q.takers[1:]
		q.hand(w, item)
		return
	}
	q.items = append(q.items, item)
}

// Claim returns the item reserved for p by a fired Acquire.
func (q *Queue[T]) Claim(p *Process) T {
	item, ok := q.claimed[p]
	if !ok {
		panic(fmt.Sprintf("sim: %s claimed from %s without a grant", p, q.name))
	}
	delete(q.claimed, p)
	return item
}

func (q *Queue[T]) request(w waiter) {
	if len(q.items) == 0 {
		q.takers = append(q.takers, w)
		return
	}
	item := q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	q.hand(w, item)
}

func (q *Queue[T]) hand(w waiter, item T) {
	q.claimed[w.proc] = item
	q.env.schedule(q.env.now, w)
}
