package sim

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newTestEnv() *Env {
	return NewEnv(zerolog.Nop())
}

func mustPanic(t *testing.T, want string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic containing %q", want)
		}
		if !strings.Contains(fmt.Sprint(r), want) {
			t.Errorf("panic = %v, want substring %q", r, want)
		}
	}()
	fn()
}

// ---------- Clock ----------

func TestEnv_TimeoutOrder(t *testing.T) {
	env := newTestEnv()
	var got []string
	sleeper := func(name string, d int64) {
		env.Spawn(name, func(p *Process) Step {
			return Sleep(d, func() Step {
				got = append(got, fmt.Sprintf("%s@%d", name, p.Now()))
				return Exit()
			})
		})
	}
	sleeper("a", 10)
	sleeper("b", 5)
	sleeper("c", 10)
	sleeper("d", 5)

	stats, err := env.Run(context.Background(), Forever)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "b@5 d@5 a@10 c@10"
	if strings.Join(got, " ") != want {
		t.Errorf("order = %q, want %q", strings.Join(got, " "), want)
	}
	if stats.Now != 10 {
		t.Errorf("expected clock at 10, got %d", stats.Now)
	}
	if stats.Processes != 4 {
		t.Errorf("expected 4 processes, got %d", stats.Processes)
	}
}

func TestEnv_SpawnRunsAfterScheduledWakeups(t *testing.T) {
	env := newTestEnv()
	var got []string
	env.Spawn("parent", func(p *Process) Step {
		got = append(got, "parent")
		env.Spawn("child", func(c *Process) Step {
			got = append(got, "child")
			return Exit()
		})
		return Sleep(0, func() Step {
			got = append(got, "parent-resumed")
			return Exit()
		})
	})
	if _, err := env.Run(context.Background(), Forever); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "parent child parent-resumed"
	if strings.Join(got, " ") != want {
		t.Errorf("order = %q, want %q", strings.Join(got, " "), want)
	}
}

func TestEnv_RunStopsAtHorizon(t *testing.T) {
	env := newTestEnv()
	fired := false
	p := env.Spawn("late", func(p *Process) Step {
		return Sleep(100, func() Step {
			fired = true
			return Exit()
		})
	})
	stats, err := env.Run(context.Background(), 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fired {
		t.Error("wakeup past the horizon was dispatched")
	}
	if env.Now() != 50 {
		t.Errorf("expected clock at horizon 50, got %d", env.Now())
	}
	if p.State() != Suspended {
		t.Errorf("expected suspended process, got %s", p.State())
	}
	if stats.Pending != 1 {
		t.Errorf("expected 1 pending wakeup, got %d", stats.Pending)
	}
}

func TestEnv_WakeupAtHorizonIsNotDispatched(t *testing.T) {
	env := newTestEnv()
	fired := false
	env.Spawn("edge", func(p *Process) Step {
		return Sleep(50, func() Step {
			fired = true
			return Exit()
		})
	})
	if _, err := env.Run(context.Background(), 50); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fired {
		t.Error("wakeup at the horizon should not run")
	}
}

func TestEnv_Stop(t *testing.T) {
	env := newTestEnv()
	boom := errors.New("boom")
	env.Spawn("stopper", func(p *Process) Step {
		return Sleep(3, func() Step {
			env.Stop(boom)
			return Exit()
		})
	})
	env.Spawn("sleeper", func(p *Process) Step {
		return Sleep(10, nil)
	})
	_, err := env.Run(context.Background(), Forever)
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if env.Now() != 3 {
		t.Errorf("expected clock at 3, got %d", env.Now())
	}
}

func TestEnv_ContextCancel(t *testing.T) {
	env := newTestEnv()
	var tick func() Step
	tick = func() Step { return Sleep(1, tick) }
	env.Spawn("ticker", func(p *Process) Step { return tick() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := env.Run(ctx, Forever)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestEnv_NegativeTimeoutPanics(t *testing.T) {
	env := newTestEnv()
	env.Spawn("bad", func(p *Process) Step { return Sleep(-1, nil) })
	mustPanic(t, "negative timeout", func() {
		env.Run(context.Background(), Forever)
	})
}

// ---------- Join / AnyOf ----------

func TestProcess_Join(t *testing.T) {
	env := newTestEnv()
	var resumed int64 = -1
	child := env.Spawn("child", func(p *Process) Step { return Sleep(7, nil) })
	env.Spawn("parent", func(p *Process) Step {
		return Wait(Join{Process: child}, func() Step {
			resumed = p.Now()
			return Exit()
		})
	})
	if _, err := env.Run(context.Background(), Forever); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resumed != 7 {
		t.Errorf("expected parent to resume at 7, got %d", resumed)
	}
	if !child.Done() {
		t.Error("expected child to be terminated")
	}
}

func TestProcess_JoinTerminated(t *testing.T) {
	env := newTestEnv()
	var resumed int64 = -1
	child := env.Spawn("child", func(p *Process) Step { return Exit() })
	env.Spawn("parent", func(p *Process) Step {
		return Sleep(5, func() Step {
			return Wait(Join{Process: child}, func() Step {
				resumed = p.Now()
				return Exit()
			})
		})
	})
	if _, err := env.Run(context.Background(), Forever); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resumed != 5 {
		t.Errorf("expected immediate resume at 5, got %d", resumed)
	}
}

func TestProcess_AnyOfDisarmsLosers(t *testing.T) {
	env := newTestEnv()
	var resumes []int64
	child := env.Spawn("child", func(p *Process) Step { return Sleep(30, nil) })
	env.Spawn("parent", func(p *Process) Step {
		return Wait(AnyOf{Conditions: []Condition{Timeout{Delay: 10}, Join{Process: child}}}, func() Step {
			resumes = append(resumes, p.Now())
			return Sleep(50, func() Step {
				resumes = append(resumes, p.Now())
				return Exit()
			})
		})
	})
	if _, err := env.Run(context.Background(), Forever); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resumes) != 2 || resumes[0] != 10 || resumes[1] != 60 {
		t.Errorf("expected resumes [10 60], got %v", resumes)
	}
}

func TestProcess_AnyOfJoinWins(t *testing.T) {
	env := newTestEnv()
	var resumed int64 = -1
	child := env.Spawn("child", func(p *Process) Step { return Sleep(4, nil) })
	env.Spawn("parent", func(p *Process) Step {
		return Wait(AnyOf{Conditions: []Condition{Timeout{Delay: 10}, Join{Process: child}}}, func() Step {
			resumed = p.Now()
			return Exit()
		})
	})
	if _, err := env.Run(context.Background(), Forever); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resumed != 4 {
		t.Errorf("expected resume at 4, got %d", resumed)
	}
}

func TestProcess_AnyOfRejectsAcquire(t *testing.T) {
	env := newTestEnv()
	r := env.NewResource("r")
	env.Spawn("bad", func(p *Process) Step {
		return Wait(AnyOf{Conditions: []Condition{Acquire{Resource: r}}}, nil)
	})
	mustPanic(t, "acquire inside AnyOf", func() {
		env.Run(context.Background(), Forever)
	})
}

// ---------- Resource / Queue ----------

func TestResource_FIFO(t *testing.T) {
	env := newTestEnv()
	r := env.NewResource("dr")
	var got []string
	user := func(name string) {
		env.Spawn(name, func(p *Process) Step {
			return Wait(Acquire{Resource: r}, func() Step {
				got = append(got, fmt.Sprintf("%s@%d", name, p.Now()))
				return Sleep(10, func() Step {
					r.Release(p)
					return Exit()
				})
			})
		})
	}
	user("a")
	user("b")
	user("c")
	if _, err := env.Run(context.Background(), Forever); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "a@0 b@10 c@20"
	if strings.Join(got, " ") != want {
		t.Errorf("grants = %q, want %q", strings.Join(got, " "), want)
	}
	if r.Holder() != nil {
		t.Errorf("expected resource to be free, held by %v", r.Holder())
	}
}

func TestResource_ReleaseByNonHolderPanics(t *testing.T) {
	env := newTestEnv()
	r := env.NewResource("dr")
	env.Spawn("thief", func(p *Process) Step {
		r.Release(p)
		return Exit()
	})
	mustPanic(t, "released dr", func() {
		env.Run(context.Background(), Forever)
	})
}

func TestQueue_BlockingTake(t *testing.T) {
	env := newTestEnv()
	q := NewQueue[string](env, "patients")
	var got string
	var at int64 = -1
	env.Spawn("taker", func(p *Process) Step {
		return Wait(Acquire{Resource: q}, func() Step {
			got = q.Claim(p)
			at = p.Now()
			return Exit()
		})
	})
	env.Spawn("producer", func(p *Process) Step {
		return Sleep(5, func() Step {
			q.Put("alice")
			return Exit()
		})
	})
	if _, err := env.Run(context.Background(), Forever); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "alice" || at != 5 {
		t.Errorf("expected alice at 5, got %q at %d", got, at)
	}
}

func TestQueue_FIFOItems(t *testing.T) {
	env := newTestEnv()
	q := NewQueue[int](env, "numbers")
	for i := 1; i <= 3; i++ {
		q.Put(i)
	}
	var got []int
	env.Spawn("taker", func(p *Process) Step {
		var take func() Step
		take = func() Step {
			if q.Len() == 0 {
				return Exit()
			}
			return Wait(Acquire{Resource: q}, func() Step {
				got = append(got, q.Claim(p))
				return take()
			})
		}
		return take()
	})
	if _, err := env.Run(context.Background(), Forever); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fmt.Sprint(got) != "[1 2 3]" {
		t.Errorf("expected [1 2 3], got %v", got)
	}
}

func TestQueue_ClaimWithoutGrantPanics(t *testing.T) {
	env := newTestEnv()
	q := NewQueue[int](env, "numbers")
	env.Spawn("eager", func(p *Process) Step {
		q.Claim(p)
		return Exit()
	})
	mustPanic(t, "without a grant", func() {
		env.Run(context.Background(), Forever)
	})
}
