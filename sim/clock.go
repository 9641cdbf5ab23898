package sim

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
)

var (
	// ErrNegativeDelay is the scheduling error raised for delays below zero.
	ErrNegativeDelay = errors.New("negative scheduling delay")
	// ErrHalted is returned to processes still parked when the environment is closed.
	ErrHalted = errors.New("simulation halted")
)

// event is a timed continuation owned by the queue until it fires.
type event struct {
	at        float64
	seq       uint64
	fn        func()
	cancelled bool
}

// eventPQ orders events by due time, then by insertion sequence.
type eventPQ []*event

func (q eventPQ) Len() int { return len(q) }
func (q eventPQ) Less(i, j int) bool {
	if q[i].at != q[j].at {
		return q[i].at < q[j].at
	}
	return q[i].seq < q[j].seq
}
func (q eventPQ) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *eventPQ) Push(x any)   { *q = append(*q, x.(*event)) }
func (q *eventPQ) Pop() any {
	old := *q
	n := len(old)
	v := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return v
}

// Handle refers to a scheduled event.
type Handle struct{ ev *event }

// Cancel prevents the event from firing. Cancelling a fired event is a no-op.
func (h Handle) Cancel() {
	if h.ev != nil {
		h.ev.cancelled = true
	}
}

// yieldMsg is sent by a process goroutine when it hands control back to the engine.
type yieldMsg struct {
	panicked any
	hasPanic bool
}

// Env is the virtual clock and event queue. Time is in minutes.
//
// Env is not safe for concurrent use. Processes started with Process run on their
// own goroutines but only ever one at a time, while the engine waits for them to
// suspend, so every call made from a process body is serialized with the engine.
type Env struct {
	now    float64
	seq    uint64
	queue  eventPQ
	log    *slog.Logger
	yield  chan yieldMsg
	live   []*Process
	fatal  error
	closed bool
	fired  uint64
}

// NewEnv returns an environment at time zero.
func NewEnv(log *slog.Logger) *Env {
	if log == nil {
		log = slog.New(slog.NewTextHandler(discard{}, nil))
	}
	return &Env{log: log, yield: make(chan yieldMsg)}
}

// Now returns the current virtual time.
func (e *Env) Now() float64 { return e.now }

// Pending returns the number of queued events, cancelled ones included.
func (e *Env) Pending() int { return e.queue.Len() }

// Fired returns how many events have been processed.
func (e *Env) Fired() uint64 { return e.fired }

// Schedule queues fn to run delay minutes from now. Events due at the same
// time run in the order they were scheduled.
func (e *Env) Schedule(delay float64, fn func()) (Handle, error) {
	if delay < 0 || math.IsNaN(delay) || math.IsInf(delay, 0) {
		return Handle{}, fmt.Errorf("%w: %v at t=%.3f", ErrNegativeDelay, delay, e.now)
	}
	e.seq++
	ev := &event{at: e.now + delay, seq: e.seq, fn: fn}
	heap.Push(&e.queue, ev)
	return Handle{ev: ev}, nil
}

// Step processes the earliest pending event. It reports false when the queue is empty.
func (e *Env) Step() (bool, error) {
	for e.queue.Len() > 0 {
		ev := heap.Pop(&e.queue).(*event)
		if ev.cancelled {
			continue
		}
		e.fire(ev)
		return true, e.fatal
	}
	return false, e.fatal
}

// RunUntil drains events in time order until none is due before horizon, then
// leaves the clock at horizon. Events due exactly at horizon are not processed.
// A process that fails with an unexpected error stops the run and its error is returned.
func (e *Env) RunUntil(ctx context.Context, horizon float64) error {
	if horizon < e.now {
		return fmt.Errorf("%w: horizon %.3f is before now %.3f", ErrNegativeDelay, horizon, e.now)
	}
	for e.queue.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		next := e.queue[0]
		if next.at >= horizon {
			break
		}
		heap.Pop(&e.queue)
		if next.cancelled {
			continue
		}
		e.fire(next)
		if e.fatal != nil {
			return e.fatal
		}
	}
	e.now = horizon
	return nil
}

func (e *Env) fire(ev *event) {
	if ev.at < e.now {
		panic(fmt.Sprintf("sim: event due at %.6f fired at %.6f", ev.at, e.now))
	}
	e.now = ev.at
	e.fired++
	ev.fn()
}

// Close releases every parked process goroutine by resuming it with ErrHalted.
// No further events run afterwards. Processes must not call Close.
func (e *Env) Close() {
	if e.closed {
		return
	}
	e.closed = true
	e.queue = nil
	live := append([]*Process(nil), e.live...)
	for _, p := range live {
		e.transfer(p, ErrHalted)
	}
	e.live = nil
}

// transfer hands control to p and blocks until it suspends again or finishes.
// Only the engine side (event callbacks, Close) may call it.
func (e *Env) transfer(p *Process, sig error) {
	if p.done {
		return
	}
	p.wake = nil
	p.started = true
	p.resume <- sig
	msg := <-e.yield
	if msg.hasPanic {
		panic(msg.panicked)
	}
	if !p.done {
		return
	}
	e.forget(p)
	if p.err != nil && !errors.Is(p.err, ErrInterrupted) && !errors.Is(p.err, ErrHalted) && e.fatal == nil {
		e.fatal = fmt.Errorf("process %s: %w", p.name, p.err)
		e.log.Error("process_failed", "process", p.name, "t", e.now, "err", p.err)
	}
}

func (e *Env) forget(p *Process) {
	for i, q := range e.live {
		if q == p {
			e.live = append(e.live[:i], e.live[i+1:]...)
			return
		}
	}
}

type discard struct{}

func (discard) Write(b []byte) (int, error) { return len(b), nil }
