package sim

import (
	"errors"
	"fmt"
)

// ErrInterrupted is matched by every InterruptError.
var ErrInterrupted = errors.New("process interrupted")

// InterruptError is returned from a suspension point of an interrupted process.
type InterruptError struct {
	Process string
	Cause   string
}

func (e *InterruptError) Error() string {
	if e.Cause == "" {
		return fmt.Sprintf("process %s interrupted", e.Process)
	}
	return fmt.Sprintf("process %s interrupted: %s", e.Process, e.Cause)
}

func (e *InterruptError) Unwrap() error { return ErrInterrupted }

// Process is a suspendable activity driven by the environment. The body runs on
// its own goroutine and may only block through Timeout or Pool.Acquire.
type Process struct {
	env     *Env
	name    string
	resume  chan error
	started bool
	done    bool
	err     error

	// wake cancels the wait the process is parked on; nil while running.
	wake    func()
	waitSeq uint64

	interruptRequested bool
	interrupt          *InterruptError
}

// Process starts body as a new process at the current time. The body begins
// once the engine reaches its start event.
func (e *Env) Process(name string, body func(p *Process) error) (*Process, error) {
	if e.closed {
		return nil, ErrHalted
	}
	p := &Process{env: e, name: name, resume: make(chan error)}
	if _, err := e.Schedule(0, func() { e.transfer(p, nil) }); err != nil {
		return nil, err
	}
	e.live = append(e.live, p)
	go p.run(body)
	return p, nil
}

func (p *Process) run(body func(p *Process) error) {
	var err error
	defer func() {
		msg := yieldMsg{}
		if r := recover(); r != nil {
			msg.panicked = fmt.Sprintf("process %s: %v", p.name, r)
			msg.hasPanic = true
		}
		p.err = err
		p.done = true
		p.env.yield <- msg
	}()
	if err = <-p.resume; err != nil {
		return
	}
	err = body(p)
}

// Name returns the process name.
func (p *Process) Name() string { return p.name }

// Done reports whether the body has returned.
func (p *Process) Done() bool { return p.done }

// Err returns the body's result once Done.
func (p *Process) Err() error { return p.err }

// Timeout suspends the process for d minutes of virtual time.
func (p *Process) Timeout(d float64) error {
	if err := p.checkpoint(); err != nil {
		return err
	}
	token := p.park(nil)
	h, err := p.env.Schedule(d, func() { p.env.resumeWait(p, token, nil) })
	if err != nil {
		p.wake = nil
		return err
	}
	p.wake = h.Cancel
	return p.suspend()
}

// Interrupt asks the process to stop. A parked process is woken by a zero-delay
// event and its pending wait is cancelled; otherwise the interrupt is raised at
// its next suspension point. Only the first call has an effect.
func (p *Process) Interrupt(cause string) {
	if p.done || p.interruptRequested {
		return
	}
	p.interruptRequested = true
	p.interrupt = &InterruptError{Process: p.name, Cause: cause}
	if !p.started || p.wake == nil {
		return
	}
	_, _ = p.env.Schedule(0, p.deliverInterrupt)
}

func (p *Process) deliverInterrupt() {
	if p.done || p.wake == nil || p.interrupt == nil {
		return
	}
	p.wake()
	p.env.transfer(p, p.takeInterrupt())
}

func (p *Process) takeInterrupt() error {
	ie := p.interrupt
	p.interrupt = nil
	if ie == nil {
		return nil
	}
	return ie
}

// checkpoint returns a pending interrupt or ErrHalted before the process parks.
func (p *Process) checkpoint() error {
	if err := p.takeInterrupt(); err != nil {
		return err
	}
	if p.env.closed {
		return ErrHalted
	}
	return nil
}

// park records how to cancel the upcoming wait and returns a token identifying it.
func (p *Process) park(cancel func()) uint64 {
	p.waitSeq++
	p.wake = cancel
	return p.waitSeq
}

func (p *Process) suspend() error {
	p.env.yield <- yieldMsg{}
	return <-p.resume
}

// resumeWait resumes p only if it is still parked on the wait identified by token.
func (e *Env) resumeWait(p *Process, token uint64, sig error) {
	if p.done || p.wake == nil || p.waitSeq != token {
		return
	}
	e.transfer(p, sig)
}
