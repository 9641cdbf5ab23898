package sim

import (
	"log/slog"

	"tramsim/model"
)

type poolWaiter struct {
	proc  *Process
	token uint64
	since float64
	tram  *model.Tram
}

// Pool is the depot: a FIFO store of idle trams. Waiting processes are served
// strictly in request order.
type Pool struct {
	env     *Env
	log     *slog.Logger
	size    int
	free    []*model.Tram
	out     map[int]*model.Tram
	waiters []*poolWaiter
}

// NewPool returns a pool holding trams in the given order.
func NewPool(env *Env, trams []*model.Tram, log *slog.Logger) *Pool {
	if log == nil {
		log = env.log
	}
	free := make([]*model.Tram, len(trams))
	copy(free, trams)
	return &Pool{
		env:  env,
		log:  log,
		size: len(trams),
		free: free,
		out:  make(map[int]*model.Tram, len(trams)),
	}
}

// Acquire returns the next idle tram, suspending p until one is released when
// none is available or earlier requests are still queued.
func (pl *Pool) Acquire(p *Process) (*model.Tram, error) {
	if err := p.checkpoint(); err != nil {
		return nil, err
	}
	if len(pl.free) > 0 && len(pl.waiters) == 0 {
		t := pl.free[0]
		pl.free = pl.free[1:]
		pl.out[t.ID] = t
		return t, nil
	}
	w := &poolWaiter{proc: p, since: pl.env.Now()}
	w.token = p.park(func() { pl.abandon(w) })
	pl.waiters = append(pl.waiters, w)
	pl.log.Debug("pool_wait", "process", p.name, "t", pl.env.Now(), "queue", len(pl.waiters))
	if err := p.suspend(); err != nil {
		return nil, err
	}
	return w.tram, nil
}

// Release returns a tram to the pool. If processes are waiting the first one is
// handed the tram and resumed at the current time. Releasing a tram that is not
// checked out is logged and ignored.
func (pl *Pool) Release(t *model.Tram) {
	if t == nil {
		return
	}
	if _, ok := pl.out[t.ID]; !ok {
		pl.log.Warn("pool_release_ignored", "tram", t.ID, "t", pl.env.Now())
		return
	}
	delete(pl.out, t.ID)
	for len(pl.waiters) > 0 {
		w := pl.waiters[0]
		pl.waiters = pl.waiters[1:]
		if w.proc.done {
			continue
		}
		w.tram = t
		pl.out[t.ID] = t
		token := w.token
		if _, err := pl.env.Schedule(0, func() { pl.env.resumeWait(w.proc, token, nil) }); err != nil {
			pl.log.Error("pool_grant_failed", "tram", t.ID, "err", err)
		}
		return
	}
	pl.free = append(pl.free, t)
}

// abandon drops an interrupted waiter. A tram already granted to it goes back through Release.
func (pl *Pool) abandon(w *poolWaiter) {
	if w.tram != nil {
		t := w.tram
		w.tram = nil
		pl.Release(t)
		return
	}
	for i, q := range pl.waiters {
		if q == w {
			pl.waiters = append(pl.waiters[:i], pl.waiters[i+1:]...)
			return
		}
	}
}

// Available returns the number of idle trams.
func (pl *Pool) Available() int { return len(pl.free) }

// CheckedOut returns the number of trams currently in service.
func (pl *Pool) CheckedOut() int { return len(pl.out) }

// Waiting returns the number of queued acquire requests.
func (pl *Pool) Waiting() int { return len(pl.waiters) }

// Size returns the fleet size the pool was built with.
func (pl *Pool) Size() int { return pl.size }
