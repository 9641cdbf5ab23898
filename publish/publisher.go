package publish

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"tramsim/sim"
)

// Publisher forwards simulation events to an external sink.
type Publisher interface {
	Publish(ctx context.Context, events []sim.Event) error
	Close() error
}

// Envelope is the wire form of an event.
type Envelope struct {
	Type    string    `json:"type"`
	RunID   string    `json:"run_id,omitempty"`
	TramID  int       `json:"tram_id,omitempty"`
	Payload sim.Event `json:"payload"`
}

type runIDKey struct{}

// WithRunID tags ctx with the run whose events are being published.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFrom returns the run id set by WithRunID, or "".
func RunIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// Encode wraps an event for the wire.
func Encode(runID string, e sim.Event) ([]byte, error) {
	return json.Marshal(Envelope{Type: sim.EventName(e), RunID: runID, TramID: sim.EventTramID(e), Payload: e})
}

// Multi fans events out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, events []sim.Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Retry bounds how often and how patiently a sink operation is re-attempted.
type Retry struct {
	Attempts int
	Timeout  time.Duration
	Backoff  time.Duration
}

// DefaultRetry is used when a publisher is built with a zero Retry.
var DefaultRetry = Retry{Attempts: 3, Timeout: 3 * time.Second, Backoff: 200 * time.Millisecond}

func (r Retry) orDefault() Retry {
	if r.Attempts <= 0 {
		return DefaultRetry
	}
	return r
}

// do runs op until it succeeds, attempts run out or ctx ends. The back-off doubles after each failure.
func (r Retry) do(ctx context.Context, op func(ctx context.Context) error) error {
	backoff := r.Backoff
	var err error
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		attemptCtx, cancel := r.withAttemptContext(ctx)
		err = op(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt >= r.Attempts {
			return err
		}
		if waitErr := waitBackoff(ctx, backoff); waitErr != nil {
			return waitErr
		}
		backoff *= 2
	}
}

func (r Retry) withAttemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.Timeout)
}

func waitBackoff(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
