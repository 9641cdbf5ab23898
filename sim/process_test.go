package sim

import (
	"context"
	"errors"
	"testing"
)

func TestProcessesInterleaveOnVirtualTime(t *testing.T) {
	env := NewEnv(nil)
	defer env.Close()
	var trace []string
	mk := func(name string, step float64, n int) {
		env.Process(name, func(p *Process) error {
			for i := 0; i < n; i++ {
				if err := p.Timeout(step); err != nil {
					return err
				}
				trace = append(trace, name)
			}
			return nil
		})
	}
	mk("a", 2, 3) // 2, 4, 6
	mk("b", 3, 2) // 3, 6; scheduled at t=3, before a's t=4 request for t=6
	if err := env.RunUntil(context.Background(), 100); err != nil {
		t.Fatal(err)
	}
	want := []string{"a", "b", "a", "b", "a"}
	if len(trace) != len(want) {
		t.Fatalf("expected %v, got %v", want, trace)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, trace)
		}
	}
}

func TestInterruptCancelsPendingTimeout(t *testing.T) {
	env := NewEnv(nil)
	defer env.Close()
	var gotErr error
	var at float64
	resumed := 0
	p, _ := env.Process("trip", func(p *Process) error {
		err := p.Timeout(10)
		gotErr, at = err, env.Now()
		if err != nil {
			return err
		}
		resumed++
		return nil
	})
	env.Schedule(4, func() { p.Interrupt("track blocked") })
	if err := env.RunUntil(context.Background(), 50); err != nil {
		t.Fatalf("interrupt must not abort the run: %v", err)
	}
	if !errors.Is(gotErr, ErrInterrupted) {
		t.Fatalf("expected ErrInterrupted, got %v", gotErr)
	}
	var ie *InterruptError
	if !errors.As(gotErr, &ie) || ie.Cause != "track blocked" {
		t.Fatalf("expected cause to be carried, got %v", gotErr)
	}
	if at != 4 {
		t.Fatalf("expected interrupt delivered at t=4, got %v", at)
	}
	if resumed != 0 || !p.Done() {
		t.Fatalf("process resumed after interrupt")
	}
}

func TestInterruptBeforeStartRaisesAtFirstSuspension(t *testing.T) {
	env := NewEnv(nil)
	defer env.Close()
	ranBody := false
	var gotErr error
	p, _ := env.Process("late", func(p *Process) error {
		ranBody = true
		gotErr = p.Timeout(1)
		return gotErr
	})
	p.Interrupt("cancelled early")
	if err := env.RunUntil(context.Background(), 5); err != nil {
		t.Fatal(err)
	}
	if !ranBody || !errors.Is(gotErr, ErrInterrupted) {
		t.Fatalf("expected body to run and see the interrupt, got ran=%v err=%v", ranBody, gotErr)
	}
}

func TestProcessErrorAbortsRun(t *testing.T) {
	env := NewEnv(nil)
	defer env.Close()
	boom := errors.New("boom")
	env.Process("bad", func(p *Process) error {
		if err := p.Timeout(1); err != nil {
			return err
		}
		return boom
	})
	later := false
	env.Schedule(5, func() { later = true })
	err := env.RunUntil(context.Background(), 10)
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if later {
		t.Fatalf("events after the failure were processed")
	}
}

func TestNegativeTimeoutFailsProcess(t *testing.T) {
	env := NewEnv(nil)
	defer env.Close()
	env.Process("neg", func(p *Process) error { return p.Timeout(-1) })
	if err := env.RunUntil(context.Background(), 10); !errors.Is(err, ErrNegativeDelay) {
		t.Fatalf("expected ErrNegativeDelay, got %v", err)
	}
}

func TestCloseHaltsParkedProcesses(t *testing.T) {
	env := NewEnv(nil)
	var gotErr error
	p, _ := env.Process("parked", func(p *Process) error {
		gotErr = p.Timeout(100)
		return gotErr
	})
	if err := env.RunUntil(context.Background(), 10); err != nil {
		t.Fatal(err)
	}
	if p.Done() {
		t.Fatalf("process finished before its timeout")
	}
	env.Close()
	if !p.Done() || !errors.Is(gotErr, ErrHalted) {
		t.Fatalf("expected halted process, done=%v err=%v", p.Done(), gotErr)
	}
	if _, err := env.Process("after", func(*Process) error { return nil }); !errors.Is(err, ErrHalted) {
		t.Fatalf("expected ErrHalted for a process started after Close, got %v", err)
	}
}
