package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

// recordingSleeper captures requested delays without actually sleeping.
type recordingSleeper struct {
	delays []time.Duration
}

func (s *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func TestPolicy_Bounds(t *testing.T) {
	p := NewPolicy()

	if got := p.MaxAttempts(); got != 3 {
		t.Errorf("MaxAttempts() = %d, want 3", got)
	}

	schedule := p.DelaySchedule()
	want := []time.Duration{1000 * time.Millisecond, 2000 * time.Millisecond}
	if len(schedule) != len(want) {
		t.Fatalf("DelaySchedule() has %d entries, want %d", len(schedule), len(want))
	}
	for i := range want {
		if schedule[i] != want[i] {
			t.Errorf("DelaySchedule()[%d] = %v, want %v", i, schedule[i], want[i])
		}
	}

	if got := p.TotalDelay(); got != 3000*time.Millisecond {
		t.Errorf("TotalDelay() = %v, want 3s", got)
	}
}

func TestExecute_SuccessFirstAttempt(t *testing.T) {
	sleeper := &recordingSleeper{}
	p := NewPolicyWithSleeper(sleeper.sleep)

	calls := 0
	result, err := Execute(context.Background(), p, "first-try", func() (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result != "ok" {
		t.Errorf("result = %q, want %q", result, "ok")
	}
	if calls != 1 {
		t.Errorf("operation invoked %d times, want 1", calls)
	}
	if len(sleeper.delays) != 0 {
		t.Errorf("slept %d times before a first-attempt success, want 0", len(sleeper.delays))
	}
}

func TestExecute_SuccessOnThirdAttempt(t *testing.T) {
	sleeper := &recordingSleeper{}
	p := NewPolicyWithSleeper(sleeper.sleep)

	calls := 0
	result, err := Execute(context.Background(), p, "flaky", func() (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result != "ok" {
		t.Errorf("result = %q, want %q", result, "ok")
	}
	if calls != 3 {
		t.Errorf("operation invoked %d times, want 3", calls)
	}

	wantDelays := []time.Duration{1000 * time.Millisecond, 2000 * time.Millisecond}
	if len(sleeper.delays) != len(wantDelays) {
		t.Fatalf("slept %d times, want %d", len(sleeper.delays), len(wantDelays))
	}
	for i, want := range wantDelays {
		if sleeper.delays[i] != want {
			t.Errorf("delay before attempt %d = %v, want %v", i+2, sleeper.delays[i], want)
		}
	}
}

func TestExecute_Exhausted(t *testing.T) {
	sleeper := &recordingSleeper{}
	p := NewPolicyWithSleeper(sleeper.sleep)

	calls := 0
	_, err := Execute(context.Background(), p, "always-fails", func() (int, error) {
		calls++
		return 0, errors.New("boom")
	})
	if err == nil {
		t.Fatal("Execute() error = nil, want exhausted error")
	}
	if calls != 3 {
		t.Errorf("operation invoked %d times, want exactly 3", calls)
	}

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("error %v is not *ExhaustedError", err)
	}
	if exhausted.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", exhausted.Attempts)
	}
	if exhausted.Label != "always-fails" {
		t.Errorf("Label = %q, want %q", exhausted.Label, "always-fails")
	}
	if !IsExhausted(err) {
		t.Error("IsExhausted() = false, want true")
	}
	if IsExhausted(errors.New("plain")) {
		t.Error("IsExhausted(plain error) = true, want false")
	}
}

func TestExecute_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPolicyWithSleeper(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	})

	calls := 0
	_, err := Execute(ctx, p, "cancelled", func() (int, error) {
		calls++
		return 0, errors.New("boom")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("operation invoked %d times after cancellation, want 1", calls)
	}
	if IsExhausted(err) {
		t.Error("cancellation must not look like exhaustion")
	}
}
