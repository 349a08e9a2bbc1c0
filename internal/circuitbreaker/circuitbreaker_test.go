package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func newTestBreaker(threshold int, cooldown time.Duration) (*CircuitBreaker, *time.Time, *[]string) {
	now := time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)
	var transitions []string
	cb := New(Config{
		Name:             "schedule",
		FailureThreshold: threshold,
		Cooldown:         cooldown,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})
	cb.now = func() time.Time { return now }
	return cb, &now, &transitions
}

func TestCall_OpensAfterThreshold(t *testing.T) {
	cb, _, transitions := newTestBreaker(2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := cb.Call(ctx, func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("call %d error = %v, want errBoom", i, err)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("State() = %v, want open", cb.State())
	}

	called := false
	err := cb.Call(ctx, func() error { called = true; return nil })
	if !errors.Is(err, ErrOpen) || called {
		t.Errorf("Call() while open = %v (called=%v), want ErrOpen without calling fn", err, called)
	}
	if len(*transitions) != 1 || (*transitions)[0] != "schedule:closed->open" {
		t.Errorf("transitions = %v", *transitions)
	}
}

func TestCall_SuccessResetsFailureCount(t *testing.T) {
	cb, _, _ := newTestBreaker(2, time.Minute)
	ctx := context.Background()
	_ = cb.Call(ctx, func() error { return errBoom })
	_ = cb.Call(ctx, func() error { return nil })
	_ = cb.Call(ctx, func() error { return errBoom })
	if cb.State() != StateClosed {
		t.Errorf("State() = %v, want closed; failures were not consecutive", cb.State())
	}
}

func TestCall_HalfOpenRecovery(t *testing.T) {
	cb, now, transitions := newTestBreaker(1, time.Minute)
	ctx := context.Background()
	_ = cb.Call(ctx, func() error { return errBoom })

	*now = now.Add(2 * time.Minute)
	if err := cb.Call(ctx, func() error { return nil }); err != nil {
		t.Fatalf("probe call error = %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("State() = %v, want closed after successful probe", cb.State())
	}
	want := []string{"schedule:closed->open", "schedule:open->half_open", "schedule:half_open->closed"}
	if len(*transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", *transitions, want)
	}
	for i := range want {
		if (*transitions)[i] != want[i] {
			t.Errorf("transition %d = %q, want %q", i, (*transitions)[i], want[i])
		}
	}
}

func TestCall_HalfOpenFailureReopens(t *testing.T) {
	cb, now, _ := newTestBreaker(1, time.Minute)
	ctx := context.Background()
	_ = cb.Call(ctx, func() error { return errBoom })
	*now = now.Add(2 * time.Minute)
	_ = cb.Call(ctx, func() error { return errBoom })
	if cb.State() != StateOpen {
		t.Errorf("State() = %v, want open", cb.State())
	}
}

func TestCall_CancelledContextNotCounted(t *testing.T) {
	cb, _, _ := newTestBreaker(1, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = cb.Call(ctx, func() error { return ctx.Err() })
	if cb.State() != StateClosed {
		t.Errorf("State() = %v, want closed after cancellation", cb.State())
	}
}

func TestState_String(t *testing.T) {
	if StateHalfOpen.String() != "half_open" || State(42).String() != "unknown" {
		t.Error("unexpected State strings")
	}
}
