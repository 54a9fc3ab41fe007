package recovery

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeRecoverer struct {
	calls int
	err   error
}

func (f *fakeRecoverer) RecoverStaleMessages() error {
	f.calls++
	return f.err
}

func TestRecoverAllRunsEveryComponent(t *testing.T) {
	var order []string
	m := NewManager()
	m.Register("first", RecoverFunc(func(ctx context.Context) error {
		order = append(order, "first")
		return errors.New("boom")
	}))
	m.Register("second", RecoverFunc(func(ctx context.Context) error {
		order = append(order, "second")
		return nil
	}))
	m.Register("nil", nil)

	if m.Len() != 2 {
		t.Fatalf("expected 2 components, got %d", m.Len())
	}
	if err := m.RecoverAll(context.Background()); err == nil {
		t.Fatal("expected joined error")
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("unexpected run order: %v", order)
	}
}

func TestRecoverAllNoComponents(t *testing.T) {
	if err := NewManager().RecoverAll(context.Background()); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}

func TestRecoverAllStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	m := NewManager()
	m.Register("step", RecoverFunc(func(ctx context.Context) error {
		ran = true
		return nil
	}))
	if err := m.RecoverAll(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if ran {
		t.Error("step should not run after cancellation")
	}
}

func TestStepTimeoutApplied(t *testing.T) {
	m := NewManager(WithStepTimeout(10 * time.Millisecond))
	m.Register("slow", RecoverFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	if err := m.RecoverAll(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestOutboxRecoverable(t *testing.T) {
	f := &fakeRecoverer{}
	if err := Outbox(f).RecoverState(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.calls != 1 {
		t.Errorf("expected 1 call, got %d", f.calls)
	}

	f.err = errors.New("db down")
	if err := Outbox(f).RecoverState(context.Background()); !errors.Is(err, f.err) {
		t.Errorf("expected db error, got %v", err)
	}
}
