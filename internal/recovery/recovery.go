// Package recovery runs the startup recovery steps that bring persisted state back
// in line after an unclean shutdown, such as replies left mid-send in the outbox.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultStepTimeout bounds a single recovery step.
const DefaultStepTimeout = 30 * time.Second

// Recoverable defines a component that can restore its state at startup.
type Recoverable interface {
	RecoverState(ctx context.Context) error
}

// RecoverFunc adapts a plain function to Recoverable.
type RecoverFunc func(ctx context.Context) error

// RecoverState calls f.
func (f RecoverFunc) RecoverState(ctx context.Context) error {
	return f(ctx)
}

type step struct {
	name string
	r    Recoverable
}

// Manager runs registered recoverables in registration order.
type Manager struct {
	steps       []step
	stepTimeout time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithStepTimeout overrides DefaultStepTimeout. Non-positive values are ignored.
func WithStepTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.stepTimeout = d
		}
	}
}

// NewManager creates an empty recovery manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{stepTimeout: DefaultStepTimeout}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds a named component. Nil components are ignored.
func (m *Manager) Register(name string, r Recoverable) {
	if r == nil {
		return
	}
	m.steps = append(m.steps, step{name: name, r: r})
}

// Len reports the number of registered components.
func (m *Manager) Len() int {
	return len(m.steps)
}

// RecoverAll runs every component even when earlier ones fail and returns the
// joined failures.
func (m *Manager) RecoverAll(ctx context.Context) error {
	slog.Info("Manager.RecoverAll: starting recovery", "components", len(m.steps))

	var errs []error
	recovered := 0
	for _, s := range m.steps {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := m.run(ctx, s); err != nil {
			slog.Error("Manager.RecoverAll: component recovery failed", "component", s.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			continue
		}
		recovered++
	}

	slog.Info("Manager.RecoverAll: recovery completed", "recovered", recovered, "errors", len(errs))
	return errors.Join(errs...)
}

func (m *Manager) run(ctx context.Context, s step) error {
	stepCtx, cancel := context.WithTimeout(ctx, m.stepTimeout)
	defer cancel()
	start := time.Now()
	err := s.r.RecoverState(stepCtx)
	slog.Debug("Manager.run: component done", "component", s.name, "duration", time.Since(start), "ok", err == nil)
	return err
}
