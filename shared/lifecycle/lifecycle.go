// Package lifecycle sequences broker startup and shutdown for a service.
//
// Startup: connect, declare queues (done by the broker manager), run startup
// steps such as subscribing consumers, then Ready. Shutdown: stop consumers,
// close the broker channel, then the connection.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/eaglebank/orderflow/shared/broker"
)

var (
	ErrClosed   = errors.New("lifecycle: controller is shut down")
	ErrStarting = errors.New("lifecycle: start already in progress")
)

type State int32

const (
	Uninitialized State = iota
	Connecting
	Ready
	ShuttingDown
	Closed
	// Failed means startup did not complete. The HTTP surface keeps serving and
	// Start may be retried.
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	case ShuttingDown:
		return "shutting_down"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Broker is satisfied by *broker.Manager.
type Broker interface {
	Connect(ctx context.Context) error
	Close() error
}

// Stopper is satisfied by *events.Consumer.
type Stopper interface {
	Stop(ctx context.Context) error
}

type step struct {
	name string
	fn   func(ctx context.Context) error
}

type Option func(*Controller)

// WithStartupStep runs fn after the broker is connected. Steps run in the
// order they were added.
func WithStartupStep(name string, fn func(ctx context.Context) error) Option {
	return func(c *Controller) { c.steps = append(c.steps, step{name: name, fn: fn}) }
}

// WithStopper registers s to be stopped before the broker closes. Stoppers
// run in reverse registration order.
func WithStopper(s Stopper) Option {
	return func(c *Controller) { c.stoppers = append(c.stoppers, s) }
}

type Controller struct {
	name     string
	broker   Broker
	logger   *slog.Logger
	steps    []step
	stoppers []Stopper

	mu     sync.Mutex
	state  State
	closed chan struct{}
}

func New(name string, b Broker, logger *slog.Logger, opts ...Option) *Controller {
	c := &Controller{
		name:   name,
		broker: b,
		logger: logger.With("component", "lifecycle"),
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start connects to the broker and runs the startup steps. A queue whose
// declaration conflicts with the broker is logged and startup continues;
// any other failure leaves the controller Failed.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case Ready:
		c.mu.Unlock()
		return nil
	case Connecting:
		c.mu.Unlock()
		return ErrStarting
	case ShuttingDown, Closed:
		c.mu.Unlock()
		return ErrClosed
	}
	c.state = Connecting
	c.mu.Unlock()
	c.logger.Info("starting", "name", c.name)

	if err := c.broker.Connect(ctx); err != nil {
		if !errors.Is(err, broker.ErrConfigurationConflict) {
			return c.fail(fmt.Errorf("connect: %w", err))
		}
		c.logger.Error("continuing with conflicting queue configuration", "error", err)
	}

	for _, s := range c.steps {
		if err := s.fn(ctx); err != nil {
			return c.fail(fmt.Errorf("startup step %s: %w", s.name, err))
		}
	}

	c.mu.Lock()
	if c.state != Connecting {
		// Shutdown ran while we were connecting; do not leak the connection.
		c.mu.Unlock()
		_ = c.broker.Close()
		return ErrClosed
	}
	c.state = Ready
	c.mu.Unlock()

	c.logger.Info("ready", "name", c.name)
	return nil
}

func (c *Controller) fail(err error) error {
	c.mu.Lock()
	if c.state != Connecting {
		c.mu.Unlock()
		return ErrClosed
	}
	c.state = Failed
	c.mu.Unlock()

	c.logger.Error("startup failed", "name", c.name, "error", err)
	return err
}

// Shutdown stops consumers and closes the broker. It is idempotent: later
// calls wait for the first one to finish or for ctx to expire.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case ShuttingDown, Closed:
		c.mu.Unlock()
		select {
		case <-c.closed:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	case Uninitialized:
		c.state = Closed
		close(c.closed)
		c.mu.Unlock()
		return nil
	}
	c.state = ShuttingDown
	c.mu.Unlock()
	c.logger.Info("shutting down", "name", c.name)

	var errs []error
	for i := len(c.stoppers) - 1; i >= 0; i-- {
		if err := c.stoppers[i].Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop: %w", err))
		}
	}
	if err := c.broker.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close broker: %w", err))
	}

	c.mu.Lock()
	c.state = Closed
	close(c.closed)
	c.mu.Unlock()

	err := errors.Join(errs...)
	if err != nil {
		c.logger.Error("shutdown completed with errors", "name", c.name, "error", err)
	} else {
		c.logger.Info("shutdown complete", "name", c.name)
	}
	return err
}
