package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

type Config struct {
	URL            string
	ConnectionName string
	// Queues are declared on every successful Connect, before the channel is
	// handed to publishers or consumers.
	Queues            []QueueDescriptor
	PublisherConfirms bool
}

type Option func(*Manager)

// WithDialer replaces the AMQP dialer, mainly for tests.
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dial = d }
}

// WithStateObserver registers fn to be called after every state transition.
func WithStateObserver(fn func(ConnectionState)) Option {
	return func(m *Manager) { m.observers = append(m.observers, fn) }
}

// Manager owns the broker connection and the single channel shared by the
// service's publisher and consumer.
type Manager struct {
	cfg       Config
	dial      Dialer
	logger    *slog.Logger
	observers []func(ConnectionState)

	// connectMu serialises Connect and Close.
	connectMu sync.Mutex

	mu       sync.RWMutex
	state    ConnectionState
	conn     Connection
	ch       Channel
	declared map[string]bool
	// gen changes whenever the current connection is replaced or dropped, so
	// close watchers of an older connection stay quiet.
	gen uint64
}

func NewManager(cfg Config, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		cfg:      cfg,
		logger:   logger.With("component", "broker"),
		declared: map[string]bool{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dial == nil {
		m.dial = DialAMQP(cfg.ConnectionName)
	}
	return m
}

func (m *Manager) State() ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Channel returns the shared channel, or ErrNotConnected.
func (m *Manager) Channel() (Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != Connected || m.ch == nil {
		return nil, ErrNotConnected
	}
	return m.ch, nil
}

// Declared reports whether queue was declared on the current connection.
func (m *Manager) Declared(queue string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == Connected && m.declared[queue]
}

type dialResult struct {
	conn Connection
	err  error
}

// Connect dials the broker, opens the shared channel and declares the
// configured queues. It is a no-op when already connected.
//
// A queue whose existing definition conflicts with ours is reported with
// ErrConfigurationConflict; the manager still ends up Connected and the other
// queues stay usable. Any other failure wraps ErrConnection and leaves the
// manager Disconnected.
func (m *Manager) Connect(ctx context.Context) error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	if m.State() == Connected {
		return nil
	}
	m.setState(Connecting)

	results := make(chan dialResult, 1)
	go func() {
		conn, err := m.dial(m.cfg.URL)
		results <- dialResult{conn: conn, err: err}
	}()

	var conn Connection
	select {
	case res := <-results:
		if res.err != nil {
			m.setState(Disconnected)
			return fmt.Errorf("%w: %v", ErrConnection, res.err)
		}
		conn = res.conn
	case <-ctx.Done():
		go func() {
			if res := <-results; res.conn != nil {
				_ = res.conn.Close()
			}
		}()
		m.setState(Disconnected)
		return fmt.Errorf("%w: %v", ErrConnection, ctx.Err())
	}

	ch, err := m.openChannel(conn)
	if err != nil {
		_ = conn.Close()
		m.setState(Disconnected)
		return fmt.Errorf("%w: open channel: %v", ErrConnection, err)
	}

	declared := make(map[string]bool, len(m.cfg.Queues))
	var conflicts []error
	for _, q := range m.cfg.Queues {
		_, err := ch.QueueDeclare(q.Name, q.Durable, false, false, false, nil)
		if err == nil {
			declared[q.Name] = true
			continue
		}
		if !isPreconditionFailed(err) {
			_ = ch.Close()
			_ = conn.Close()
			m.setState(Disconnected)
			return fmt.Errorf("%w: declare queue %q: %v", ErrConnection, q.Name, err)
		}
		conflicts = append(conflicts, fmt.Errorf("%w: queue %q (durable=%t): %v", ErrConfigurationConflict, q.Name, q.Durable, err))
		m.logger.Error("queue declaration conflicts with existing queue", "queue", q.Name, "durable", q.Durable, "error", err)

		// The broker closes a channel on PRECONDITION_FAILED.
		if ch, err = m.openChannel(conn); err != nil {
			_ = conn.Close()
			m.setState(Disconnected)
			return fmt.Errorf("%w: reopen channel: %v", ErrConnection, err)
		}
	}

	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))

	m.mu.Lock()
	m.conn = conn
	m.ch = ch
	m.declared = declared
	m.gen++
	gen := m.gen
	m.state = Connected
	m.mu.Unlock()
	m.notify(Connected)

	go m.watch(gen, conn, ch, connClosed, chClosed)

	m.logger.Info("connected to broker", "queues", len(declared), "conflicts", len(conflicts))
	return errors.Join(conflicts...)
}

func (m *Manager) openChannel(conn Connection) (Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if m.cfg.PublisherConfirms {
		if err := ch.Confirm(false); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("enable publisher confirms: %w", err)
		}
	}
	return ch, nil
}

func (m *Manager) watch(gen uint64, conn Connection, ch Channel, connClosed, chClosed <-chan *amqp.Error) {
	var (
		cause  *amqp.Error
		source string
	)
	select {
	case cause = <-connClosed:
		source = "connection"
	case cause = <-chClosed:
		source = "channel"
	}

	m.mu.Lock()
	if m.gen != gen || m.state != Connected {
		m.mu.Unlock()
		return
	}
	m.state = Disconnected
	m.conn = nil
	m.ch = nil
	m.declared = map[string]bool{}
	m.gen++
	m.mu.Unlock()
	m.notify(Disconnected)

	if cause != nil {
		m.logger.Error("broker closed unexpectedly", "source", source, "code", cause.Code, "reason", cause.Reason, "server", cause.Server)
	} else {
		m.logger.Warn("broker closed unexpectedly", "source", source)
	}

	// Release whatever half is left so a later Connect starts clean.
	if source == "channel" {
		_ = conn.Close()
	} else {
		_ = ch.Close()
	}
}

// Close releases the channel and then the connection. Each step runs even if
// the other fails. Closing a disconnected manager is a no-op.
func (m *Manager) Close() error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.mu.Lock()
	if m.state != Connected {
		m.mu.Unlock()
		return nil
	}
	ch, conn := m.ch, m.conn
	m.state = Closing
	m.ch = nil
	m.conn = nil
	m.declared = map[string]bool{}
	m.gen++
	m.mu.Unlock()
	m.notify(Closing)

	var errs []error
	if ch != nil {
		if err := guardClose("channel", ch.Close); err != nil {
			errs = append(errs, err)
		}
	}
	if conn != nil {
		if err := guardClose("connection", conn.Close); err != nil {
			errs = append(errs, err)
		}
	}

	m.setState(Disconnected)
	if len(errs) > 0 {
		m.logger.Error("broker closed with errors", "error", errors.Join(errs...))
	} else {
		m.logger.Info("broker connection closed")
	}
	return errors.Join(errs...)
}

func guardClose(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("close %s: panic: %v", name, r)
		}
	}()
	if err := fn(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("close %s: %w", name, err)
	}
	return nil
}

func (m *Manager) setState(s ConnectionState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	m.notify(s)
}

func (m *Manager) notify(s ConnectionState) {
	for _, fn := range m.observers {
		fn(s)
	}
}
