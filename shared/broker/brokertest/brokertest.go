// Package brokertest provides an in-memory broker that satisfies the
// broker.Connection and broker.Channel interfaces. It models the parts of
// RabbitMQ the services rely on: durable queue declaration with conflict
// detection, the default exchange, prefetch, manual acknowledgment and
// requeue of unacknowledged messages when a channel goes away.
package brokertest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/eaglebank/orderflow/shared/broker"
)

// QueueStats is a point-in-time view of one queue.
type QueueStats struct {
	Ready     int
	Unacked   int
	Acked     int
	Requeued  int
	Discarded int
}

type message struct {
	pub         amqp.Publishing
	redelivered bool
}

type queue struct {
	name    string
	durable bool
	ready   []*message
	stats   QueueStats
}

type inflight struct {
	q *queue
	m *message
}

// Broker is safe for concurrent use.
type Broker struct {
	mu   sync.Mutex
	cond *sync.Cond

	queues   map[string]*queue
	conns    []*Connection
	dials    int
	dialErr  error
	closeErr error
}

func New() *Broker {
	b := &Broker{queues: map[string]*queue{}}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Dial implements broker.Dialer.
func (b *Broker) Dial(string) (broker.Connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dials++
	if b.dialErr != nil {
		return nil, b.dialErr
	}
	conn := &Connection{b: b}
	b.conns = append(b.conns, conn)
	return conn, nil
}

// FailDials makes every subsequent Dial return err. Pass nil to recover.
func (b *Broker) FailDials(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dialErr = err
}

// FailCloses makes Close on channels and connections return err after
// closing them.
func (b *Broker) FailCloses(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeErr = err
}

func (b *Broker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// DeclareQueue creates a queue out of band, as another application would.
func (b *Broker) DeclareQueue(name string, durable bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queues[name]; !ok {
		b.queues[name] = &queue{name: name, durable: durable}
	}
}

// Inject enqueues a raw body, bypassing any publisher.
func (b *Broker) Inject(queueName string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queueName]
	if !ok {
		return fmt.Errorf("brokertest: no queue %q", queueName)
	}
	q.ready = append(q.ready, &message{pub: amqp.Publishing{Body: append([]byte(nil), body...), DeliveryMode: amqp.Persistent}})
	b.cond.Broadcast()
	return nil
}

func (b *Broker) Stats(queueName string) QueueStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queueName]
	if !ok {
		return QueueStats{}
	}
	stats := q.stats
	stats.Ready = len(q.ready)
	for _, conn := range b.conns {
		for _, ch := range conn.channels {
			for _, in := range ch.unacked {
				if in.q == q {
					stats.Unacked++
				}
			}
		}
	}
	return stats
}

// Messages returns the ready messages of a queue in delivery order.
func (b *Broker) Messages(queueName string) []amqp.Publishing {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queueName]
	if !ok {
		return nil
	}
	out := make([]amqp.Publishing, 0, len(q.ready))
	for _, m := range q.ready {
		out = append(out, m.pub)
	}
	return out
}

// Drop severs every open connection as a network failure or broker restart
// would. Unacknowledged messages go back to their queues.
func (b *Broker) Drop(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cause := &amqp.Error{Code: amqp.ConnectionForced, Reason: reason, Server: true}
	for _, conn := range b.conns {
		conn.closeLocked(cause)
	}
}

func (q *queue) requeueFront(msgs ...*message) {
	for _, m := range msgs {
		m.redelivered = true
	}
	q.ready = append(append([]*message(nil), msgs...), q.ready...)
	q.stats.Requeued += len(msgs)
}

// Connection implements broker.Connection.
type Connection struct {
	b        *Broker
	closed   bool
	channels []*Channel
	notify   []chan *amqp.Error
}

func (c *Connection) Channel() (broker.Channel, error) {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.closed {
		return nil, amqp.ErrClosed
	}
	ch := &Channel{b: c.b, conn: c, unacked: map[uint64]*inflight{}, consumers: map[string]*consumer{}}
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *Connection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.closed {
		close(receiver)
		return receiver
	}
	c.notify = append(c.notify, receiver)
	return receiver
}

func (c *Connection) Close() error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.closed {
		return amqp.ErrClosed
	}
	c.closeLocked(nil)
	return c.b.closeErr
}

func (c *Connection) IsClosed() bool {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	return c.closed
}

func (c *Connection) closeLocked(cause *amqp.Error) {
	if c.closed {
		return
	}
	c.closed = true
	for _, ch := range c.channels {
		ch.closeLocked(cause)
	}
	notifyClosed(c.notify, cause)
	c.notify = nil
}

func notifyClosed(receivers []chan *amqp.Error, cause *amqp.Error) {
	for _, r := range receivers {
		if cause != nil {
			select {
			case r <- cause:
			default:
			}
		}
		close(r)
	}
}

type consumer struct {
	tag       string
	q         *queue
	out       chan amqp.Delivery
	done      chan struct{}
	cancelled bool
}

// Channel implements broker.Channel and amqp.Acknowledger.
type Channel struct {
	b         *Broker
	conn      *Connection
	closed    bool
	confirm   bool
	prefetch  int
	nextTag   uint64
	unacked   map[uint64]*inflight
	consumers map[string]*consumer
	notify    []chan *amqp.Error
}

func (ch *Channel) Qos(prefetchCount, _ int, _ bool) error {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	ch.prefetch = prefetchCount
	ch.b.cond.Broadcast()
	return nil
}

func (ch *Channel) Confirm(bool) error {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	ch.confirm = true
	return nil
}

func (ch *Channel) QueueDeclare(name string, durable, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	if ch.closed {
		return amqp.Queue{}, amqp.ErrClosed
	}
	q, ok := ch.b.queues[name]
	if !ok {
		q = &queue{name: name, durable: durable}
		ch.b.queues[name] = q
	}
	if q.durable != durable {
		cause := &amqp.Error{
			Code:   amqp.PreconditionFailed,
			Reason: fmt.Sprintf("PRECONDITION_FAILED - inequivalent arg 'durable' for queue '%s'", name),
			Server: true,
		}
		ch.closeLocked(cause)
		return amqp.Queue{}, cause
	}
	return amqp.Queue{Name: name, Messages: len(q.ready), Consumers: ch.b.consumerCountLocked(q)}, nil
}

// PublishWithDeferredConfirmWithContext routes through the default exchange.
// Unroutable messages are dropped, as RabbitMQ does without the mandatory
// flag. The returned confirmation is always nil.
func (ch *Channel) PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	if ch.closed {
		return nil, amqp.ErrClosed
	}
	if exchange != "" {
		return nil, errors.New("brokertest: only the default exchange is supported")
	}
	q, ok := ch.b.queues[key]
	if !ok {
		return nil, nil
	}
	msg.Body = append([]byte(nil), msg.Body...)
	q.ready = append(q.ready, &message{pub: msg})
	ch.b.cond.Broadcast()
	return nil, nil
}

func (ch *Channel) Consume(queueName, consumerTag string, autoAck, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	if ch.closed {
		return nil, amqp.ErrClosed
	}
	if autoAck {
		return nil, errors.New("brokertest: autoAck is not supported")
	}
	q, ok := ch.b.queues[queueName]
	if !ok {
		cause := &amqp.Error{Code: amqp.NotFound, Reason: fmt.Sprintf("NOT_FOUND - no queue '%s'", queueName), Server: true}
		ch.closeLocked(cause)
		return nil, cause
	}
	if consumerTag == "" {
		consumerTag = fmt.Sprintf("ctag-%d", len(ch.consumers)+1)
	}
	if _, exists := ch.consumers[consumerTag]; exists {
		return nil, fmt.Errorf("brokertest: consumer tag %q in use", consumerTag)
	}
	c := &consumer{tag: consumerTag, q: q, out: make(chan amqp.Delivery), done: make(chan struct{})}
	ch.consumers[consumerTag] = c
	go ch.dispatch(c)
	return c.out, nil
}

func (ch *Channel) dispatch(c *consumer) {
	b := ch.b
	defer close(c.out)
	for {
		b.mu.Lock()
		for !c.cancelled && (len(c.q.ready) == 0 || (ch.prefetch > 0 && len(ch.unacked) >= ch.prefetch)) {
			b.cond.Wait()
		}
		if c.cancelled {
			b.mu.Unlock()
			return
		}
		m := c.q.ready[0]
		c.q.ready = c.q.ready[1:]
		ch.nextTag++
		tag := ch.nextTag
		ch.unacked[tag] = &inflight{q: c.q, m: m}
		d := amqp.Delivery{
			Acknowledger:    ch,
			Headers:         m.pub.Headers,
			ContentType:     m.pub.ContentType,
			ContentEncoding: m.pub.ContentEncoding,
			DeliveryMode:    m.pub.DeliveryMode,
			CorrelationId:   m.pub.CorrelationId,
			MessageId:       m.pub.MessageId,
			Timestamp:       m.pub.Timestamp,
			Type:            m.pub.Type,
			AppId:           m.pub.AppId,
			ConsumerTag:     c.tag,
			DeliveryTag:     tag,
			Redelivered:     m.redelivered,
			RoutingKey:      c.q.name,
			Body:            m.pub.Body,
		}
		b.mu.Unlock()

		select {
		case c.out <- d:
		case <-c.done:
			b.mu.Lock()
			if in, ok := ch.unacked[tag]; ok {
				delete(ch.unacked, tag)
				in.q.requeueFront(in.m)
				b.cond.Broadcast()
			}
			b.mu.Unlock()
			return
		}
	}
}

func (ch *Channel) Cancel(consumerTag string, _ bool) error {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	c, ok := ch.consumers[consumerTag]
	if !ok {
		return fmt.Errorf("brokertest: unknown consumer %q", consumerTag)
	}
	ch.cancelLocked(c)
	return nil
}

func (ch *Channel) cancelLocked(c *consumer) {
	if c.cancelled {
		return
	}
	c.cancelled = true
	close(c.done)
	delete(ch.consumers, c.tag)
	ch.b.cond.Broadcast()
}

func (ch *Channel) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	if ch.closed {
		close(receiver)
		return receiver
	}
	ch.notify = append(ch.notify, receiver)
	return receiver
}

func (ch *Channel) Close() error {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	ch.closeLocked(nil)
	return ch.b.closeErr
}

func (ch *Channel) IsClosed() bool {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	return ch.closed
}

// closeLocked returns unacknowledged messages to the front of their queues in
// their original order and stops every consumer on the channel.
func (ch *Channel) closeLocked(cause *amqp.Error) {
	if ch.closed {
		return
	}
	ch.closed = true

	tags := make([]uint64, 0, len(ch.unacked))
	for tag := range ch.unacked {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] > tags[j] })
	for _, tag := range tags {
		in := ch.unacked[tag]
		in.q.requeueFront(in.m)
	}
	ch.unacked = map[uint64]*inflight{}

	for _, c := range ch.consumers {
		ch.cancelLocked(c)
	}
	notifyClosed(ch.notify, cause)
	ch.notify = nil
	ch.b.cond.Broadcast()
}

func (ch *Channel) Ack(tag uint64, multiple bool) error {
	return ch.settle(tag, multiple, func(in *inflight) { in.q.stats.Acked++ })
}

func (ch *Channel) Nack(tag uint64, multiple, requeue bool) error {
	return ch.settle(tag, multiple, func(in *inflight) {
		if requeue {
			in.q.requeueFront(in.m)
			return
		}
		in.q.stats.Discarded++
	})
}

func (ch *Channel) Reject(tag uint64, requeue bool) error {
	return ch.Nack(tag, false, requeue)
}

func (ch *Channel) settle(tag uint64, multiple bool, fn func(*inflight)) error {
	ch.b.mu.Lock()
	defer ch.b.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	tags := []uint64{tag}
	if multiple {
		tags = tags[:0]
		for t := range ch.unacked {
			if t <= tag {
				tags = append(tags, t)
			}
		}
		sort.Slice(tags, func(i, j int) bool { return tags[i] > tags[j] })
	}
	for _, t := range tags {
		in, ok := ch.unacked[t]
		if !ok {
			return fmt.Errorf("brokertest: unknown delivery tag %d", t)
		}
		delete(ch.unacked, t)
		fn(in)
	}
	ch.b.cond.Broadcast()
	return nil
}

func (b *Broker) consumerCountLocked(q *queue) int {
	n := 0
	for _, conn := range b.conns {
		for _, ch := range conn.channels {
			for _, c := range ch.consumers {
				if c.q == q {
					n++
				}
			}
		}
	}
	return n
}
