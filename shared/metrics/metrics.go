package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "orderflow"

// Outcome labels.
const (
	OutcomePublished     = "published"
	OutcomeNotConnected  = "not_connected"
	OutcomeNotDeclared   = "not_declared"
	OutcomeEncodeFailed  = "encode_failed"
	OutcomeSendFailed    = "send_failed"
	OutcomeNacked        = "nacked"
	OutcomeAcked         = "acked"
	OutcomeRequeued      = "requeued"
	OutcomeDeadLettered  = "dead_lettered"
	OutcomeAckFailed     = "ack_failed"
	OutcomeDecodeFailed  = "decode_failed"
	OutcomeHandlerFailed = "handler_failed"
)

// Collector tracks broker traffic for one service. A nil *Collector is valid
// and records nothing.
type Collector struct {
	mu         sync.Mutex
	registered bool
	registerer prometheus.Registerer

	published       *prometheus.CounterVec
	consumed        *prometheus.CounterVec
	failures        *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec
	connectionState *prometheus.GaugeVec
}

func NewCollector(registerer prometheus.Registerer, service string) *Collector {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := prometheus.Labels{"service": service}
	return &Collector{
		registerer: registerer,
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "broker",
			Name:        "published_messages_total",
			Help:        "Publish attempts by queue and outcome",
			ConstLabels: constLabels,
		}, []string{"queue", "outcome"}),
		consumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "broker",
			Name:        "consumed_messages_total",
			Help:        "Settled deliveries by queue and outcome",
			ConstLabels: constLabels,
		}, []string{"queue", "outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "broker",
			Name:        "processing_failures_total",
			Help:        "Deliveries that failed to decode or handle",
			ConstLabels: constLabels,
		}, []string{"queue", "reason"}),
		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "broker",
			Name:        "handler_duration_seconds",
			Help:        "Time spent in event handlers",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"queue"}),
		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "broker",
			Name:        "connection_state",
			Help:        "1 for the current connection state, 0 otherwise",
			ConstLabels: constLabels,
		}, []string{"state"}),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (c *Collector) Register() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.registered {
		return nil
	}
	for _, col := range []prometheus.Collector{c.published, c.consumed, c.failures, c.handlerDuration, c.connectionState} {
		if err := c.registerer.Register(col); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}
	c.registered = true
	return nil
}

func (c *Collector) Published(queue, outcome string) {
	if c == nil {
		return
	}
	c.published.WithLabelValues(queue, outcome).Inc()
}

func (c *Collector) Consumed(queue, outcome string) {
	if c == nil {
		return
	}
	c.consumed.WithLabelValues(queue, outcome).Inc()
}

func (c *Collector) Failed(queue, reason string) {
	if c == nil {
		return
	}
	c.failures.WithLabelValues(queue, reason).Inc()
}

func (c *Collector) ObserveHandler(queue string, d time.Duration) {
	if c == nil {
		return
	}
	c.handlerDuration.WithLabelValues(queue).Observe(d.Seconds())
}

// SetConnectionState flips the gauge so only the given state reads 1.
func (c *Collector) SetConnectionState(current string, all ...string) {
	if c == nil {
		return
	}
	for _, s := range all {
		c.connectionState.WithLabelValues(s).Set(0)
	}
	c.connectionState.WithLabelValues(current).Set(1)
}
