package events

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eaglebank/orderflow/shared/broker"
	"github.com/eaglebank/orderflow/shared/broker/brokertest"
	"github.com/eaglebank/orderflow/shared/logging"
	"github.com/eaglebank/orderflow/shared/metrics"
)

var testQueues = []broker.QueueDescriptor{
	broker.UserEventsQueue,
	broker.DeadLetterQueue(broker.UserEventsQueue),
	broker.OrderEventsQueue,
}

func newManager(t *testing.T, fake *brokertest.Broker) *broker.Manager {
	t.Helper()
	m := broker.NewManager(broker.Config{Queues: testQueues, PublisherConfirms: true}, logging.Discard(), broker.WithDialer(fake.Dial))
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func connectedManager(t *testing.T, fake *brokertest.Broker) *broker.Manager {
	t.Helper()
	m := newManager(t, fake)
	require.NoError(t, m.Connect(context.Background()))
	return m
}

func userEvent(t *testing.T, id int) *UserCreatedEvent {
	t.Helper()
	ev, err := NewUserCreatedEvent(id, "a@b.com", map[string]any{"id": id, "firstName": "Ada"}, fixedTime)
	require.NoError(t, err)
	return ev
}

func TestPublishBeforeConnectReturnsFalse(t *testing.T) {
	fake := brokertest.New()
	m := newManager(t, fake)
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg, "test")
	require.NoError(t, collector.Register())

	p := NewPublisher(m, PublisherConfig{AppID: "user-service"}, logging.Discard(), collector)

	assert.False(t, p.Publish(context.Background(), "user_events", userEvent(t, 42)))
	assert.Zero(t, fake.Stats("user_events").Ready)

	expected := `
# HELP orderflow_broker_published_messages_total Publish attempts by queue and outcome
# TYPE orderflow_broker_published_messages_total counter
orderflow_broker_published_messages_total{outcome="not_connected",queue="user_events",service="test"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "orderflow_broker_published_messages_total"))
}

func TestPublishToUndeclaredQueueReturnsFalse(t *testing.T) {
	fake := brokertest.New()
	m := connectedManager(t, fake)
	p := NewPublisher(m, PublisherConfig{}, logging.Discard(), nil)

	assert.False(t, p.Publish(context.Background(), "audit_events", userEvent(t, 42)))
}

func TestPublishUnencodableEventReturnsFalse(t *testing.T) {
	fake := brokertest.New()
	m := connectedManager(t, fake)
	p := NewPublisher(m, PublisherConfig{}, logging.Discard(), nil)

	assert.False(t, p.Publish(context.Background(), "user_events", &UserCreatedEvent{UserID: intPtr(1)}))
	assert.Zero(t, fake.Stats("user_events").Ready)
}

func TestPublishWritesPersistentMessage(t *testing.T) {
	fake := brokertest.New()
	m := connectedManager(t, fake)
	p := NewPublisher(m, PublisherConfig{AppID: "user-service", ConfirmTimeout: time.Second}, logging.Discard(), nil)

	ev := userEvent(t, 42)
	require.True(t, p.Publish(context.Background(), "user_events", ev))

	msgs := fake.Messages("user_events")
	require.Len(t, msgs, 1)
	msg := msgs[0]
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, "USER_CREATED", msg.Type)
	assert.Equal(t, "user-service", msg.AppId)
	assert.Len(t, msg.MessageId, 26)
	assert.False(t, msg.Timestamp.IsZero())

	decoded, err := Decode(msg.Body)
	require.NoError(t, err)
	assert.Equal(t, ev, decoded)
}

func TestPublishAfterBrokerLossReturnsFalse(t *testing.T) {
	fake := brokertest.New()
	m := connectedManager(t, fake)
	p := NewPublisher(m, PublisherConfig{}, logging.Discard(), nil)

	fake.Drop("node down")
	require.Eventually(t, func() bool { return m.State() == broker.Disconnected }, time.Second, 5*time.Millisecond)

	assert.False(t, p.Publish(context.Background(), "user_events", userEvent(t, 42)))
}

func TestPublishWithCancelledContextReturnsFalse(t *testing.T) {
	fake := brokertest.New()
	m := connectedManager(t, fake)
	p := NewPublisher(m, PublisherConfig{}, logging.Discard(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, p.Publish(ctx, "user_events", userEvent(t, 42)))
}

func TestPublishedMessagesSurviveWithoutConsumer(t *testing.T) {
	fake := brokertest.New()
	m := connectedManager(t, fake)
	p := NewPublisher(m, PublisherConfig{}, logging.Discard(), nil)

	for id := 1; id <= 3; id++ {
		require.True(t, p.Publish(context.Background(), "user_events", userEvent(t, id)))
	}
	require.NoError(t, m.Close())

	stats := fake.Stats("user_events")
	assert.Equal(t, 3, stats.Ready)
}
