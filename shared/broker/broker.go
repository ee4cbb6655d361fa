package broker

import (
	"context"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	ErrConnection            = errors.New("broker: connection failed")
	ErrConfigurationConflict = errors.New("broker: queue exists with incompatible configuration")
	ErrNotConnected          = errors.New("broker: channel is not connected")
	ErrQueueNotDeclared      = errors.New("broker: queue has not been declared")
)

// ConnectionState is owned by the Manager. Publishers and consumers only read it.
type ConnectionState int32

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Closing
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// AllStates lists every state, in declaration order.
func AllStates() []string {
	return []string{Disconnected.String(), Connecting.String(), Connected.String(), Closing.String()}
}

// QueueDescriptor names a queue and its durability.
type QueueDescriptor struct {
	Name    string
	Durable bool
}

var (
	UserEventsQueue  = QueueDescriptor{Name: "user_events", Durable: true}
	OrderEventsQueue = QueueDescriptor{Name: "order_events", Durable: true}
)

const deadLetterSuffix = ".dlq"

// DeadLetterQueue returns the durable queue that receives messages from q
// once they exhaust their delivery attempts.
func DeadLetterQueue(q QueueDescriptor) QueueDescriptor {
	return QueueDescriptor{Name: DeadLetterQueueName(q.Name), Durable: true}
}

func DeadLetterQueueName(queue string) string {
	return queue + deadLetterSuffix
}

// Channel is the subset of *amqp.Channel used by publishers and consumers.
type Channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	Confirm(noWait bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
	IsClosed() bool
}

// Connection is the subset of *amqp.Connection used by the Manager.
type Connection interface {
	Channel() (Channel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
	IsClosed() bool
}

// Dialer opens a broker connection.
type Dialer func(url string) (Connection, error)

type amqpConnection struct {
	*amqp.Connection
}

func (c amqpConnection) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// DialAMQP returns a Dialer that names the connection so it can be told apart
// in the RabbitMQ management UI.
func DialAMQP(connectionName string) Dialer {
	return func(url string) (Connection, error) {
		props := amqp.NewConnectionProperties()
		if connectionName != "" {
			props.SetClientConnectionName(connectionName)
		}
		conn, err := amqp.DialConfig(url, amqp.Config{
			Heartbeat:  10 * time.Second,
			Locale:     "en_US",
			Properties: props,
		})
		if err != nil {
			return nil, err
		}
		return amqpConnection{Connection: conn}, nil
	}
}

func isPreconditionFailed(err error) bool {
	var amqpErr *amqp.Error
	return errors.As(err, &amqpErr) && amqpErr.Code == amqp.PreconditionFailed
}
