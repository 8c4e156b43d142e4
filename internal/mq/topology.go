package mq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeJobs  Exchange = "storebridge.jobs"
	ExchangeItems Exchange = "storebridge.items"
	ExchangeDLQ   Exchange = "storebridge.dlq"
)

// Queues — имена очередей.
const (
	QueueJobsPending    Queue = "jobs.pending"
	QueueItemsReady     Queue = "items.ready"
	QueueItemsCompleted Queue = "items.completed"
	QueueDLQItems       Queue = "dlq.items"
)

// DelayBuckets — задержки очередей items.delayed.*, по возрастанию.
// Все сообщения одной очереди живут одинаково долго, голова очереди всегда истекает первой.
var DelayBuckets = []time.Duration{
	time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
	time.Minute,
	2 * time.Minute,
	4 * time.Minute,
	8 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	time.Hour,
}

// delayBucket — очередь отложенных повторов с фиксированным TTL.
type delayBucket struct {
	ttl        time.Duration
	queue      Queue
	routingKey RoutingKey
}

func newDelayBucket(ttl time.Duration) delayBucket {
	suffix := fmt.Sprintf("%ds", int64(ttl/time.Second))
	return delayBucket{
		ttl:        ttl,
		queue:      Queue("items.delayed." + suffix),
		routingKey: RoutingKey("delayed." + suffix),
	}
}

// bucketFor возвращает наименьшую очередь с TTL не меньше delay.
// Задержки длиннее последней очереди уходят в неё: item придёт раньше срока,
// worker его пропустит, а polling подберёт созревший item.
func bucketFor(delay time.Duration) delayBucket {
	for _, d := range DelayBuckets {
		if d >= delay {
			return newDelayBucket(d)
		}
	}
	return newDelayBucket(DelayBuckets[len(DelayBuckets)-1])
}

// Routing keys.
const (
	RoutingKeyPending   RoutingKey = "pending"
	RoutingKeyReady     RoutingKey = "ready"
	RoutingKeyCompleted RoutingKey = "completed"
	RoutingKeyDLQItems  RoutingKey = "items"
)

type exchangeDecl struct {
	name Exchange
	kind string
}

type queueDecl struct {
	name Queue
	args amqp.Table
}

type bindingDecl struct {
	queue      Queue
	routingKey RoutingKey
	exchange   Exchange
}

var exchanges = []exchangeDecl{
	{ExchangeJobs, amqp.ExchangeDirect},
	{ExchangeItems, amqp.ExchangeDirect},
	{ExchangeDLQ, amqp.ExchangeDirect},
}

var queues = append([]queueDecl{
	// jobs.pending — приём job; ошибка приёма фиксируется в самом job
	{QueueJobsPending, nil},

	// items.ready — шаги items; отвергнутые сообщения уходят в dlq.items
	{QueueItemsReady, amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQItems),
	}},

	// items.completed — терминальные исходы для агрегатора
	{QueueItemsCompleted, nil},

	{QueueDLQItems, nil},
}, delayQueues()...)

var bindings = append([]bindingDecl{
	{QueueJobsPending, RoutingKeyPending, ExchangeJobs},
	{QueueItemsReady, RoutingKeyReady, ExchangeItems},
	{QueueItemsCompleted, RoutingKeyCompleted, ExchangeItems},
	{QueueDLQItems, RoutingKeyDLQItems, ExchangeDLQ},
}, delayBindings()...)

// delayQueues — items.delayed.* без потребителей: сообщение лежит x-message-ttl
// и возвращается в items.ready.
func delayQueues() []queueDecl {
	out := make([]queueDecl, 0, len(DelayBuckets))
	for _, d := range DelayBuckets {
		b := newDelayBucket(d)
		out = append(out, queueDecl{b.queue, amqp.Table{
			"x-message-ttl":             d.Milliseconds(),
			"x-dead-letter-exchange":    string(ExchangeItems),
			"x-dead-letter-routing-key": string(RoutingKeyReady),
		}})
	}
	return out
}

func delayBindings() []bindingDecl {
	out := make([]bindingDecl, 0, len(DelayBuckets))
	for _, d := range DelayBuckets {
		b := newDelayBucket(d)
		out = append(out, bindingDecl{b.queue, b.routingKey, ExchangeItems})
	}
	return out
}

// SetupTopology объявляет exchanges, queues и bindings. Идемпотентна.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		if err := declareQueues(ch); err != nil {
			return err
		}
		return bindQueues(ch)
	})
}

func declareExchanges(ch *amqp.Channel) error {
	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}
	return nil
}

func declareQueues(ch *amqp.Channel) error {
	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}
	return nil
}

func bindQueues(ch *amqp.Channel) error {
	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}
	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  StoreBridge RabbitMQ Topology:

    storebridge.jobs (direct)
    └── jobs.pending [routing: pending]
            Consumer: Orchestrator (intake)

    storebridge.items (direct)
    ├── items.ready [routing: ready]
    │       Consumer: Worker
    │       DLQ: dlq.items
    ├── items.delayed.{1s..3600s} [routing: delayed.{1s..3600s}]
    │       No consumer, queue TTL, dead-letters to items.ready
    └── items.completed [routing: completed]
            Consumer: Orchestrator (aggregator)

    storebridge.dlq (direct)
    └── dlq.items [routing: items]
            Manual processing
  `
}
