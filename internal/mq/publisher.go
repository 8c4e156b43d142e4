package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/storebridge/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeJobPending    MessageType = "job.pending"
	MessageTypeItemReady     MessageType = "item.ready"
	MessageTypeItemCompleted MessageType = "item.completed"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
	now    func() time.Time
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		logger: logger,
		now:    time.Now,
	}
}

// Message — конверт сообщения.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// JobPendingPayload — job ожидает приёма.
type JobPendingPayload struct {
	JobID uuid.UUID `json:"job_id"`
}

// ItemReadyPayload — item готов к следующему шагу.
type ItemReadyPayload struct {
	ItemID uuid.UUID `json:"item_id"`
}

// ItemCompletedPayload — терминальный исход item.
type ItemCompletedPayload = domain.ItemOutcome

// newMessage создаёт конверт с новым ID.
func newMessage(t MessageType, payload any, now time.Time) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      t,
		Payload:   payload,
		Timestamp: now,
	}
}

// publishing строит AMQP сообщение.
func publishing(msg *Message) (amqp.Publishing, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal message: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Type:         string(msg.Type),
		Timestamp:    msg.Timestamp,
		Body:         body,
	}, nil
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	pub, err := publishing(msg)
	if err != nil {
		return err
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,              // mandatory
			false,              // immediate
			pub,
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// PublishJobPending публикует job на приём.
// Потребитель: Orchestrator.
func (p *Publisher) PublishJobPending(ctx context.Context, jobID uuid.UUID) error {
	msg := newMessage(MessageTypeJobPending, JobPendingPayload{JobID: jobID}, p.now())
	return p.Publish(ctx, ExchangeJobs, RoutingKeyPending, msg)
}

// PublishItemReady публикует item для немедленной обработки.
// Потребитель: Worker.
func (p *Publisher) PublishItemReady(ctx context.Context, itemID uuid.UUID) error {
	return p.Schedule(ctx, itemID, time.Time{})
}

// Schedule публикует item так, чтобы Worker получил его не раньше notBefore.
// Отложенные сообщения проходят через очередь items.delayed.* с ближайшим TTL не меньше задержки.
func (p *Publisher) Schedule(ctx context.Context, itemID uuid.UUID, notBefore time.Time) error {
	now := p.now()
	msg := newMessage(MessageTypeItemReady, ItemReadyPayload{ItemID: itemID}, now)
	return p.Publish(ctx, ExchangeItems, scheduleRoute(now, notBefore), msg)
}

// PublishOutcome публикует терминальный исход item.
// Потребитель: Orchestrator (агрегатор).
func (p *Publisher) PublishOutcome(ctx context.Context, outcome domain.ItemOutcome) error {
	msg := newMessage(MessageTypeItemCompleted, outcome, p.now())
	return p.Publish(ctx, ExchangeItems, RoutingKeyCompleted, msg)
}

// scheduleRoute выбирает routing key для item, который нужно обработать не раньше notBefore.
func scheduleRoute(now, notBefore time.Time) RoutingKey {
	delay := notBefore.Sub(now)
	if notBefore.IsZero() || delay <= 0 {
		return RoutingKeyReady
	}
	return bucketFor(delay).routingKey
}
