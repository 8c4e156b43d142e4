package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler — функция обработки сообщения.
// Ошибка возвращает сообщение в очередь, ошибка с ErrPermanent отправляет его в DLQ.
type Handler func(ctx context.Context, msg *Delivery) error

// Delivery — доставленное сообщение с методами ack/nack.
type Delivery struct {
	// Message — распарсенное сообщение.
	Message Message

	// Raw — сырое AMQP сообщение.
	Raw amqp.Delivery
}

// Ack подтверждает успешную обработку сообщения.
func (d *Delivery) Ack() error {
	return d.Raw.Ack(false)
}

// Nack отклоняет сообщение.
// requeue=true — вернуть в очередь, false — отправить в DLQ.
func (d *Delivery) Nack(requeue bool) error {
	return d.Raw.Nack(false, requeue)
}

// Consumer потребляет сообщения из очереди RabbitMQ.
type Consumer struct {
	conn        *Connection
	logger      *slog.Logger
	queue       string
	accept      []MessageType
	handler     Handler
	prefetch    int
	concurrency int

	cancelFunc context.CancelFunc
}

// ConsumerConfig — конфигурация consumer.
type ConsumerConfig struct {
	// Queue — имя очереди.
	Queue string

	// Accept — допустимые типы сообщений. Сообщение другого типа уходит
	// в DLQ, не доходя до Handler. Пустой список принимает любой тип.
	Accept []MessageType

	// Handler — обработчик сообщений.
	Handler Handler

	// Prefetch — количество сообщений для предварительной загрузки.
	// Не меньше Concurrency.
	Prefetch int

	// Concurrency — сколько сообщений обрабатывается одновременно (default: 1).
	Concurrency int
}

// NewConsumer создаёт новый Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	concurrency := max(cfg.Concurrency, 1)
	prefetch := max(cfg.Prefetch, concurrency)
	if logger == nil {
		logger = slog.Default()
	}

	return &Consumer{
		conn:        conn,
		logger:      logger.With("queue", cfg.Queue),
		queue:       cfg.Queue,
		accept:      cfg.Accept,
		handler:     cfg.Handler,
		prefetch:    prefetch,
		concurrency: concurrency,
	}
}

// Start запускает потребление сообщений.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel

	return c.consume(ctx)
}

// consume — основной цикл потребления.
func (c *Consumer) consume(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		deliveries, err := c.setupConsume()
		if err != nil {
			c.logger.Error("failed to setup consume", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.conn.ReconnectNotify():
				c.logger.Info("reconnected, restarting consumer")
				continue
			}
		}

		c.logger.Info("consumer started", "concurrency", c.concurrency)

		if err := c.processDeliveries(ctx, deliveries); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("deliveries channel closed, reconnecting")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.conn.ReconnectNotify():
				continue
			}
		}
	}
}

// setupConsume настраивает канал и начинает потребление.
func (c *Consumer) setupConsume() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, ErrNoChannel
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		c.queue, // queue
		"",      // consumer tag (auto-generated)
		false,   // auto-ack (мы ack вручную)
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}

	return deliveries, nil
}

// processDeliveries раздаёт сообщения не более чем concurrency обработчикам
// и дожидается их завершения перед выходом.
func (c *Consumer) processDeliveries(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	sem := make(chan struct{}, c.concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case raw, ok := <-deliveries:
			if !ok {
				return errors.New("deliveries channel closed")
			}

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				_ = raw.Nack(false, true)
				return ctx.Err()
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				c.handleDelivery(ctx, raw)
			}()
		}
	}
}

// decodeDelivery разбирает конверт и сверяет тип с accept.
func decodeDelivery(raw amqp.Delivery, accept []MessageType) (*Delivery, error) {
	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(accept) > 0 && !slices.Contains(accept, msg.Type) {
		return nil, fmt.Errorf("%w: %q", ErrUnexpectedType, msg.Type)
	}
	return &Delivery{Message: msg, Raw: raw}, nil
}

// handleDelivery обрабатывает одно сообщение.
func (c *Consumer) handleDelivery(ctx context.Context, raw amqp.Delivery) {
	delivery, err := decodeDelivery(raw, c.accept)
	if err != nil {
		c.logger.Error("rejecting message",
			"message_id", raw.MessageId,
			"error", err,
			"body", string(raw.Body),
		)
		c.settle(raw, false, false)
		return
	}
	msg := delivery.Message

	c.logger.Debug("received message",
		"message_id", msg.ID,
		"type", msg.Type,
		"redelivered", raw.Redelivered,
	)

	if err := c.handler(ctx, delivery); err != nil {
		permanent := errors.Is(err, ErrPermanent)
		c.logger.Error("handler failed",
			"message_id", msg.ID,
			"type", msg.Type,
			"permanent", permanent,
			"error", err,
		)
		c.settle(raw, false, !permanent)
		return
	}

	c.settle(raw, true, false)
}

// settle подтверждает или отклоняет сообщение.
func (c *Consumer) settle(raw amqp.Delivery, ack, requeue bool) {
	var err error
	if ack {
		err = raw.Ack(false)
	} else {
		err = raw.Nack(false, requeue)
	}
	if err != nil {
		c.logger.Warn("failed to settle message", "ack", ack, "requeue", requeue, "error", err)
	}
}

// Stop останавливает consumer.
func (c *Consumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
}

// ParsePayload парсит payload сообщения в указанный тип.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T

	// после json.Unmarshal конверта Payload — map[string]any
	payloadBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		return result, fmt.Errorf("marshal payload: %w", err)
	}

	if err := json.Unmarshal(payloadBytes, &result); err != nil {
		return result, fmt.Errorf("unmarshal payload: %w", err)
	}

	return result, nil
}
