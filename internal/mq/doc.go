// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — соединение с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений и отложенная постановка items
//   - consumer.go   — потребление сообщений с ограниченным параллелизмом
//
// Типы сообщений:
//   - job.pending     — job ожидает приёма
//   - item.ready      — item готов к следующему шагу
//   - item.completed  — item достиг терминального состояния
//
// Отложенный повтор: сообщение item.ready публикуется в одну из очередей
// items.delayed.* с TTL на уровне очереди (DelayBuckets). Задержка округляется
// вверх до ближайшей очереди, поэтому сообщение не приходит раньше срока, а
// внутри очереди порядок истечения совпадает с порядком публикации. По истечении
// TTL RabbitMQ перекладывает сообщение в items.ready. Worker сверяет
// NextAttemptAt item, а polling подбирает созревшие items независимо от брокера.
package mq
