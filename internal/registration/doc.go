// Package registration — чистая логика переходов состояния item.
//
// Пакет не выполняет I/O. Executor передаёт в Transition текущее
// состояние item и исход попытки шага и получает следующее состояние,
// новый RetryCount и задержку до повтора.
//
// Шаги:
//
//	PENDING      → validate  (локально)     → VALIDATED
//	VALIDATED    → prepare   (локально)     → UPLOADING
//	UPLOADING    → upload    (маркетплейс)  → REGISTERING
//	REGISTERING  → register  (маркетплейс)  → COMPLETED
//
// RETRYING возвращается к шагу, сохранённому в ResumeState.
package registration
