// Package ratelimit ограничивает частоту запросов к внешним API.
//
// # Алгоритм
//
// Время делится на окна фиксированной длины. На каждое окно и ресурс
// заводится один счётчик. TryAcquire атомарно читает счётчик, сравнивает
// его с двумя порогами и увеличивает его только при допуске:
//
//	count < MaxPerWindow  → допуск (admitted)
//	count < BurstMax      → допуск сверх нормы (burst)
//	иначе                 → отказ, счётчик не меняется
//
// Счётчик окна живёт 2 окна и удаляется хранилищем сам.
//
// # Реализации
//
//   - RedisLimiter — общий счётчик в Redis, проверка и инкремент выполняются
//     одним Lua-скриптом. Безопасен для нескольких процессов и хостов.
//   - LocalLimiter — счётчик в памяти под мьютексом, для одного процесса.
//
// Если Redis недоступен, TryAcquire возвращает ошибку ErrUnavailable,
// а не false: вызывающий сам решает, считать это временной ошибкой или фатальной.
//
// # Ожидание бюджета
//
// AcquireWithBackoff повторяет TryAcquire с задержкой base * 2^attempt.
// Эти попытки не связаны с RetryCount item.
package ratelimit
