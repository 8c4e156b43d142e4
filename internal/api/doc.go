// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go      — Handler и интерфейсы хранилищ
//   - routes.go       — регистрация маршрутов
//   - middleware.go   — middleware (request id, logging, recovery)
//   - response.go     — унифицированные JSON-ответы и обработка ошибок
//   - params.go       — пагинация и параметры пути
//   - dto.go          — Data Transfer Objects (request/response)
//   - job_handler.go  — обработчики для /jobs
//   - item_handler.go — обработчики для /items
//
// Создание job только записывает его в PENDING и публикует в jobs.pending.
// Дальнейшую работу выполняет orchestrator.
package api
