// Package orchestrator принимает jobs и ведёт их к завершению.
//
// Orchestrator отвечает за:
//   - приём job из очереди jobs.pending: выборку товаров каталога,
//     создание items и их постановку в items.ready
//   - учёт терминальных исходов items из очереди items.completed
//     через aggregator
//
// Приём идемпотентен: повторная доставка jobs.pending для уже принятого job
// ничего не делает, а товар, уже созданный в job, не создаётся повторно.
// Ошибка каталога переводит job в FAILED.
package orchestrator
