// Package aggregator сворачивает терминальные исходы items в счётчики job
// и завершает job, когда все items разрешены.
//
// Каждый исход учитывается ровно один раз: хранилище фиксирует пару
// (job_id, item_id) и меняет счётчики только при первой вставке.
// Повторная доставка того же уведомления ничего не меняет.
//
// Job переводится в COMPLETED условно (только из RUNNING), когда
// success + failed + manual_review == total и в БД не осталось
// нетерминальных items. Reconcile пересчитывает исходы по состоянию
// items и досчитывает потерянные уведомления.
package aggregator
