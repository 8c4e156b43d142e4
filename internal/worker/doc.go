// Package worker обрабатывает items регистрации.
//
// # Обзор
//
// Worker получает ID items и передаёт их Processor (executor.Executor),
// который проводит item через шаги. Worker отвечает за доставку работы:
//
//   - consumer очереди items.ready с ограниченным параллелизмом
//   - polling БД: созревшие RETRYING items и items, сообщение о которых потеряно
//   - защиту от одновременной обработки одного item в пределах процесса
//
// Между процессами от двойной обработки защищает версия item в БД.
//
//	w := worker.New(worker.Config{
//	    Processor:   exec,
//	    Due:         itemRepo,
//	    Conn:        mqConn,
//	    Concurrency: 8,
//	    Logger:      logger,
//	})
//
//	if err := w.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Stop()
//
// # Сообщения
//
// Некорректный payload отправляется в DLQ. Ошибка Processor (БД недоступна,
// процесс останавливается) возвращает сообщение в очередь.
package worker
