// Package scheduler выполняет периодическое обслуживание jobs по cron-расписаниям.
//
// Структура:
//   - scheduler.go — Scheduler: reconcile RUNNING jobs и requeue застрявших PENDING
//   - cron.go      — парсинг расписаний, адаптер логгера cron
//
// Использование:
//
//	sched, err := scheduler.New(scheduler.Config{
//	    Reconciler: agg,
//	    Pending:    jobRepo,
//	    Publisher:  publisher,
//	    Leader:     repo.NewAdvisoryLock(pool, lockKey),
//	    Logger:     logger,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	sched.Start(ctx)
//	defer sched.Stop()
//
// Leader election:
//
// Несколько экземпляров могут работать одновременно. Тик выполняет только
// держатель advisory lock Postgres; остальные пропускают тики.
package scheduler
