// Package cli реализует инструмент командной строки storebridge.
//
// CLI работает через HTTP API и не импортирует внутренние пакеты системы.
//
// # Ключевые компоненты
//
// Client — HTTP-клиент API: запросы, разбор DataResponse/ListResponse
// и ошибок API (*APIError).
//
//	client := cli.NewClient("http://localhost:8080")
//	job, err := client.GetJob(ctx, id)
//
// Output — форматирование вывода: таблицы pterm по умолчанию, JSON с флагом --json.
// Данные выводятся в stdout, сообщения в stderr:
//
//	storebridge job list --json | jq .
//
// # Команды
//
//   - job: create, list, show, cancel, items, watch
//   - item: show
//
// Группы создаются фабриками (NewJobCmd, NewItemCmd), принимающими clientFn
// и outputFn: Client и Output создаются после разбора PersistentFlags.
package cli
