// Package connector — общие части клиентов внешних API.
//
// Клиенты в подпакетах (marketplace, catalog) возвращают ошибки,
// уже классифицированные в domain.ErrorKind. Executor ветвится
// по классу и не разбирает HTTP-коды.
package connector
