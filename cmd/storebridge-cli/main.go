// storebridge CLI — управление jobs регистрации через HTTP API.
//
// Использование:
//
//	storebridge [--api-url URL] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	job   Создание, просмотр и отмена jobs
//	item  Просмотр items
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"

	"github.com/shaiso/storebridge/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cli.NewRootCmd(version).ExecuteContext(ctx); err != nil {
		pterm.Error.WithWriter(os.Stderr).Println(err)
		cancel()
		os.Exit(1)
	}
}
