package cli

import (
	"context"
	"fmt"
	"os"
)

// Run диспетчеризует команду и завершает процесс при ошибке
func (c *Cli) Run(ctx context.Context, command string, args []string) {
	var err error

	switch command {
	case "add-report":
		err = c.RunAddReport(ctx, args)
	case "add-reading":
		err = c.RunAddReading(ctx, args)
	case "get":
		err = c.RunGet(ctx, args)
	case "list":
		err = c.RunList(ctx, args)
	case "update":
		err = c.RunUpdate(ctx, args)
	case "delete":
		err = c.RunDelete(ctx, args)
	case "upload":
		err = c.RunUpload(ctx, args)
	case "sync":
		err = c.RunSync(ctx)
	case "watch":
		err = c.RunWatch(ctx)
	case "status":
		err = c.RunStatus(ctx)
	case "conflicts":
		err = c.RunConflicts(ctx)
	case "resolve":
		err = c.RunResolve(ctx, args)
	case "help", "":
		PrintUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		PrintUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// PrintUsage выводит справку по командам
func PrintUsage() {
	fmt.Println(`fieldsync-client - offline-first клиент синхронизации полевых данных

Usage:
  fieldsync-client [flags] <command> [args]

Commands:
  add-report    создать донесение (флаги: -region, -reporter, -symptoms, ...)
  add-reading   создать показание датчика (флаги: -sensor, -ph, ...)
  get           показать сущность: get <reports|sensor_readings> <id>
  list          показать сущности: list <reports|sensor_readings>
  update        обновить сущность: update <entity> <id> <json>
  delete        удалить сущность: delete <entity> <id>
  upload        поставить медиафайл в очередь загрузки: upload <file>
  sync          выполнить один цикл синхронизации
  watch         фоновая синхронизация до Ctrl+C
  status        показать состояние журнала и watermark
  conflicts     показать конфликты, ожидающие разрешения
  resolve       разрешить конфликт: resolve <conflict-id> <server|client>

Flags:
  -server, -db, -token, -client-id, -batch-size, -sync-interval, -log-level`)
}
