package cli

import (
	"context"
	"encoding/json"
	"fmt"
)

// RunGet показывает сущность по идентификатору
func (c *Cli) RunGet(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: get <reports|sensor_readings> <id>")
	}

	entity, err := c.dataService.Get(ctx, args[0], args[1])
	if err != nil {
		return err
	}

	pretty, err := json.MarshalIndent(entity, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format entity: %w", err)
	}
	fmt.Println(string(pretty))
	return nil
}

// RunList показывает все неудалённые сущности типа
func (c *Cli) RunList(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: list <reports|sensor_readings>")
	}

	entities, err := c.dataService.List(ctx, args[0])
	if err != nil {
		return err
	}

	if len(entities) == 0 {
		fmt.Println("No entities found")
		return nil
	}

	for _, e := range entities {
		synced := "synced"
		if e.ServerID == "" {
			synced = "local-only"
		}
		fmt.Printf("%s  %s  updated=%s\n", e.LocalID, synced, e.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("Total: %d\n", len(entities))
	return nil
}

// RunUpdate обновляет сущность полным JSON payload
func (c *Cli) RunUpdate(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: update <reports|sensor_readings> <id> <json>")
	}

	entity, err := c.dataService.Update(ctx, args[0], args[1], json.RawMessage(args[2]))
	if err != nil {
		return err
	}

	fmt.Printf("Updated: %s\n", entity.LocalID)
	return nil
}

// RunDelete помечает сущность удалённой
func (c *Cli) RunDelete(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: delete <reports|sensor_readings> <id>")
	}

	if err := c.dataService.Delete(ctx, args[0], args[1]); err != nil {
		return err
	}

	fmt.Printf("Deleted: %s\n", args[1])
	return nil
}

// RunUpload ставит файл в очередь загрузки и пытается сразу загрузить
func (c *Cli) RunUpload(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: upload <file>")
	}

	upload, err := c.dataService.EnqueueMedia(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Enqueued upload %s (%d bytes)\n", upload.ID, upload.Size)

	// Пробуем загрузить сразу; офлайн это штатная ситуация
	result, err := c.syncService.SyncOnce(ctx)
	if err != nil {
		fmt.Printf("Upload deferred (offline?): %v\n", err)
		return nil
	}

	if result.Uploads > 0 {
		refreshed, err := c.dataService.GetUpload(ctx, upload.ID)
		if err == nil && refreshed.ObjectKey != "" {
			fmt.Printf("Uploaded, object key: %s\n", refreshed.ObjectKey)
			return nil
		}
	}
	fmt.Println("Upload pending, will retry on next sync")
	return nil
}
