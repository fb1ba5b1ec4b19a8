package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/iudanet/fieldsync/internal/client/sync"
)

// RunSync выполняет один цикл синхронизации
func (c *Cli) RunSync(ctx context.Context) error {
	result, err := c.syncService.SyncOnce(ctx)
	if err != nil {
		if errors.Is(err, sync.ErrAuthExpired) {
			return fmt.Errorf("device token expired, renew it and retry (pending changes are safe)")
		}
		return err
	}

	fmt.Printf("Pushed:    %d\n", result.Pushed)
	fmt.Printf("Pulled:    %d\n", result.Pulled)
	if result.Held > 0 {
		fmt.Printf("Held back: %d (waiting for media uploads)\n", result.Held)
	}
	if result.Conflicts > 0 {
		fmt.Printf("Conflicts: %d (see 'conflicts' command)\n", result.Conflicts)
	}
	if result.Rejected > 0 {
		fmt.Printf("Rejected:  %d\n", result.Rejected)
	}
	if result.Uploads > 0 {
		fmt.Printf("Uploads:   %d\n", result.Uploads)
	}
	fmt.Printf("Server seq: %d\n", result.ServerSeq)
	return nil
}

// RunWatch крутит фоновую синхронизацию до Ctrl+C
func (c *Cli) RunWatch(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println("Watching for changes, Ctrl+C to stop")
	c.scheduler.Trigger()
	return c.scheduler.Run(ctx)
}

// RunStatus показывает состояние журнала и синхронизации
func (c *Cli) RunStatus(ctx context.Context) error {
	clientID, err := c.meta.ClientID(ctx)
	if err != nil {
		return err
	}

	watermark, err := c.meta.Watermark(ctx)
	if err != nil {
		return err
	}

	pending, err := c.changeLog.PendingCount(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Client ID: %s\n", clientID)
	fmt.Printf("Watermark: %d\n", watermark)
	fmt.Printf("Pending:   %d\n", pending)
	return nil
}
