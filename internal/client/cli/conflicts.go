package cli

import (
	"context"
	"fmt"
)

// RunConflicts показывает конфликты, ожидающие ручного разрешения
func (c *Cli) RunConflicts(ctx context.Context) error {
	resp, err := c.apiClient.Conflicts(ctx)
	if err != nil {
		return err
	}

	if len(resp.Conflicts) == 0 {
		fmt.Println("No pending conflicts")
		return nil
	}

	for _, conflict := range resp.Conflicts {
		fmt.Printf("Conflict %s\n", conflict.ConflictID)
		fmt.Printf("  Entity:  %s/%s\n", conflict.Entity, conflict.EntityID)
		fmt.Printf("  Server:  %s\n", string(conflict.ServerValue))
		fmt.Printf("  Client:  %s\n", string(conflict.ClientValue))
		fmt.Println()
	}
	fmt.Printf("Total: %d. Resolve with: resolve <conflict-id> <server|client>\n", len(resp.Conflicts))
	return nil
}

// RunResolve разрешает конфликт в пользу сервера или клиента
func (c *Cli) RunResolve(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: resolve <conflict-id> <server|client>")
	}

	resp, err := c.apiClient.ResolveConflict(ctx, args[0], args[1])
	if err != nil {
		return err
	}

	fmt.Printf("Resolved %s as %s\n", resp.ConflictID, resp.Resolution)
	if resp.ServerSeq > 0 {
		fmt.Printf("Applied as server change %d\n", resp.ServerSeq)
	}

	// Подтягиваем применённое состояние
	if _, err := c.syncService.SyncOnce(ctx); err != nil {
		fmt.Printf("Note: follow-up sync failed: %v\n", err)
	}
	return nil
}
