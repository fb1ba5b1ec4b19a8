// Package cli реализует команды клиента fieldsync.
package cli

import (
	"log/slog"

	"github.com/iudanet/fieldsync/internal/client/data"
	"github.com/iudanet/fieldsync/internal/client/scheduler"
	"github.com/iudanet/fieldsync/internal/client/storage"
	"github.com/iudanet/fieldsync/internal/client/sync"

	httpapi "github.com/iudanet/fieldsync/internal/client/api"
)

// Cli связывает команды с сервисами клиента
type Cli struct {
	apiClient   httpapi.ClientAPI
	dataService *data.Service
	syncService sync.Service
	scheduler   *scheduler.Scheduler
	changeLog   storage.ChangeLogStorage
	meta        storage.MetaStorage
	logger      *slog.Logger
}

// New creates a new CLI dispatcher
func New(
	apiClient httpapi.ClientAPI,
	dataService *data.Service,
	syncService sync.Service,
	sched *scheduler.Scheduler,
	changeLog storage.ChangeLogStorage,
	meta storage.MetaStorage,
	logger *slog.Logger,
) *Cli {
	return &Cli{
		apiClient:   apiClient,
		dataService: dataService,
		syncService: syncService,
		scheduler:   sched,
		changeLog:   changeLog,
		meta:        meta,
		logger:      logger,
	}
}
