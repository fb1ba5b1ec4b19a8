// Package scheduler запускает периодическую фоновую синхронизацию.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/iudanet/fieldsync/internal/client/sync"
)

// Scheduler периодически вызывает SyncOnce.
// Циклы не накладываются: если предыдущий ещё идёт, тик пропускается
type Scheduler struct {
	service  sync.Service
	logger   *slog.Logger
	trigger  chan struct{}
	interval time.Duration
}

// New creates a new sync scheduler
func New(service sync.Service, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		service:  service,
		interval: interval,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger запрашивает внеочередной цикл синхронизации.
// Безопасен из любой горутины; повторный запрос во время цикла схлопывается
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run крутит цикл синхронизации до отмены контекста.
// Возвращает причину остановки; отмена контекста - штатная остановка
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sync scheduler started", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync scheduler stopped")
			return nil
		case <-ticker.C:
			s.runOnce(ctx)
		case <-s.trigger:
			s.runOnce(ctx)
		}
	}
}

// runOnce выполняет один цикл и логирует исход
func (s *Scheduler) runOnce(ctx context.Context) {
	result, err := s.service.SyncOnce(ctx)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			// остановка, не ошибка
		case errors.Is(err, sync.ErrAuthExpired):
			s.logger.Warn("sync paused: device token expired")
		default:
			s.logger.Error("background sync failed", "error", err)
		}
		return
	}

	if result.Pushed > 0 || result.Pulled > 0 || result.Conflicts > 0 {
		s.logger.Info("background sync finished",
			"pushed", result.Pushed,
			"pulled", result.Pulled,
			"conflicts", result.Conflicts,
			"server_seq", result.ServerSeq)
	}
}
