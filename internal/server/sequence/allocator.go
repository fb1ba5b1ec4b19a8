// Package sequence выделяет глобальные номера изменений.
//
// Счётчик - единственный разделяемый изменяемый ресурс системы и
// единственный источник тотального порядка между всеми клиентами,
// поэтому он вынесен в отдельный компонент с явной сериализацией.
package sequence

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// Allocator выделяет уникальные, строго возрастающие server_seq.
// Инкремент выполняется внутри транзакции вызывающего, так что номер
// durable вместе с изменением, которому он присвоен; мьютекс
// сериализует конкурентные сессии поверх транзакционной гарантии.
type Allocator struct {
	mu sync.Mutex
}

// NewAllocator creates a new sequence allocator
func NewAllocator() *Allocator {
	return &Allocator{}
}

// Next выделяет следующий номер внутри транзакции tx.
// Откат транзакции возвращает счётчик, поэтому зафиксированная
// история всегда плотная: пул из одного соединения сериализует
// коммиты в порядке выделения.
func (a *Allocator) Next(ctx context.Context, tx *sql.Tx) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var seq int64
	err := tx.QueryRowContext(ctx,
		`UPDATE sequence_counter SET value = value + 1 WHERE id = 1 RETURNING value`,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate sequence: %w", err)
	}

	return seq, nil
}
