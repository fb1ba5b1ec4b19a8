package engine

import "sync"

// clientLocks сериализует применение батчей по client_id.
// Разные клиенты применяются параллельно, батчи одного клиента - по очереди.
type clientLocks struct {
	locks sync.Map // client_id -> *sync.Mutex
}

func newClientLocks() *clientLocks {
	return &clientLocks{}
}

// lock захватывает мьютекс клиента и возвращает функцию освобождения
func (c *clientLocks) lock(clientID string) func() {
	v, _ := c.locks.LoadOrStore(clientID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
