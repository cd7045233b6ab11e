package swap

import (
	"bytes"
	"sync"

	"github.com/google/uuid"
)

// lockManager выдаёт мьютексы по идентификатору записи.
// Все мутации одного обмена сериализуются через его мьютекс; независимые
// обмены обрабатываются параллельно без общей блокировки.
type lockManager struct {
	locks    map[uuid.UUID]*sync.Mutex
	locksMux sync.RWMutex
}

func newLockManager() *lockManager {
	return &lockManager{
		locks: make(map[uuid.UUID]*sync.Mutex),
	}
}

// get возвращает мьютекс для указанного ID, создавая его при необходимости
func (lm *lockManager) get(id uuid.UUID) *sync.Mutex {
	lm.locksMux.RLock()
	if lock, exists := lm.locks[id]; exists {
		lm.locksMux.RUnlock()
		return lock
	}
	lm.locksMux.RUnlock()

	lm.locksMux.Lock()
	defer lm.locksMux.Unlock()

	// Повторная проверка: мьютекс могла создать другая горутина
	if lock, exists := lm.locks[id]; exists {
		return lock
	}

	lock := &sync.Mutex{}
	lm.locks[id] = lock
	return lock
}

// lock захватывает мьютекс записи и возвращает функцию освобождения
func (lm *lockManager) lock(id uuid.UUID) func() {
	l := lm.get(id)
	l.Lock()
	return l.Unlock
}

// pairKey детерминированно сводит пару пользователей к одному ключу
// блокировки независимо от порядка аргументов
func pairKey(a, b uuid.UUID) uuid.UUID {
	lo, hi := a, b
	if bytes.Compare(lo[:], hi[:]) > 0 {
		lo, hi = hi, lo
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, append(lo[:], hi[:]...))
}
