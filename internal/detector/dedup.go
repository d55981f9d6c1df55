package detector

import (
	"sync"
	"time"
)

// dedupRegistry помнит активные комбинации (пара, биржи, тип)
//
// Новая возможность с тем же ключом не поднимается, пока предыдущая
// в статусе detected и не истекла: иначе каждый скан порождал бы
// дубликат на одно и то же окно цен и повторные попытки исполнения
type dedupRegistry struct {
	active map[string]time.Time // key -> expiresAt
	mu     sync.Mutex
}

func newDedupRegistry() *dedupRegistry {
	return &dedupRegistry{active: make(map[string]time.Time)}
}

// claim пытается занять комбинацию до expiresAt.
// false - комбинация уже занята и не истекла
func (d *dedupRegistry) claim(key string, expiresAt, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.active[key]; ok && now.Before(existing) {
		return false
	}
	d.active[key] = expiresAt
	return true
}

// release освобождает комбинацию: возможность ушла из статуса
// detected (исполняется, исполнена или провалена)
func (d *dedupRegistry) release(key string) {
	d.mu.Lock()
	delete(d.active, key)
	d.mu.Unlock()
}

// sweep удаляет истёкшие записи, возвращает число удалённых
func (d *dedupRegistry) sweep(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for key, expiresAt := range d.active {
		if !now.Before(expiresAt) {
			delete(d.active, key)
			removed++
		}
	}
	return removed
}
