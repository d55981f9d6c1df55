package ratelimit

import (
	"strings"
	"sync"
)

// Registry хранит независимые rate limiter'ы по имени биржи
//
// Исчерпание лимита одной биржи не должно тормозить запросы к
// остальным, поэтому каждой бирже - своё ведро токенов.
// Неизвестная биржа получает limiter с дефолтными параметрами
type Registry struct {
	defaultRate  float64
	defaultBurst float64

	limiters map[string]*RateLimiter
	mu       sync.RWMutex
}

// NewRegistry создаёт реестр лимитеров с дефолтными параметрами
// для бирж без явной настройки
func NewRegistry(defaultRate, defaultBurst float64) *Registry {
	return &Registry{
		defaultRate:  defaultRate,
		defaultBurst: defaultBurst,
		limiters:     make(map[string]*RateLimiter),
	}
}

// Configure задаёт лимит для конкретной биржи.
// Перезаписывает существующий limiter, накопленные токены теряются
func (r *Registry) Configure(exchange string, rate, burst float64) {
	key := strings.ToLower(exchange)

	r.mu.Lock()
	r.limiters[key] = NewRateLimiter(rate, burst)
	r.mu.Unlock()
}

// Get возвращает limiter биржи, создавая дефолтный при первом обращении
func (r *Registry) Get(exchange string) *RateLimiter {
	key := strings.ToLower(exchange)

	r.mu.RLock()
	limiter, ok := r.limiters[key]
	r.mu.RUnlock()
	if ok {
		return limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Повторная проверка: limiter мог появиться между RUnlock и Lock
	if limiter, ok = r.limiters[key]; ok {
		return limiter
	}

	limiter = NewRateLimiter(r.defaultRate, r.defaultBurst)
	r.limiters[key] = limiter
	return limiter
}
