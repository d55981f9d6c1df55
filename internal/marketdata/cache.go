// Package marketdata хранит последние рыночные данные всех бирж в памяти.
//
// Кэш - единственный источник цен для детектора: коннекторы пишут
// сюда нормализованные тикеры и стаканы, детектор читает свежие
// снапшоты без обращения к биржам.
package marketdata

import (
	"sync"
	"time"

	"crossarb/internal/models"
)

// ============ ОПТИМИЗАЦИЯ: Inline FNV-1a hash без аллокаций ============
const (
	fnvOffset32 = uint32(2166136261)
	fnvPrime32  = uint32(16777619)
)

// fnvHash вычисляет FNV-1a hash строки без аллокаций
func fnvHash(s string) uint32 {
	h := fnvOffset32
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime32
	}
	return h
}

// entryKey - составной ключ без конкатенации строк.
// Go оптимизирует struct keys в map
type entryKey struct {
	Exchange string
	Pair     string
}

// cacheShard - один шард с собственным мьютексом
type cacheShard struct {
	tickers map[entryKey]*models.NormalizedTicker
	books   map[entryKey]*models.NormalizedOrderBook

	// Индекс: pair -> биржи, публиковавшие данные по паре.
	// Позволяет собрать снапшот пары без обхода всех ключей
	pairIndex map[string][]string

	mu sync.RWMutex
}

func (s *cacheShard) indexExchange(pair, exchange string) {
	for _, e := range s.pairIndex[pair] {
		if e == exchange {
			return
		}
	}
	s.pairIndex[pair] = append(s.pairIndex[pair], exchange)
}

// Cache - шардированный кэш рыночных данных
//
// Шардирование по паре: обновления BTCUSDT и ETHUSDT не блокируют
// друг друга. Записи не перезатираются более старыми данными:
// обновление с Timestamp раньше текущего отбрасывается (REST-поллинг
// и WebSocket одной биржи могут гоняться друг с другом).
//
// Снапшоты отдаются копиями, читатель не видит последующих обновлений
type Cache struct {
	shards    []*cacheShard
	numShards uint32

	// Время последних данных по бирже (для менеджера соединений)
	lastSeen   map[string]time.Time
	lastSeenMu sync.RWMutex
}

// NewCache создаёт кэш с заданным числом шардов
func NewCache(numShards int) *Cache {
	if numShards <= 0 {
		numShards = 16
	}

	shards := make([]*cacheShard, numShards)
	for i := range shards {
		shards[i] = &cacheShard{
			tickers:   make(map[entryKey]*models.NormalizedTicker),
			books:     make(map[entryKey]*models.NormalizedOrderBook),
			pairIndex: make(map[string][]string),
		}
	}

	return &Cache{
		shards:    shards,
		numShards: uint32(numShards),
		lastSeen:  make(map[string]time.Time),
	}
}

func (c *Cache) shardFor(pair string) *cacheShard {
	return c.shards[fnvHash(pair)%c.numShards]
}

// touch отмечает поступление данных от биржи
func (c *Cache) touch(exchange string, ts time.Time) {
	c.lastSeenMu.Lock()
	if ts.After(c.lastSeen[exchange]) {
		c.lastSeen[exchange] = ts
	}
	c.lastSeenMu.Unlock()
}

// LastSeen возвращает время последних данных от биржи.
// Нулевое время - данных от биржи ещё не было
func (c *Cache) LastSeen(exchange string) time.Time {
	c.lastSeenMu.RLock()
	defer c.lastSeenMu.RUnlock()
	return c.lastSeen[exchange]
}

// SetTicker сохраняет тикер. Более старый тикер не перезатирает
// более новый
func (c *Cache) SetTicker(t *models.NormalizedTicker) {
	if t == nil || t.Pair == "" {
		return
	}

	key := entryKey{Exchange: t.Exchange, Pair: t.Pair}
	shard := c.shardFor(t.Pair)

	shard.mu.Lock()
	existing, ok := shard.tickers[key]
	if ok && existing.Timestamp.After(t.Timestamp) {
		shard.mu.Unlock()
		return
	}
	shard.tickers[key] = t
	shard.indexExchange(t.Pair, t.Exchange)
	shard.mu.Unlock()

	c.touch(t.Exchange, t.Timestamp)
}

// SetOrderBook сохраняет стакан целиком (whole-snapshot swap,
// инкрементальные обновления не применяются)
func (c *Cache) SetOrderBook(b *models.NormalizedOrderBook) {
	if b == nil || b.Pair == "" {
		return
	}

	key := entryKey{Exchange: b.Exchange, Pair: b.Pair}
	shard := c.shardFor(b.Pair)

	shard.mu.Lock()
	existing, ok := shard.books[key]
	if ok && existing.Timestamp.After(b.Timestamp) {
		shard.mu.Unlock()
		return
	}
	shard.books[key] = b
	shard.indexExchange(b.Pair, b.Exchange)
	shard.mu.Unlock()

	c.touch(b.Exchange, b.Timestamp)
}

// GetTicker возвращает последний тикер биржи по паре
func (c *Cache) GetTicker(exchange, pair string) (*models.NormalizedTicker, bool) {
	shard := c.shardFor(pair)

	shard.mu.RLock()
	t, ok := shard.tickers[entryKey{Exchange: exchange, Pair: pair}]
	shard.mu.RUnlock()

	if !ok {
		return nil, false
	}
	cp := *t
	return &cp, true
}

// GetOrderBook возвращает последний стакан биржи по паре
func (c *Cache) GetOrderBook(exchange, pair string) (*models.NormalizedOrderBook, bool) {
	shard := c.shardFor(pair)

	shard.mu.RLock()
	b, ok := shard.books[entryKey{Exchange: exchange, Pair: pair}]
	shard.mu.RUnlock()

	if !ok {
		return nil, false
	}

	cp := *b
	cp.Bids = append([]models.OrderBookLevel(nil), b.Bids...)
	cp.Asks = append([]models.OrderBookLevel(nil), b.Asks...)
	return &cp, true
}

// FreshTickers возвращает тикеры пары со всех бирж не старше maxAge.
// Застойные и некорректные (без обеих котировок) тикеры отбрасываются
func (c *Cache) FreshTickers(pair string, maxAge time.Duration, now time.Time) map[string]*models.NormalizedTicker {
	shard := c.shardFor(pair)

	shard.mu.RLock()
	defer shard.mu.RUnlock()

	result := make(map[string]*models.NormalizedTicker)
	for _, exchange := range shard.pairIndex[pair] {
		t, ok := shard.tickers[entryKey{Exchange: exchange, Pair: pair}]
		if !ok {
			continue
		}
		if now.Sub(t.Timestamp) > maxAge {
			continue
		}
		if !t.HasQuotes() {
			continue
		}
		cp := *t
		result[exchange] = &cp
	}

	return result
}

// FreshOrderBooks возвращает стаканы пары со всех бирж не старше maxAge
func (c *Cache) FreshOrderBooks(pair string, maxAge time.Duration, now time.Time) map[string]*models.NormalizedOrderBook {
	shard := c.shardFor(pair)

	shard.mu.RLock()
	defer shard.mu.RUnlock()

	result := make(map[string]*models.NormalizedOrderBook)
	for _, exchange := range shard.pairIndex[pair] {
		b, ok := shard.books[entryKey{Exchange: exchange, Pair: pair}]
		if !ok {
			continue
		}
		if now.Sub(b.Timestamp) > maxAge {
			continue
		}
		cp := *b
		cp.Bids = append([]models.OrderBookLevel(nil), b.Bids...)
		cp.Asks = append([]models.OrderBookLevel(nil), b.Asks...)
		result[exchange] = &cp
	}

	return result
}

// DropExchange удаляет все данные биржи из кэша.
// Вызывается менеджером соединений при отказе биржи: застойные
// цены отказавшей биржи не должны участвовать в поиске возможностей
func (c *Cache) DropExchange(exchange string) {
	for _, shard := range c.shards {
		shard.mu.Lock()
		for key := range shard.tickers {
			if key.Exchange == exchange {
				delete(shard.tickers, key)
			}
		}
		for key := range shard.books {
			if key.Exchange == exchange {
				delete(shard.books, key)
			}
		}
		for pair, exchanges := range shard.pairIndex {
			filtered := exchanges[:0]
			for _, e := range exchanges {
				if e != exchange {
					filtered = append(filtered, e)
				}
			}
			shard.pairIndex[pair] = filtered
		}
		shard.mu.Unlock()
	}

	c.lastSeenMu.Lock()
	delete(c.lastSeen, exchange)
	c.lastSeenMu.Unlock()
}
