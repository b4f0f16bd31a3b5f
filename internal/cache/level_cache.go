// Package cache держит разобранные уровни в памяти процесса, чтобы отрисовка
// и экспорт не декодировали запись при каждом запросе.
//
// Использование:
//
//	c := cache.NewLevelCache(store, cache.Options{TTL: time.Minute})
//	_ = c.Watch(ctx, bus) // инвалидация по событиям level.*
//	l, err := c.Get(ctx, id)
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/iso-sandbox/internal/eventbus"
	"github.com/annel0/iso-sandbox/internal/logging"
	"github.com/annel0/iso-sandbox/internal/storage"
)

// Loader источник уровней при промахе кеша
type Loader interface {
	Load(ctx context.Context, id string) (*storage.Level, error)
}

// Options параметры кеша
type Options struct {
	// TTL время жизни записи; 0: без истечения
	TTL time.Duration
	// Capacity максимум уровней в кеше
	Capacity int
}

// DefaultCapacity число уровней в кеше по умолчанию
const DefaultCapacity = 32

// Metrics содержит метрики кеша.
type Metrics struct {
	Hits          int64   `json:"cache_hits"`
	Misses        int64   `json:"cache_misses"`
	Invalidations int64   `json:"invalidations"`
	Entries       int     `json:"entries"`
	HitRatio      float64 `json:"hit_ratio"`
}

type entry struct {
	level    *storage.Level
	expires  time.Time
	lastUsed time.Time
}

// LevelCache кеш уровней с вытеснением давно не использованных записей.
// Get возвращает копию, поэтому вызывающий может менять уровень.
type LevelCache struct {
	loader Loader
	opts   Options
	now    func() time.Time
	logger *logging.Logger

	mu      sync.Mutex
	entries map[string]*entry
	gen     uint64 // растёт при каждой инвалидации
	sub     eventbus.Subscription

	hits          atomic.Int64
	misses        atomic.Int64
	invalidations atomic.Int64
}

// NewLevelCache создаёт кеш поверх loader
func NewLevelCache(loader Loader, opts Options) *LevelCache {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	return &LevelCache{
		loader:  loader,
		opts:    opts,
		now:     time.Now,
		logger:  logging.GetComponentLogger("cache"),
		entries: make(map[string]*entry),
	}
}

// Get возвращает уровень из кеша или загружает его
func (c *LevelCache) Get(ctx context.Context, id string) (*storage.Level, error) {
	now := c.now()

	c.mu.Lock()
	if e, ok := c.entries[id]; ok {
		if c.opts.TTL <= 0 || now.Before(e.expires) {
			e.lastUsed = now
			l := e.level.Clone()
			c.mu.Unlock()
			c.hits.Add(1)
			return l, nil
		}
		delete(c.entries, id)
	}
	gen := c.gen
	c.mu.Unlock()

	c.misses.Add(1)
	l, err := c.loader.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// уровень мог измениться, пока шла загрузка
	if gen != c.gen {
		return l, nil
	}
	if len(c.entries) >= c.opts.Capacity {
		c.evictLRULocked()
	}
	c.entries[id] = &entry{level: l.Clone(), expires: now.Add(c.opts.TTL), lastUsed: now}
	return l, nil
}

func (c *LevelCache) evictLRULocked() {
	var victim string
	var oldest time.Time
	for id, e := range c.entries {
		if victim == "" || e.lastUsed.Before(oldest) {
			victim, oldest = id, e.lastUsed
		}
	}
	delete(c.entries, victim)
}

// Invalidate удаляет уровень из кеша
func (c *LevelCache) Invalidate(id string) {
	c.mu.Lock()
	_, ok := c.entries[id]
	delete(c.entries, id)
	c.gen++
	c.mu.Unlock()
	if ok {
		c.invalidations.Add(1)
	}
}

// Watch подписывает кеш на события сохранения, вытеснения и удаления уровней.
// Повторный вызов заменяет подписку.
func (c *LevelCache) Watch(ctx context.Context, bus eventbus.EventBus) error {
	filter := eventbus.Filter{Types: []string{
		eventbus.EventLevelSaved, eventbus.EventLevelEvicted, eventbus.EventLevelDeleted,
	}}
	sub, err := bus.Subscribe(ctx, filter, func(_ context.Context, ev *eventbus.Envelope) {
		var payload eventbus.LevelEvent
		if err := ev.Decode(&payload); err != nil {
			c.logger.Warn("Событие %s без данных уровня: %v", ev.EventType, err)
			return
		}
		c.Invalidate(payload.LevelID)
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	prev := c.sub
	c.sub = sub
	c.mu.Unlock()
	if prev != nil {
		prev.Unsubscribe()
	}
	return nil
}

// Metrics возвращает метрики кеша
func (c *LevelCache) Metrics() Metrics {
	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()

	m := Metrics{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Invalidations: c.invalidations.Load(),
		Entries:       n,
	}
	if total := m.Hits + m.Misses; total > 0 {
		m.HitRatio = float64(m.Hits) / float64(total)
	}
	return m
}

// Close снимает подписку и очищает кеш
func (c *LevelCache) Close() error {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	clear(c.entries)
	c.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
	return nil
}
