package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// QuotaBackend ограничивает суммарный объём записей (ключ + значение) вложенного бэкенда.
// Запись, после которой объём превысил бы лимит, отклоняется с ErrQuotaExceeded
// и не доходит до вложенного бэкенда.
type QuotaBackend struct {
	inner Backend
	limit int64

	mu    sync.Mutex
	sizes map[string]int64
	used  int64
}

// NewQuotaBackend оборачивает inner и учитывает уже существующие записи
func NewQuotaBackend(ctx context.Context, inner Backend, limitBytes int64) (*QuotaBackend, error) {
	if limitBytes <= 0 {
		return nil, fmt.Errorf("лимит квоты должен быть положительным: %d", limitBytes)
	}
	q := &QuotaBackend{inner: inner, limit: limitBytes, sizes: make(map[string]int64)}

	keys, err := inner.Keys(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("подсчёт занятого объёма: %w", err)
	}
	for _, k := range keys {
		v, err := inner.Get(ctx, k)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("подсчёт занятого объёма: %w", err)
		}
		q.sizes[k] = recordSize(k, v)
		q.used += q.sizes[k]
	}
	return q, nil
}

// Limit возвращает лимит в байтах
func (q *QuotaBackend) Limit() int64 {
	return q.limit
}

func (q *QuotaBackend) Put(ctx context.Context, key string, value []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	size := recordSize(key, value)
	projected := q.used - q.sizes[key] + size
	if projected > q.limit {
		return fmt.Errorf("%w: %d из %d байт", ErrQuotaExceeded, projected, q.limit)
	}
	if err := q.inner.Put(ctx, key, value); err != nil {
		return err
	}
	q.used = projected
	q.sizes[key] = size
	return nil
}

func (q *QuotaBackend) Get(ctx context.Context, key string) ([]byte, error) {
	return q.inner.Get(ctx, key)
}

func (q *QuotaBackend) Delete(ctx context.Context, key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.inner.Delete(ctx, key); err != nil {
		return err
	}
	q.used -= q.sizes[key]
	delete(q.sizes, key)
	return nil
}

func (q *QuotaBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	return q.inner.Keys(ctx, prefix)
}

// Usage возвращает занятый объём
func (q *QuotaBackend) Usage(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.used, nil
}

func (q *QuotaBackend) Close() error {
	return q.inner.Close()
}
