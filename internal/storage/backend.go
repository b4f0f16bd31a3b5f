package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound запись отсутствует
	ErrNotFound = errors.New("запись не найдена")
	// ErrQuotaExceeded запись превышает допустимый объём хранилища
	ErrQuotaExceeded = errors.New("превышена квота хранилища")
	// ErrInvalidLevelData уровень повреждён или не содержит обязательных полей
	ErrInvalidLevelData = errors.New("некорректные данные уровня")
	// ErrClosed хранилище закрыто
	ErrClosed = errors.New("хранилище закрыто")
)

// Backend хранилище ключ-значение под коллекцией уровней.
// Каждый Put атомарно заменяет одну запись.
type Backend interface {
	// Put записывает значение по ключу
	Put(ctx context.Context, key string, value []byte) error
	// Get возвращает значение или ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete удаляет ключ; отсутствие ключа не ошибка
	Delete(ctx context.Context, key string) error
	// Keys возвращает отсортированные ключи с префиксом
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// UsageReporter бэкенд, знающий свой занятый объём
type UsageReporter interface {
	Usage(ctx context.Context) (int64, error)
}

// recordSize размер записи в учёте квоты
func recordSize(key string, value []byte) int64 {
	return int64(len(key) + len(value))
}
