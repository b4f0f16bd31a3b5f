package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v3"
)

// BadgerBackend хранит записи во встроенной BadgerDB
type BadgerBackend struct {
	db      *badger.DB
	mutex   sync.RWMutex
	isReady bool
}

// NewBadgerBackend открывает базу в каталоге path.
// При пустом path база создаётся в памяти.
func NewBadgerBackend(path string) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}
	return &BadgerBackend{db: db, isReady: true}, nil
}

func (b *BadgerBackend) Put(ctx context.Context, key string, value []byte) error {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	if !b.isReady {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

func (b *BadgerBackend) Get(ctx context.Context, key string) ([]byte, error) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	if !b.isReady {
		return nil, ErrClosed
	}

	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("чтение %s из BadgerDB: %w", key, err)
	}
	return value, nil
}

func (b *BadgerBackend) Delete(ctx context.Context, key string) error {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	if !b.isReady {
		return ErrClosed
	}

	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// Keys перебирает ключи с префиксом без чтения значений
func (b *BadgerBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	if !b.isReady {
		return nil, ErrClosed
	}

	var keys []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("перебор ключей BadgerDB: %w", err)
	}
	return keys, nil
}

// Close закрывает базу
func (b *BadgerBackend) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.isReady {
		return nil
	}
	b.isReady = false
	return b.db.Close()
}
