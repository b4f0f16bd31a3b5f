package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
)

// MariaBackend хранит записи в таблице level_records MariaDB/MySQL
type MariaBackend struct {
	db *sql.DB
}

// NewMariaBackend подключается к базе и создаёт таблицу, если её нет.
//
// Параметры:
//
//	dsn - строка подключения к базе данных (user:pass@tcp(host:port)/dbname)
func NewMariaBackend(ctx context.Context, dsn string) (*MariaBackend, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	// Проверяем соединение
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось проверить соединение с MariaDB: %w", err)
	}

	b := &MariaBackend{db: db}
	if err := b.createTable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать таблицу: %w", err)
	}
	return b, nil
}

// createTable создает таблицу level_records, если она не существует.
func (b *MariaBackend) createTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS level_records (
			record_key  VARCHAR(255) PRIMARY KEY,
			value       LONGBLOB     NOT NULL,
			updated_at  TIMESTAMP    DEFAULT CURRENT_TIMESTAMP
			            ON UPDATE    CURRENT_TIMESTAMP
		) ENGINE=InnoDB
	`
	if _, err := b.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ошибка создания таблицы level_records: %w", err)
	}
	return nil
}

func (b *MariaBackend) Put(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT INTO level_records (record_key, value)
		VALUES (?, ?)
		ON DUPLICATE KEY UPDATE
			value = VALUES(value),
			updated_at = CURRENT_TIMESTAMP
	`
	if _, err := b.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("ошибка сохранения записи %s: %w", key, err)
	}
	return nil
}

func (b *MariaBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := b.db.QueryRowContext(ctx, `SELECT value FROM level_records WHERE record_key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки записи %s: %w", key, err)
	}
	return value, nil
}

func (b *MariaBackend) Delete(ctx context.Context, key string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM level_records WHERE record_key = ?`, key); err != nil {
		return fmt.Errorf("ошибка удаления записи %s: %w", key, err)
	}
	return nil
}

func (b *MariaBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT record_key FROM level_records WHERE record_key LIKE ? ORDER BY record_key`,
		escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки ключей: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("ошибка чтения ключа: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (b *MariaBackend) Close() error {
	return b.db.Close()
}

// escapeLike экранирует спецсимволы LIKE (экранирующий символ по умолчанию \)
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
