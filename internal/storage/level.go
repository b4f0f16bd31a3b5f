// Package storage сохраняет уровни песочницы в ограниченной по объёму коллекции
// и восстанавливает их.
package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/iso-sandbox/internal/iso"
	"github.com/annel0/iso-sandbox/internal/world"
)

// Settings настройки уровня
type Settings struct {
	Gravity bool `json:"gravity"`
}

// Level уровень: метаданные, блоки, камера и настройки.
// Рабочий уровень сессии отличается от сохранённой копии до вызова Save.
type Level struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Author      string        `json:"author,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	ModifiedAt  time.Time     `json:"modifiedAt"`
	Blocks      []world.Block `json:"blocks"`
	Camera      iso.Camera    `json:"camera"`
	Settings    Settings      `json:"settings"`
}

// NewLevel создаёт пустой уровень с новым идентификатором
func NewLevel(name, author string) *Level {
	now := time.Now().UTC()
	return &Level{
		ID:         uuid.NewString(),
		Name:       name,
		Author:     author,
		CreatedAt:  now,
		ModifiedAt: now,
		Blocks:     []world.Block{},
		Camera:     iso.DefaultCamera(),
	}
}

// Validate проверяет обязательные поля и уникальность позиций блоков
func (l *Level) Validate() error {
	if l == nil {
		return fmt.Errorf("%w: уровень не задан", ErrInvalidLevelData)
	}
	if strings.TrimSpace(l.ID) == "" {
		return fmt.Errorf("%w: отсутствует id", ErrInvalidLevelData)
	}
	if strings.TrimSpace(l.Name) == "" {
		return fmt.Errorf("%w: отсутствует name", ErrInvalidLevelData)
	}

	seen := make(map[[3]int]struct{}, len(l.Blocks))
	for i, b := range l.Blocks {
		if b.ID == "" {
			return fmt.Errorf("%w: блок #%d без id", ErrInvalidLevelData, i)
		}
		key := [3]int{b.Pos.X, b.Pos.Y, b.Pos.Z}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: два блока в ячейке (%d, %d, %d)", ErrInvalidLevelData, b.Pos.X, b.Pos.Y, b.Pos.Z)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// Clone возвращает глубокую копию уровня
func (l *Level) Clone() *Level {
	if l == nil {
		return nil
	}
	cp := *l
	cp.Blocks = world.CloneBlocks(l.Blocks)
	return &cp
}

// Summary возвращает краткое описание уровня для списка
func (l *Level) Summary(sizeBytes int) LevelSummary {
	return LevelSummary{
		ID:         l.ID,
		Name:       l.Name,
		Author:     l.Author,
		CreatedAt:  l.CreatedAt,
		ModifiedAt: l.ModifiedAt,
		BlockCount: len(l.Blocks),
		SizeBytes:  sizeBytes,
	}
}

// LevelSummary элемент списка сохранённых уровней
type LevelSummary struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Author     string    `json:"author,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	ModifiedAt time.Time `json:"modifiedAt"`
	BlockCount int       `json:"blockCount"`
	SizeBytes  int       `json:"sizeBytes"`
}

// sortNewestFirst упорядочивает по убыванию времени изменения, при равенстве по id
func sortNewestFirst(list []LevelSummary) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].ModifiedAt.Equal(list[j].ModifiedAt) {
			return list[i].ModifiedAt.After(list[j].ModifiedAt)
		}
		return list[i].ID < list[j].ID
	})
}

// MarshalLevel кодирует уровень в формат экспорта: полный JSON без сжатия
func MarshalLevel(l *Level) ([]byte, error) {
	return json.MarshalIndent(l, "", "  ")
}

// UnmarshalLevel разбирает и проверяет уровень в формате экспорта
func UnmarshalLevel(data []byte) (*Level, error) {
	var l Level
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLevelData, err)
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	if l.Blocks == nil {
		l.Blocks = []world.Block{}
	}
	return &l, nil
}
