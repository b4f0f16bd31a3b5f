package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/png"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/annel0/iso-sandbox/internal/logging"
	"github.com/annel0/iso-sandbox/internal/world"
)

// ErrAtlasNotReady атлас ещё не загружен
var ErrAtlasNotReady = errors.New("атлас спрайтов не загружен")

// atlasManifest описание областей атласа, лежит рядом с изображением (<path>.yaml).
// Ключи: "type/palette" или "type".
type atlasManifest struct {
	Sprites map[string][4]int `yaml:"sprites"`
}

// Atlas лист спрайтов. До окончания загрузки конвейер рисует плоскими цветами.
type Atlas struct {
	mu      sync.RWMutex
	sheet   image.Image
	regions map[string]image.Rectangle
	ready   bool
	err     error
	done    chan struct{}
	once    sync.Once
	logger  *logging.Logger
}

// NewAtlas создаёт пустой атлас
func NewAtlas() *Atlas {
	return &Atlas{
		regions: make(map[string]image.Rectangle),
		done:    make(chan struct{}),
		logger:  logging.GetRenderLogger(),
	}
}

// NewAtlasFromImage создаёт готовый атлас из изображения и областей
func NewAtlasFromImage(sheet image.Image, regions map[string]image.Rectangle) *Atlas {
	a := NewAtlas()
	a.install(sheet, regions, nil)
	return a
}

// LoadAsync запускает загрузку в фоне. Канал получает результат загрузки и закрывается.
// Ошибка загрузки только логируется: атлас остаётся неготовым.
func (a *Atlas) LoadAsync(ctx context.Context, path string) <-chan error {
	result := make(chan error, 1)
	go func() {
		defer close(result)
		err := a.Load(ctx, path)
		if err != nil {
			a.logger.Warn("Атлас %s не загружен, используется плоская заливка: %v", path, err)
		}
		result <- err
	}()
	return result
}

// Load синхронно загружает PNG-лист и необязательный манифест областей
func (a *Atlas) Load(ctx context.Context, path string) error {
	sheet, regions, err := loadSheet(ctx, path)
	a.install(sheet, regions, err)
	if err != nil {
		return err
	}
	a.logger.Info("Атлас загружен: %s (%d областей)", path, len(regions))
	return nil
}

// Wait ждёт завершения загрузки. Возвращает ошибку загрузки
// либо ErrAtlasNotReady, если контекст истёк раньше.
func (a *Atlas) Wait(ctx context.Context) error {
	select {
	case <-a.done:
		a.mu.RLock()
		defer a.mu.RUnlock()
		return a.err
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrAtlasNotReady, ctx.Err())
	}
}

// Ready сообщает, что атлас загружен успешно
func (a *Atlas) Ready() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ready
}

// Lookup возвращает лист и область спрайта для блока.
// Явный спрайт блока имеет приоритет над манифестом.
func (a *Atlas) Lookup(b world.Block) (image.Image, image.Rectangle, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.ready {
		return nil, image.Rectangle{}, false
	}
	if !b.Sprite.IsZero() {
		r := image.Rect(b.Sprite.X, b.Sprite.Y, b.Sprite.X+b.Sprite.W, b.Sprite.Y+b.Sprite.H)
		if r.In(a.sheet.Bounds()) && !r.Empty() {
			return a.sheet, r, true
		}
	}
	if r, ok := a.regions[string(b.Type)+"/"+string(b.Palette)]; ok {
		return a.sheet, r, true
	}
	if r, ok := a.regions[string(b.Type)]; ok {
		return a.sheet, r, true
	}
	return nil, image.Rectangle{}, false
}

func (a *Atlas) install(sheet image.Image, regions map[string]image.Rectangle, err error) {
	a.mu.Lock()
	if err == nil {
		a.sheet = sheet
		a.regions = regions
		a.ready = true
	}
	a.err = err
	a.mu.Unlock()

	a.once.Do(func() { close(a.done) })
}

func loadSheet(ctx context.Context, path string) (image.Image, map[string]image.Rectangle, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("открытие атласа: %w", err)
	}
	defer f.Close()

	sheet, _, err := image.Decode(f)
	if err != nil {
		return nil, nil, fmt.Errorf("декодирование атласа: %w", err)
	}

	regions := make(map[string]image.Rectangle)
	manifestPath := strings.TrimSuffix(path, ".png") + ".yaml"
	data, err := os.ReadFile(manifestPath)
	if errors.Is(err, os.ErrNotExist) {
		return sheet, regions, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("чтение манифеста атласа: %w", err)
	}

	var manifest atlasManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, nil, fmt.Errorf("разбор манифеста атласа: %w", err)
	}
	for key, r := range manifest.Sprites {
		rect := image.Rect(r[0], r[1], r[0]+r[2], r[1]+r[3])
		if rect.Empty() || !rect.In(sheet.Bounds()) {
			return nil, nil, fmt.Errorf("область %q вне атласа", key)
		}
		regions[key] = rect
	}
	return sheet, regions, nil
}
