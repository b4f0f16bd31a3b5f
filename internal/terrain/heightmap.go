// Package terrain генерирует карты высот и заполняет мир блоками по ним.
package terrain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"go.opentelemetry.io/otel/attribute"

	"github.com/annel0/iso-sandbox/internal/logging"
	"github.com/annel0/iso-sandbox/internal/observability"
)

// ErrInvalidConfig некорректные параметры генерации
var ErrInvalidConfig = errors.New("некорректная конфигурация генерации")

// maxMapSide ограничение на сторону карты высот
const maxMapSide = 4096

// Параметры искажения координат выборки
const (
	warpScale    = 0.35
	warpStrength = 0.75
)

// HeightMapConfig параметры генерации карты высот. Seed == nil означает случайный сид.
type HeightMapConfig struct {
	Width       int     `json:"width" yaml:"width"`
	Height      int     `json:"height" yaml:"height"`
	Seed        *int64  `json:"seed,omitempty" yaml:"seed,omitempty"`
	Octaves     int     `json:"octaves" yaml:"octaves"`
	Frequency   float64 `json:"frequency" yaml:"frequency"`
	Amplitude   float64 `json:"amplitude" yaml:"amplitude"`
	Persistence float64 `json:"persistence" yaml:"persistence"`
	Lacunarity  float64 `json:"lacunarity" yaml:"lacunarity"`
	MinHeight   float64 `json:"minHeight" yaml:"min_height"`
	MaxHeight   float64 `json:"maxHeight" yaml:"max_height"`
	Smoothing   float64 `json:"smoothing" yaml:"smoothing"`
}

// DefaultHeightMapConfig возвращает параметры по умолчанию (без сида)
func DefaultHeightMapConfig() HeightMapConfig {
	return HeightMapConfig{
		Width:       64,
		Height:      64,
		Octaves:     4,
		Frequency:   0.05,
		Amplitude:   1,
		Persistence: 0.5,
		Lacunarity:  2,
		MinHeight:   0,
		MaxHeight:   100,
		Smoothing:   1,
	}
}

// Validate проверяет параметры
func (c HeightMapConfig) Validate() error {
	switch {
	case c.Width <= 0 || c.Height <= 0:
		return fmt.Errorf("%w: размер %dx%d", ErrInvalidConfig, c.Width, c.Height)
	case c.Width > maxMapSide || c.Height > maxMapSide:
		return fmt.Errorf("%w: размер %dx%d больше %d", ErrInvalidConfig, c.Width, c.Height, maxMapSide)
	case c.Octaves <= 0:
		return fmt.Errorf("%w: octaves=%d", ErrInvalidConfig, c.Octaves)
	case !(c.Frequency > 0) || math.IsInf(c.Frequency, 0):
		return fmt.Errorf("%w: frequency=%v", ErrInvalidConfig, c.Frequency)
	case math.IsNaN(c.MinHeight) || math.IsNaN(c.MaxHeight) || c.MaxHeight < c.MinHeight:
		return fmt.Errorf("%w: высоты [%v, %v]", ErrInvalidConfig, c.MinHeight, c.MaxHeight)
	case c.Smoothing < 0 || math.IsNaN(c.Smoothing):
		return fmt.Errorf("%w: smoothing=%v", ErrInvalidConfig, c.Smoothing)
	}
	return nil
}

// HeightMap неизменяемая карта высот. Data[y][x].
type HeightMap struct {
	Width     int         `json:"width"`
	Height    int         `json:"height"`
	Data      [][]float64 `json:"data"`
	MinHeight float64     `json:"minHeight"`
	MaxHeight float64     `json:"maxHeight"`
	Seed      int64       `json:"seed"`
}

// GetHeightAt возвращает высоту ближайшей ячейки; координаты вне карты прижимаются к краю
func (h *HeightMap) GetHeightAt(x, y int) float64 {
	return h.Data[clampInt(y, 0, h.Height-1)][clampInt(x, 0, h.Width-1)]
}

// GetInterpolatedHeight возвращает билинейно интерполированную высоту с прижатием к краю
func (h *HeightMap) GetInterpolatedHeight(x, y float64) float64 {
	x = math.Max(0, math.Min(float64(h.Width-1), x))
	y = math.Max(0, math.Min(float64(h.Height-1), y))

	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	fx, fy := x-float64(x0), y-float64(y0)

	v00 := h.GetHeightAt(x0, y0)
	v10 := h.GetHeightAt(x0+1, y0)
	v01 := h.GetHeightAt(x0, y0+1)
	v11 := h.GetHeightAt(x0+1, y0+1)

	top := v00 + (v10-v00)*fx
	bottom := v01 + (v11-v01)*fx
	return top + (bottom-top)*fy
}

// Normalized возвращает высоту ячейки, приведённую к [0, 1]
func (h *HeightMap) Normalized(x, y int) float64 {
	span := h.MaxHeight - h.MinHeight
	if span <= 0 {
		return 0
	}
	return clamp01((h.GetHeightAt(x, y) - h.MinHeight) / span)
}

// HeightMapGenerator генератор карт высот
type HeightMapGenerator struct {
	logger *logging.Logger
}

// NewHeightMapGenerator создаёт генератор
func NewHeightMapGenerator() *HeightMapGenerator {
	return &HeightMapGenerator{logger: logging.GetTerrainLogger()}
}

// Generate строит карту высот. Одинаковые параметры (включая сид) дают побитово одинаковый результат.
func (g *HeightMapGenerator) Generate(ctx context.Context, cfg HeightMapConfig) (hm *HeightMap, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var seed int64
	if cfg.Seed != nil {
		seed = *cfg.Seed
	} else {
		seed = rand.Int63()
	}

	ctx, span := observability.StartSpan(ctx, "terrain", "terrain.heightmap.generate",
		attribute.Int("width", cfg.Width),
		attribute.Int("height", cfg.Height),
		attribute.Int64("seed", seed),
	)
	defer func() { observability.EndSpan(span, err) }()

	field, err := accumulate(ctx, cfg, seed)
	if err != nil {
		return nil, err
	}

	normalize(field)
	if cfg.Smoothing > 0 {
		gaussianBlur(field, cfg.Smoothing)
	}

	heightSpan := cfg.MaxHeight - cfg.MinHeight
	for _, row := range field {
		for x, t := range row {
			row[x] = cfg.MinHeight + contrast(t)*heightSpan
		}
	}

	g.logger.Debug("Карта высот %dx%d сгенерирована (seed=%d, octaves=%d)", cfg.Width, cfg.Height, seed, cfg.Octaves)
	return &HeightMap{
		Width:     cfg.Width,
		Height:    cfg.Height,
		Data:      field,
		MinHeight: cfg.MinHeight,
		MaxHeight: cfg.MaxHeight,
		Seed:      seed,
	}, nil
}

// accumulate суммирует октавы искажённого шума
func accumulate(ctx context.Context, cfg HeightMapConfig, seed int64) ([][]float64, error) {
	layers := make([]latticeNoise, cfg.Octaves)
	for o := range layers {
		layers[o] = newLatticeNoise(seed + int64(o)*7919)
	}
	warp := newDomainWarp(seed, warpScale, warpStrength)

	field := make([][]float64, cfg.Height)
	for y := 0; y < cfg.Height; y++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row := make([]float64, cfg.Width)
		for x := 0; x < cfg.Width; x++ {
			amp, freq := cfg.Amplitude, cfg.Frequency
			sum := 0.0
			for o := 0; o < cfg.Octaves; o++ {
				wx, wy := warp.Apply(float64(x)*freq, float64(y)*freq)
				base := layers[o].At(wx, wy)
				sum += (0.5*base + 0.35*ridge(base) + 0.15*valley(base)) * amp
				amp *= cfg.Persistence
				freq *= cfg.Lacunarity
			}
			row[x] = sum
		}
		field[y] = row
	}
	return field, nil
}

// normalize приводит поле к [0, 1]; плоское поле становится нулевым
func normalize(field [][]float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, row := range field {
		for _, v := range row {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	span := hi - lo
	for _, row := range field {
		for x, v := range row {
			if span <= 0 || math.IsNaN(span) {
				row[x] = 0
				continue
			}
			row[x] = (v - lo) / span
		}
	}
}

// gaussianBlur сепарабельное размытие с радиусом ceil(2·sigma), края прижимаются
func gaussianBlur(field [][]float64, sigma float64) {
	radius := int(math.Ceil(2 * sigma))
	kernel := make([]float64, 2*radius+1)
	total := 0.0
	for i := -radius; i <= radius; i++ {
		w := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		kernel[i+radius] = w
		total += w
	}
	for i := range kernel {
		kernel[i] /= total
	}

	h := len(field)
	w := len(field[0])
	tmp := make([]float64, max(w, h))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			acc := 0.0
			for k := -radius; k <= radius; k++ {
				acc += field[y][clampInt(x+k, 0, w-1)] * kernel[k+radius]
			}
			tmp[x] = acc
		}
		copy(field[y], tmp[:w])
	}

	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			acc := 0.0
			for k := -radius; k <= radius; k++ {
				acc += field[clampInt(y+k, 0, h-1)][x] * kernel[k+radius]
			}
			tmp[y] = acc
		}
		for y := 0; y < h; y++ {
			field[y][x] = tmp[y]
		}
	}
}

// contrast усиливает перепады: t^1.2 · (1 − (1−t)^1.2) · 2, результат в [0, 1]
func contrast(t float64) float64 {
	return clamp01(math.Pow(t, 1.2) * (1 - math.Pow(1-t, 1.2)) * 2)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
