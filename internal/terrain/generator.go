package terrain

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/annel0/iso-sandbox/internal/logging"
	"github.com/annel0/iso-sandbox/internal/observability"
	"github.com/annel0/iso-sandbox/internal/vec"
	"github.com/annel0/iso-sandbox/internal/world"
)

// Пороги нормализованной высоты для классификации
const (
	WaterMax = 0.30 // ниже: вода или берег
	GrassMax = 0.65 // ниже: трава
	RockMax  = 0.85 // ниже: скалы, выше, вершины
)

// Значения по умолчанию для MapConfig
const (
	DefaultMaxElevation         = 20
	DefaultSlopeThreshold       = 0.05
	DefaultStructureMinDistance = 8.0
	DefaultTreeDensity          = 0.25
	DefaultStructureDensity     = 0.35
	structureHeight             = 3
	maxWindowCells              = 1 << 20
)

// blockNamespace пространство имён для детерминированных ID блоков
var blockNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("iso-sandbox/terrain"))

// Terrain класс ячейки карты
type Terrain int

const (
	TerrainWater Terrain = iota
	TerrainShore
	TerrainGrass
	TerrainRamp
	TerrainRock
	TerrainPeak // крутая вершина, допускает постройки
	TerrainSnow
)

// String возвращает имя класса
func (t Terrain) String() string {
	switch t {
	case TerrainWater:
		return "water"
	case TerrainShore:
		return "shore"
	case TerrainGrass:
		return "grass"
	case TerrainRamp:
		return "ramp"
	case TerrainRock:
		return "rock"
	case TerrainPeak:
		return "peak"
	case TerrainSnow:
		return "snow"
	default:
		return fmt.Sprintf("Terrain(%d)", int(t))
	}
}

// Classify определяет класс по нормализованной высоте и уклону
func Classify(t, slope, slopeThreshold float64) Terrain {
	sloped := slope > slopeThreshold
	switch {
	case t < WaterMax:
		if sloped {
			return TerrainShore
		}
		return TerrainWater
	case t < GrassMax:
		if sloped {
			return TerrainRamp
		}
		return TerrainGrass
	case t < RockMax:
		return TerrainRock
	default:
		if sloped {
			return TerrainPeak
		}
		return TerrainSnow
	}
}

// MapConfig параметры заполнения окна мира по карте высот
type MapConfig struct {
	HeightMap            *HeightMap `json:"-" yaml:"-"`
	OriginX              int        `json:"originX" yaml:"origin_x"`
	OriginY              int        `json:"originY" yaml:"origin_y"`
	Width                int        `json:"width" yaml:"width"`                          // 0: ширина карты высот
	Height               int        `json:"height" yaml:"height"`                        // 0: высота карты высот
	MaxElevation         *int       `json:"maxElevation,omitempty" yaml:"max_elevation"` // nil: DefaultMaxElevation, 0: плоская карта
	SlopeThreshold       float64    `json:"slopeThreshold" yaml:"slope_threshold"`
	Trees                bool       `json:"trees" yaml:"trees"`
	Structures           bool       `json:"structures" yaml:"structures"`
	TreeDensity          *float64   `json:"treeDensity,omitempty" yaml:"tree_density"`           // nil: DefaultTreeDensity
	StructureDensity     *float64   `json:"structureDensity,omitempty" yaml:"structure_density"` // nil: DefaultStructureDensity
	StructureMinDistance float64    `json:"structureMinDistance" yaml:"structure_min_distance"`
}

func (c *MapConfig) applyDefaults() {
	if c.Width == 0 {
		c.Width = c.HeightMap.Width
	}
	if c.Height == 0 {
		c.Height = c.HeightMap.Height
	}
	if c.SlopeThreshold == 0 {
		c.SlopeThreshold = DefaultSlopeThreshold
	}
	if c.StructureMinDistance == 0 {
		c.StructureMinDistance = DefaultStructureMinDistance
	}
}

func (c MapConfig) validate() error {
	switch {
	case c.HeightMap == nil || c.HeightMap.Width <= 0 || c.HeightMap.Height <= 0:
		return fmt.Errorf("%w: нет карты высот", ErrInvalidConfig)
	case c.Width < 0 || c.Height < 0:
		return fmt.Errorf("%w: окно %dx%d", ErrInvalidConfig, c.Width, c.Height)
	case c.MaxElevation != nil && *c.MaxElevation < 0:
		return fmt.Errorf("%w: maxElevation=%d", ErrInvalidConfig, *c.MaxElevation)
	case !validDensity(c.TreeDensity) || !validDensity(c.StructureDensity):
		return fmt.Errorf("%w: плотность вне [0, 1]", ErrInvalidConfig)
	}
	return nil
}

func validDensity(d *float64) bool {
	return d == nil || (*d >= 0 && *d <= 1)
}

func orDefault[T any](v *T, def T) T {
	if v == nil {
		return def
	}
	return *v
}

func (c MapConfig) maxElevation() int {
	return orDefault(c.MaxElevation, DefaultMaxElevation)
}

// MapGenerator превращает карту высот в блоки мира
type MapGenerator struct {
	logger *logging.Logger
}

// NewMapGenerator создаёт генератор карты
func NewMapGenerator() *MapGenerator {
	return &MapGenerator{logger: logging.GetTerrainLogger()}
}

// column результат классификации одной ячейки окна
type column struct {
	x, y      int
	terrain   Terrain
	elevation int
}

// Generate заполняет окно блоками. Ячейки окна повторяют карту высот по модулю её размера.
// Ни один блок не выходит за пределы [0, MaxElevation] по z.
func (g *MapGenerator) Generate(ctx context.Context, cfg MapConfig) (blocks []world.Block, err error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if int64(cfg.Width)*int64(cfg.Height) > maxWindowCells {
		return nil, fmt.Errorf("%w: окно %dx%d слишком велико", ErrInvalidConfig, cfg.Width, cfg.Height)
	}

	hm := cfg.HeightMap
	ctx, span := observability.StartSpan(ctx, "terrain", "terrain.map.generate",
		attribute.Int("width", cfg.Width),
		attribute.Int("height", cfg.Height),
		attribute.Int64("seed", hm.Seed),
	)
	defer func() { observability.EndSpan(span, err) }()

	trees := newGate(hm.Seed+101, 0.15, 0.45, orDefault(cfg.TreeDensity, DefaultTreeDensity))
	structures := newGate(hm.Seed+202, 0.08, 0.4, orDefault(cfg.StructureDensity, DefaultStructureDensity))

	blocks = make([]world.Block, 0, cfg.Width*cfg.Height*2)
	var treeCount, structureCount int

	for j := 0; j < cfg.Height; j++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := 0; i < cfg.Width; i++ {
			col := g.classify(hm, cfg, cfg.OriginX+i, cfg.OriginY+j)
			blocks = append(blocks, g.emitColumn(hm.Seed, col)...)

			switch {
			case cfg.Structures && col.terrain == TerrainPeak && structures.Pass(col.x, col.y) &&
				math.Hypot(float64(col.x), float64(col.y)) >= cfg.StructureMinDistance:
				placed := g.emitStructure(hm.Seed, col, cfg.maxElevation())
				if len(placed) > 0 {
					structureCount++
					blocks = append(blocks, placed...)
				}
			case cfg.Trees && col.terrain == TerrainGrass && trees.Pass(col.x, col.y):
				placed := g.emitTree(hm.Seed, col, cfg.maxElevation())
				if len(placed) > 0 {
					treeCount++
					blocks = append(blocks, placed...)
				}
			}
		}
	}

	span.SetAttributes(attribute.Int("blocks", len(blocks)))
	g.logger.Info("Карта %dx%d с (%d,%d): %d блоков, деревьев %d, построек %d",
		cfg.Width, cfg.Height, cfg.OriginX, cfg.OriginY, len(blocks), treeCount, structureCount)
	return blocks, nil
}

// classify вычисляет класс и высоту ячейки мира (x, y)
func (g *MapGenerator) classify(hm *HeightMap, cfg MapConfig, x, y int) column {
	hx, hy := wrap(x, hm.Width), wrap(y, hm.Height)
	t := hm.Normalized(hx, hy)

	slope := 0.0
	for _, d := range [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
		n := hm.Normalized(wrap(hx+d[0], hm.Width), wrap(hy+d[1], hm.Height))
		slope = math.Max(slope, math.Abs(n-t))
	}

	terrain := Classify(t, slope, cfg.SlopeThreshold)
	elevation := int(math.Round(t * float64(cfg.maxElevation())))
	if terrain == TerrainWater {
		elevation = 0
	}
	elevation = clampInt(elevation, 0, cfg.maxElevation())

	return column{x: x, y: y, terrain: terrain, elevation: elevation}
}

// emitColumn ставит блоки z = 0..elevation; верхний несёт класс ячейки
func (g *MapGenerator) emitColumn(seed int64, col column) []world.Block {
	out := make([]world.Block, 0, col.elevation+1)
	for z := 0; z <= col.elevation; z++ {
		t, palette := fillerFor(col.terrain, col.elevation-z)
		if z == col.elevation {
			t, palette = topFor(col.terrain)
		}
		out = append(out, newGeneratedBlock(seed, vec.Vec3{X: col.x, Y: col.y, Z: z}, t, palette))
	}
	return out
}

// emitStructure ставит столб над вершиной, обрезая по maxElevation
func (g *MapGenerator) emitStructure(seed int64, col column, maxElevation int) []world.Block {
	var out []world.Block
	for z := col.elevation + 1; z <= col.elevation+structureHeight && z <= maxElevation; z++ {
		out = append(out, newGeneratedBlock(seed, vec.Vec3{X: col.x, Y: col.y, Z: z}, world.BlockPillar, world.PaletteBrick))
	}
	return out
}

// emitTree ставит ствол и крону; дерево, не помещающееся по высоте, пропускается
func (g *MapGenerator) emitTree(seed int64, col column, maxElevation int) []world.Block {
	if col.elevation+2 > maxElevation {
		return nil
	}
	return []world.Block{
		newGeneratedBlock(seed, vec.Vec3{X: col.x, Y: col.y, Z: col.elevation + 1}, world.BlockPillar, world.PaletteWood),
		newGeneratedBlock(seed, vec.Vec3{X: col.x, Y: col.y, Z: col.elevation + 2}, world.BlockTree, world.PaletteLeaves),
	}
}

func topFor(t Terrain) (world.BlockType, world.Palette) {
	switch t {
	case TerrainWater:
		return world.BlockWater, world.PaletteWater
	case TerrainShore:
		return world.BlockFlat, world.PaletteSand
	case TerrainGrass:
		return world.BlockCube, world.PaletteGrass
	case TerrainRamp:
		return world.BlockRamp, world.PaletteGrass
	case TerrainSnow:
		return world.BlockCube, world.PaletteSnow
	default:
		return world.BlockCube, world.PaletteStone
	}
}

// fillerFor материал нижних слоёв; depth: расстояние до верхнего блока
func fillerFor(t Terrain, depth int) (world.BlockType, world.Palette) {
	switch t {
	case TerrainShore:
		return world.BlockCube, world.PaletteSand
	case TerrainGrass, TerrainRamp:
		if depth <= 2 {
			return world.BlockCube, world.PaletteDirt
		}
	}
	return world.BlockCube, world.PaletteStone
}

// newGeneratedBlock создаёт блок с ID, зависящим только от сида и позиции
func newGeneratedBlock(seed int64, pos vec.Vec3, t world.BlockType, palette world.Palette) world.Block {
	name := fmt.Sprintf("%d:%d:%d:%d", seed, pos.X, pos.Y, pos.Z)
	return world.Block{
		ID:      uuid.NewSHA1(blockNamespace, []byte(name)).String(),
		Pos:     pos,
		Type:    t,
		Palette: palette,
		Props:   world.PropertiesFor(t),
	}
}

// wrap приводит координату к [0, n)
func wrap(v, n int) int {
	m := v % n
	if m < 0 {
		m += n
	}
	return m
}
