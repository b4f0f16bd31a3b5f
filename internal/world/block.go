package world

import (
	"github.com/google/uuid"

	"github.com/annel0/iso-sandbox/internal/vec"
)

// BlockType тип геометрии блока.
// Каталог закрыт константами ниже; любое другое значение считается
// пользовательским тегом и сохраняется как есть.
type BlockType string

const (
	BlockCube      BlockType = "cube"
	BlockRamp      BlockType = "ramp"
	BlockCorner    BlockType = "corner"
	BlockStaircase BlockType = "staircase"
	BlockFlat      BlockType = "flat"
	BlockPillar    BlockType = "pillar"
	BlockWater     BlockType = "water"
	BlockTree      BlockType = "tree"
)

var knownBlockTypes = map[BlockType]struct{}{
	BlockCube: {}, BlockRamp: {}, BlockCorner: {}, BlockStaircase: {},
	BlockFlat: {}, BlockPillar: {}, BlockWater: {}, BlockTree: {},
}

// IsKnown сообщает, входит ли тип в текущий каталог
func (t BlockType) IsKnown() bool {
	_, ok := knownBlockTypes[t]
	return ok
}

// IsCustom сообщает, что тип задан пользовательским тегом
func (t BlockType) IsCustom() bool {
	return t != "" && !t.IsKnown()
}

// Palette тег палитры (материала) блока
type Palette string

const (
	PaletteDefault Palette = "default"
	PaletteGrass   Palette = "grass"
	PaletteDirt    Palette = "dirt"
	PaletteSand    Palette = "sand"
	PaletteStone   Palette = "stone"
	PaletteSnow    Palette = "snow"
	PaletteWater   Palette = "water"
	PaletteWood    Palette = "wood"
	PaletteLeaves  Palette = "leaves"
	PaletteBrick   Palette = "brick"
)

// Rotation поворот блока в градусах: 0, 90, 180 или 270.
// Хранится для совместимости, на геометрию отрисовки не влияет.
type Rotation int

// Valid проверяет, что поворот кратен 90 и лежит в [0, 270]
func (r Rotation) Valid() bool {
	return r == 0 || r == 90 || r == 180 || r == 270
}

// Normalize приводит произвольный угол к ближайшему допустимому значению
func (r Rotation) Normalize() Rotation {
	deg := int(r) % 360
	if deg < 0 {
		deg += 360
	}
	return Rotation(((deg + 45) / 90 % 4) * 90)
}

// SpriteRegion область спрайта в атласе (только для отрисовки)
type SpriteRegion struct {
	Sheet string `json:"sheet,omitempty"`
	X     int    `json:"x,omitempty"`
	Y     int    `json:"y,omitempty"`
	W     int    `json:"w,omitempty"`
	H     int    `json:"h,omitempty"`
}

// IsZero сообщает, что спрайт не задан
func (s SpriteRegion) IsZero() bool {
	return s == SpriteRegion{}
}

// Properties игровые свойства блока
type Properties struct {
	Walkable     bool `json:"walkable"`
	Climbable    bool `json:"climbable"`
	Interactable bool `json:"interactable"`
	Destructible bool `json:"destructible"`
}

// DefaultProperties свойства блока по умолчанию
func DefaultProperties() Properties {
	return Properties{Walkable: true, Destructible: true}
}

// PropertiesFor возвращает свойства по умолчанию для типа блока
func PropertiesFor(t BlockType) Properties {
	props := DefaultProperties()
	switch t {
	case BlockWater:
		props.Walkable = false
	case BlockStaircase, BlockRamp:
		props.Climbable = true
	case BlockPillar:
		props.Climbable = true
		props.Destructible = false
	case BlockTree:
		props.Walkable = false
		props.Interactable = true
	}
	return props
}

// Block блок мира. Все поля: значения, поэтому копия блока является глубокой.
type Block struct {
	ID       string       `json:"id"`
	Pos      vec.Vec3     `json:"pos"`
	Type     BlockType    `json:"type"`
	Palette  Palette      `json:"palette"`
	Rotation Rotation     `json:"rotation"`
	Sprite   SpriteRegion `json:"sprite"`
	Props    Properties   `json:"props"`
}

// NewBlock создаёт блок со случайным ID и свойствами по умолчанию для типа
func NewBlock(pos vec.Vec3, t BlockType, palette Palette) Block {
	if t == "" {
		t = BlockCube
	}
	if palette == "" {
		palette = PaletteDefault
	}
	return Block{
		ID:      uuid.NewString(),
		Pos:     pos,
		Type:    t,
		Palette: palette,
		Props:   PropertiesFor(t),
	}
}

// Transparent сообщает, что сквозь блок видны блоки за ним
func (b Block) Transparent() bool {
	return b.Type == BlockWater
}

// CloneBlocks возвращает независимую копию среза блоков
func CloneBlocks(blocks []Block) []Block {
	if blocks == nil {
		return nil
	}
	out := make([]Block, len(blocks))
	copy(out, blocks)
	return out
}
