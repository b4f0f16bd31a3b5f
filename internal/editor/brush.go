package editor

import (
	"github.com/annel0/iso-sandbox/internal/vec"
	"github.com/annel0/iso-sandbox/internal/world"
)

// Tool действие основной кнопки
type Tool int

const (
	ToolPaint Tool = iota
	ToolErase
	ToolSelect
)

func (t Tool) String() string {
	switch t {
	case ToolPaint:
		return "paint"
	case ToolErase:
		return "erase"
	case ToolSelect:
		return "select"
	default:
		return "unknown"
	}
}

// MaxBrushRadius верхняя граница радиуса кисти
const MaxBrushRadius = 16

// Brush параметры кисти: радиус и блок, которым рисуем
type Brush struct {
	Radius   int
	Type     world.BlockType
	Palette  world.Palette
	Rotation world.Rotation
}

// DefaultBrush кисть в одну ячейку с кубом
func DefaultBrush() Brush {
	return Brush{Type: world.BlockCube, Palette: world.PaletteDefault}
}

func (b Brush) normalized() Brush {
	b.Radius = max(0, min(b.Radius, MaxBrushRadius))
	b.Rotation = b.Rotation.Normalize()
	if b.Type == "" {
		b.Type = world.BlockCube
	}
	if b.Palette == "" {
		b.Palette = world.PaletteDefault
	}
	return b
}

// BrushCells возвращает ячейки круга dx²+dy² <= r² вокруг center на слое center.Z,
// по строкам (y, затем x)
func BrushCells(center vec.Vec3, radius int) []vec.Vec3 {
	if radius < 0 {
		radius = 0
	}
	r2 := radius * radius
	cells := make([]vec.Vec3, 0, (2*radius+1)*(2*radius+1))
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= r2 {
				cells = append(cells, vec.Vec3{X: center.X + dx, Y: center.Y + dy, Z: center.Z})
			}
		}
	}
	return cells
}

// newBlock создаёт блок кисти в ячейке
func (b Brush) newBlock(pos vec.Vec3) world.Block {
	blk := world.NewBlock(pos, b.Type, b.Palette)
	blk.Rotation = b.Rotation
	return blk
}
