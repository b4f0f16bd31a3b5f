package render

import (
	"sort"

	"github.com/annel0/iso-sandbox/internal/iso"
	"github.com/annel0/iso-sandbox/internal/world"
)

// DepthSorter упорядочивает блоки для алгоритма художника.
//
// Порядок: слой Z по возрастанию, внутри слоя построчно (y, затем x).
// Блок может перекрыть только блоки с меньшими или равными x и y,
// поэтому построчный обход является корректным порядком рисования.
type DepthSorter struct {
	proj iso.Projection
}

// NewDepthSorter создаёт сортировщик для проекции
func NewDepthSorter(proj iso.Projection) *DepthSorter {
	return &DepthSorter{proj: proj}
}

// DepthKey возвращает worldX+worldY+worldZ блока (диагностика)
func (d *DepthSorter) DepthKey(b world.Block) float64 {
	return d.proj.DepthKey(b.Pos)
}

// BackToFront возвращает новый срез в порядке от дальних к ближним.
// Входной срез не изменяется.
func (d *DepthSorter) BackToFront(blocks []world.Block) []world.Block {
	out := world.CloneBlocks(blocks)
	if out == nil {
		return []world.Block{}
	}
	sort.SliceStable(out, func(i, j int) bool { return paintBefore(out[i], out[j]) })
	return out
}

// FrontToBack возвращает точный обратный порядок BackToFront
func (d *DepthSorter) FrontToBack(blocks []world.Block) []world.Block {
	out := d.BackToFront(blocks)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// SplitOpacity делит блоки на непрозрачные и прозрачные с сохранением порядка
func SplitOpacity(blocks []world.Block) (opaque, transparent []world.Block) {
	opaque = make([]world.Block, 0, len(blocks))
	for _, b := range blocks {
		if b.Transparent() {
			transparent = append(transparent, b)
			continue
		}
		opaque = append(opaque, b)
	}
	return opaque, transparent
}

func paintBefore(a, b world.Block) bool {
	if a.Pos.Z != b.Pos.Z {
		return a.Pos.Z < b.Pos.Z
	}
	if a.Pos.Y != b.Pos.Y {
		return a.Pos.Y < b.Pos.Y
	}
	if a.Pos.X != b.Pos.X {
		return a.Pos.X < b.Pos.X
	}
	return a.ID < b.ID
}
