package world

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/annel0/iso-sandbox/internal/vec"
)

// IndexOptions параметры пространственного индекса
type IndexOptions struct {
	CellSize       int // ребро кубической ячейки
	SplitThreshold int // число блоков, после которого лист делится на 8 подъячеек
	MinCellSize    int // минимальное ребро подъячейки
}

// DefaultIndexOptions возвращает параметры по умолчанию
func DefaultIndexOptions() IndexOptions {
	return IndexOptions{CellSize: 64, SplitThreshold: 512, MinCellSize: 8}
}

// Box целочисленный параллелепипед, границы включены
type Box struct {
	Min vec.Vec3 `json:"min"`
	Max vec.Vec3 `json:"max"`
}

// Contains проверяет попадание точки в параллелепипед
func (b Box) Contains(p vec.Vec3) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Empty сообщает, что параллелепипед не содержит ни одной точки
func (b Box) Empty() bool {
	return b.Min.X > b.Max.X || b.Min.Y > b.Max.Y || b.Min.Z > b.Max.Z
}

func (b Box) intersects(origin vec.Vec3, size int) bool {
	return b.Min.X < origin.X+size && b.Max.X >= origin.X &&
		b.Min.Y < origin.Y+size && b.Max.Y >= origin.Y &&
		b.Min.Z < origin.Z+size && b.Max.Z >= origin.Z
}

// SpatialIndex представляет пространственный индекс блоков: равномерная сетка
// кубических ячеек, переполненные ячейки делятся на подъячейки.
// Индекс также является авторитетным множеством блоков: не более одного блока на (x,y,z).
type SpatialIndex struct {
	opts IndexOptions

	mu      sync.RWMutex
	cells   map[cellKey]*cellNode
	byID    map[string]*Block
	byPos   map[vec.Vec3]string
	version uint64
}

// cellKey ключ ячейки верхнего уровня: floor(coord / cellSize) по каждой оси
type cellKey struct {
	x, y, z int
}

// cellNode ячейка или подъячейка. Листья хранят блоки, разделённые узлы: 8 детей.
type cellNode struct {
	origin   vec.Vec3
	size     int
	count    int
	blocks   map[string]*Block
	children []*cellNode
}

// NewSpatialIndex создаёт новый пространственный индекс
func NewSpatialIndex(opts IndexOptions) *SpatialIndex {
	def := DefaultIndexOptions()
	if opts.CellSize <= 0 {
		opts.CellSize = def.CellSize
	}
	if opts.SplitThreshold <= 0 {
		opts.SplitThreshold = def.SplitThreshold
	}
	if opts.MinCellSize <= 0 {
		opts.MinCellSize = def.MinCellSize
	}

	return &SpatialIndex{
		opts:  opts,
		cells: make(map[cellKey]*cellNode),
		byID:  make(map[string]*Block),
		byPos: make(map[vec.Vec3]string),
	}
}

// Options возвращает параметры индекса
func (si *SpatialIndex) Options() IndexOptions {
	return si.opts
}

// Insert добавляет блок. Если ID пуст, уже есть в индексе или ячейка (x,y,z) занята,
// вставка молча не выполняется и возвращается false.
func (si *SpatialIndex) Insert(b Block) bool {
	si.mu.Lock()
	defer si.mu.Unlock()
	return si.insertLocked(b)
}

func (si *SpatialIndex) insertLocked(b Block) bool {
	if b.ID == "" {
		return false
	}
	if _, exists := si.byID[b.ID]; exists {
		return false
	}
	if _, occupied := si.byPos[b.Pos]; occupied {
		return false
	}

	stored := b
	si.byID[b.ID] = &stored
	si.byPos[b.Pos] = b.ID

	key := si.keyFor(b.Pos)
	cell, exists := si.cells[key]
	if !exists {
		cell = &cellNode{
			origin: vec.Vec3{X: key.x * si.opts.CellSize, Y: key.y * si.opts.CellSize, Z: key.z * si.opts.CellSize},
			size:   si.opts.CellSize,
			blocks: make(map[string]*Block),
		}
		si.cells[key] = cell
	}
	cell.insert(&stored, si.opts)

	si.version++
	return true
}

// Remove удаляет блок по ID
func (si *SpatialIndex) Remove(id string) bool {
	si.mu.Lock()
	defer si.mu.Unlock()

	_, ok := si.removeLocked(id)
	return ok
}

// RemoveAt удаляет блок в ячейке pos и возвращает его
func (si *SpatialIndex) RemoveAt(pos vec.Vec3) (Block, bool) {
	si.mu.Lock()
	defer si.mu.Unlock()

	id, exists := si.byPos[pos]
	if !exists {
		return Block{}, false
	}
	return si.removeLocked(id)
}

func (si *SpatialIndex) removeLocked(id string) (Block, bool) {
	stored, exists := si.byID[id]
	if !exists {
		return Block{}, false
	}

	key := si.keyFor(stored.Pos)
	if cell, ok := si.cells[key]; ok {
		cell.remove(stored)
		if cell.count == 0 {
			delete(si.cells, key)
		}
	}

	delete(si.byID, id)
	delete(si.byPos, stored.Pos)
	si.version++
	return *stored, true
}

// Get возвращает блок по ID
func (si *SpatialIndex) Get(id string) (Block, bool) {
	si.mu.RLock()
	defer si.mu.RUnlock()

	b, ok := si.byID[id]
	if !ok {
		return Block{}, false
	}
	return *b, true
}

// At возвращает блок в ячейке pos
func (si *SpatialIndex) At(pos vec.Vec3) (Block, bool) {
	si.mu.RLock()
	defer si.mu.RUnlock()

	id, ok := si.byPos[pos]
	if !ok {
		return Block{}, false
	}
	return *si.byID[id], true
}

// Occupied сообщает, занята ли ячейка
func (si *SpatialIndex) Occupied(pos vec.Vec3) bool {
	si.mu.RLock()
	defer si.mu.RUnlock()
	_, ok := si.byPos[pos]
	return ok
}

// Len возвращает количество блоков
func (si *SpatialIndex) Len() int {
	si.mu.RLock()
	defer si.mu.RUnlock()
	return len(si.byID)
}

// Version растёт при каждом изменении набора блоков
func (si *SpatialIndex) Version() uint64 {
	si.mu.RLock()
	defer si.mu.RUnlock()
	return si.version
}

// All возвращает копию всех блоков, отсортированную по ID
func (si *SpatialIndex) All() []Block {
	si.mu.RLock()
	defer si.mu.RUnlock()

	result := make([]Block, 0, len(si.byID))
	for _, b := range si.byID {
		result = append(result, *b)
	}
	sortByID(result)
	return result
}

// Clear удаляет все блоки
func (si *SpatialIndex) Clear() {
	si.mu.Lock()
	defer si.mu.Unlock()
	si.clearLocked()
}

func (si *SpatialIndex) clearLocked() {
	si.cells = make(map[cellKey]*cellNode)
	si.byID = make(map[string]*Block)
	si.byPos = make(map[vec.Vec3]string)
	si.version++
}

// Replace атомарно заменяет содержимое индекса набором блоков.
// Возвращает количество вставленных блоков (дубликаты позиций и ID пропускаются).
func (si *SpatialIndex) Replace(blocks []Block) int {
	si.mu.Lock()
	defer si.mu.Unlock()

	si.clearLocked()
	inserted := 0
	for _, b := range blocks {
		if si.insertLocked(b) {
			inserted++
		}
	}
	return inserted
}

// QueryBox возвращает блоки внутри параллелепипеда. Перебираются ровно ячейки,
// покрывающие область.
func (si *SpatialIndex) QueryBox(box Box) []Block {
	if box.Empty() {
		return []Block{}
	}

	si.mu.RLock()
	defer si.mu.RUnlock()

	result := make([]Block, 0)
	si.forEachCell(box, func(cell *cellNode) {
		cell.collect(box, func(b *Block) {
			result = append(result, *b)
		})
	})
	sortByID(result)
	return result
}

// QueryRadius возвращает блоки на расстоянии не больше radius от center.
// Сканируются только ячейки, пересекающие ограничивающий куб радиуса.
func (si *SpatialIndex) QueryRadius(center vec.Vec3Float, radius float64) []Block {
	if radius < 0 {
		return []Block{}
	}

	box := Box{
		Min: vec.Vec3{
			X: int(math.Floor(center.X - radius)),
			Y: int(math.Floor(center.Y - radius)),
			Z: int(math.Floor(center.Z - radius)),
		},
		Max: vec.Vec3{
			X: int(math.Ceil(center.X + radius)),
			Y: int(math.Ceil(center.Y + radius)),
			Z: int(math.Ceil(center.Z + radius)),
		},
	}
	rSq := radius * radius

	si.mu.RLock()
	defer si.mu.RUnlock()

	result := make([]Block, 0)
	si.forEachCell(box, func(cell *cellNode) {
		cell.collect(box, func(b *Block) {
			if b.Pos.ToFloat().DistanceSqTo(center) <= rSq {
				result = append(result, *b)
			}
		})
	})
	sortByID(result)
	return result
}

// Bounds возвращает консервативную оболочку всех блоков (по границам занятых ячеек)
func (si *SpatialIndex) Bounds() (Box, bool) {
	si.mu.RLock()
	defer si.mu.RUnlock()

	if len(si.cells) == 0 {
		return Box{}, false
	}

	first := true
	var box Box
	for key := range si.cells {
		lo := vec.Vec3{X: key.x * si.opts.CellSize, Y: key.y * si.opts.CellSize, Z: key.z * si.opts.CellSize}
		hi := lo.Add(vec.Vec3{X: si.opts.CellSize - 1, Y: si.opts.CellSize - 1, Z: si.opts.CellSize - 1})
		if first {
			box = Box{Min: lo, Max: hi}
			first = false
			continue
		}
		box.Min = vec.Vec3{X: min(box.Min.X, lo.X), Y: min(box.Min.Y, lo.Y), Z: min(box.Min.Z, lo.Z)}
		box.Max = vec.Vec3{X: max(box.Max.X, hi.X), Y: max(box.Max.Y, hi.Y), Z: max(box.Max.Z, hi.Z)}
	}
	return box, true
}

// Optimize сливает подъячейки, население которых упало до половины порога,
// и удаляет пустые ячейки. Возвращает число слитых узлов.
func (si *SpatialIndex) Optimize() int {
	si.mu.Lock()
	defer si.mu.Unlock()

	merged := 0
	for key, cell := range si.cells {
		if cell.count == 0 {
			delete(si.cells, key)
			continue
		}
		merged += cell.merge(si.opts.SplitThreshold / 2)
	}
	return merged
}

// IndexStats статистика индекса
type IndexStats struct {
	Blocks     int
	Cells      int
	SplitNodes int
	Leaves     int
	MaxDepth   int
	MaxPerLeaf int
	AvgPerLeaf float64
}

// Stats возвращает статистику индекса
func (si *SpatialIndex) Stats() IndexStats {
	si.mu.RLock()
	defer si.mu.RUnlock()

	stats := IndexStats{Blocks: len(si.byID), Cells: len(si.cells)}
	total := 0
	for _, cell := range si.cells {
		cell.walk(0, func(n *cellNode, depth int) {
			if depth > stats.MaxDepth {
				stats.MaxDepth = depth
			}
			if n.children != nil {
				stats.SplitNodes++
				return
			}
			stats.Leaves++
			total += len(n.blocks)
			if len(n.blocks) > stats.MaxPerLeaf {
				stats.MaxPerLeaf = len(n.blocks)
			}
		})
	}
	if stats.Leaves > 0 {
		stats.AvgPerLeaf = float64(total) / float64(stats.Leaves)
	}
	return stats
}

// String возвращает статистику индекса в читаемом виде
func (s IndexStats) String() string {
	return fmt.Sprintf("SpatialIndex Stats: %d blocks, %d cells, %d leaves, %d split, depth %d, avg %.2f blocks/leaf, max %d",
		s.Blocks, s.Cells, s.Leaves, s.SplitNodes, s.MaxDepth, s.AvgPerLeaf, s.MaxPerLeaf)
}

// Вспомогательные методы

func (si *SpatialIndex) keyFor(p vec.Vec3) cellKey {
	size := si.opts.CellSize
	return cellKey{x: floorDiv(p.X, size), y: floorDiv(p.Y, size), z: floorDiv(p.Z, size)}
}

// forEachCell вызывает fn для каждой существующей ячейки, покрывающей box
func (si *SpatialIndex) forEachCell(box Box, fn func(*cellNode)) {
	lo := si.keyFor(box.Min)
	hi := si.keyFor(box.Max)

	span := int64(hi.x-lo.x+1) * int64(hi.y-lo.y+1) * int64(hi.z-lo.z+1)
	if span > int64(len(si.cells)) {
		// Диапазон больше числа занятых ячеек: дешевле перебрать карту
		for key, cell := range si.cells {
			if key.x >= lo.x && key.x <= hi.x && key.y >= lo.y && key.y <= hi.y && key.z >= lo.z && key.z <= hi.z {
				fn(cell)
			}
		}
		return
	}

	for x := lo.x; x <= hi.x; x++ {
		for y := lo.y; y <= hi.y; y++ {
			for z := lo.z; z <= hi.z; z++ {
				if cell, ok := si.cells[cellKey{x: x, y: y, z: z}]; ok {
					fn(cell)
				}
			}
		}
	}
}

func (n *cellNode) insert(b *Block, opts IndexOptions) {
	n.count++
	if n.children != nil {
		n.childFor(b.Pos).insert(b, opts)
		return
	}

	n.blocks[b.ID] = b
	if len(n.blocks) > opts.SplitThreshold && n.size%2 == 0 && n.size/2 >= opts.MinCellSize {
		n.subdivide(opts)
	}
}

func (n *cellNode) subdivide(opts IndexOptions) {
	half := n.size / 2
	n.children = make([]*cellNode, 8)
	for i := range n.children {
		n.children[i] = &cellNode{
			origin: vec.Vec3{
				X: n.origin.X + (i&1)*half,
				Y: n.origin.Y + (i>>1&1)*half,
				Z: n.origin.Z + (i>>2&1)*half,
			},
			size:   half,
			blocks: make(map[string]*Block),
		}
	}

	blocks := n.blocks
	n.blocks = nil
	for _, b := range blocks {
		n.childFor(b.Pos).insert(b, opts)
	}
}

func (n *cellNode) childFor(p vec.Vec3) *cellNode {
	half := n.size / 2
	idx := 0
	if p.X-n.origin.X >= half {
		idx |= 1
	}
	if p.Y-n.origin.Y >= half {
		idx |= 2
	}
	if p.Z-n.origin.Z >= half {
		idx |= 4
	}
	return n.children[idx]
}

func (n *cellNode) remove(b *Block) bool {
	if n.children != nil {
		if n.childFor(b.Pos).remove(b) {
			n.count--
			return true
		}
		return false
	}
	if _, ok := n.blocks[b.ID]; !ok {
		return false
	}
	delete(n.blocks, b.ID)
	n.count--
	return true
}

func (n *cellNode) collect(box Box, fn func(*Block)) {
	if !box.intersects(n.origin, n.size) {
		return
	}
	if n.children != nil {
		for _, child := range n.children {
			if child.count > 0 {
				child.collect(box, fn)
			}
		}
		return
	}
	for _, b := range n.blocks {
		if box.Contains(b.Pos) {
			fn(b)
		}
	}
}

// merge схлопывает поддерево, если в нём не больше limit блоков
func (n *cellNode) merge(limit int) int {
	if n.children == nil {
		return 0
	}

	merged := 0
	for _, child := range n.children {
		merged += child.merge(limit)
	}
	if n.count > limit {
		return merged
	}

	blocks := make(map[string]*Block, n.count)
	for _, child := range n.children {
		child.walk(0, func(c *cellNode, _ int) {
			for id, b := range c.blocks {
				blocks[id] = b
			}
		})
	}
	n.blocks = blocks
	n.children = nil
	return merged + 1
}

func (n *cellNode) walk(depth int, fn func(*cellNode, int)) {
	fn(n, depth)
	for _, child := range n.children {
		child.walk(depth+1, fn)
	}
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func sortByID(blocks []Block) {
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].ID < blocks[j].ID })
}
