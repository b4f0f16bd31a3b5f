package editor

import "github.com/annel0/iso-sandbox/internal/world"

// DefaultUndoCapacity глубина истории по умолчанию
const DefaultUndoCapacity = 50

// UndoStack кольцевой буфер снимков множества блоков.
// При переполнении вытесняется самый старый снимок.
type UndoStack struct {
	buf   [][]world.Block
	start int
	size  int
}

// NewUndoStack создаёт стек ёмкостью capacity (<= 0: 50)
func NewUndoStack(capacity int) *UndoStack {
	if capacity <= 0 {
		capacity = DefaultUndoCapacity
	}
	return &UndoStack{buf: make([][]world.Block, capacity)}
}

// Push сохраняет глубокую копию blocks
func (u *UndoStack) Push(blocks []world.Block) {
	snap := world.CloneBlocks(blocks)
	if snap == nil {
		snap = []world.Block{}
	}
	if u.size < len(u.buf) {
		u.buf[(u.start+u.size)%len(u.buf)] = snap
		u.size++
		return
	}
	u.buf[u.start] = snap
	u.start = (u.start + 1) % len(u.buf)
}

// Pop возвращает последний снимок
func (u *UndoStack) Pop() ([]world.Block, bool) {
	if u.size == 0 {
		return nil, false
	}
	i := (u.start + u.size - 1) % len(u.buf)
	snap := u.buf[i]
	u.buf[i] = nil
	u.size--
	return snap, true
}

func (u *UndoStack) Len() int { return u.size }
func (u *UndoStack) Cap() int { return len(u.buf) }

// Clear очищает историю
func (u *UndoStack) Clear() {
	for i := range u.buf {
		u.buf[i] = nil
	}
	u.start, u.size = 0, 0
}
