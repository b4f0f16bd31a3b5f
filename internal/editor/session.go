// Package editor реализует сессию редактирования уровня: кисти, историю отмены,
// слои по Z, камеру и связь с хранилищем уровней.
package editor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/annel0/iso-sandbox/internal/iso"
	"github.com/annel0/iso-sandbox/internal/logging"
	"github.com/annel0/iso-sandbox/internal/render"
	"github.com/annel0/iso-sandbox/internal/storage"
	"github.com/annel0/iso-sandbox/internal/terrain"
	"github.com/annel0/iso-sandbox/internal/vec"
	"github.com/annel0/iso-sandbox/internal/world"
)

// ErrNoStore сессия создана без хранилища уровней
var ErrNoStore = errors.New("хранилище уровней не подключено")

// ErrGestureActive операция недоступна во время жеста
var ErrGestureActive = errors.New("жест не завершён")

// Options параметры сессии
type Options struct {
	Projection   iso.Projection
	Index        world.IndexOptions
	UndoCapacity int
	ZBuild       bool
	ShowGrid     bool
	MaxDistance  float64
	Author       string
	Store        *storage.LevelStore
}

// GestureResult итог жеста кисти
type GestureResult struct {
	Tool     Tool
	Placed   int
	Removed  int
	Selected int
	ActiveZ  int
}

type gesture struct {
	tool        Tool
	last        vec.Vec3
	snapshotted bool
	result      GestureResult
}

// EditSession единственный владелец изменяемого состояния редактора: множества
// блоков, камеры и истории. Цикл отрисовки читает состояние через Scene и Index.
type EditSession struct {
	mu sync.RWMutex

	proj    iso.Projection
	index   *world.SpatialIndex
	undo    *UndoStack
	camera  iso.Camera
	canvas  iso.CanvasMetrics
	brush   Brush
	activeZ int
	zBuild  bool

	showGrid    bool
	maxDistance float64
	hover       *vec.Vec3
	selection   map[vec.Vec3]struct{}
	gesture     *gesture

	level    *storage.Level // метаданные; блоки живут в index
	revision uint64
	savedRev uint64
	author   string

	store     *storage.LevelStore
	heightGen *terrain.HeightMapGenerator
	mapGen    *terrain.MapGenerator
	logger    *logging.Logger
}

// NewSession создаёт сессию с пустым уровнем
func NewSession(opts Options) *EditSession {
	if opts.Projection.TileWidth <= 0 || opts.Projection.TileHeight <= 0 {
		opts.Projection = iso.DefaultProjection()
	}
	if opts.Index.CellSize <= 0 {
		opts.Index = world.DefaultIndexOptions()
	}
	s := &EditSession{
		proj:        opts.Projection,
		index:       world.NewSpatialIndex(opts.Index),
		undo:        NewUndoStack(opts.UndoCapacity),
		camera:      iso.DefaultCamera(),
		brush:       DefaultBrush(),
		zBuild:      opts.ZBuild,
		showGrid:    opts.ShowGrid,
		maxDistance: opts.MaxDistance,
		selection:   make(map[vec.Vec3]struct{}),
		author:      opts.Author,
		store:       opts.Store,
		heightGen:   terrain.NewHeightMapGenerator(),
		mapGen:      terrain.NewMapGenerator(),
		logger:      logging.GetEditorLogger(),
	}
	s.level = storage.NewLevel("Новый уровень", opts.Author)
	return s
}

// Index возвращает индекс блоков (только для чтения вне сессии)
func (s *EditSession) Index() *world.SpatialIndex {
	return s.index
}

// Projection возвращает проекцию сессии
func (s *EditSession) Projection() iso.Projection {
	return s.proj
}

// Scene возвращает копию состояния вида для кадра
func (s *EditSession) Scene() render.Scene {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scene := render.Scene{
		Camera:      s.camera,
		Canvas:      s.canvas,
		ActiveZ:     s.activeZ,
		ShowGrid:    s.showGrid,
		MaxDistance: s.maxDistance,
	}
	if s.hover != nil {
		h := *s.hover
		scene.Hover = &h
	}
	scene.Selection = s.selectionLocked()
	return scene
}

func (s *EditSession) selectionLocked() []vec.Vec3 {
	if len(s.selection) == 0 {
		return nil
	}
	out := make([]vec.Vec3, 0, len(s.selection))
	for p := range s.selection {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})
	return out
}

// Selection возвращает выделенные ячейки
func (s *EditSession) Selection() []vec.Vec3 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectionLocked()
}

// ---- Кисть и слои ----

// SetBrush задаёт кисть; радиус ограничивается [0, MaxBrushRadius]
func (s *EditSession) SetBrush(b Brush) {
	s.mu.Lock()
	s.brush = b.normalized()
	s.mu.Unlock()
}

// Brush возвращает текущую кисть
func (s *EditSession) Brush() Brush {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.brush
}

// SetZBuild включает автоподъём слоя после жеста, поставившего блоки
func (s *EditSession) SetZBuild(on bool) {
	s.mu.Lock()
	s.zBuild = on
	s.mu.Unlock()
}

// ActiveZ возвращает активный слой
func (s *EditSession) ActiveZ() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeZ
}

// SetActiveZ устанавливает активный слой (не ниже 0)
func (s *EditSession) SetActiveZ(z int) {
	s.mu.Lock()
	s.activeZ = max(0, z)
	s.mu.Unlock()
}

// StepZ сдвигает активный слой на delta и возвращает новый слой
func (s *EditSession) StepZ(delta int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeZ = max(0, s.activeZ+delta)
	return s.activeZ
}

// ---- Жесты ----

// BeginGesture начинает жест инструментом tool в ячейке cell (Z берётся из активного слоя)
func (s *EditSession) BeginGesture(tool Tool, cell vec.Vec3) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cell.Z = s.activeZ
	s.gesture = &gesture{tool: tool, last: cell, result: GestureResult{Tool: tool}}
	if tool == ToolSelect {
		clear(s.selection)
	}
	s.applyLocked(cell)
}

// ContinueGesture продолжает жест, если ячейка изменилась
func (s *EditSession) ContinueGesture(cell vec.Vec3) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gesture == nil {
		return
	}
	cell.Z = s.activeZ
	if cell == s.gesture.last {
		return
	}
	s.gesture.last = cell
	s.applyLocked(cell)
}

// EndGesture завершает жест. В режиме Z-build слой поднимается на 1, если жест поставил блоки.
func (s *EditSession) EndGesture() GestureResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.gesture
	if g == nil {
		return GestureResult{ActiveZ: s.activeZ}
	}
	s.gesture = nil
	if s.zBuild && g.result.Placed > 0 {
		s.activeZ++
	}
	g.result.ActiveZ = s.activeZ
	if g.result.Placed > 0 || g.result.Removed > 0 {
		s.logger.Debug("Жест %s: +%d -%d, слой %d", g.tool, g.result.Placed, g.result.Removed, s.activeZ)
	}
	return g.result
}

// InGesture сообщает, что жест не завершён
func (s *EditSession) InGesture() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gesture != nil
}

// applyLocked применяет кисть жеста к ячейке. Снимок для отмены делается
// перед первым изменением жеста.
func (s *EditSession) applyLocked(center vec.Vec3) {
	g := s.gesture
	for _, c := range BrushCells(center, s.brush.Radius) {
		switch g.tool {
		case ToolPaint:
			if s.index.Occupied(c) {
				continue
			}
			s.snapshotLocked(g)
			if s.index.Insert(s.brush.newBlock(c)) {
				g.result.Placed++
				s.revision++
			}
		case ToolErase:
			if !s.index.Occupied(c) {
				continue
			}
			s.snapshotLocked(g)
			if _, ok := s.index.RemoveAt(c); ok {
				delete(s.selection, c)
				g.result.Removed++
				s.revision++
			}
		case ToolSelect:
			if !s.index.Occupied(c) {
				continue
			}
			if _, ok := s.selection[c]; !ok {
				s.selection[c] = struct{}{}
				g.result.Selected++
			}
		}
	}
}

func (s *EditSession) snapshotLocked(g *gesture) {
	if g.snapshotted {
		return
	}
	s.undo.Push(s.index.All())
	g.snapshotted = true
}

// Paint ставит блоки кистью в ячейке как отдельный жест
func (s *EditSession) Paint(cell vec.Vec3) GestureResult {
	s.BeginGesture(ToolPaint, cell)
	return s.EndGesture()
}

// Erase удаляет блоки кистью в ячейке как отдельный жест
func (s *EditSession) Erase(cell vec.Vec3) GestureResult {
	s.BeginGesture(ToolErase, cell)
	return s.EndGesture()
}

// Undo восстанавливает последний снимок. Возвращает false, если история пуста.
func (s *EditSession) Undo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gesture != nil {
		return false
	}
	snap, ok := s.undo.Pop()
	if !ok {
		return false
	}
	s.index.Replace(snap)
	clear(s.selection)
	s.revision++
	return true
}

// UndoDepth возвращает число снимков в истории
func (s *EditSession) UndoDepth() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.undo.Len()
}

// ---- Камера и курсор ----

// SetCanvas задаёт размеры холста
func (s *EditSession) SetCanvas(m iso.CanvasMetrics) {
	s.mu.Lock()
	s.canvas = m
	s.mu.Unlock()
}

// Camera возвращает копию камеры
func (s *EditSession) Camera() iso.Camera {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.camera
}

// SetCamera заменяет камеру; масштаб ограничивается допустимым диапазоном
func (s *EditSession) SetCamera(c iso.Camera) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Zoom = min(max(c.EffectiveZoom(), iso.MinZoom), iso.MaxZoom)
	s.camera = c
}

// Pan сдвигает камеру на экранные dx, dy
func (s *EditSession) Pan(dx, dy float64) {
	s.mu.Lock()
	s.camera.Pan(dx, dy)
	s.mu.Unlock()
}

// ZoomAt масштабирует вокруг точки страницы pt
func (s *EditSession) ZoomAt(factor float64, pt vec.Vec2Float) {
	s.mu.Lock()
	defer s.mu.Unlock()
	focus := iso.ScreenToWorld(pt, s.canvas, s.camera)
	s.camera.ZoomAt(factor, focus)
}

// ResetCamera возвращает камеру в начало координат
func (s *EditSession) ResetCamera() {
	s.mu.Lock()
	s.camera.Reset()
	s.mu.Unlock()
}

// CellAt переводит точку страницы в ячейку активного слоя
func (s *EditSession) CellAt(pt vec.Vec2Float) vec.Vec3 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.proj.ScreenToGrid(pt, s.canvas, s.camera, s.activeZ)
}

// SetHover задаёт подсвеченную ячейку (nil: без подсветки)
func (s *EditSession) SetHover(cell *vec.Vec3) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cell == nil {
		s.hover = nil
		return
	}
	c := *cell
	s.hover = &c
}

// ---- Уровень ----

// Level возвращает снимок текущего уровня с блоками из индекса
func (s *EditSession) Level() *storage.Level {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.levelLocked()
}

func (s *EditSession) levelLocked() *storage.Level {
	l := s.level.Clone()
	l.Blocks = s.index.All()
	l.Camera = s.camera
	return l
}

// Snapshot реализует storage.Saveable
func (s *EditSession) Snapshot() (*storage.Level, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.levelLocked(), s.revision
}

// MarkSaved реализует storage.Saveable
func (s *EditSession) MarkSaved(rev uint64, createdAt, modifiedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level.CreatedAt = createdAt
	s.level.ModifiedAt = modifiedAt
	if rev > s.savedRev {
		s.savedRev = rev
	}
}

// Revision номер текущей ревизии; растёт при каждом изменении уровня
func (s *EditSession) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// SavedRevision последняя ревизия, совпадающая с хранилищем
func (s *EditSession) SavedRevision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.savedRev
}

// Dirty сообщает о несохранённых изменениях
func (s *EditSession) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision != s.savedRev
}

// Rename меняет имя и описание уровня
func (s *EditSession) Rename(name, description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level.Name = name
	s.level.Description = description
	s.revision++
}

// SetGravity меняет настройку гравитации уровня
func (s *EditSession) SetGravity(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level.Settings.Gravity = on
	s.revision++
}

// Save сохраняет текущий уровень. При ошибке состояние сессии не меняется.
func (s *EditSession) Save(ctx context.Context) error {
	if s.store == nil {
		return ErrNoStore
	}
	l, rev := s.Snapshot()
	if err := s.store.Save(ctx, l); err != nil {
		return err
	}
	s.MarkSaved(rev, l.CreatedAt, l.ModifiedAt)
	s.logger.Info("Уровень %s (%s) сохранён, блоков: %d", l.ID, l.Name, len(l.Blocks))
	return nil
}

// Load загружает уровень из хранилища и делает его текущим. История очищается.
func (s *EditSession) Load(ctx context.Context, id string) error {
	if s.store == nil {
		return ErrNoStore
	}
	l, err := s.store.Load(ctx, id)
	if err != nil {
		return err
	}
	if err := s.Open(l); err != nil {
		return err
	}
	s.mu.Lock()
	s.savedRev = s.revision
	s.mu.Unlock()
	return nil
}

// Open делает l текущим уровнем без обращения к хранилищу
func (s *EditSession) Open(l *storage.Level) error {
	if err := l.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gesture != nil {
		return ErrGestureActive
	}
	meta := l.Clone()
	s.index.Replace(meta.Blocks)
	meta.Blocks = nil
	s.level = meta
	s.camera = l.Camera
	if s.camera.Zoom == 0 {
		s.camera.Zoom = 1
	}
	s.activeZ = 0
	s.undo.Clear()
	clear(s.selection)
	s.hover = nil
	s.revision++
	s.logger.Info("Открыт уровень %s (%s), блоков: %d", l.ID, l.Name, s.index.Len())
	return nil
}

// NewLevel начинает новый пустой уровень
func (s *EditSession) NewLevel(name string) *storage.Level {
	l := storage.NewLevel(name, s.author)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.index.Clear()
	s.level = l.Clone()
	s.level.Blocks = nil
	s.camera = iso.DefaultCamera()
	s.activeZ = 0
	s.undo.Clear()
	clear(s.selection)
	s.hover = nil
	s.revision++
	s.savedRev = 0
	return l
}

// ResetLevel удаляет все блоки текущего уровня. Сброс можно отменить.
func (s *EditSession) ResetLevel() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.index.Len()
	if n == 0 {
		return 0
	}
	s.undo.Push(s.index.All())
	s.index.Clear()
	clear(s.selection)
	s.activeZ = 0
	s.revision++
	return n
}

// GenerateResult итог генерации карты
type GenerateResult struct {
	Seed   int64
	Blocks int
}

// Generate заполняет уровень сгенерированным ландшафтом, заменяя текущие блоки.
// Перед заменой делается снимок для отмены.
func (s *EditSession) Generate(ctx context.Context, hmCfg terrain.HeightMapConfig, mapCfg terrain.MapConfig) (GenerateResult, error) {
	hm, err := s.heightGen.Generate(ctx, hmCfg)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("карта высот: %w", err)
	}
	mapCfg.HeightMap = hm
	blocks, err := s.mapGen.Generate(ctx, mapCfg)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("генерация карты: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gesture != nil {
		return GenerateResult{}, ErrGestureActive
	}
	s.undo.Push(s.index.All())
	n := s.index.Replace(blocks)
	clear(s.selection)
	s.revision++

	s.logger.Info("Сгенерирован ландшафт %dx%d (seed=%d), блоков: %d", hm.Width, hm.Height, hm.Seed, n)
	return GenerateResult{Seed: hm.Seed, Blocks: n}, nil
}
