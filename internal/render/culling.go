package render

import (
	"math"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/annel0/iso-sandbox/internal/iso"
	"github.com/annel0/iso-sandbox/internal/vec"
	"github.com/annel0/iso-sandbox/internal/world"
)

// ViewFrustum видимая область в координатах проекции
type ViewFrustum struct {
	MinX float64 `json:"minX"`
	MinY float64 `json:"minY"`
	MaxX float64 `json:"maxX"`
	MaxY float64 `json:"maxY"`
}

// Contains проверяет попадание точки в область
func (f ViewFrustum) Contains(p vec.Vec2Float) bool {
	return p.X >= f.MinX && p.X <= f.MaxX && p.Y >= f.MinY && p.Y <= f.MaxY
}

// CullingStats диагностика отсечения
type CullingStats struct {
	Total       int
	Visible     int
	Culled      int
	CacheHits   uint64
	LastFrustum ViewFrustum
}

type visibleKey struct {
	camera      iso.Camera
	width       float64
	height      float64
	maxDistance float64
	version     uint64
	enabled     bool
}

// CullingSystem выбирает блоки, попадающие в окно камеры
type CullingSystem struct {
	index *world.SpatialIndex
	proj  iso.Projection

	mu       sync.Mutex
	enabled  bool
	width    float64
	height   float64
	frustum  ViewFrustum
	cacheKey visibleKey
	cached   []world.Block
	hasCache bool
	stats    CullingStats

	metrics *cullingMetrics
}

// NewCullingSystem создаёт систему отсечения над индексом.
// reg может быть nil, тогда метрики не регистрируются.
func NewCullingSystem(index *world.SpatialIndex, proj iso.Projection, reg prometheus.Registerer) *CullingSystem {
	return &CullingSystem{
		index:   index,
		proj:    proj,
		enabled: true,
		metrics: newCullingMetrics(reg),
	}
}

// SetEnabled включает или выключает отсечение. В выключенном состоянии видимы все блоки.
func (cs *CullingSystem) SetEnabled(enabled bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.enabled = enabled
}

// Enabled сообщает, включено ли отсечение
func (cs *CullingSystem) Enabled() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.enabled
}

// UpdateFrustum пересчитывает видимую область для камеры и размера окна (в CSS-пикселях).
// Область расширена на один тайл: спрайт блока выступает над его опорной точкой.
func (cs *CullingSystem) UpdateFrustum(camera iso.Camera, viewportW, viewportH float64) ViewFrustum {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.width, cs.height = viewportW, viewportH
	cs.frustum = cs.computeFrustum(camera)
	cs.stats.LastFrustum = cs.frustum
	return cs.frustum
}

func (cs *CullingSystem) computeFrustum(camera iso.Camera) ViewFrustum {
	zoom := camera.EffectiveZoom()
	center := camera.Center()
	halfW := cs.width / (2 * zoom)
	halfH := cs.height / (2 * zoom)
	padX := cs.proj.TileWidth
	padY := cs.proj.TileHeight * 2

	return ViewFrustum{
		MinX: center.X - halfW - padX,
		MinY: center.Y - halfH - padY,
		MaxX: center.X + halfW + padX,
		MaxY: center.Y + halfH + padY,
	}
}

// GetVisibleBlocks возвращает блоки в видимой области камеры.
// maxDistance > 0 дополнительно ограничивает расстояние от центра камеры в координатах проекции.
// Результат кэшируется до изменения камеры, окна, дистанции, режима или версии индекса.
func (cs *CullingSystem) GetVisibleBlocks(camera iso.Camera, maxDistance float64) []world.Block {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	key := visibleKey{
		camera:      camera,
		width:       cs.width,
		height:      cs.height,
		maxDistance: maxDistance,
		version:     cs.index.Version(),
		enabled:     cs.enabled,
	}
	if cs.hasCache && cs.cacheKey == key {
		cs.stats.CacheHits++
		cs.metrics.cacheHits.Inc()
		return world.CloneBlocks(cs.cached)
	}

	var visible []world.Block
	total := cs.index.Len()
	if !cs.enabled {
		visible = cs.index.All()
	} else {
		cs.frustum = cs.computeFrustum(camera)
		cs.stats.LastFrustum = cs.frustum
		visible = cs.queryFrustum(camera, maxDistance)
	}

	cs.cacheKey = key
	cs.cached = visible
	cs.hasCache = true

	cs.stats.Total = total
	cs.stats.Visible = len(visible)
	cs.stats.Culled = total - len(visible)
	cs.metrics.visible.Set(float64(cs.stats.Visible))
	cs.metrics.culled.Set(float64(cs.stats.Culled))

	return world.CloneBlocks(visible)
}

// Stats возвращает диагностику последнего запроса
func (cs *CullingSystem) Stats() CullingStats {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.stats
}

func (cs *CullingSystem) queryFrustum(camera iso.Camera, maxDistance float64) []world.Block {
	bounds, ok := cs.index.Bounds()
	if !ok {
		return []world.Block{}
	}

	box, ok := cs.gridBox(cs.frustum, bounds.Min.Z, bounds.Max.Z)
	if !ok {
		return []world.Block{}
	}

	center := camera.Center()
	candidates := cs.index.QueryBox(box)
	visible := make([]world.Block, 0, len(candidates))
	for _, b := range candidates {
		anchor := cs.proj.GridToWorld(b.Pos)
		if !cs.frustum.Contains(anchor) {
			continue
		}
		if maxDistance > 0 && anchor.DistanceTo(center) > maxDistance {
			continue
		}
		visible = append(visible, b)
	}
	return visible
}

// gridBox переводит область проекции в консервативный параллелепипед сетки
// для слоёв [minZ, maxZ]
func (cs *CullingSystem) gridBox(f ViewFrustum, minZ, maxZ int) (world.Box, bool) {
	if minZ > maxZ {
		return world.Box{}, false
	}

	corners := []vec.Vec2Float{
		{X: f.MinX, Y: f.MinY}, {X: f.MaxX, Y: f.MinY},
		{X: f.MinX, Y: f.MaxY}, {X: f.MaxX, Y: f.MaxY},
	}
	gxMin, gyMin := math.Inf(1), math.Inf(1)
	gxMax, gyMax := math.Inf(-1), math.Inf(-1)
	for _, z := range []int{minZ, maxZ} {
		for _, c := range corners {
			gx, gy := cs.proj.WorldToGridFloat(c, z)
			gxMin, gxMax = math.Min(gxMin, gx), math.Max(gxMax, gx)
			gyMin, gyMax = math.Min(gyMin, gy), math.Max(gyMax, gy)
		}
	}

	return world.Box{
		Min: vec.Vec3{X: int(math.Floor(gxMin)) - 1, Y: int(math.Floor(gyMin)) - 1, Z: minZ},
		Max: vec.Vec3{X: int(math.Ceil(gxMax)) + 1, Y: int(math.Ceil(gyMax)) + 1, Z: maxZ},
	}, true
}
