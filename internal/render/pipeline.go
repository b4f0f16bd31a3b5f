package render

import (
	"image"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/annel0/iso-sandbox/internal/iso"
	"github.com/annel0/iso-sandbox/internal/logging"
	"github.com/annel0/iso-sandbox/internal/vec"
	"github.com/annel0/iso-sandbox/internal/world"
)

// maxGridCells ограничение на число ячеек сетки-оверлея за кадр
const maxGridCells = 16384

// Scene состояние вида для одного кадра. Блоки берутся из индекса через CullingSystem.
type Scene struct {
	Camera      iso.Camera
	Canvas      iso.CanvasMetrics
	ActiveZ     int
	Hover       *vec.Vec3
	Selection   []vec.Vec3
	ShowGrid    bool
	MaxDistance float64
}

// FrameStats итог отрисовки кадра
type FrameStats struct {
	Visible  int
	Culled   int
	Drawn    int
	Sprites  int
	Duration time.Duration
}

// shape форма блока: доля ширины ромба и доля высоты куба
type shape struct {
	footprint float64
	height    float64
}

var shapes = map[world.BlockType]shape{
	world.BlockCube:      {1, 1},
	world.BlockRamp:      {1, 0.5},
	world.BlockCorner:    {1, 0.5},
	world.BlockStaircase: {1, 0.75},
	world.BlockFlat:      {1, 0.25},
	world.BlockWater:     {1, 0.2},
	world.BlockPillar:    {0.5, 1},
	world.BlockTree:      {0.8, 1},
}

func shapeOf(t world.BlockType) shape {
	if s, ok := shapes[t]; ok {
		return s
	}
	return shape{1, 1}
}

// Pipeline конвейер кадра: отсечение, сортировка, отрисовка, оверлеи
type Pipeline struct {
	proj    iso.Projection
	culling *CullingSystem
	sorter  *DepthSorter
	atlas   *Atlas
	metrics *pipelineMetrics
	logger  *logging.Logger
}

// NewPipeline создаёт конвейер. atlas может быть nil: тогда всегда плоская заливка.
func NewPipeline(proj iso.Projection, culling *CullingSystem, atlas *Atlas, reg prometheus.Registerer) *Pipeline {
	return &Pipeline{
		proj:    proj,
		culling: culling,
		sorter:  NewDepthSorter(proj),
		atlas:   atlas,
		metrics: newPipelineMetrics(reg),
		logger:  logging.GetRenderLogger(),
	}
}

// Culling возвращает систему отсечения конвейера
func (p *Pipeline) Culling() *CullingSystem {
	return p.culling
}

// Render рисует кадр сцены на поверхности
func (p *Pipeline) Render(s Surface, scene Scene) FrameStats {
	start := time.Now()

	canvas := scene.Canvas
	if !canvas.Mounted() {
		w, h := s.Size()
		canvas = iso.CanvasMetrics{Width: float64(w), Height: float64(h), DevicePixelRatio: 1}
	}

	s.Clear(BackgroundColor)

	frustum := p.culling.UpdateFrustum(scene.Camera, canvas.Width, canvas.Height)
	visible := p.culling.GetVisibleBlocks(scene.Camera, scene.MaxDistance)
	ordered := p.sorter.BackToFront(visible)

	stats := FrameStats{Visible: len(visible), Culled: p.culling.Stats().Culled}
	for _, b := range ordered {
		if p.drawBlock(s, b, canvas, scene.Camera) {
			stats.Sprites++
		}
		stats.Drawn++
	}

	if scene.ShowGrid {
		p.drawGrid(s, frustum, scene.ActiveZ, canvas, scene.Camera)
	}
	for _, cell := range scene.Selection {
		s.StrokePolygon(p.topDiamond(cell, canvas, scene.Camera, shape{1, 1}), SelectionColor)
	}
	if scene.Hover != nil {
		s.StrokePolygon(p.topDiamond(*scene.Hover, canvas, scene.Camera, shape{1, 1}), HoverColor)
	}

	stats.Duration = time.Since(start)
	p.metrics.frames.Inc()
	p.metrics.frameDuration.Observe(stats.Duration.Seconds())
	p.metrics.drawn.Set(float64(stats.Drawn))
	return stats
}

// drawBlock рисует блок спрайтом, если атлас готов, иначе плоскими гранями.
// Возвращает true, если использован спрайт.
func (p *Pipeline) drawBlock(s Surface, b world.Block, canvas iso.CanvasMetrics, cam iso.Camera) bool {
	sh := shapeOf(b.Type)
	top := p.topDiamond(b.Pos, canvas, cam, sh)
	depth := p.proj.TileHeight * p.scale(canvas, cam) * sh.height

	if p.atlas != nil {
		if sheet, src, ok := p.atlas.Lookup(b); ok {
			dst := image.Rect(
				int(math.Floor(top[3].X)), int(math.Floor(top[0].Y)),
				int(math.Ceil(top[1].X)), int(math.Ceil(top[2].Y+depth)),
			)
			s.DrawSprite(sheet, src, dst)
			return true
		}
	}

	base := PaletteColor(b.Palette)
	down := vec.Vec2Float{Y: depth}
	left := []vec.Vec2Float{top[3], top[2], top[2].Add(down), top[3].Add(down)}
	right := []vec.Vec2Float{top[2], top[1], top[1].Add(down), top[2].Add(down)}

	s.FillPolygon(left, shade(base, 0.75))
	s.FillPolygon(right, shade(base, 0.6))
	s.FillPolygon(top, base)
	return false
}

// topDiamond возвращает верхнюю грань блока: N, E, S, W в пикселях холста
func (p *Pipeline) topDiamond(cell vec.Vec3, canvas iso.CanvasMetrics, cam iso.Camera, sh shape) []vec.Vec2Float {
	scale := p.scale(canvas, cam)
	anchor := p.proj.GridToCanvas(cell, canvas, cam)
	hw := p.proj.TileWidth / 2 * scale * sh.footprint
	hh := p.proj.TileHeight / 2 * scale * sh.footprint
	cy := anchor.Y + p.proj.TileHeight*scale*(1-sh.height)

	return []vec.Vec2Float{
		{X: anchor.X, Y: cy - hh},
		{X: anchor.X + hw, Y: cy},
		{X: anchor.X, Y: cy + hh},
		{X: anchor.X - hw, Y: cy},
	}
}

func (p *Pipeline) scale(canvas iso.CanvasMetrics, cam iso.Camera) float64 {
	dpr := canvas.DevicePixelRatio
	if dpr <= 0 {
		dpr = 1
	}
	return cam.EffectiveZoom() * dpr
}

func (p *Pipeline) drawGrid(s Surface, frustum ViewFrustum, z int, canvas iso.CanvasMetrics, cam iso.Camera) {
	box, ok := p.culling.gridBox(frustum, z, z)
	if !ok {
		return
	}
	cells := (box.Max.X - box.Min.X + 1) * (box.Max.Y - box.Min.Y + 1)
	if cells > maxGridCells {
		p.logger.Debug("Сетка пропущена: %d ячеек в окне", cells)
		return
	}
	for y := box.Min.Y; y <= box.Max.Y; y++ {
		for x := box.Min.X; x <= box.Max.X; x++ {
			cell := vec.Vec3{X: x, Y: y, Z: z}
			if !frustum.Contains(p.proj.GridToWorld(cell)) {
				continue
			}
			s.StrokePolygon(p.topDiamond(cell, canvas, cam, shape{1, 1}), GridColor)
		}
	}
}
