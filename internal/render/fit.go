package render

import (
	"math"

	"github.com/annel0/iso-sandbox/internal/iso"
	"github.com/annel0/iso-sandbox/internal/world"
)

// FitCamera подбирает камеру, при которой все блоки помещаются в окно vw x vh.
// Для пустого набора возвращает камеру по умолчанию.
func FitCamera(proj iso.Projection, blocks []world.Block, vw, vh float64) iso.Camera {
	if len(blocks) == 0 {
		return iso.DefaultCamera()
	}

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, b := range blocks {
		p := proj.GridToWorld(b.Pos)
		minX, maxX = min(minX, p.X), max(maxX, p.X)
		minY, maxY = min(minY, p.Y), max(maxY, p.Y)
	}
	// Ромб тайла и высота куба над якорем
	minX -= proj.TileWidth / 2
	maxX += proj.TileWidth / 2
	minY -= proj.TileHeight
	maxY += proj.TileHeight

	cam := iso.DefaultCamera()
	cam.Position.X = (minX + maxX) / 2
	cam.Position.Y = (minY + maxY) / 2
	if vw > 0 && vh > 0 {
		zoom := min(vw/(maxX-minX), vh/(maxY-minY))
		cam.Zoom = min(max(zoom, iso.MinZoom), iso.MaxZoom)
	}
	return cam
}
