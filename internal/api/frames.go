package api

import (
	"bytes"
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/annel0/iso-sandbox/internal/iso"
	"github.com/annel0/iso-sandbox/internal/render"
	"github.com/annel0/iso-sandbox/internal/vec"
)

// frameKey всё, от чего зависит картинка кадра сессии
type frameKey struct {
	revision  uint64
	camera    iso.Camera
	canvas    iso.CanvasMetrics
	activeZ   int
	showGrid  bool
	hover     vec.Vec3
	hasHover  bool
	selection uint64
}

type cachedFrame struct {
	key   frameKey
	png   []byte
	drawn int
	valid bool
}

func keyOf(revision uint64, scene render.Scene) frameKey {
	k := frameKey{
		revision: revision,
		camera:   scene.Camera,
		canvas:   scene.Canvas,
		activeZ:  scene.ActiveZ,
		showGrid: scene.ShowGrid,
	}
	if scene.Hover != nil {
		k.hover, k.hasHover = *scene.Hover, true
	}
	if len(scene.Selection) > 0 {
		h := xxhash.New()
		var buf [24]byte
		for _, c := range scene.Selection {
			binary.LittleEndian.PutUint64(buf[0:], uint64(int64(c.X)))
			binary.LittleEndian.PutUint64(buf[8:], uint64(int64(c.Y)))
			binary.LittleEndian.PutUint64(buf[16:], uint64(int64(c.Z)))
			_, _ = h.Write(buf[:])
		}
		k.selection = h.Sum64()
	}
	return k
}

// Frame возвращает PNG текущего вида и число нарисованных блоков.
// Кадр перерисовывается, только если вид изменился с прошлой отрисовки.
func (rs *RemoteSession) Frame() ([]byte, int, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	scene := rs.session.Scene()
	key := keyOf(rs.session.Revision(), scene)
	if rs.frame.valid && rs.frame.key == key {
		return rs.frame.png, rs.frame.drawn, nil
	}

	w, h := scene.Canvas.BufferSize()
	surface := render.NewImageSurface(w, h)
	stats := rs.pipeline.Render(surface, scene)

	var buf bytes.Buffer
	if err := render.EncodePNG(&buf, surface); err != nil {
		return nil, 0, err
	}
	rs.frame = cachedFrame{key: key, png: buf.Bytes(), drawn: stats.Drawn, valid: true}
	return rs.frame.png, rs.frame.drawn, nil
}

// FrameStats счётчики фонового цикла кадров
func (rs *RemoteSession) FrameStats() render.LoopStats {
	return rs.loop.Stats()
}
