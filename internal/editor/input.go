package editor

import (
	"math"

	"github.com/annel0/iso-sandbox/internal/vec"
)

// Button кнопка указателя
type Button int

const (
	ButtonPrimary Button = iota
	ButtonSecondary
)

// Клавиши управления
const (
	KeyLayerUp     = "PageUp"
	KeyLayerDown   = "PageDown"
	KeyUndo        = "Ctrl+Z"
	KeyResetCamera = "Home"
)

// wheelZoomRate масштаб на единицу прокрутки колеса
const wheelZoomRate = 0.0015

// InputController переводит события указателя и клавиатуры в операции сессии
type InputController struct {
	session *EditSession
	tool    Tool

	painting bool
	panning  bool
	lastPt   vec.Vec2Float
}

// NewInputController создаёт контроллер ввода для сессии
func NewInputController(s *EditSession) *InputController {
	return &InputController{session: s, tool: ToolPaint}
}

// SetTool выбирает инструмент основной кнопки
func (c *InputController) SetTool(t Tool) {
	c.tool = t
}

// Tool возвращает текущий инструмент
func (c *InputController) Tool() Tool {
	return c.tool
}

// PointerDown: основная кнопка начинает жест, вторичная начинает панорамирование
func (c *InputController) PointerDown(b Button, pt vec.Vec2Float) {
	switch b {
	case ButtonPrimary:
		if c.painting {
			return
		}
		c.painting = true
		c.session.BeginGesture(c.tool, c.session.CellAt(pt))
	case ButtonSecondary:
		c.panning = true
		c.lastPt = pt
	}
}

// PointerMove обновляет подсветку, продолжает жест или панорамирует
func (c *InputController) PointerMove(pt vec.Vec2Float) {
	cell := c.session.CellAt(pt)
	c.session.SetHover(&cell)

	if c.painting {
		c.session.ContinueGesture(cell)
	}
	if c.panning {
		c.session.Pan(pt.X-c.lastPt.X, pt.Y-c.lastPt.Y)
		c.lastPt = pt
	}
}

// PointerUp завершает жест или панорамирование.
// Возвращает итог жеста для основной кнопки.
func (c *InputController) PointerUp(b Button, pt vec.Vec2Float) (GestureResult, bool) {
	switch b {
	case ButtonPrimary:
		if !c.painting {
			return GestureResult{}, false
		}
		c.painting = false
		return c.session.EndGesture(), true
	case ButtonSecondary:
		if c.panning {
			c.session.Pan(pt.X-c.lastPt.X, pt.Y-c.lastPt.Y)
		}
		c.panning = false
	}
	return GestureResult{}, false
}

// PointerLeave убирает подсветку
func (c *InputController) PointerLeave() {
	c.session.SetHover(nil)
}

// Wheel масштабирует вокруг курсора; deltaY > 0 отдаляет
func (c *InputController) Wheel(deltaY float64, pt vec.Vec2Float) {
	if deltaY == 0 {
		return
	}
	c.session.ZoomAt(math.Exp(-deltaY*wheelZoomRate), pt)
}

// Pinch масштабирует в scale раз вокруг центра жеста
func (c *InputController) Pinch(scale float64, center vec.Vec2Float) {
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return
	}
	c.session.ZoomAt(scale, center)
}

// KeyDown обрабатывает клавишу; false: клавиша не назначена
func (c *InputController) KeyDown(key string) bool {
	switch key {
	case KeyLayerUp:
		c.session.StepZ(1)
	case KeyLayerDown:
		c.session.StepZ(-1)
	case KeyUndo:
		c.session.Undo()
	case KeyResetCamera:
		c.session.ResetCamera()
	default:
		return false
	}
	return true
}
