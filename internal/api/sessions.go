package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/annel0/iso-sandbox/internal/editor"
	"github.com/annel0/iso-sandbox/internal/iso"
	"github.com/annel0/iso-sandbox/internal/logging"
	"github.com/annel0/iso-sandbox/internal/render"
	"github.com/annel0/iso-sandbox/internal/storage"
	"github.com/annel0/iso-sandbox/internal/vec"
	"github.com/annel0/iso-sandbox/internal/world"
)

// Ошибки сессий редактирования
var (
	ErrSessionNotFound = errors.New("сессия не найдена")
	ErrTooManySessions = errors.New("слишком много открытых сессий")
	ErrBadCanvas       = errors.New("неверный размер холста")
	ErrBadInput        = errors.New("неверное событие ввода")
)

// maxSessions предел одновременно открытых сессий
const maxSessions = 64

// RemoteSession сессия редактирования, управляемая через HTTP.
// mu сериализует ввод и отрисовку кадров. Фоновый цикл перерисовывает кадр
// при изменении вида, HTTP отдаёт готовый PNG.
type RemoteSession struct {
	id       string
	session  *editor.EditSession
	input    *editor.InputController
	saver    *storage.AutoSaver
	pipeline *render.Pipeline
	loop     *render.Loop
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu    sync.Mutex
	frame cachedFrame
}

// EditorDefaults параметры новых сессий редактирования
type EditorDefaults struct {
	UndoCapacity int
	BrushRadius  int
	ZBuild       bool
	MaxDistance  float64
	// AutoSave период автосохранения; 0: 30 секунд
	AutoSave time.Duration
	// FrameRate частота фоновой перерисовки кадра; 0: 60
	FrameRate int
}

// SessionHub держит открытые сессии редактирования с автосохранением
type SessionHub struct {
	store     *storage.LevelStore
	proj      iso.Projection
	indexOpts world.IndexOptions
	atlas     *render.Atlas
	defaults  EditorDefaults

	logger *logging.Logger

	mu       sync.Mutex
	sessions map[string]*RemoteSession
	pending  int // Open, ещё не добавившие сессию
}

// NewSessionHub создаёт пустой набор сессий
func NewSessionHub(store *storage.LevelStore, proj iso.Projection, indexOpts world.IndexOptions, atlas *render.Atlas, defaults EditorDefaults) *SessionHub {
	return &SessionHub{
		store:     store,
		proj:      proj,
		indexOpts: indexOpts,
		atlas:     atlas,
		defaults:  defaults,
		logger:    logging.GetEditorLogger(),
		sessions:  make(map[string]*RemoteSession),
	}
}

// OpenSessionRequest параметры новой сессии
type OpenSessionRequest struct {
	LevelID string `json:"levelId"` // пусто: новый уровень
	Name    string `json:"name"`
	Author  string `json:"author"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	ZBuild  *bool  `json:"zBuild,omitempty"` // nil: значение сервера
}

// SessionState состояние сессии после операции
type SessionState struct {
	ID        string                `json:"id"`
	LevelID   string                `json:"levelId"`
	Name      string                `json:"name"`
	Tool      string                `json:"tool"`
	ActiveZ   int                   `json:"activeZ"`
	Blocks    int                   `json:"blocks"`
	UndoDepth int                   `json:"undoDepth"`
	Dirty     bool                  `json:"dirty"`
	Camera    iso.Camera            `json:"camera"`
	Gesture   *editor.GestureResult `json:"gesture,omitempty"`
}

// Open создаёт сессию и запускает её автосохранение
func (h *SessionHub) Open(ctx context.Context, req OpenSessionRequest) (*RemoteSession, error) {
	if req.Width <= 0 {
		req.Width = defaultRenderW
	}
	if req.Height <= 0 {
		req.Height = defaultRenderH
	}
	if req.Width > maxRenderSide || req.Height > maxRenderSide {
		return nil, ErrBadCanvas
	}

	// место резервируется до загрузки уровня, чтобы параллельные Open не превысили предел
	h.mu.Lock()
	if len(h.sessions)+h.pending >= maxSessions {
		h.mu.Unlock()
		return nil, ErrTooManySessions
	}
	h.pending++
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.pending--
		h.mu.Unlock()
	}()

	zBuild := h.defaults.ZBuild
	if req.ZBuild != nil {
		zBuild = *req.ZBuild
	}
	s := editor.NewSession(editor.Options{
		Projection:   h.proj,
		Index:        h.indexOpts,
		UndoCapacity: h.defaults.UndoCapacity,
		ZBuild:       zBuild,
		ShowGrid:     true,
		MaxDistance:  h.defaults.MaxDistance,
		Author:       req.Author,
		Store:        h.store,
	})
	if h.defaults.BrushRadius > 0 {
		b := s.Brush()
		b.Radius = h.defaults.BrushRadius
		s.SetBrush(b)
	}
	if req.LevelID != "" {
		if err := s.Load(ctx, req.LevelID); err != nil {
			return nil, err
		}
	} else {
		name := req.Name
		if name == "" {
			name = "Новый уровень"
		}
		s.NewLevel(name)
	}
	s.SetCanvas(iso.CanvasMetrics{Width: float64(req.Width), Height: float64(req.Height), DevicePixelRatio: 1})

	runCtx, cancel := context.WithCancel(context.Background())
	rs := &RemoteSession{
		id:       uuid.NewString(),
		session:  s,
		input:    editor.NewInputController(s),
		saver:    storage.NewAutoSaver(h.store, s, h.defaults.AutoSave),
		pipeline: render.NewPipeline(h.proj, render.NewCullingSystem(s.Index(), h.proj, nil), h.atlas, nil),
		cancel:   cancel,
	}
	rs.loop = render.NewLoop(h.defaults.FrameRate, func(context.Context) {
		if _, _, err := rs.Frame(); err != nil {
			h.logger.Debug("Кадр сессии %s не отрисован: %v", rs.id, err)
		}
	})
	rs.wg.Add(2)
	go func() {
		defer rs.wg.Done()
		rs.saver.Run(runCtx)
	}()
	go func() {
		defer rs.wg.Done()
		rs.loop.Run(runCtx)
	}()

	h.mu.Lock()
	h.sessions[rs.id] = rs
	h.mu.Unlock()
	return rs, nil
}

// ID идентификатор сессии
func (rs *RemoteSession) ID() string {
	return rs.id
}

// Get возвращает открытую сессию
func (h *SessionHub) Get(id string) (*RemoteSession, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rs, ok := h.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return rs, nil
}

// Close сохраняет изменённый уровень и закрывает сессию
func (h *SessionHub) Close(ctx context.Context, id string) error {
	h.mu.Lock()
	rs, ok := h.sessions[id]
	delete(h.sessions, id)
	h.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	return rs.close(ctx)
}

// CloseAll закрывает все сессии, сохраняя несохранённые изменения
func (h *SessionHub) CloseAll(ctx context.Context) error {
	h.mu.Lock()
	all := h.sessions
	h.sessions = make(map[string]*RemoteSession)
	h.mu.Unlock()

	var errs []error
	for _, rs := range all {
		errs = append(errs, rs.close(ctx))
	}
	return errors.Join(errs...)
}

// Len число открытых сессий
func (h *SessionHub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

func (rs *RemoteSession) close(ctx context.Context) error {
	rs.cancel()
	rs.wg.Wait()
	if !rs.session.Dirty() {
		return nil
	}
	return rs.saver.SaveNow(ctx)
}

func (rs *RemoteSession) state(g *editor.GestureResult) SessionState {
	l := rs.session.Level()
	return SessionState{
		ID:        rs.id,
		LevelID:   l.ID,
		Name:      l.Name,
		Tool:      rs.input.Tool().String(),
		ActiveZ:   rs.session.ActiveZ(),
		Blocks:    len(l.Blocks),
		UndoDepth: rs.session.UndoDepth(),
		Dirty:     rs.session.Dirty(),
		Camera:    rs.session.Camera(),
		Gesture:   g,
	}
}

// InputEvent событие ввода клиента.
// Kind: down, move, up, leave, wheel, pinch, key, tool.
type InputEvent struct {
	Kind   string  `json:"kind"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Button int     `json:"button"`
	DeltaY float64 `json:"deltaY"`
	Scale  float64 `json:"scale"`
	Key    string  `json:"key"`
	Tool   string  `json:"tool"`
	Radius int     `json:"radius"`
}

var toolsByName = map[string]editor.Tool{
	editor.ToolPaint.String():  editor.ToolPaint,
	editor.ToolErase.String():  editor.ToolErase,
	editor.ToolSelect.String(): editor.ToolSelect,
}

// apply передаёт события контроллеру ввода по порядку
func (rs *RemoteSession) apply(events []InputEvent) (*editor.GestureResult, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	var last *editor.GestureResult
	for _, ev := range events {
		pt := vec.Vec2Float{X: ev.X, Y: ev.Y}
		switch ev.Kind {
		case "down":
			rs.input.PointerDown(editor.Button(ev.Button), pt)
		case "move":
			rs.input.PointerMove(pt)
		case "up":
			if res, ok := rs.input.PointerUp(editor.Button(ev.Button), pt); ok {
				last = &res
			}
		case "leave":
			rs.input.PointerLeave()
		case "wheel":
			rs.input.Wheel(ev.DeltaY, pt)
		case "pinch":
			rs.input.Pinch(ev.Scale, pt)
		case "key":
			rs.input.KeyDown(ev.Key)
		case "tool":
			tool, ok := toolsByName[ev.Tool]
			if !ok {
				return last, fmt.Errorf("%w: инструмент %q", ErrBadInput, ev.Tool)
			}
			rs.input.SetTool(tool)
			if ev.Radius > 0 {
				b := rs.session.Brush()
				b.Radius = ev.Radius
				rs.session.SetBrush(b)
			}
		default:
			return last, fmt.Errorf("%w: %q", ErrBadInput, ev.Kind)
		}
	}
	return last, nil
}

// ===== HTTP =====

func (rs *RestServer) handleOpenSession(c *gin.Context) {
	var req OpenSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		rs.respond(c, http.StatusBadRequest, "Неверный формат запроса: "+err.Error())
		return
	}
	sess, err := rs.sessions.Open(c.Request.Context(), req)
	if err != nil {
		rs.failSession(c, err)
		return
	}
	c.JSON(http.StatusCreated, GenericResponse{Success: true, Message: "Сессия открыта", Data: sess.state(nil)})
}

func (rs *RestServer) handleSessionInput(c *gin.Context) {
	sess, err := rs.sessions.Get(c.Param("sid"))
	if err != nil {
		rs.failSession(c, err)
		return
	}
	var events []InputEvent
	if err := c.ShouldBindJSON(&events); err != nil {
		rs.respond(c, http.StatusBadRequest, "Неверный формат событий: "+err.Error())
		return
	}
	gesture, err := sess.apply(events)
	if err != nil {
		rs.failSession(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "OK", Data: sess.state(gesture)})
}

func (rs *RestServer) handleSessionFrame(c *gin.Context) {
	sess, err := rs.sessions.Get(c.Param("sid"))
	if err != nil {
		rs.failSession(c, err)
		return
	}
	data, drawn, err := sess.Frame()
	if err != nil {
		rs.fail(c, err)
		return
	}
	c.Header("X-Blocks-Drawn", strconv.Itoa(drawn))
	c.Data(http.StatusOK, "image/png", data)
}

func (rs *RestServer) handleSessionSave(c *gin.Context) {
	sess, err := rs.sessions.Get(c.Param("sid"))
	if err != nil {
		rs.failSession(c, err)
		return
	}
	if err := sess.saver.SaveNow(c.Request.Context()); err != nil {
		rs.fail(c, err)
		return
	}
	rs.levels.Invalidate(sess.session.Level().ID)
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Уровень сохранён", Data: sess.state(nil)})
}

func (rs *RestServer) handleCloseSession(c *gin.Context) {
	if err := rs.sessions.Close(c.Request.Context(), c.Param("sid")); err != nil {
		rs.failSession(c, err)
		return
	}
	rs.respond(c, http.StatusOK, "Сессия закрыта")
}

func (rs *RestServer) failSession(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		rs.respond(c, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrTooManySessions):
		rs.respond(c, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, ErrBadCanvas), errors.Is(err, ErrBadInput):
		rs.respond(c, http.StatusBadRequest, err.Error())
	default:
		rs.fail(c, err)
	}
}
