// Package api предоставляет HTTP API песочницы: список, импорт, экспорт и удаление
// уровней, генерацию ландшафта и серверную отрисовку уровня в PNG.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/iso-sandbox/internal/cache"
	"github.com/annel0/iso-sandbox/internal/iso"
	"github.com/annel0/iso-sandbox/internal/logging"
	"github.com/annel0/iso-sandbox/internal/middleware"
	"github.com/annel0/iso-sandbox/internal/render"
	"github.com/annel0/iso-sandbox/internal/storage"
	"github.com/annel0/iso-sandbox/internal/terrain"
	"github.com/annel0/iso-sandbox/internal/world"
)

// Ограничения запросов
const (
	maxImportBytes  = 16 << 20
	maxRenderSide   = 4096
	defaultRenderW  = 800
	defaultRenderH  = 600
	serviceName     = "sandbox_api"
	shutdownTimeout = 5 * time.Second
)

// RestServer представляет REST API сервер
type RestServer struct {
	router     *gin.Engine
	store      *storage.LevelStore
	levels     *cache.LevelCache
	sessions   *SessionHub
	proj       iso.Projection
	indexOpts  world.IndexOptions
	atlas      *render.Atlas
	reg        prometheus.Registerer
	heightGen  *terrain.HeightMapGenerator
	mapGen     *terrain.MapGenerator
	hmDefault  terrain.HeightMapConfig
	mapDefault terrain.MapConfig
	metrics    *ServerMetrics
	logger     *logging.Logger
	port       string

	srv *http.Server
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Port         string // порт для запуска сервера, например ":8090"
	Store        *storage.LevelStore
	Projection   iso.Projection
	IndexOptions world.IndexOptions
	Atlas        *render.Atlas     // nil: отрисовка плоскими цветами
	Cache        *cache.LevelCache // nil: кеш без подписки на шину, TTL минута
	Registerer   prometheus.Registerer
	Gatherer     prometheus.Gatherer

	// Editor параметры сессий редактирования /api/sessions
	Editor EditorDefaults

	// Параметры генерации по умолчанию; поля запроса /api/generate их перекрывают
	HeightMapDefaults terrain.HeightMapConfig
	MapDefaults       terrain.MapConfig
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// NewRestServer создает новый REST API сервер
func NewRestServer(config Config) *RestServer {
	if config.Port == "" {
		config.Port = ":8090"
	}
	if config.Projection.TileWidth <= 0 {
		config.Projection = iso.DefaultProjection()
	}
	if config.IndexOptions.CellSize <= 0 {
		config.IndexOptions = world.DefaultIndexOptions()
	}
	if config.Cache == nil {
		config.Cache = cache.NewLevelCache(config.Store, cache.Options{TTL: time.Minute})
	}
	if config.HeightMapDefaults.Width <= 0 {
		config.HeightMapDefaults = terrain.DefaultHeightMapConfig()
	}

	// Устанавливаем режим релиза для gin
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// === Observability middleware ===
	router.Use(otelgin.Middleware(serviceName))
	router.Use(middleware.NewRequestLogger().Handler())

	promMw := middleware.NewPrometheusMiddleware(serviceName, config.Registerer)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router, config.Gatherer)

	rs := &RestServer{
		router:     router,
		store:      config.Store,
		levels:     config.Cache,
		sessions:   NewSessionHub(config.Store, config.Projection, config.IndexOptions, config.Atlas, config.Editor),
		proj:       config.Projection,
		indexOpts:  config.IndexOptions,
		atlas:      config.Atlas,
		reg:        config.Registerer,
		heightGen:  terrain.NewHeightMapGenerator(),
		mapGen:     terrain.NewMapGenerator(),
		hmDefault:  config.HeightMapDefaults,
		mapDefault: config.MapDefaults,
		metrics:    NewServerMetrics(),
		logger:     logging.GetAPILogger(),
		port:       config.Port,
	}
	rs.setupRoutes()
	rs.srv = &http.Server{
		Addr:              rs.port,
		Handler:           rs.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return rs
}

// Handler возвращает http.Handler сервера (для тестов и встраивания)
func (rs *RestServer) Handler() http.Handler {
	return rs.router
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	// Middleware для CORS
	rs.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	rs.router.GET("/health", rs.handleHealth)

	api := rs.router.Group("/api")
	{
		api.GET("/levels", rs.handleListLevels)
		api.POST("/levels", rs.handleImportLevel)
		api.GET("/levels/:id", rs.handleExportLevel)
		api.DELETE("/levels/:id", rs.handleDeleteLevel)
		api.GET("/levels/:id/render.png", rs.handleRenderLevel)
		api.POST("/generate", rs.handleGenerate)

		// Сессии редактирования
		api.POST("/sessions", rs.handleOpenSession)
		api.POST("/sessions/:sid/input", rs.handleSessionInput)
		api.GET("/sessions/:sid/frame.png", rs.handleSessionFrame)
		api.POST("/sessions/:sid/save", rs.handleSessionSave)
		api.DELETE("/sessions/:sid", rs.handleCloseSession)
	}
}

// handleHealth проверка состояния сервера
func (rs *RestServer) handleHealth(c *gin.Context) {
	resp := gin.H{
		"status":    "ok",
		"time":      time.Now().Unix(),
		"uptime":    rs.metrics.GetUptime(),
		"memory_mb": fmt.Sprintf("%.2f", rs.metrics.GetMemoryUsage()),
	}
	if cpuPercent, err := rs.metrics.GetCPUUsage(); err == nil {
		resp["cpu_percent"] = fmt.Sprintf("%.2f", cpuPercent)
	}
	if rss, err := rs.metrics.GetRSS(); err == nil {
		resp["rss_mb"] = fmt.Sprintf("%.2f", rss)
	}
	if used, err := rs.store.Usage(c.Request.Context()); err == nil {
		resp["storage_bytes"] = used
	} else {
		resp["status"] = "degraded"
		resp["storage_error"] = err.Error()
	}
	resp["cache"] = rs.levels.Metrics()
	resp["sessions"] = rs.sessions.Len()
	c.JSON(http.StatusOK, resp)
}

// handleListLevels возвращает сводки уровней, новые первыми
func (rs *RestServer) handleListLevels(c *gin.Context) {
	list, err := rs.store.List(c.Request.Context())
	if err != nil {
		rs.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Список уровней",
		Data: gin.H{
			"levels": list,
			"total":  len(list),
		},
	})
}

// handleImportLevel принимает уровень в формате экспорта
func (rs *RestServer) handleImportLevel(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxImportBytes+1))
	if err != nil {
		rs.respond(c, http.StatusBadRequest, "Не удалось прочитать тело запроса")
		return
	}
	if len(body) > maxImportBytes {
		rs.respond(c, http.StatusRequestEntityTooLarge, "Уровень слишком большой")
		return
	}

	l, err := rs.store.Import(c.Request.Context(), body)
	if err != nil {
		rs.fail(c, err)
		return
	}
	rs.levels.Invalidate(l.ID)
	c.JSON(http.StatusCreated, GenericResponse{
		Success: true,
		Message: "Уровень сохранён",
		Data:    l.Summary(0),
	})
}

// handleExportLevel отдаёт уровень полным JSON
func (rs *RestServer) handleExportLevel(c *gin.Context) {
	l, err := rs.levels.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		rs.fail(c, err)
		return
	}
	data, err := storage.MarshalLevel(l)
	if err != nil {
		rs.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

// handleDeleteLevel удаляет уровень
func (rs *RestServer) handleDeleteLevel(c *gin.Context) {
	id := c.Param("id")
	err := rs.store.Delete(c.Request.Context(), id)
	rs.levels.Invalidate(id)
	if err != nil {
		rs.fail(c, err)
		return
	}
	rs.respond(c, http.StatusOK, "Уровень удалён")
}

// GenerateRequest запрос генерации нового уровня
type GenerateRequest struct {
	Name        string                  `json:"name"`
	Author      string                  `json:"author"`
	Description string                  `json:"description"`
	HeightMap   terrain.HeightMapConfig `json:"heightMap"`
	Map         terrain.MapConfig       `json:"map"`
}

// GenerateResponse итог генерации
type GenerateResponse struct {
	Level  storage.LevelSummary `json:"level"`
	Seed   int64                `json:"seed"`
	Blocks int                  `json:"blocks"`
}

// handleGenerate строит ландшафт и сохраняет его новым уровнем
func (rs *RestServer) handleGenerate(c *gin.Context) {
	req := GenerateRequest{HeightMap: rs.hmDefault, Map: rs.mapDefault}
	if err := c.ShouldBindJSON(&req); err != nil {
		rs.respond(c, http.StatusBadRequest, "Неверный формат запроса: "+err.Error())
		return
	}
	if req.Name == "" {
		req.Name = "Сгенерированный уровень"
	}

	ctx := c.Request.Context()
	hm, err := rs.heightGen.Generate(ctx, req.HeightMap)
	if err != nil {
		rs.fail(c, err)
		return
	}
	req.Map.HeightMap = hm
	blocks, err := rs.mapGen.Generate(ctx, req.Map)
	if err != nil {
		rs.fail(c, err)
		return
	}

	l := storage.NewLevel(req.Name, req.Author)
	l.Description = req.Description
	l.Blocks = blocks
	l.Camera = render.FitCamera(rs.proj, blocks, defaultRenderW, defaultRenderH)
	if err := rs.store.Save(ctx, l); err != nil {
		rs.fail(c, err)
		return
	}

	rs.logger.Info("Сгенерирован уровень %s: %dx%d seed=%d блоков=%d", l.ID, hm.Width, hm.Height, hm.Seed, len(blocks))
	c.JSON(http.StatusCreated, GenericResponse{
		Success: true,
		Message: "Уровень сгенерирован",
		Data:    GenerateResponse{Level: l.Summary(0), Seed: hm.Seed, Blocks: len(blocks)},
	})
}

// handleRenderLevel рисует уровень в PNG.
// Параметры: width и height (по умолчанию 800x600), fit=1 подгоняет камеру, grid=1 рисует сетку на слое z.
func (rs *RestServer) handleRenderLevel(c *gin.Context) {
	w, okW := queryInt(c, "width", defaultRenderW)
	h, okH := queryInt(c, "height", defaultRenderH)
	z, okZ := queryInt(c, "z", 0)
	if !okW || !okH || !okZ || w <= 0 || h <= 0 || w > maxRenderSide || h > maxRenderSide {
		rs.respond(c, http.StatusBadRequest, "Неверный размер кадра")
		return
	}

	l, err := rs.levels.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		rs.fail(c, err)
		return
	}

	index := world.NewSpatialIndex(rs.indexOpts)
	index.Replace(l.Blocks)
	pipeline := render.NewPipeline(rs.proj, render.NewCullingSystem(index, rs.proj, rs.reg), rs.atlas, rs.reg)

	cam := l.Camera
	if c.Query("fit") == "1" {
		cam = render.FitCamera(rs.proj, l.Blocks, float64(w), float64(h))
	}
	surface := render.NewImageSurface(w, h)
	stats := pipeline.Render(surface, render.Scene{
		Camera:   cam,
		ActiveZ:  z,
		ShowGrid: c.Query("grid") == "1",
	})

	var buf bytes.Buffer
	if err := render.EncodePNG(&buf, surface); err != nil {
		rs.fail(c, err)
		return
	}
	c.Header("X-Blocks-Drawn", strconv.Itoa(stats.Drawn))
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	return v, err == nil
}

// fail переводит ошибку домена в HTTP-статус
func (rs *RestServer) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrInvalidLevelData), errors.Is(err, terrain.ErrInvalidConfig):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrQuotaExceeded):
		status = http.StatusInsufficientStorage
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		rs.logger.Error("Ошибка обработки %s: %v", c.FullPath(), err)
		_ = c.Error(err)
	}
	rs.respond(c, status, err.Error())
}

func (rs *RestServer) respond(c *gin.Context, status int, message string) {
	c.JSON(status, GenericResponse{
		Success: status < http.StatusBadRequest,
		Message: message,
	})
}

// Start запускает REST сервер и блокируется до Stop
func (rs *RestServer) Start() error {
	rs.logger.Info("🌐 REST API слушает %s", rs.port)
	if err := rs.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop завершает сервер, дожидаясь активных запросов, и сохраняет открытые сессии
func (rs *RestServer) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	err := rs.srv.Shutdown(ctx)
	return errors.Join(err, rs.sessions.CloseAll(ctx))
}
