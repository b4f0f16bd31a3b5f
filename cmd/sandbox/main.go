package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/annel0/iso-sandbox/internal/api"
	"github.com/annel0/iso-sandbox/internal/cache"
	"github.com/annel0/iso-sandbox/internal/config"
	"github.com/annel0/iso-sandbox/internal/eventbus"
	"github.com/annel0/iso-sandbox/internal/iso"
	"github.com/annel0/iso-sandbox/internal/logging"
	"github.com/annel0/iso-sandbox/internal/observability"
	"github.com/annel0/iso-sandbox/internal/render"
	"github.com/annel0/iso-sandbox/internal/storage"
	"github.com/annel0/iso-sandbox/internal/terrain"
	"github.com/annel0/iso-sandbox/internal/world"
)

func main() {
	configPath := flag.String("config", "config.yml", "путь к YAML-конфигурации")
	flag.Parse()

	// Инициализируем систему логирования
	if err := logging.InitDefaultLogger("sandbox"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	if err := run(*configPath); err != nil {
		logging.Error("❌ %v", err)
		logging.CloseDefaultLogger()
		os.Exit(1)
	}
}

func run(configPath string) error {
	logging.Info("🧱 Запуск изометрической песочницы...")

	// === КОНФИГУРАЦИЯ ===
	cfg, err := config.Load(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		logging.Warn("Файл %s не найден, используются значения по умолчанию", configPath)
		cfg, err = config.Default(), nil
	}
	if err != nil {
		return fmt.Errorf("загрузка конфигурации: %w", err)
	}

	lm := logging.GetLoggerManager()
	lm.EnableFileOutput(cfg.Logging.Files)
	defer lm.CloseAll()
	if err := lm.ApplyLevels(cfg.Logging.Levels); err != nil {
		logging.Warn("Уровни логирования не применены: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// === ТЕЛЕМЕТРИЯ ===
	if cfg.Telemetry.Enabled {
		shutdown, err := observability.InitTelemetry(ctx, cfg.Telemetry.ServiceName)
		if err != nil {
			logging.Warn("OpenTelemetry недоступен: %v", err)
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logging.Warn("Ошибка остановки OpenTelemetry: %v", err)
				}
			}()
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// === ШИНА СОБЫТИЙ ===
	bus, err := openBus(cfg.EventBus)
	if err != nil {
		return err
	}
	defer bus.Close()
	if err := eventbus.RegisterMetrics(registry, bus); err != nil {
		logging.Warn("Метрики шины не зарегистрированы: %v", err)
	}
	if _, err := eventbus.StartLoggingListener(ctx, bus); err != nil {
		logging.Warn("Логирующий слушатель шины не запущен: %v", err)
	}

	// === ХРАНИЛИЩЕ ===
	backend, err := storage.OpenBackend(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("открытие хранилища %s: %w", cfg.Storage.Backend, err)
	}
	store := storage.NewLevelStore(backend, storage.StoreOptions{
		Namespace:         cfg.Storage.Namespace,
		SoftCeilingBytes:  cfg.Storage.SoftCeilingBytes,
		CompressThreshold: cfg.Storage.CompressThresholdBytes,
		MaxEvictions:      cfg.Storage.MaxEvictions,
		Bus:               bus,
		Registerer:        registry,
	})
	defer store.Close()

	levels := cache.NewLevelCache(store, cache.Options{TTL: 5 * time.Minute})
	if err := levels.Watch(ctx, bus); err != nil {
		logging.Warn("Кеш уровней без инвалидации по событиям: %v", err)
	}
	defer levels.Close()

	// === АТЛАС СПРАЙТОВ ===
	var atlas *render.Atlas
	if cfg.Render.AtlasPath != "" {
		atlas = render.NewAtlas()
		atlas.LoadAsync(ctx, cfg.Render.AtlasPath)
	}

	hmDefaults, mapDefaults := terrain.ConfigsFrom(cfg.Generator)
	restPort := fmt.Sprintf(":%d", cfg.Server.GetRESTPort())
	server := api.NewRestServer(api.Config{
		Port:       restPort,
		Store:      store,
		Projection: iso.NewProjection(cfg.Sandbox.TileWidth, cfg.Sandbox.TileHeight),
		IndexOptions: world.IndexOptions{
			CellSize:       cfg.Index.CellSize,
			SplitThreshold: cfg.Index.SplitThreshold,
			MinCellSize:    cfg.Index.MinCellSize,
		},
		Atlas: atlas,
		Cache: levels,
		Editor: api.EditorDefaults{
			UndoCapacity: cfg.Sandbox.UndoCapacity,
			BrushRadius:  cfg.Sandbox.BrushRadius,
			ZBuild:       cfg.Sandbox.ZBuild,
			MaxDistance:  cfg.Render.MaxDistance,
			AutoSave:     cfg.Storage.AutoSaveInterval(),
			FrameRate:    cfg.Render.FPS,
		},
		Registerer:        registry,
		Gatherer:          registry,
		HeightMapDefaults: hmDefaults,
		MapDefaults:       mapDefaults,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	logging.Info("✅ Песочница запущена: storage=%s, REST API http://localhost%s", cfg.Storage.Backend, restPort)
	logging.Info("   ❤️  Health check: http://localhost%s/health", restPort)
	logging.Info("   📈 Метрики: http://localhost%s/metrics", restPort)

	select {
	case <-ctx.Done():
		logging.Info("📡 Получен сигнал завершения, останавливаемся...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("REST API: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки REST API: %v", err)
	}
	logging.Info("👋 Песочница остановлена")
	return nil
}

// openBus выбирает JetStream при заданном URL и шину в памяти иначе
func openBus(cfg config.EventBusConfig) (eventbus.EventBus, error) {
	if cfg.URL == "" {
		logging.Info("🚌 Шина событий: в памяти")
		return eventbus.NewMemoryBus(1024), nil
	}
	bus, err := eventbus.NewJetStreamBus(cfg.URL, cfg.Stream, time.Duration(cfg.Retention)*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("подключение к JetStream %s: %w", cfg.URL, err)
	}
	logging.Info("🚌 Шина событий: JetStream %s (stream=%s)", cfg.URL, cfg.Stream)
	return bus, nil
}
