package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации песочницы.
type Config struct {
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Index     IndexConfig     `yaml:"index"`
	Render    RenderConfig    `yaml:"render"`
	Storage   StorageConfig   `yaml:"storage"`
	Generator GeneratorConfig `yaml:"generator"`
	EventBus  EventBusConfig  `yaml:"eventbus"`
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SandboxConfig параметры редактора
type SandboxConfig struct {
	TileWidth    float64 `yaml:"tile_width"`
	TileHeight   float64 `yaml:"tile_height"`
	UndoCapacity int     `yaml:"undo_capacity"`
	BrushRadius  int     `yaml:"brush_radius"`
	ZBuild       bool    `yaml:"z_build"`
}

// IndexConfig параметры пространственного индекса
type IndexConfig struct {
	CellSize       int `yaml:"cell_size"`
	SplitThreshold int `yaml:"split_threshold"`
	MinCellSize    int `yaml:"min_cell_size"`
}

// RenderConfig параметры цикла отрисовки
type RenderConfig struct {
	FPS            int     `yaml:"fps"`
	MaxDistance    float64 `yaml:"max_distance"`
	CullingEnabled *bool   `yaml:"culling_enabled"`
	AtlasPath      string  `yaml:"atlas_path"`
	ShowGrid       bool    `yaml:"show_grid"`
}

// StorageConfig параметры хранилища уровней
type StorageConfig struct {
	Backend                string      `yaml:"backend"` // memory | file | badger | redis | maria | mongo
	Namespace              string      `yaml:"namespace"`
	CapacityBytes          int64       `yaml:"capacity_bytes"`
	SoftCeilingBytes       int64       `yaml:"soft_ceiling_bytes"`
	CompressThresholdBytes int         `yaml:"compress_threshold_bytes"`
	MaxEvictions           int         `yaml:"max_evictions"`
	AutoSaveSeconds        int         `yaml:"autosave_seconds"`
	FilePath               string      `yaml:"file_path"`
	BadgerPath             string      `yaml:"badger_path"`
	Redis                  RedisConfig `yaml:"redis"`
	MariaDSN               string      `yaml:"maria_dsn"`
	Mongo                  MongoConfig `yaml:"mongo"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// GeneratorConfig значения по умолчанию для генерации карт
type GeneratorConfig struct {
	Width        int     `yaml:"width"`
	Height       int     `yaml:"height"`
	Octaves      int     `yaml:"octaves"`
	Frequency    float64 `yaml:"frequency"`
	Amplitude    float64 `yaml:"amplitude"`
	Persistence  float64 `yaml:"persistence"`
	Lacunarity   float64 `yaml:"lacunarity"`
	MinHeight    float64 `yaml:"min_height"`
	MaxHeight    float64 `yaml:"max_height"`
	Smoothing    float64 `yaml:"smoothing"`
	MaxElevation int     `yaml:"max_elevation"`
}

type EventBusConfig struct {
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
}

type ServerConfig struct {
	RESTPort int `yaml:"rest_port"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// LoggingConfig вывод логов
type LoggingConfig struct {
	Files bool `yaml:"files"` // писать логи компонентов в LOG_DIR
	// Levels уровни по компонентам: storage: debug, api: warn
	Levels map[string]string `yaml:"levels"`
}

// Default возвращает конфигурацию со значениями по умолчанию
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults заполняет нулевые значения
func (c *Config) applyDefaults() {
	if c.Sandbox.TileWidth <= 0 {
		c.Sandbox.TileWidth = 32
	}
	if c.Sandbox.TileHeight <= 0 {
		c.Sandbox.TileHeight = 16
	}
	if c.Sandbox.UndoCapacity <= 0 {
		c.Sandbox.UndoCapacity = 50
	}

	if c.Index.CellSize <= 0 {
		c.Index.CellSize = 64
	}
	if c.Index.SplitThreshold <= 0 {
		c.Index.SplitThreshold = 512
	}
	if c.Index.MinCellSize <= 0 {
		c.Index.MinCellSize = 8
	}

	if c.Render.FPS <= 0 {
		c.Render.FPS = 60
	}
	if c.Render.CullingEnabled == nil {
		enabled := true
		c.Render.CullingEnabled = &enabled
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Storage.Namespace == "" {
		c.Storage.Namespace = "levels"
	}
	if c.Storage.CapacityBytes <= 0 {
		c.Storage.CapacityBytes = 10 * 1024 * 1024
	}
	if c.Storage.SoftCeilingBytes <= 0 {
		c.Storage.SoftCeilingBytes = c.Storage.CapacityBytes * 9 / 10
	}
	if c.Storage.CompressThresholdBytes <= 0 {
		c.Storage.CompressThresholdBytes = 64 * 1024
	}
	if c.Storage.MaxEvictions <= 0 {
		c.Storage.MaxEvictions = 5
	}
	if c.Storage.AutoSaveSeconds <= 0 {
		c.Storage.AutoSaveSeconds = 30
	}
	if c.Storage.FilePath == "" {
		c.Storage.FilePath = "data/level-files"
	}
	if c.Storage.BadgerPath == "" {
		c.Storage.BadgerPath = "data/levels"
	}
	if c.Storage.Redis.Addr == "" {
		c.Storage.Redis.Addr = "localhost:6379"
	}
	if c.Storage.Mongo.URI == "" {
		c.Storage.Mongo.URI = "mongodb://localhost:27017"
	}
	if c.Storage.Mongo.Database == "" {
		c.Storage.Mongo.Database = "sandbox"
	}
	if c.Storage.Mongo.Collection == "" {
		c.Storage.Mongo.Collection = "levels"
	}

	if c.Generator.Width <= 0 {
		c.Generator.Width = 64
	}
	if c.Generator.Height <= 0 {
		c.Generator.Height = 64
	}
	if c.Generator.Octaves <= 0 {
		c.Generator.Octaves = 4
	}
	if c.Generator.Frequency <= 0 {
		c.Generator.Frequency = 0.05
	}
	if c.Generator.Amplitude <= 0 {
		c.Generator.Amplitude = 1
	}
	if c.Generator.Persistence <= 0 {
		c.Generator.Persistence = 0.5
	}
	if c.Generator.Lacunarity <= 0 {
		c.Generator.Lacunarity = 2
	}
	if c.Generator.MaxHeight <= c.Generator.MinHeight {
		c.Generator.MaxHeight = c.Generator.MinHeight + 100
	}
	if c.Generator.MaxElevation <= 0 {
		c.Generator.MaxElevation = 20
	}

	if c.EventBus.Stream == "" {
		c.EventBus.Stream = "SANDBOX"
	}
	if c.EventBus.Retention <= 0 {
		c.EventBus.Retention = 24
	}

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "iso-sandbox"
	}
}

// AutoSaveInterval возвращает период автосохранения
func (s StorageConfig) AutoSaveInterval() time.Duration {
	return time.Duration(s.AutoSaveSeconds) * time.Second
}

// CullingOn сообщает, включено ли отсечение
func (r RenderConfig) CullingOn() bool {
	return r.CullingEnabled == nil || *r.CullingEnabled
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "SANDBOX_REST_PORT", 8090)
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

// Load читает YAML файл конфигурации.
// Если path == "", пытается прочитать из ENV SANDBOX_CONFIG, иначе возвращает Default().
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("SANDBOX_CONFIG")
		if path == "" {
			return Default(), nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения конфигурации %s: %w", path, err)
	}

	return Parse(data)
}

// Parse разбирает YAML и применяет значения по умолчанию
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора конфигурации: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}
