package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/annel0/iso-sandbox/internal/config"
	"github.com/annel0/iso-sandbox/internal/iso"
	"github.com/annel0/iso-sandbox/internal/render"
	"github.com/annel0/iso-sandbox/internal/storage"
	"github.com/annel0/iso-sandbox/internal/terrain"
	"github.com/annel0/iso-sandbox/internal/world"
)

func main() {
	var (
		configPath = flag.String("config", "", "YAML config (generator and sandbox sections)")
		input      = flag.String("in", "", "Level JSON to render instead of generating one")
		output     = flag.String("out", "level.png", "Output PNG path")
		export     = flag.String("export", "", "Also write the level JSON here")
		seed       = flag.Int64("seed", -1, "Generator seed (-1 = random)")
		size       = flag.Int("size", 0, "Heightmap side, overrides config")
		width      = flag.Int("width", 1024, "Image width")
		height     = flag.Int("height", 768, "Image height")
		grid       = flag.Bool("grid", false, "Draw the grid overlay at z=0")
		atlasPath  = flag.String("atlas", "", "Sprite sheet PNG (flat colors when empty)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	proj := iso.NewProjection(cfg.Sandbox.TileWidth, cfg.Sandbox.TileHeight)

	var level *storage.Level
	if *input != "" {
		level, err = readLevel(*input)
	} else {
		level, err = generateLevel(ctx, cfg.Generator, *seed, *size)
	}
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	var atlas *render.Atlas
	if *atlasPath != "" {
		atlas = render.NewAtlas()
		if err := atlas.Load(ctx, *atlasPath); err != nil {
			log.Printf("⚠️  Atlas not loaded, using flat colors: %v", err)
		}
	}

	index := world.NewSpatialIndex(world.IndexOptions{
		CellSize:       cfg.Index.CellSize,
		SplitThreshold: cfg.Index.SplitThreshold,
		MinCellSize:    cfg.Index.MinCellSize,
	})
	index.Replace(level.Blocks)

	culling := render.NewCullingSystem(index, proj, nil)
	culling.SetEnabled(cfg.Render.CullingOn())
	pipeline := render.NewPipeline(proj, culling, atlas, nil)

	surface := render.NewImageSurface(*width, *height)
	stats := pipeline.Render(surface, render.Scene{
		Camera:   render.FitCamera(proj, level.Blocks, float64(*width), float64(*height)),
		ShowGrid: *grid,
	})

	if err := writePNG(*output, surface); err != nil {
		log.Fatalf("❌ %v", err)
	}
	fmt.Printf("✅ %s: %d blocks, %d drawn, %d culled in %v\n", *output, len(level.Blocks), stats.Drawn, stats.Culled, stats.Duration)

	if *export != "" {
		data, err := storage.MarshalLevel(level)
		if err != nil {
			log.Fatalf("❌ Failed to export level: %v", err)
		}
		if err := os.WriteFile(*export, data, 0o644); err != nil {
			log.Fatalf("❌ Failed to write %s: %v", *export, err)
		}
		fmt.Printf("💾 Level saved to %s\n", *export)
	}
}

func generateLevel(ctx context.Context, gen config.GeneratorConfig, seed int64, size int) (*storage.Level, error) {
	hmCfg, mapCfg := terrain.ConfigsFrom(gen)
	if seed >= 0 {
		hmCfg.Seed = &seed
	}
	if size > 0 {
		hmCfg.Width, hmCfg.Height = size, size
	}

	hm, err := terrain.NewHeightMapGenerator().Generate(ctx, hmCfg)
	if err != nil {
		return nil, fmt.Errorf("heightmap: %w", err)
	}
	mapCfg.HeightMap = hm
	blocks, err := terrain.NewMapGenerator().Generate(ctx, mapCfg)
	if err != nil {
		return nil, fmt.Errorf("map: %w", err)
	}

	level := storage.NewLevel(fmt.Sprintf("Seed %d", hm.Seed), "isorender")
	level.Blocks = blocks
	fmt.Printf("🌍 Generated %dx%d map, seed=%d\n", hm.Width, hm.Height, hm.Seed)
	return level, nil
}

func readLevel(path string) (*storage.Level, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return storage.UnmarshalLevel(data)
}

func writePNG(path string, s *render.ImageSurface) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := render.EncodePNG(f, s); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}
