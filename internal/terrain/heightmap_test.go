package terrain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedPtr(v int64) *int64 { return &v }

// scenarioConfig параметры из сценария воспроизводимости
func scenarioConfig() HeightMapConfig {
	return HeightMapConfig{
		Width: 16, Height: 16, Seed: seedPtr(42),
		Octaves: 3, Frequency: 0.1, Amplitude: 1, Persistence: 0.5, Lacunarity: 2,
		MinHeight: 0, MaxHeight: 100, Smoothing: 0,
	}
}

func TestHeightMap_Deterministic(t *testing.T) {
	gen := NewHeightMapGenerator()
	a, err := gen.Generate(context.Background(), scenarioConfig())
	require.NoError(t, err)
	b, err := gen.Generate(context.Background(), scenarioConfig())
	require.NoError(t, err)

	assert.Equal(t, a.Data, b.Data, "одинаковый сид должен давать одинаковую карту")
	assert.Equal(t, int64(42), a.Seed)
	assert.Len(t, a.Data, 16)
	assert.Len(t, a.Data[0], 16)
}

func TestHeightMap_SeedChangesOutput(t *testing.T) {
	gen := NewHeightMapGenerator()
	cfg := scenarioConfig()
	a, err := gen.Generate(context.Background(), cfg)
	require.NoError(t, err)

	cfg.Seed = seedPtr(43)
	b, err := gen.Generate(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotEqual(t, a.Data, b.Data)
}

func TestHeightMap_RandomSeedIsEchoed(t *testing.T) {
	gen := NewHeightMapGenerator()
	cfg := scenarioConfig()
	cfg.Seed = nil

	a, err := gen.Generate(context.Background(), cfg)
	require.NoError(t, err)

	cfg.Seed = seedPtr(a.Seed)
	b, err := gen.Generate(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, a.Data, b.Data, "сид из результата воспроизводит карту")
}

func TestHeightMap_RangeAndSmoothing(t *testing.T) {
	gen := NewHeightMapGenerator()
	cfg := DefaultHeightMapConfig()
	cfg.Width, cfg.Height = 32, 24
	cfg.Seed = seedPtr(7)
	cfg.MinHeight, cfg.MaxHeight = -10, 30
	cfg.Smoothing = 1.5

	hm, err := gen.Generate(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, hm.Data, 24)
	for _, row := range hm.Data {
		require.Len(t, row, 32)
		for _, v := range row {
			assert.GreaterOrEqual(t, v, -10.0)
			assert.LessOrEqual(t, v, 30.0)
		}
	}
}

func TestHeightMap_SingleCellIsFlat(t *testing.T) {
	hm, err := NewHeightMapGenerator().Generate(context.Background(), HeightMapConfig{
		Width: 1, Height: 1, Seed: seedPtr(1), Octaves: 1, Frequency: 1, Amplitude: 1,
		MinHeight: 5, MaxHeight: 9,
	})
	require.NoError(t, err)
	assert.Equal(t, 5.0, hm.Data[0][0])
}

func TestHeightMap_InvalidConfig(t *testing.T) {
	gen := NewHeightMapGenerator()
	bad := []func(c *HeightMapConfig){
		func(c *HeightMapConfig) { c.Width = 0 },
		func(c *HeightMapConfig) { c.Height = -3 },
		func(c *HeightMapConfig) { c.Octaves = 0 },
		func(c *HeightMapConfig) { c.Frequency = 0 },
		func(c *HeightMapConfig) { c.MinHeight, c.MaxHeight = 10, 5 },
		func(c *HeightMapConfig) { c.Smoothing = -1 },
		func(c *HeightMapConfig) { c.Width = maxMapSide + 1 },
	}
	for i, mutate := range bad {
		cfg := scenarioConfig()
		mutate(&cfg)
		_, err := gen.Generate(context.Background(), cfg)
		assert.ErrorIs(t, err, ErrInvalidConfig, "случай %d", i)
	}
}

func TestHeightMap_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHeightMapGenerator().Generate(ctx, scenarioConfig())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHeightMap_Lookups(t *testing.T) {
	hm := &HeightMap{
		Width: 2, Height: 2, MinHeight: 0, MaxHeight: 10,
		Data: [][]float64{{0, 10}, {4, 6}},
	}

	assert.Equal(t, 10.0, hm.GetHeightAt(1, 0))
	assert.Equal(t, 0.0, hm.GetHeightAt(-5, -5), "прижатие к левому верхнему краю")
	assert.Equal(t, 6.0, hm.GetHeightAt(99, 99), "прижатие к правому нижнему краю")

	assert.InDelta(t, 5.0, hm.GetInterpolatedHeight(0.5, 0), 1e-9)
	assert.InDelta(t, 5.0, hm.GetInterpolatedHeight(0.5, 0.5), 1e-9)
	assert.InDelta(t, 6.0, hm.GetInterpolatedHeight(7, 7), 1e-9)
	assert.InDelta(t, 0.4, hm.Normalized(0, 1), 1e-9)
}

func TestContrastCurve(t *testing.T) {
	assert.Equal(t, 0.0, contrast(0))
	assert.Equal(t, 1.0, contrast(1))
	prev := 0.0
	for i := 1; i <= 100; i++ {
		v := contrast(float64(i) / 100)
		assert.GreaterOrEqual(t, v, prev, "кривая монотонна")
		prev = v
	}
}

func TestGaussianBlur_PreservesFlatField(t *testing.T) {
	field := [][]float64{{0.5, 0.5, 0.5}, {0.5, 0.5, 0.5}}
	gaussianBlur(field, 2)
	for _, row := range field {
		for _, v := range row {
			assert.InDelta(t, 0.5, v, 1e-12)
		}
	}
}
