package terrain

import "github.com/annel0/iso-sandbox/internal/config"

// ConfigsFrom переводит секцию generator файла конфигурации в параметры генераторов.
// Сид не задаётся: каждая генерация по умолчанию случайна.
func ConfigsFrom(g config.GeneratorConfig) (HeightMapConfig, MapConfig) {
	hm := HeightMapConfig{
		Width:       g.Width,
		Height:      g.Height,
		Octaves:     g.Octaves,
		Frequency:   g.Frequency,
		Amplitude:   g.Amplitude,
		Persistence: g.Persistence,
		Lacunarity:  g.Lacunarity,
		MinHeight:   g.MinHeight,
		MaxHeight:   g.MaxHeight,
		Smoothing:   g.Smoothing,
	}
	maxElevation := g.MaxElevation
	return hm, MapConfig{MaxElevation: &maxElevation, Trees: true, Structures: true}
}
