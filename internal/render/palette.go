package render

import (
	"image/color"

	"github.com/cespare/xxhash/v2"

	"github.com/annel0/iso-sandbox/internal/world"
)

var paletteColors = map[world.Palette]color.RGBA{
	world.PaletteDefault: {R: 170, G: 170, B: 180, A: 255},
	world.PaletteGrass:   {R: 76, G: 160, B: 60, A: 255},
	world.PaletteDirt:    {R: 140, G: 105, B: 70, A: 255},
	world.PaletteSand:    {R: 220, G: 200, B: 140, A: 255},
	world.PaletteStone:   {R: 120, G: 120, B: 128, A: 255},
	world.PaletteSnow:    {R: 240, G: 244, B: 250, A: 255},
	world.PaletteWater:   {R: 50, G: 110, B: 200, A: 170},
	world.PaletteWood:    {R: 120, G: 80, B: 45, A: 255},
	world.PaletteLeaves:  {R: 40, G: 120, B: 45, A: 255},
	world.PaletteBrick:   {R: 170, G: 70, B: 55, A: 255},
}

// Цвета оверлеев
var (
	BackgroundColor = color.RGBA{R: 24, G: 26, B: 32, A: 255}
	GridColor       = color.RGBA{R: 255, G: 255, B: 255, A: 40}
	HoverColor      = color.RGBA{R: 255, G: 230, B: 90, A: 255}
	SelectionColor  = color.RGBA{R: 90, G: 200, B: 255, A: 255}
)

// PaletteColor возвращает базовый цвет палитры.
// Для пользовательских палитр цвет выводится из хэша имени и стабилен между запусками.
func PaletteColor(p world.Palette) color.RGBA {
	if c, ok := paletteColors[p]; ok {
		return c
	}
	h := xxhash.Sum64String(string(p))
	return color.RGBA{R: 64 + uint8(h%160), G: 64 + uint8((h>>8)%160), B: 64 + uint8((h>>16)%160), A: 255}
}

// shade затемняет цвет на коэффициент k ∈ [0,1], альфа сохраняется
func shade(c color.RGBA, k float64) color.RGBA {
	return color.RGBA{
		R: uint8(float64(c.R) * k),
		G: uint8(float64(c.G) * k),
		B: uint8(float64(c.B) * k),
		A: c.A,
	}
}
