package terrain

import (
	"encoding/binary"
	"math"

	"github.com/aquilax/go-perlin"
	"github.com/cespare/xxhash/v2"
)

// Параметры шума Перлина для вспомогательных полей
const (
	perlinAlpha  = 2.0 // сглаживание
	perlinBeta   = 2.0 // частота
	perlinOctave = 3   // октавы
)

// latticeNoise значение-шум на целочисленной решётке.
// Значение узла: хэш (сид, ix, iy), между узлами билинейная интерполяция.
type latticeNoise struct {
	seed uint64
}

func newLatticeNoise(seed int64) latticeNoise {
	return latticeNoise{seed: uint64(seed)}
}

// node возвращает значение узла решётки в [0, 1)
func (n latticeNoise) node(ix, iy int64) float64 {
	return hash01(n.seed, ix, iy)
}

// At возвращает значение шума в точке (x, y) в диапазоне [0, 1)
func (n latticeNoise) At(x, y float64) float64 {
	x0, y0 := math.Floor(x), math.Floor(y)
	fx, fy := x-x0, y-y0
	ix, iy := int64(x0), int64(y0)

	v00 := n.node(ix, iy)
	v10 := n.node(ix+1, iy)
	v01 := n.node(ix, iy+1)
	v11 := n.node(ix+1, iy+1)

	top := v00 + (v10-v00)*fx
	bottom := v01 + (v11-v01)*fx
	return top + (bottom-top)*fy
}

// hash01 отображает (сид, x, y) в [0, 1) через xxhash
func hash01(seed uint64, x, y int64) float64 {
	var buf [24]byte
	binary.LittleEndian.PutUint64(buf[0:8], seed)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(x))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(y))
	// 53 старших бита дают равномерное значение мантиссы
	return float64(xxhash.Sum64(buf[:])>>11) / float64(uint64(1)<<53)
}

// perlinField низкочастотное поле Перлина, приведённое к [0, 1]
type perlinField struct {
	noise *perlin.Perlin
	scale float64
}

func newPerlinField(seed int64, scale float64) perlinField {
	return perlinField{
		noise: perlin.NewPerlin(perlinAlpha, perlinBeta, perlinOctave, seed),
		scale: scale,
	}
}

// At возвращает значение поля в [0, 1]
func (f perlinField) At(x, y float64) float64 {
	v := (f.noise.Noise2D(x*f.scale, y*f.scale) + 1.0) / 2.0
	return math.Max(0, math.Min(1, v))
}

// domainWarp смещает координаты выборки двумя независимыми полями
type domainWarp struct {
	fx, fy   perlinField
	strength float64
}

func newDomainWarp(seed int64, scale, strength float64) domainWarp {
	return domainWarp{
		fx:       newPerlinField(seed^0x5bd1e995, scale),
		fy:       newPerlinField(seed^0x27d4eb2f, scale),
		strength: strength,
	}
}

// Apply возвращает смещённые координаты
func (w domainWarp) Apply(x, y float64) (float64, float64) {
	dx := (w.fx.At(x, y)*2 - 1) * w.strength
	dy := (w.fy.At(x, y)*2 - 1) * w.strength
	return x + dx, y + dy
}

// gate предикат разброса объектов: поле Перлина задаёт «рощи»,
// хэш-джиттер прореживает их до заданной плотности
type gate struct {
	field     perlinField
	seed      uint64
	threshold float64
	density   float64
}

func newGate(seed int64, scale, threshold, density float64) gate {
	return gate{
		field:     newPerlinField(seed, scale),
		seed:      uint64(seed) * 0x9e3779b97f4a7c15,
		threshold: threshold,
		density:   density,
	}
}

// Pass сообщает, ставится ли объект в ячейке (x, y)
func (g gate) Pass(x, y int) bool {
	if g.density <= 0 {
		return false
	}
	if g.field.At(float64(x)+0.5, float64(y)+0.5) < g.threshold {
		return false
	}
	return hash01(g.seed, int64(x), int64(y)) < g.density
}

func ridge(v float64) float64 {
	return 1 - math.Abs(2*v-1)
}

func valley(v float64) float64 {
	return math.Abs(2*v - 1)
}
