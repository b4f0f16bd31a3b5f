package world

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/annel0/iso-sandbox/internal/vec"
)

func TestBlockType_Catalog(t *testing.T) {
	assert.True(t, BlockCube.IsKnown())
	assert.True(t, BlockWater.IsKnown())
	assert.False(t, BlockType("lantern").IsKnown())
	assert.True(t, BlockType("lantern").IsCustom(), "неизвестный тег должен считаться пользовательским")
	assert.False(t, BlockType("").IsCustom())
}

func TestRotation_Normalize(t *testing.T) {
	cases := map[Rotation]Rotation{0: 0, 90: 90, 360: 0, -90: 270, 100: 90, 179: 180, 315: 0}
	for in, want := range cases {
		assert.Equal(t, want, in.Normalize(), "угол %d", in)
		assert.True(t, in.Normalize().Valid())
	}
	assert.False(t, Rotation(45).Valid())
}

func TestNewBlock_Defaults(t *testing.T) {
	b := NewBlock(vec.Vec3{X: 1, Y: 2, Z: 3}, "", "")
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, BlockCube, b.Type)
	assert.Equal(t, PaletteDefault, b.Palette)
	assert.Equal(t, DefaultProperties(), b.Props)
	assert.True(t, b.Sprite.IsZero())

	w := NewBlock(vec.Vec3{}, BlockWater, PaletteWater)
	assert.False(t, w.Props.Walkable, "вода непроходима")
	assert.True(t, w.Transparent())

	other := NewBlock(vec.Vec3{}, BlockCube, PaletteStone)
	assert.NotEqual(t, b.ID, other.ID)
}

func TestCloneBlocks_Independent(t *testing.T) {
	orig := []Block{NewBlock(vec.Vec3{}, BlockCube, PaletteGrass)}
	clone := CloneBlocks(orig)
	clone[0].Palette = PaletteSnow
	assert.Equal(t, PaletteGrass, orig[0].Palette)
	assert.Nil(t, CloneBlocks(nil))
}
