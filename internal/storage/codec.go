package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/annel0/iso-sandbox/internal/iso"
	"github.com/annel0/iso-sandbox/internal/vec"
	"github.com/annel0/iso-sandbox/internal/world"
)

// recordVersion версия схемы сохранённой записи
const recordVersion = 1

// DefaultCompressThreshold размер JSON, начиная с которого запись сжимается zstd
const DefaultCompressThreshold = 64 * 1024

// zstdMagic первые байты кадра zstd
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// CompressedBlock блок в сохранённой записи. Поле, равное значению по умолчанию,
// не записывается (nil). Значения по умолчанию:
//
//	type=cube, palette=default, rotation=0, sprite пустой,
//	walkable=true, climbable=false, interactable=false, destructible=true
type CompressedBlock struct {
	ID           string              `json:"i"`
	Pos          [3]int              `json:"p"`
	Type         *world.BlockType    `json:"t,omitempty"`
	Palette      *world.Palette      `json:"c,omitempty"`
	Rotation     *world.Rotation     `json:"r,omitempty"`
	Sprite       *world.SpriteRegion `json:"s,omitempty"`
	Walkable     *bool               `json:"w,omitempty"`
	Climbable    *bool               `json:"cl,omitempty"`
	Interactable *bool               `json:"in,omitempty"`
	Destructible *bool               `json:"d,omitempty"`
}

// CompressBlock опускает поля со значениями по умолчанию
func CompressBlock(b world.Block) CompressedBlock {
	cb := CompressedBlock{ID: b.ID, Pos: [3]int{b.Pos.X, b.Pos.Y, b.Pos.Z}}
	if b.Type != world.BlockCube {
		t := b.Type
		cb.Type = &t
	}
	if b.Palette != world.PaletteDefault {
		p := b.Palette
		cb.Palette = &p
	}
	if b.Rotation != 0 {
		r := b.Rotation
		cb.Rotation = &r
	}
	if !b.Sprite.IsZero() {
		s := b.Sprite
		cb.Sprite = &s
	}
	cb.Walkable = optionalBool(b.Props.Walkable, true)
	cb.Climbable = optionalBool(b.Props.Climbable, false)
	cb.Interactable = optionalBool(b.Props.Interactable, false)
	cb.Destructible = optionalBool(b.Props.Destructible, true)
	return cb
}

// DecompressBlock восстанавливает блок, подставляя значения по умолчанию
func DecompressBlock(cb CompressedBlock) world.Block {
	b := world.Block{
		ID:      cb.ID,
		Pos:     vec.Vec3{X: cb.Pos[0], Y: cb.Pos[1], Z: cb.Pos[2]},
		Type:    world.BlockCube,
		Palette: world.PaletteDefault,
		Props: world.Properties{
			Walkable:     boolOr(cb.Walkable, true),
			Climbable:    boolOr(cb.Climbable, false),
			Interactable: boolOr(cb.Interactable, false),
			Destructible: boolOr(cb.Destructible, true),
		},
	}
	if cb.Type != nil {
		b.Type = *cb.Type
	}
	if cb.Palette != nil {
		b.Palette = *cb.Palette
	}
	if cb.Rotation != nil {
		b.Rotation = *cb.Rotation
	}
	if cb.Sprite != nil {
		b.Sprite = *cb.Sprite
	}
	return b
}

func optionalBool(v, def bool) *bool {
	if v == def {
		return nil
	}
	return &v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// levelRecord схема записи уровня в хранилище
type levelRecord struct {
	Version     int               `json:"v"`
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Author      string            `json:"author,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	ModifiedAt  time.Time         `json:"modifiedAt"`
	Blocks      []CompressedBlock `json:"blocks"`
	Camera      iso.Camera        `json:"camera"`
	Settings    Settings          `json:"settings"`
}

// EncodeLevel сериализует уровень. Если JSON занимает не меньше threshold байт,
// он дополнительно сжимается zstd. threshold <= 0 отключает сжатие.
func EncodeLevel(l *Level, threshold int) ([]byte, error) {
	rec := levelRecord{
		Version:     recordVersion,
		ID:          l.ID,
		Name:        l.Name,
		Description: l.Description,
		Author:      l.Author,
		CreatedAt:   l.CreatedAt,
		ModifiedAt:  l.ModifiedAt,
		Blocks:      make([]CompressedBlock, len(l.Blocks)),
		Camera:      l.Camera,
		Settings:    l.Settings,
	}
	for i, b := range l.Blocks {
		rec.Blocks[i] = CompressBlock(b)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("сериализация уровня %s: %w", l.ID, err)
	}
	if threshold > 0 && len(data) >= threshold {
		return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/4)), nil
	}
	return data, nil
}

// DecodeLevel разбирает запись, созданную EncodeLevel
func DecodeLevel(data []byte) (*Level, error) {
	if IsCompressed(data) {
		plain, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrInvalidLevelData, err)
		}
		data = plain
	}

	var rec levelRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLevelData, err)
	}
	if rec.Version > recordVersion {
		return nil, fmt.Errorf("%w: неизвестная версия записи %d", ErrInvalidLevelData, rec.Version)
	}

	l := &Level{
		ID:          rec.ID,
		Name:        rec.Name,
		Description: rec.Description,
		Author:      rec.Author,
		CreatedAt:   rec.CreatedAt,
		ModifiedAt:  rec.ModifiedAt,
		Blocks:      make([]world.Block, len(rec.Blocks)),
		Camera:      rec.Camera,
		Settings:    rec.Settings,
	}
	for i, cb := range rec.Blocks {
		l.Blocks[i] = DecompressBlock(cb)
	}
	return l, nil
}

// IsCompressed сообщает, что запись сжата zstd
func IsCompressed(data []byte) bool {
	return bytes.HasPrefix(data, zstdMagic)
}
