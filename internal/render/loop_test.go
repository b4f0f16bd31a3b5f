package render

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoop_SkipsFramesWhileBusy(t *testing.T) {
	loop := NewLoop(500, func(ctx context.Context) {
		time.Sleep(20 * time.Millisecond)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	loop.Run(ctx)

	stats := loop.Stats()
	assert.GreaterOrEqual(t, stats.Rendered, uint64(1))
	assert.Greater(t, stats.Skipped, uint64(0), "тики во время кадра должны пропускаться")
}

func TestLoop_DefaultRate(t *testing.T) {
	loop := NewLoop(0, func(context.Context) {})
	assert.Equal(t, time.Second/60, loop.interval)
}
