package render

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// LoopStats счётчики цикла кадров
type LoopStats struct {
	Rendered uint64
	Skipped  uint64
}

// Loop вызывает функцию кадра с фиксированной частотой.
// Если предыдущий кадр ещё не завершён, тик пропускается, а не ставится в очередь.
type Loop struct {
	interval time.Duration
	frame    func(ctx context.Context)

	running  atomic.Bool
	rendered atomic.Uint64
	skipped  atomic.Uint64
}

// NewLoop создаёт цикл на fps кадров в секунду (по умолчанию 60)
func NewLoop(fps int, frame func(ctx context.Context)) *Loop {
	if fps <= 0 {
		fps = 60
	}
	return &Loop{
		interval: time.Second / time.Duration(fps),
		frame:    frame,
	}
}

// Run выполняет цикл до отмены контекста и дожидается текущего кадра
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !l.running.CompareAndSwap(false, true) {
				l.skipped.Add(1)
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer l.running.Store(false)
				l.frame(ctx)
				l.rendered.Add(1)
			}()
		}
	}
}

// Stats возвращает счётчики цикла
func (l *Loop) Stats() LoopStats {
	return LoopStats{Rendered: l.rendered.Load(), Skipped: l.skipped.Load()}
}
