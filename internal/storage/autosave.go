package storage

import (
	"context"
	"sync"
	"time"

	"github.com/annel0/iso-sandbox/internal/logging"
)

// DefaultAutoSaveInterval период автосохранения по умолчанию
const DefaultAutoSaveInterval = 30 * time.Second

// Saveable источник уровня для автосохранения (рабочая сессия редактора)
type Saveable interface {
	// Snapshot возвращает копию текущего уровня и номер его ревизии
	Snapshot() (*Level, uint64)
	// MarkSaved сообщает, что ревизия rev сохранена с указанными временами создания и изменения
	MarkSaved(rev uint64, createdAt, modifiedAt time.Time)
}

// savedRevisioner источник, который сам помнит сохранённую ревизию
// (например, уровень только что загружен из хранилища)
type savedRevisioner interface {
	SavedRevision() uint64
}

// AutoSaveStats счётчики автосохранения
type AutoSaveStats struct {
	Saves    uint64
	Skipped  uint64
	Failures uint64
}

// AutoSaver периодически сохраняет изменённый уровень.
// Явное SaveNow сохраняет сразу и переносит ближайшее плановое сохранение на полный период.
type AutoSaver struct {
	store    *LevelStore
	target   Saveable
	interval time.Duration
	logger   *logging.Logger

	saveMu  sync.Mutex
	lastRev uint64
	saved   bool
	stats   AutoSaveStats

	reset chan struct{}
}

// NewAutoSaver создаёт автосохранение с периодом interval (<= 0: 30 секунд)
func NewAutoSaver(store *LevelStore, target Saveable, interval time.Duration) *AutoSaver {
	if interval <= 0 {
		interval = DefaultAutoSaveInterval
	}
	return &AutoSaver{
		store:    store,
		target:   target,
		interval: interval,
		logger:   logging.GetStorageLogger(),
		reset:    make(chan struct{}, 1),
	}
}

// Interval возвращает период автосохранения
func (a *AutoSaver) Interval() time.Duration {
	return a.interval
}

// Run выполняет плановые сохранения до отмены ctx
func (a *AutoSaver) Run(ctx context.Context) {
	timer := time.NewTimer(a.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.reset:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(a.interval)
		case <-timer.C:
			if _, err := a.save(ctx, false); err != nil {
				a.logger.Warn("Автосохранение не удалось: %v", err)
			}
			timer.Reset(a.interval)
		}
	}
}

// SaveNow сохраняет уровень немедленно, даже если он не менялся
func (a *AutoSaver) SaveNow(ctx context.Context) error {
	_, err := a.save(ctx, true)
	select {
	case a.reset <- struct{}{}:
	default:
	}
	return err
}

// save возвращает true, если запись выполнялась
func (a *AutoSaver) save(ctx context.Context, force bool) (bool, error) {
	a.saveMu.Lock()
	defer a.saveMu.Unlock()

	level, rev := a.target.Snapshot()
	if level == nil || (!force && !a.changed(rev)) {
		a.stats.Skipped++
		return false, nil
	}

	if err := a.store.Save(ctx, level); err != nil {
		a.stats.Failures++
		return true, err
	}
	a.lastRev = rev
	a.saved = true
	a.stats.Saves++
	a.target.MarkSaved(rev, level.CreatedAt, level.ModifiedAt)
	return true, nil
}

func (a *AutoSaver) changed(rev uint64) bool {
	if sr, ok := a.target.(savedRevisioner); ok && sr.SavedRevision() == rev {
		return false
	}
	if a.saved {
		return rev != a.lastRev
	}
	return rev != 0
}

// Stats возвращает счётчики
func (a *AutoSaver) Stats() AutoSaveStats {
	a.saveMu.Lock()
	defer a.saveMu.Unlock()
	return a.stats
}
