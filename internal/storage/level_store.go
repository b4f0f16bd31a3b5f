package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/annel0/iso-sandbox/internal/eventbus"
	"github.com/annel0/iso-sandbox/internal/logging"
	"github.com/annel0/iso-sandbox/internal/observability"
)

// eventSource имя источника событий хранилища
const eventSource = "storage"

// StoreOptions параметры LevelStore
type StoreOptions struct {
	// Namespace префикс ключей коллекции: <namespace>:<id>
	Namespace string
	// SoftCeilingBytes мягкий предел объёма коллекции; 0 отключает проверку
	SoftCeilingBytes int64
	// CompressThreshold размер JSON, с которого запись сжимается zstd
	CompressThreshold int
	// MaxEvictions сколько уровней можно вытеснить ради одного сохранения
	MaxEvictions int
	// Bus шина для событий level.*; nil отключает публикацию
	Bus eventbus.EventBus
	// Registerer реестр метрик; nil отключает регистрацию
	Registerer prometheus.Registerer
}

func (o *StoreOptions) applyDefaults() {
	if o.Namespace == "" {
		o.Namespace = "levels"
	}
	if o.CompressThreshold == 0 {
		o.CompressThreshold = DefaultCompressThreshold
	}
	if o.MaxEvictions <= 0 {
		o.MaxEvictions = 5
	}
}

// LevelStore сохраняет уровни в одной коллекции бэкенда.
// При нехватке места вытесняет давно не изменявшиеся уровни.
type LevelStore struct {
	backend Backend
	opts    StoreOptions
	metrics *storeMetrics
	logger  *logging.Logger
	now     func() time.Time

	mu sync.Mutex // сериализует изменения коллекции
}

// NewLevelStore создаёт хранилище уровней поверх backend
func NewLevelStore(backend Backend, opts StoreOptions) *LevelStore {
	opts.applyDefaults()
	return &LevelStore{
		backend: backend,
		opts:    opts,
		metrics: newStoreMetrics(opts.Registerer),
		logger:  logging.GetStorageLogger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Namespace возвращает префикс коллекции
func (s *LevelStore) Namespace() string {
	return s.opts.Namespace
}

func (s *LevelStore) key(id string) string {
	return s.opts.Namespace + ":" + id
}

func (s *LevelStore) prefix() string {
	return s.opts.Namespace + ":"
}

// evictedRecord вытесненная запись, которую можно вернуть при откате
type evictedRecord struct {
	summary LevelSummary
	key     string
	data    []byte
}

// Save сохраняет уровень, атомарно заменяя прежнюю запись с тем же id.
// При превышении квоты вытесняются другие уровни (сначала самые давние), не более
// MaxEvictions штук. Если место освободить не удалось, вытесненные записи
// восстанавливаются и возвращается исходная ошибка; l при этом не меняется.
// При успехе у l обновляются CreatedAt и ModifiedAt.
func (s *LevelStore) Save(ctx context.Context, l *Level) (err error) {
	ctx, span := observability.StartSpan(ctx, "storage", "storage.level.save")
	defer func() { observability.EndSpan(span, err) }()

	if err := l.Validate(); err != nil {
		s.metrics.saves.WithLabelValues("invalid").Inc()
		return err
	}
	span.SetAttributes(attribute.String("level.id", l.ID), attribute.Int("level.blocks", len(l.Blocks)))

	rec := l.Clone()
	rec.ModifiedAt = s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.ModifiedAt
	}
	data, err := EncodeLevel(rec, s.opts.CompressThreshold)
	if err != nil {
		s.metrics.saves.WithLabelValues("error").Inc()
		return err
	}

	s.mu.Lock()
	evicted, err := s.putWithEviction(ctx, rec.ID, data)
	s.mu.Unlock()

	if err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			s.metrics.saves.WithLabelValues("quota").Inc()
			s.logger.Warn("Уровень %s не сохранён: %v", rec.ID, err)
		} else {
			s.metrics.saves.WithLabelValues("error").Inc()
		}
		return err
	}

	l.CreatedAt = rec.CreatedAt
	l.ModifiedAt = rec.ModifiedAt
	s.metrics.saves.WithLabelValues("ok").Inc()
	s.metrics.recordSize.Observe(float64(len(data)))
	span.SetAttributes(attribute.Int("level.bytes", len(data)), attribute.Int("level.evicted", len(evicted)))

	for _, ev := range evicted {
		s.metrics.evictions.Inc()
		s.publish(ctx, eventbus.EventLevelEvicted, eventbus.LevelEvent{
			LevelID: ev.summary.ID, Name: ev.summary.Name, SizeBytes: len(ev.data), Reason: "quota",
		})
	}
	s.publish(ctx, eventbus.EventLevelSaved, eventbus.LevelEvent{LevelID: rec.ID, Name: rec.Name, SizeBytes: len(data)})
	s.logger.Debug("Уровень %s сохранён: %d байт, блоков %d, вытеснено %d", rec.ID, len(data), len(rec.Blocks), len(evicted))
	return nil
}

// putWithEviction пишет запись, вытесняя другие уровни при нехватке места.
// Вызывается под s.mu.
func (s *LevelStore) putWithEviction(ctx context.Context, id string, data []byte) ([]evictedRecord, error) {
	key := s.key(id)
	var evicted []evictedRecord
	var firstErr error

	for attempt := 0; ; attempt++ {
		err := s.checkSoftCeiling(ctx, key, data)
		if err == nil {
			err = s.backend.Put(ctx, key, data)
		}
		if err == nil {
			return evicted, nil
		}
		if !errors.Is(err, ErrQuotaExceeded) {
			s.restore(evicted)
			return nil, err
		}
		if firstErr == nil {
			firstErr = err
		}
		if attempt >= s.opts.MaxEvictions {
			s.restore(evicted)
			return nil, fmt.Errorf("лимит вытеснений (%d) исчерпан: %w", s.opts.MaxEvictions, firstErr)
		}

		victim, ok, verr := s.evictOldest(ctx, id)
		if verr != nil {
			s.restore(evicted)
			return nil, verr
		}
		if !ok {
			s.restore(evicted)
			return nil, firstErr
		}
		evicted = append(evicted, victim)
	}
}

// checkSoftCeiling проверяет мягкий предел объёма коллекции с учётом замены записи key
func (s *LevelStore) checkSoftCeiling(ctx context.Context, key string, data []byte) error {
	if s.opts.SoftCeilingBytes <= 0 {
		return nil
	}
	used, err := s.collectionUsage(ctx)
	if err != nil {
		return err
	}
	if old, err := s.backend.Get(ctx, key); err == nil {
		used -= recordSize(key, old)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	projected := used + recordSize(key, data)
	if projected > s.opts.SoftCeilingBytes {
		return fmt.Errorf("%w: коллекция займёт %d байт при мягком пределе %d",
			ErrQuotaExceeded, projected, s.opts.SoftCeilingBytes)
	}
	return nil
}

// evictOldest удаляет уровень с наименьшим ModifiedAt, кроме keep
func (s *LevelStore) evictOldest(ctx context.Context, keep string) (evictedRecord, bool, error) {
	records, err := s.scan(ctx)
	if err != nil {
		return evictedRecord{}, false, err
	}

	var victim *evictedRecord
	for i := range records {
		r := &records[i]
		if r.summary.ID == keep {
			continue
		}
		if victim == nil || r.summary.ModifiedAt.Before(victim.summary.ModifiedAt) ||
			(r.summary.ModifiedAt.Equal(victim.summary.ModifiedAt) && r.summary.ID < victim.summary.ID) {
			victim = r
		}
	}
	if victim == nil {
		return evictedRecord{}, false, nil
	}

	if err := s.backend.Delete(ctx, victim.key); err != nil {
		return evictedRecord{}, false, fmt.Errorf("вытеснение %s: %w", victim.summary.ID, err)
	}
	s.logger.Info("Уровень %s (%s) вытеснен для освобождения места", victim.summary.ID, victim.summary.Name)
	return *victim, true, nil
}

// restore возвращает вытесненные записи в обратном порядке
func (s *LevelStore) restore(evicted []evictedRecord) {
	ctx := context.Background()
	for i := len(evicted) - 1; i >= 0; i-- {
		r := evicted[i]
		if err := s.backend.Put(ctx, r.key, r.data); err != nil {
			s.logger.Error("Не удалось восстановить вытесненный уровень %s: %v", r.summary.ID, err)
		}
	}
	if len(evicted) > 0 {
		s.logger.Warn("Сохранение отменено, восстановлено уровней: %d", len(evicted))
	}
}

// scan читает все записи коллекции. Повреждённые записи пропускаются.
func (s *LevelStore) scan(ctx context.Context) ([]evictedRecord, error) {
	keys, err := s.backend.Keys(ctx, s.prefix())
	if err != nil {
		return nil, err
	}
	out := make([]evictedRecord, 0, len(keys))
	for _, k := range keys {
		data, err := s.backend.Get(ctx, k)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		l, err := DecodeLevel(data)
		if err != nil {
			s.logger.Warn("Пропущена повреждённая запись %s: %v", k, err)
			continue
		}
		out = append(out, evictedRecord{summary: l.Summary(len(data)), key: k, data: data})
	}
	return out, nil
}

// collectionUsage суммарный объём записей коллекции
func (s *LevelStore) collectionUsage(ctx context.Context) (int64, error) {
	keys, err := s.backend.Keys(ctx, s.prefix())
	if err != nil {
		return 0, err
	}
	var total int64
	for _, k := range keys {
		data, err := s.backend.Get(ctx, k)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return 0, err
		}
		total += recordSize(k, data)
	}
	return total, nil
}

// Usage возвращает объём коллекции в байтах
func (s *LevelStore) Usage(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collectionUsage(ctx)
}

// Load загружает уровень по id
func (s *LevelStore) Load(ctx context.Context, id string) (l *Level, err error) {
	ctx, span := observability.StartSpan(ctx, "storage", "storage.level.load", attribute.String("level.id", id))
	defer func() { observability.EndSpan(span, err) }()

	data, err := s.backend.Get(ctx, s.key(id))
	if err != nil {
		return nil, fmt.Errorf("уровень %s: %w", id, err)
	}
	return DecodeLevel(data)
}

// Delete удаляет уровень; ErrNotFound если его нет
func (s *LevelStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	key := s.key(id)
	_, err := s.backend.Get(ctx, key)
	if err == nil {
		err = s.backend.Delete(ctx, key)
	}
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("уровень %s: %w", id, err)
	}

	s.publish(ctx, eventbus.EventLevelDeleted, eventbus.LevelEvent{LevelID: id})
	s.logger.Info("Уровень %s удалён", id)
	return nil
}

// List возвращает сводки уровней, новые первыми
func (s *LevelStore) List(ctx context.Context) ([]LevelSummary, error) {
	s.mu.Lock()
	records, err := s.scan(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	list := make([]LevelSummary, len(records))
	for i, r := range records {
		list[i] = r.summary
	}
	sortNewestFirst(list)
	return list, nil
}

// Import разбирает уровень в формате Export, проверяет и сохраняет его.
// Некорректные данные отклоняются до любых изменений коллекции.
func (s *LevelStore) Import(ctx context.Context, data []byte) (*Level, error) {
	l, err := UnmarshalLevel(data)
	if err != nil {
		return nil, err
	}
	if err := s.Save(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// Export возвращает уровень в виде полного JSON без сжатия
func (s *LevelStore) Export(ctx context.Context, id string) ([]byte, error) {
	l, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return MarshalLevel(l)
}

// Exists сообщает, сохранён ли уровень
func (s *LevelStore) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.backend.Get(ctx, s.key(id))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *LevelStore) publish(ctx context.Context, eventType string, payload eventbus.LevelEvent) {
	if s.opts.Bus == nil {
		return
	}
	ev, err := eventbus.NewEnvelope(eventSource, eventType, payload)
	if err == nil {
		err = s.opts.Bus.Publish(ctx, ev)
	}
	if err != nil && !errors.Is(err, eventbus.ErrBusClosed) {
		s.logger.Warn("Событие %s не опубликовано: %v", eventType, err)
	}
}

// Close закрывает бэкенд
func (s *LevelStore) Close() error {
	return s.backend.Close()
}
