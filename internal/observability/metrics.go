package observability

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/annel0/iso-sandbox/internal/logging"
)

// RegisterCollector регистрирует коллектор в reg и возвращает его.
// Если такой коллектор уже зарегистрирован, возвращается существующий, чтобы
// несколько экземпляров компонента делили одни метрики. reg == nil: без регистрации.
func RegisterCollector[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		logging.Warn("Не удалось зарегистрировать метрику: %v", err)
	}
	return c
}
