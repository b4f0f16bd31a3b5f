package eventbus

import (
	"context"

	"github.com/annel0/iso-sandbox/internal/logging"
)

// StartLoggingListener подписывается на все события и пишет их в лог компонента eventbus.
// Функция неблокирующая.
func StartLoggingListener(ctx context.Context, bus EventBus) (Subscription, error) {
	logger := logging.GetComponentLogger("eventbus")
	sub, err := bus.Subscribe(ctx, Filter{}, func(ctx context.Context, ev *Envelope) {
		var payload LevelEvent
		if err := ev.Decode(&payload); err == nil && payload.LevelID != "" {
			logger.Debug("[EventBus] %s %s level=%s size=%dB", ev.ID, ev.EventType, payload.LevelID, payload.SizeBytes)
			return
		}
		logger.Debug("[EventBus] %s %s src=%s size=%dB", ev.ID, ev.EventType, ev.Source, len(ev.Payload))
	})
	if err != nil {
		return nil, err
	}
	logger.Info("🪵 LoggingListener: подписка на все события активирована")
	return sub, nil
}
