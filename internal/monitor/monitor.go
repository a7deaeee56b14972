package monitor

import (
	"context"

	"go.uber.org/zap"

	"execution-core/internal/events"
)

// AlertSink delivers operator alerts. Delivery channels (chat, mail, pager) live
// outside the core; the default sink writes to the log.
type AlertSink interface {
	Send(message string) error
}

// LogSink is an AlertSink backed by the structured logger.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Send(message string) error {
	s.Logger.Warn("alert", zap.String("message", message))
	return nil
}

// Monitor watches halt events on the bus and forwards them as alerts.
type Monitor struct {
	Bus     *events.Bus
	Sink    AlertSink
	Metrics *Metrics
	Logger  *zap.Logger
}

// Start subscribes to halt events until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	logger := m.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if m.Bus == nil || m.Sink == nil {
		logger.Info("monitor not fully configured; skipping")
		return
	}
	stream, unsub := m.Bus.Subscribe(events.EventRiskHalt, 50)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				if err := m.Sink.Send(formatAlert(msg)); err != nil {
					logger.Warn("alert delivery failed", zap.Error(err))
				}
			}
		}
	}()
}

// Alert is implemented by payloads that know how to describe themselves to an operator.
type Alert interface {
	AlertText() string
}

func formatAlert(msg any) string {
	switch t := msg.(type) {
	case Alert:
		return t.AlertText()
	case string:
		return t
	default:
		return "risk alert triggered"
	}
}
