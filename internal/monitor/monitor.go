package monitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"leverage-core/internal/events"
	"leverage-core/internal/risk"
)

// Monitor forwards risk alerts at or above MinLevel to every sink.
type Monitor struct {
	Bus      *events.Bus
	Sinks    []AlertSink
	MinLevel risk.RiskLevel
	Metrics  *SystemMetrics
	Timeout  time.Duration
	Log      *zap.Logger
}

// Start subscribes to the risk alert topic and returns immediately. The worker stops
// when ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	log := m.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("monitor")
	if m.Bus == nil || len(m.Sinks) == 0 {
		log.Info("monitor not fully configured; skipping")
		return
	}
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	sub, unsub := m.Bus.RiskAlert.Subscribe(64)
	go func() {
		<-ctx.Done()
		unsub()
	}()
	events.Listen(ctx, sub, log, "monitor", func(ev events.RiskAlert) {
		if m.Metrics != nil {
			m.Metrics.AddAlerts(1)
		}
		if ev.Alert.Level.Rank() < m.MinLevel.Rank() {
			return
		}
		for _, sink := range m.Sinks {
			sctx, cancel := context.WithTimeout(ctx, timeout)
			if err := sink.Send(sctx, ev.Alert); err != nil {
				log.Warn("alert delivery failed", zap.String("sink", sink.Name()), zap.Error(err))
			}
			cancel()
		}
	})
}
