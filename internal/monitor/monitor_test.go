package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"leverage-core/internal/events"
	"leverage-core/internal/risk"
)

type recordingSink struct {
	mu   sync.Mutex
	sent []risk.RiskAlert
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Send(_ context.Context, a risk.RiskAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, a)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func TestMonitorFiltersByLevel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()
	sink := &recordingSink{}
	metrics := NewSystemMetrics()
	m := &Monitor{Bus: bus, Sinks: []AlertSink{sink, LogSink{}}, MinLevel: risk.LevelHigh, Metrics: metrics}
	m.Start(ctx)

	bus.RiskAlert.Publish(events.RiskAlert{Alert: risk.RiskAlert{ID: "1", Level: risk.LevelMedium}})
	bus.RiskAlert.Publish(events.RiskAlert{Alert: risk.RiskAlert{ID: "2", Level: risk.LevelCritical}})

	assert.Eventually(t, func() bool {
		return sink.count() == 1 && metrics.Snapshot().AlertsRaised == 2
	}, time.Second, 5*time.Millisecond)
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, "2", sink.sent[0].ID)
}

func TestLatencyHistogramStats(t *testing.T) {
	h := NewLatencyHistogram(4)
	for _, v := range []float64{10, 1, 2, 3, 4} {
		h.Record(v)
	}
	s := h.Stats()
	assert.Equal(t, 4, s.Count)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 4.0, s.Max)
	assert.Equal(t, 2.5, s.Avg)
	assert.Equal(t, 3.0, s.P50)
}

func TestSystemMetricsCounters(t *testing.T) {
	m := NewSystemMetrics()
	m.RecordTick(time.Unix(100, 0))
	m.AddSignals(3)
	m.IncrementExecuted()
	m.IncrementFailed()
	m.IncrementRejected()
	m.IncrementErrors()

	s := m.Snapshot()
	assert.Equal(t, uint64(1), s.TicksProcessed)
	assert.Equal(t, uint64(3), s.SignalsGenerated)
	assert.Equal(t, uint64(1), s.OrdersExecuted)
	assert.Equal(t, uint64(1), s.OrdersFailed)
	assert.Equal(t, uint64(1), s.OrdersRejected)
	assert.Equal(t, uint64(1), s.ErrorsCount)
	assert.Equal(t, time.Unix(100, 0), s.LastTick)
}
