package monitor

import (
	"context"

	"go.uber.org/zap"

	"leverage-core/internal/risk"
)

// AlertSink delivers a risk alert somewhere outside the process.
type AlertSink interface {
	Name() string
	Send(ctx context.Context, alert risk.RiskAlert) error
}

// LogSink writes alerts to a logger.
type LogSink struct {
	Log *zap.Logger
}

func (s LogSink) Name() string { return "log" }

func (s LogSink) Send(_ context.Context, a risk.RiskAlert) error {
	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}
	fields := []zap.Field{
		zap.String("id", a.ID),
		zap.String("type", string(a.Type)),
		zap.String("level", string(a.Level)),
		zap.String("message", a.Message),
	}
	if sym, err := a.Symbol.Take(); err == nil {
		fields = append(fields, zap.String("symbol", sym))
	}
	if a.Level == risk.LevelCritical {
		log.Error("risk alert", fields...)
	} else {
		log.Warn("risk alert", fields...)
	}
	return nil
}
