package strategy

import (
	"sort"

	"leverage-core/pkg/errors"
)

// Kind names a built-in strategy implementation.
type Kind string

const (
	KindMACross Kind = "ma_cross"
	KindRSI     Kind = "rsi"
)

type factory func(s Settings, params map[string]any) Strategy

var factories = map[Kind]factory{
	KindMACross: func(s Settings, p map[string]any) Strategy {
		return NewMACross(s, intParam(p, "fast_period", 10), intParam(p, "slow_period", 30))
	},
	KindRSI: func(s Settings, p map[string]any) Strategy {
		return NewRSIReversion(s, intParam(p, "period", 14), floatParam(p, "oversold", 30), floatParam(p, "overbought", 70))
	},
}

// Kinds lists the registered strategy kinds.
func Kinds() []Kind {
	out := make([]Kind, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Build instantiates the strategy described by d.
func Build(d Definition) (Strategy, error) {
	f, ok := factories[d.Kind]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "unknown strategy kind %q", d.Kind)
	}
	return f(d.Settings, d.Parameters), nil
}

func intParam(p map[string]any, key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func floatParam(p map[string]any, key string, def float64) float64 {
	switch v := p[key].(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	}
	return def
}
