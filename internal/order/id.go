package order

import (
	"fmt"
	"sync/atomic"
	"time"
)

// IDGenerator hands out ORD_YYYYmmdd_HHMMSS_NNNN identifiers.
type IDGenerator struct {
	counter atomic.Uint64
	now     func() time.Time
}

// NewIDGenerator returns a generator using the wall clock.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{now: time.Now}
}

// Next returns the next order ID.
func (g *IDGenerator) Next() string {
	n := g.counter.Add(1)
	return fmt.Sprintf("ORD_%s_%04d", g.now().Format("20060102_150405"), n)
}

var triggerSeq atomic.Uint64

// TriggerID builds IDs for risk-generated and closing orders, e.g.
// SL_BTCUSDT_1700000000_0007. The trailing sequence keeps IDs minted within the same
// second distinct.
func TriggerID(prefix, symbol string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%d_%04d", prefix, symbol, at.Unix(), triggerSeq.Add(1))
}
