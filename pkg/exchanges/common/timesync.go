package common

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ServerClock returns the venue's current time in unix milliseconds.
type ServerClock func(ctx context.Context) (int64, error)

// TimeSync tracks the venue clock offset used to stamp signed requests.
type TimeSync struct {
	server   ServerClock
	interval time.Duration
	log      *zap.Logger

	offset atomic.Int64 // ms, server minus local
	synced atomic.Int64 // unix nanos of the last successful sync
}

// NewTimeSync resyncs every 30 minutes once started.
func NewTimeSync(server ServerClock, log *zap.Logger) *TimeSync {
	if log == nil {
		log = zap.NewNop()
	}
	return &TimeSync{server: server, interval: 30 * time.Minute, log: log}
}

// Start syncs once, then keeps resyncing until ctx is done.
func (ts *TimeSync) Start(ctx context.Context) {
	if err := ts.Sync(ctx); err != nil {
		ts.log.Warn("initial time sync failed", zap.Error(err))
	}
	go func() {
		t := time.NewTicker(ts.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := ts.Sync(ctx); err != nil {
					ts.log.Warn("time sync failed", zap.Error(err))
				}
			}
		}
	}()
}

// Sync takes one measurement. Network delay is assumed symmetric, so the local
// reference is the midpoint of the round trip.
func (ts *TimeSync) Sync(ctx context.Context) error {
	sent := time.Now()
	serverMs, err := ts.server(ctx)
	if err != nil {
		return err
	}
	rtt := time.Since(sent)
	mid := sent.Add(rtt / 2).UnixMilli()

	ts.offset.Store(serverMs - mid)
	ts.synced.Store(time.Now().UnixNano())
	ts.log.Debug("time synced", zap.Int64("offset_ms", serverMs-mid), zap.Duration("rtt", rtt))
	return nil
}

// Synced reports whether at least one measurement succeeded.
func (ts *TimeSync) Synced() bool { return ts.synced.Load() != 0 }

func (ts *TimeSync) Offset() int64 { return ts.offset.Load() }

// Now is the local clock shifted by the measured offset, in ms.
func (ts *TimeSync) Now() int64 { return time.Now().UnixMilli() + ts.offset.Load() }
