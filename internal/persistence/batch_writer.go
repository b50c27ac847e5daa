package persistence

import (
	"database/sql"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"leverage-core/internal/monitor"
	"leverage-core/pkg/errors"
)

// WriteOp is one parameterised statement queued for the next batch.
type WriteOp struct {
	Table string
	Query string
	Args  []any
}

// BatchWriter queues writes and commits them in one transaction per flush. A flush
// happens every interval, when maxSize ops are queued, on Flush and on Close. Queued
// writes never block on the database.
type BatchWriter struct {
	db       *sql.DB
	log      *zap.Logger
	latency  *monitor.LatencyHistogram
	maxSize  int
	interval time.Duration

	mu    sync.Mutex
	queue []WriteOp

	flushMu   sync.Mutex
	kick      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	writes    atomic.Uint64
	batches   atomic.Uint64
	failures  atomic.Uint64
	dropped   atomic.Uint64
	lastSize  atomic.Int64
	lastFlush atomic.Int64
}

type BatchWriterMetrics struct {
	TotalWrites   uint64    `json:"total_writes"`
	TotalBatches  uint64    `json:"total_batches"`
	TotalErrors   uint64    `json:"total_errors"`
	DroppedWrites uint64    `json:"dropped_writes"`
	LastBatchSize int       `json:"last_batch_size"`
	LastFlushTime time.Time `json:"last_flush_time"`
	Pending       int       `json:"pending"`
}

type BatchOption func(*BatchWriter)

// WithLatency records every flush duration into h.
func WithLatency(h *monitor.LatencyHistogram) BatchOption {
	return func(bw *BatchWriter) { bw.latency = h }
}

// NewBatchWriter starts the background flusher. maxSize <= 0 uses 50 and
// interval <= 0 uses 500ms.
func NewBatchWriter(db *sql.DB, maxSize int, interval time.Duration, log *zap.Logger, opts ...BatchOption) *BatchWriter {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	bw := &BatchWriter{
		db:       db,
		log:      log.Named("batch_writer"),
		maxSize:  maxSize,
		interval: interval,
		queue:    make([]WriteOp, 0, maxSize),
		kick:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(bw)
	}
	bw.wg.Add(1)
	go bw.loop()
	return bw
}

// Write queues op. Reaching maxSize wakes the flusher.
func (bw *BatchWriter) Write(op WriteOp) {
	bw.mu.Lock()
	bw.queue = append(bw.queue, op)
	full := len(bw.queue) >= bw.maxSize
	bw.mu.Unlock()

	if full {
		select {
		case bw.kick <- struct{}{}:
		default:
		}
	}
}

func (bw *BatchWriter) WriteQuery(table, query string, args ...any) {
	bw.Write(WriteOp{Table: table, Query: query, Args: args})
}

// Flush commits everything queued so far. A failed batch is rolled back and dropped.
func (bw *BatchWriter) Flush() error {
	bw.flushMu.Lock()
	defer bw.flushMu.Unlock()

	bw.mu.Lock()
	ops := bw.queue
	bw.queue = make([]WriteOp, 0, bw.maxSize)
	bw.mu.Unlock()
	if len(ops) == 0 {
		return nil
	}

	if bw.latency != nil {
		defer monitor.NewTimer(bw.latency).Stop()
	}
	bw.writes.Add(uint64(len(ops)))
	bw.batches.Add(1)
	bw.lastSize.Store(int64(len(ops)))
	bw.lastFlush.Store(time.Now().UnixNano())

	if err := bw.commit(ops); err != nil {
		bw.failures.Add(1)
		bw.dropped.Add(uint64(len(ops)))
		return err
	}
	bw.log.Debug("batch committed", zap.Int("ops", len(ops)))
	return nil
}

// commit runs ops in one transaction, preparing each distinct query once.
func (bw *BatchWriter) commit(ops []WriteOp) error {
	tx, err := bw.db.Begin()
	if err != nil {
		return errors.Wrap(errors.ErrCodeUnknown, "begin batch", err)
	}
	stmts := make(map[string]*sql.Stmt)
	defer func() {
		for _, st := range stmts {
			st.Close()
		}
	}()

	for _, op := range ops {
		st, ok := stmts[op.Query]
		if !ok {
			if st, err = tx.Prepare(op.Query); err != nil {
				_ = tx.Rollback()
				bw.log.Error("batch rolled back", zap.String("table", op.Table), zap.Int("ops", len(ops)), zap.Error(err))
				return errors.Wrapf(errors.ErrCodeUnknown, err, "prepare write to %s", op.Table)
			}
			stmts[op.Query] = st
		}
		if _, err := st.Exec(op.Args...); err != nil {
			_ = tx.Rollback()
			bw.log.Error("batch rolled back", zap.String("table", op.Table), zap.Int("ops", len(ops)), zap.Error(err))
			return errors.Wrapf(errors.ErrCodeUnknown, err, "write to %s", op.Table)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeUnknown, "commit batch", err)
	}
	return nil
}

func (bw *BatchWriter) loop() {
	defer bw.wg.Done()
	ticker := time.NewTicker(bw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-bw.kick:
		case <-bw.done:
			if err := bw.Flush(); err != nil {
				bw.log.Warn("final flush failed", zap.Error(err))
			}
			return
		}
		if err := bw.Flush(); err != nil {
			bw.log.Warn("flush failed", zap.Error(err))
		}
	}
}

// Pending is the number of queued, uncommitted writes.
func (bw *BatchWriter) Pending() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.queue)
}

func (bw *BatchWriter) Metrics() BatchWriterMetrics {
	m := BatchWriterMetrics{
		TotalWrites:   bw.writes.Load(),
		TotalBatches:  bw.batches.Load(),
		TotalErrors:   bw.failures.Load(),
		DroppedWrites: bw.dropped.Load(),
		LastBatchSize: int(bw.lastSize.Load()),
		Pending:       bw.Pending(),
	}
	if ns := bw.lastFlush.Load(); ns > 0 {
		m.LastFlushTime = time.Unix(0, ns)
	}
	return m
}

// Close stops the flusher after a final flush. Safe to call more than once.
func (bw *BatchWriter) Close() error {
	bw.closeOnce.Do(func() { close(bw.done) })
	bw.wg.Wait()
	return nil
}
