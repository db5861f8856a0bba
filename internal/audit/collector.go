// Package audit exports every ledger entry to an append-only sink. Entries
// are buffered in memory and written in batches by a background loop so that
// the journal never waits on I/O.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alecgard/agentpay/internal/ledger"
)

// BatchWriter persists a batch of ledger entries.
type BatchWriter interface {
	WriteBatch(ctx context.Context, entries []ledger.Entry) error
}

// Observer receives collector statistics, e.g. for Prometheus.
type Observer interface {
	SetAuditBuffer(n int)
	ObserveAuditFlush(count int, elapsed time.Duration, err error)
}

// Collector buffers ledger entries and flushes them to the writer when the
// buffer reaches batchSize or every flushInterval, whichever comes first.
// It implements ledger.EntryRecorder and is safe for concurrent use.
type Collector struct {
	writer        BatchWriter
	observer      Observer
	buffer        []ledger.Entry
	mu            sync.Mutex
	batchSize     int
	flushInterval time.Duration
	kick          chan struct{}
	done          chan struct{}
	stopOnce      sync.Once
}

var _ ledger.EntryRecorder = (*Collector)(nil)

// NewCollector creates a collector writing to w.
func NewCollector(w BatchWriter, batchSize int, flushInterval time.Duration) *Collector {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Collector{
		writer:        w,
		buffer:        make([]ledger.Entry, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		kick:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// SetObserver sets the optional statistics observer. Call before Start.
func (c *Collector) SetObserver(o Observer) {
	c.observer = o
}

// Start runs the flush loop. It blocks until Stop is called or the context
// is cancelled, and flushes whatever is buffered before returning.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Flush()
		case <-c.kick:
			c.Flush()
		case <-ctx.Done():
			c.Flush()
			return
		case <-c.done:
			c.Flush()
			return
		}
	}
}

// Record buffers an entry. A full buffer wakes the flush loop; Record itself
// never performs I/O because it runs inside the journal lock.
func (c *Collector) Record(e ledger.Entry) {
	c.mu.Lock()
	c.buffer = append(c.buffer, e)
	n := len(c.buffer)
	c.mu.Unlock()

	if c.observer != nil {
		c.observer.SetAuditBuffer(n)
	}
	if n >= c.batchSize {
		select {
		case c.kick <- struct{}{}:
		default:
		}
	}
}

// Flush drains the buffer and writes it. Write errors are logged rather than
// returned; the failed batch is dropped.
func (c *Collector) Flush() {
	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.buffer
	c.buffer = make([]ledger.Entry, 0, c.batchSize)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	err := c.writer.WriteBatch(ctx, batch)
	if err != nil {
		slog.Error("failed to flush audit entries", "count", len(batch), "error", err)
	}
	if c.observer != nil {
		c.observer.ObserveAuditFlush(len(batch), time.Since(start), err)
		c.observer.SetAuditBuffer(c.Len())
	}
}

// Len returns the number of buffered entries.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

// Stop signals the flush loop to exit after a final flush. It is safe to
// call more than once.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
}
