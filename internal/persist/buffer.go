package persist

import (
	"sync"
	"time"
)

// Default flush thresholds per table, spec §4.5.
var defaultMaxSize = map[string]int{
	"book_ticker":    1000,
	"trades":         500,
	"depth_events":   100,
	"orderbook_topn": 200,
	"mark_price":     200,
	"force_orders":   200,
}

var defaultMaxAge = map[string]time.Duration{
	"book_ticker":    5 * time.Second,
	"trades":         3 * time.Second,
	"depth_events":   2 * time.Second,
	"orderbook_topn": 2 * time.Second,
	"mark_price":     5 * time.Second,
	"force_orders":   5 * time.Second,
}

// BatchBuffer holds typed records for one table until a size or age
// threshold is crossed (spec §3.1, §4.5). Its methods are guarded by a
// mutex, so several producers may share one buffer; the writer operates on
// detached slices swapped out at flush time, so the buffer's lock is never
// held during persistence.
type BatchBuffer[T any] struct {
	mu        sync.Mutex
	table     string
	maxSize   int
	maxAge    time.Duration
	records   []T
	createdAt time.Time
}

// NewBatchBuffer creates a buffer for table, using the table's default
// thresholds unless overridden (maxSize/maxAge <= 0 means "use default").
func NewBatchBuffer[T any](table string, maxSize int, maxAge time.Duration) *BatchBuffer[T] {
	if maxSize <= 0 {
		maxSize = defaultMaxSize[table]
		if maxSize == 0 {
			maxSize = 500
		}
	}
	if maxAge <= 0 {
		maxAge = defaultMaxAge[table]
		if maxAge == 0 {
			maxAge = 5 * time.Second
		}
	}
	return &BatchBuffer[T]{table: table, maxSize: maxSize, maxAge: maxAge}
}

// Add appends record and reports whether the size threshold was crossed
// (the caller should flush; age-based flush is driven by a ticker calling
// ShouldFlushAge separately).
func (b *BatchBuffer[T]) Add(record T) (shouldFlush bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.records) == 0 {
		b.createdAt = time.Now()
	}
	b.records = append(b.records, record)
	return len(b.records) >= b.maxSize
}

// ShouldFlushAge reports whether the buffer's oldest record has aged past
// maxAge. Returns false on an empty buffer.
func (b *BatchBuffer[T]) ShouldFlushAge() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.records) == 0 {
		return false
	}
	return time.Since(b.createdAt) >= b.maxAge
}

// Flush detaches and returns the current records, resetting the buffer.
// The caller (the Batch Writer) owns the returned slice exclusively.
func (b *BatchBuffer[T]) Flush() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.records) == 0 {
		return nil
	}
	out := b.records
	b.records = nil
	return out
}

// Len reports the current buffered record count.
func (b *BatchBuffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}
