package persist

import (
	"testing"
	"time"
)

func TestBatchBufferSizeTrigger(t *testing.T) {
	b := NewBatchBuffer[int]("trades", 3, time.Hour)

	if b.Add(1) {
		t.Fatal("expected no flush trigger at size 1")
	}
	if b.Add(2) {
		t.Fatal("expected no flush trigger at size 2")
	}
	if !b.Add(3) {
		t.Fatal("expected flush trigger at size 3 (== maxSize)")
	}

	flushed := b.Flush()
	if len(flushed) != 3 {
		t.Fatalf("expected 3 flushed records, got %d", len(flushed))
	}
	if b.Len() != 0 {
		t.Fatalf("expected empty buffer after flush, got %d", b.Len())
	}
}

func TestBatchBufferAgeTrigger(t *testing.T) {
	b := NewBatchBuffer[int]("depth_events", 1000, 10*time.Millisecond)
	b.Add(1)

	if b.ShouldFlushAge() {
		t.Fatal("expected no age trigger immediately after add")
	}
	time.Sleep(20 * time.Millisecond)
	if !b.ShouldFlushAge() {
		t.Fatal("expected age trigger after maxAge elapsed")
	}
}

func TestBatchBufferEmptyNeverAgeTriggers(t *testing.T) {
	b := NewBatchBuffer[int]("mark_price", 10, time.Nanosecond)
	if b.ShouldFlushAge() {
		t.Fatal("expected empty buffer to never age-trigger")
	}
}

// TestBatchBufferShutdownFlush models spec scenario 5: on shutdown the
// supervisor flushes every owned buffer regardless of thresholds.
func TestBatchBufferShutdownFlush(t *testing.T) {
	b := NewBatchBuffer[string]("force_orders", 1000, time.Hour)
	b.Add("a")
	b.Add("b")

	// Shutdown flush bypasses both triggers.
	flushed := b.Flush()
	if len(flushed) != 2 {
		t.Fatalf("expected 2 records flushed on shutdown, got %d", len(flushed))
	}
	if b.Len() != 0 {
		t.Fatalf("expected buffer empty post-shutdown-flush, got %d", b.Len())
	}
}

func TestBatchBufferDefaultThresholds(t *testing.T) {
	b := NewBatchBuffer[int]("book_ticker", 0, 0)
	if b.maxSize != 1000 {
		t.Errorf("expected default book_ticker maxSize 1000, got %d", b.maxSize)
	}
	if b.maxAge != 5*time.Second {
		t.Errorf("expected default book_ticker maxAge 5s, got %v", b.maxAge)
	}
}

func TestBatchBufferUnknownTableFallsBackToGenericDefault(t *testing.T) {
	b := NewBatchBuffer[int]("unknown_table", 0, 0)
	if b.maxSize != 500 {
		t.Errorf("expected fallback maxSize 500, got %d", b.maxSize)
	}
	if b.maxAge != 5*time.Second {
		t.Errorf("expected fallback maxAge 5s, got %v", b.maxAge)
	}
}
