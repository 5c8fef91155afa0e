package debounce

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDebounceCoalescesBurst(t *testing.T) {
	d := New()
	var calls int32
	for i := 0; i < 5; i++ {
		d.Debounce("k", 30*time.Millisecond, func() { atomic.AddInt32(&calls, 1) })
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(80 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly 1 call, got %d", got)
	}
}

func TestDebounceDistinctKeysIndependent(t *testing.T) {
	d := New()
	var a, b int32
	d.Debounce("a", 10*time.Millisecond, func() { atomic.AddInt32(&a, 1) })
	d.Debounce("b", 10*time.Millisecond, func() { atomic.AddInt32(&b, 1) })
	time.Sleep(40 * time.Millisecond)
	if atomic.LoadInt32(&a) != 1 || atomic.LoadInt32(&b) != 1 {
		t.Fatalf("expected both keys to fire once, got a=%d b=%d", a, b)
	}
}

func TestCancel(t *testing.T) {
	d := New()
	var calls int32
	d.Debounce("k", 20*time.Millisecond, func() { atomic.AddInt32(&calls, 1) })
	if !d.IsPending("k") {
		t.Fatalf("expected pending timer")
	}
	d.Cancel("k")
	time.Sleep(40 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Fatalf("expected no call after cancel, got %d", got)
	}
	if d.IsPending("k") {
		t.Fatalf("expected no pending timer after cancel")
	}
}

func TestCancelAll(t *testing.T) {
	d := New()
	var calls int32
	d.Debounce("a", 20*time.Millisecond, func() { atomic.AddInt32(&calls, 1) })
	d.Debounce("b", 20*time.Millisecond, func() { atomic.AddInt32(&calls, 1) })
	d.CancelAll()
	time.Sleep(40 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Fatalf("expected no calls after CancelAll, got %d", got)
	}
}
