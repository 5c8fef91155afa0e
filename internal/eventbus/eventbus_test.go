package eventbus

import (
	"sync"
	"testing"
	"time"
)

func TestDeliversToMatchingSubscriberInOrder(t *testing.T) {
	b := New()
	var mu sync.Mutex
	var got []string

	unsub := b.Subscribe("web:*", func(e Event) {
		mu.Lock()
		got = append(got, e.Name)
		mu.Unlock()
	})
	defer unsub()

	b.Publish(Event{Name: "web:started"})
	b.Publish(Event{Name: "db:started"})
	b.Publish(Event{Name: "web:ready"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if got[0] != "web:started" || got[1] != "web:ready" {
		t.Fatalf("expected FIFO delivery of matching events, got %+v", got)
	}
}

func TestPublishReachesEveryMatchingSubscriber(t *testing.T) {
	b := New()
	var mu sync.Mutex
	var order []string

	b.Subscribe("x", func(e Event) {
		mu.Lock()
		order = append(order, "first")
		mu.Unlock()
	})
	b.Subscribe("x", func(e Event) {
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
	})

	b.Publish(Event{Name: "x"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	})
}

func TestHandlerPanicDoesNotBreakOthers(t *testing.T) {
	b := New()
	var mu sync.Mutex
	delivered := false

	b.Subscribe("x", func(e Event) { panic("boom") })
	b.Subscribe("x", func(e Event) {
		mu.Lock()
		delivered = true
		mu.Unlock()
	})

	b.Publish(Event{Name: "x"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return delivered
	})
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	var mu sync.Mutex
	count := 0

	unsub := b.Subscribe("x", func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	unsub()
	b.Publish(Event{Name: "x"})

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Fatalf("expected no delivery after unsubscribe, got %d", count)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
