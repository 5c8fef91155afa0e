package logstore

import (
	"context"
	"testing"
	"time"
)

func TestTailAndClear(t *testing.T) {
	s := New(100)
	for i := 0; i < 10; i++ {
		s.Append("web", Stdout, "line")
	}
	if got := s.Tail("web", Stdout, 5); len(got) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(got))
	}
	preClearMax := s.MaxSeq("web", Stdout)

	s.Clear("web", Stdout)
	if got := s.Tail("web", Stdout, 10); len(got) != 0 {
		t.Fatalf("expected empty tail after clear, got %d", len(got))
	}

	s.Append("web", Stdout, "new")
	got := s.Tail("web", Stdout, 1)
	if len(got) != 1 || got[0].Seq < preClearMax {
		t.Fatalf("expected new entry seq >= pre-clear max %d, got %+v", preClearMax, got)
	}
}

func TestSequenceStrictlyIncreasing(t *testing.T) {
	s := New(5)
	for i := 0; i < 20; i++ {
		s.Append("p", Stdout, "x")
	}
	entries := s.Tail("p", Stdout, 5)
	for i := 1; i < len(entries); i++ {
		if entries[i].Seq <= entries[i-1].Seq {
			t.Fatalf("sequence not strictly increasing: %+v", entries)
		}
	}
}

func TestStreamBufferedThenLive(t *testing.T) {
	s := New(100)
	s.Append("p", Stdout, "a")
	s.Append("p", Stdout, "b")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := s.Stream(ctx, "p", Stdout, 0)

	first := <-ch
	second := <-ch
	if first.Line != "a" || second.Line != "b" {
		t.Fatalf("expected buffered entries in order, got %q, %q", first.Line, second.Line)
	}

	s.Append("p", Stdout, "c")
	select {
	case e := <-ch:
		if e.Line != "c" {
			t.Fatalf("expected live entry 'c', got %q", e.Line)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for live entry")
	}
}

func TestStreamCancelReleasesPromptly(t *testing.T) {
	s := New(100)
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Stream(ctx, "p", Stdout, 0)
	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel to drain then close")
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("stream did not close promptly on cancel")
	}
}

func TestRingBoundedCapacity(t *testing.T) {
	s := New(3)
	for i := 0; i < 10; i++ {
		s.Append("p", Stdout, "x")
	}
	if got := s.Tail("p", Stdout, 100); len(got) != 3 {
		t.Fatalf("expected ring capped at 3, got %d", len(got))
	}
}
