package client

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/somersstack/clier/internal/ipc"
)

func startServer(t *testing.T) string {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "clier.sock")
	s, err := ipc.NewServer(sockPath)
	if err != nil {
		t.Fatal(err)
	}
	s.Handle("echo", false, func(ctx context.Context, params []byte, notify ipc.Notifier) (any, error) {
		var p map[string]any
		_ = json.Unmarshal(params, &p)
		return p, nil
	})
	s.Handle("boom", false, func(ctx context.Context, params []byte, notify ipc.Notifier) (any, error) {
		return nil, ipc.NotFound("nope")
	})
	s.Handle("count", true, func(ctx context.Context, params []byte, notify ipc.Notifier) (any, error) {
		for i := 0; i < 3; i++ {
			notify("tick", i)
		}
		return map[string]any{"done": true}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.Serve(ctx)
	time.Sleep(20 * time.Millisecond)
	return sockPath
}

func TestCallRoundTrip(t *testing.T) {
	sockPath := startServer(t)
	c, err := Dial(Config{SocketPath: sockPath})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	var out map[string]any
	if err := c.Call(context.Background(), "echo", map[string]any{"x": 1}, &out); err != nil {
		t.Fatal(err)
	}
	if out["x"].(float64) != 1 {
		t.Fatalf("unexpected echo result: %+v", out)
	}
}

func TestCallSurfacesServerError(t *testing.T) {
	sockPath := startServer(t)
	c, err := Dial(Config{SocketPath: sockPath})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	err = c.Call(context.Background(), "boom", nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	ipcErr, ok := err.(*ipc.Error)
	if !ok || ipcErr.Code != ipc.CodeNotFound {
		t.Fatalf("expected not_found ipc error, got %v", err)
	}
}

func TestDialUnreachableSocketFails(t *testing.T) {
	_, err := Dial(Config{SocketPath: "/nonexistent/clier.sock", DialTimeout: 100 * time.Millisecond})
	if err == nil {
		t.Fatal("expected dial failure")
	}
}

func TestStreamDeliversNotifications(t *testing.T) {
	sockPath := startServer(t)
	c, err := Dial(Config{SocketPath: sockPath})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	var ticks []int
	err = c.Stream(context.Background(), "count", nil, func(event string, data json.RawMessage) {
		var v int
		json.Unmarshal(data, &v)
		ticks = append(ticks, v)
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(ticks) != 3 {
		t.Fatalf("expected 3 ticks, got %+v", ticks)
	}
}
