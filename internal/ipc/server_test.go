package ipc

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"
)

func startTestServer(t *testing.T) (*Server, string, context.CancelFunc) {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "clier.sock")
	s, err := NewServer(sockPath)
	if err != nil {
		t.Fatal(err)
	}
	s.Handle("echo", false, func(ctx context.Context, params []byte, notify Notifier) (any, error) {
		var p map[string]any
		_ = json.Unmarshal(params, &p)
		return p, nil
	})
	s.Handle("tick", true, func(ctx context.Context, params []byte, notify Notifier) (any, error) {
		for i := 0; i < 1000; i++ {
			select {
			case <-ctx.Done():
				return map[string]any{"ticks": i}, nil
			default:
				notify("tick", i)
				time.Sleep(2 * time.Millisecond)
			}
		}
		return map[string]any{"ticks": 1000}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go s.Serve(ctx)
	return s, sockPath, cancel
}

func TestEchoRequestResponse(t *testing.T) {
	_, sockPath, cancel := startTestServer(t)
	defer cancel()

	conn, err := dialRetry(sockPath)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	req := Request{ID: 1, Method: "echo", Params: json.RawMessage(`{"hello":"world"}`)}
	if err := writeFrame(conn, req); err != nil {
		t.Fatal(err)
	}
	frame, err := readFrame(conn)
	if err != nil {
		t.Fatal(err)
	}
	var resp Response
	if err := json.Unmarshal(frame, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
}

func TestUnknownMethodReturnsError(t *testing.T) {
	_, sockPath, cancel := startTestServer(t)
	defer cancel()

	conn, err := dialRetry(sockPath)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	req := Request{ID: 2, Method: "nonexistent"}
	writeFrame(conn, req)
	frame, err := readFrame(conn)
	if err != nil {
		t.Fatal(err)
	}
	var resp Response
	json.Unmarshal(frame, &resp)
	if resp.Error == nil || resp.Error.Code != CodeUnknownMethod {
		t.Fatalf("expected unknown_method error, got %+v", resp)
	}
}

func TestStreamingCancelStopsNotifications(t *testing.T) {
	_, sockPath, cancel := startTestServer(t)
	defer cancel()

	conn, err := dialRetry(sockPath)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	req := Request{ID: 3, Method: "tick"}
	writeFrame(conn, req)

	// read a couple of notifications, then cancel the request; the handler
	// must stop well before its 1000 ticks and send its final response.
	for i := 0; i < 2; i++ {
		if _, err := readFrame(conn); err != nil {
			t.Fatal(err)
		}
	}
	writeFrame(conn, Request{ID: 4, Method: "_cancel", Params: json.RawMessage(`{"id":3}`)})

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	for {
		frame, err := readFrame(conn)
		if err != nil {
			t.Fatalf("no final response after cancel: %v", err)
		}
		var resp Response
		if err := json.Unmarshal(frame, &resp); err != nil {
			t.Fatal(err)
		}
		if resp.Result == nil {
			continue // a notification written before the cancel took effect
		}
		result, _ := resp.Result.(map[string]any)
		if ticks, _ := result["ticks"].(float64); ticks >= 1000 {
			t.Fatalf("expected cancel to stop the stream early, got %+v", resp.Result)
		}
		return
	}
}

func dialRetry(path string) (net.Conn, error) {
	var lastErr error
	for i := 0; i < 50; i++ {
		conn, err := net.Dial("unix", path)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		time.Sleep(10 * time.Millisecond)
	}
	return nil, lastErr
}
