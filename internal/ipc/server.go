package ipc

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/somersstack/clier/internal/metrics"
)

// Notifier pushes asynchronous notifications for a streaming request.
type Notifier func(event string, data any)

// HandlerFunc serves one request. ctx is canceled when the client
// disconnects or explicitly cancels this request id. Streaming methods
// (logs.stream, events.subscribe) call notify repeatedly and return once
// ctx is done.
type HandlerFunc func(ctx context.Context, params []byte, notify Notifier) (any, error)

// DefaultRequestTimeout bounds non-streaming requests per the concurrency
// model's default; streaming methods are exempt and rely solely on
// cancellation.
const DefaultRequestTimeout = 30 * time.Second

// Server accepts connections on a Unix domain socket and dispatches
// length-framed JSON requests to registered handlers.
type Server struct {
	ln       net.Listener
	handlers map[string]HandlerFunc
	// streaming marks methods exempt from DefaultRequestTimeout.
	streaming map[string]bool
}

// NewServer removes any stale socket file at path and listens there.
func NewServer(path string) (*Server, error) {
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	return &Server{ln: ln, handlers: make(map[string]HandlerFunc), streaming: make(map[string]bool)}, nil
}

// Handle registers h for method. streaming exempts the method from the
// default request timeout.
func (s *Server) Handle(method string, streaming bool, h HandlerFunc) {
	s.handlers[method] = h
	s.streaming[method] = streaming
}

// Addr returns the socket's local address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve accepts connections until ctx is canceled or the listener errors.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.ln.Close()
	}()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go s.handleConn(ctx, conn)
	}
}

type connState struct {
	mu      sync.Mutex
	cancels map[int64]context.CancelFunc
}

func (s *Server) handleConn(parent context.Context, conn net.Conn) {
	defer conn.Close()
	connCtx, cancelConn := context.WithCancel(parent)
	defer cancelConn()

	var writeMu sync.Mutex
	cs := &connState{cancels: make(map[int64]context.CancelFunc)}

	for {
		frame, err := readFrame(conn)
		if err != nil {
			cancelConn()
			return
		}
		req, ok := decodeRequest(frame)
		if !ok {
			continue
		}
		go s.dispatch(connCtx, req, conn, &writeMu, cs)
	}
}

func (s *Server) dispatch(connCtx context.Context, req Request, conn net.Conn, writeMu *sync.Mutex, cs *connState) {
	if req.Method == "_cancel" {
		s.handleCancel(req, cs)
		return
	}

	h, ok := s.handlers[req.Method]
	if !ok {
		writeResponse(conn, writeMu, Response{ID: req.ID, Error: &ErrorObj{Code: CodeUnknownMethod, Message: "unknown method: " + req.Method}})
		metrics.IncIPCRequest(req.Method, "error")
		return
	}

	var ctx context.Context
	var cancel context.CancelFunc
	if s.streaming[req.Method] {
		ctx, cancel = context.WithCancel(connCtx)
	} else {
		ctx, cancel = context.WithTimeout(connCtx, DefaultRequestTimeout)
	}
	cs.mu.Lock()
	cs.cancels[req.ID] = cancel
	cs.mu.Unlock()
	defer func() {
		cancel()
		cs.mu.Lock()
		delete(cs.cancels, req.ID)
		cs.mu.Unlock()
	}()

	notify := func(event string, data any) {
		writeResponse(conn, writeMu, Notification{ID: req.ID, Event: event, Data: data})
	}

	start := time.Now()
	result, err := h(ctx, req.Params, notify)
	metrics.ObserveIPCRequestDuration(req.Method, time.Since(start).Seconds())

	if err != nil {
		writeResponse(conn, writeMu, Response{ID: req.ID, Error: toErrorObj(err)})
		metrics.IncIPCRequest(req.Method, "error")
		return
	}
	writeResponse(conn, writeMu, Response{ID: req.ID, Result: result})
	metrics.IncIPCRequest(req.Method, "ok")
}

func (s *Server) handleCancel(req Request, cs *connState) {
	var params struct {
		ID int64 `json:"id"`
	}
	if !decodeParams(req.Params, &params) {
		return
	}
	cs.mu.Lock()
	cancel, ok := cs.cancels[params.ID]
	cs.mu.Unlock()
	if ok {
		cancel()
	}
}

func decodeRequest(frame []byte) (Request, bool) {
	var req Request
	if err := json.Unmarshal(frame, &req); err != nil {
		slog.Warn("ipc: malformed request frame", "err", err)
		return Request{}, false
	}
	return req, true
}

func decodeParams(raw []byte, v any) bool {
	if len(raw) == 0 {
		return true
	}
	return json.Unmarshal(raw, v) == nil
}

func writeResponse(conn net.Conn, mu *sync.Mutex, v any) {
	mu.Lock()
	defer mu.Unlock()
	if err := writeFrame(conn, v); err != nil {
		slog.Warn("ipc: write failed", "err", err)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	return s.ln.Close()
}
