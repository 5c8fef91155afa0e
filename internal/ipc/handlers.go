package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/somersstack/clier/internal/breaker"
	"github.com/somersstack/clier/internal/eventbus"
	"github.com/somersstack/clier/internal/logstore"
	"github.com/somersstack/clier/internal/orchestrator"
	"github.com/somersstack/clier/internal/process"
)

// RegisterHandlers wires the full dispatch table against one
// orchestrator. shutdown is invoked by daemon.shutdown. runID identifies
// this daemon process's lifetime (regenerated on every restart), returned
// by daemon.status so a client can tell a redial reached a fresh daemon.
// clearDaemonLogs truncates the daemon's own combined.log/error.log files
// on disk, per the level passed to daemon.logs.clear — a distinct concern
// from logs.clear, which clears a supervised process's in-memory log
// ring via o.Logs.
func RegisterHandlers(s *Server, o *orchestrator.Orchestrator, shutdown func(), runID string, clearDaemonLogs func(level string) error) {
	s.Handle("daemon.status", false, func(ctx context.Context, params []byte, notify Notifier) (any, error) {
		statuses := make([]process.Status, 0, len(o.Names()))
		for _, name := range o.Names() {
			statuses = append(statuses, o.Supervisor(name).Status())
		}
		return map[string]any{"pid": os.Getpid(), "runId": runID, "processes": statuses}, nil
	})

	s.Handle("daemon.shutdown", false, func(ctx context.Context, params []byte, notify Notifier) (any, error) {
		go shutdown()
		return map[string]any{"ok": true}, nil
	})

	s.Handle("daemon.logs.clear", false, func(ctx context.Context, params []byte, notify Notifier) (any, error) {
		var p struct {
			Level string `json:"level"`
		}
		_ = json.Unmarshal(params, &p)
		if clearDaemonLogs == nil {
			return map[string]any{"ok": true}, nil
		}
		if err := clearDaemonLogs(p.Level); err != nil {
			return nil, Internal("daemon.logs.clear: %v", err)
		}
		return map[string]any{"ok": true}, nil
	})

	s.Handle("process.list", false, func(ctx context.Context, params []byte, notify Notifier) (any, error) {
		statuses := make([]process.Status, 0, len(o.Names()))
		for _, name := range o.Names() {
			statuses = append(statuses, o.Supervisor(name).Status())
		}
		return statuses, nil
	})

	s.Handle("process.status", false, withNamedSupervisor(o, func(ctx context.Context, sup *process.Supervisor, params []byte, notify Notifier) (any, error) {
		return sup.Status(), nil
	}))

	s.Handle("process.start", false, withNamedSupervisor(o, func(ctx context.Context, sup *process.Supervisor, params []byte, notify Notifier) (any, error) {
		if err := sup.Start(nil); err != nil {
			return nil, translateSupervisorError(err)
		}
		return sup.Status(), nil
	}))

	s.Handle("process.stop", false, withNamedSupervisor(o, func(ctx context.Context, sup *process.Supervisor, params []byte, notify Notifier) (any, error) {
		if err := sup.Stop(0); err != nil {
			return nil, translateSupervisorError(err)
		}
		return sup.Status(), nil
	}))

	s.Handle("process.restart", false, withNamedSupervisor(o, func(ctx context.Context, sup *process.Supervisor, params []byte, notify Notifier) (any, error) {
		if err := sup.Restart(nil); err != nil {
			return nil, translateSupervisorError(err)
		}
		return sup.Status(), nil
	}))

	s.Handle("process.input", false, func(ctx context.Context, params []byte, notify Notifier) (any, error) {
		var p struct {
			Name          string `json:"name"`
			Data          string `json:"data"`
			AppendNewline bool   `json:"appendNewline"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, InvalidParams("process.input: %v", err)
		}
		sup := o.Supervisor(p.Name)
		if sup == nil {
			return nil, NotFound("process %q not found", p.Name)
		}
		n, err := sup.SendInput([]byte(p.Data), p.AppendNewline)
		if err != nil {
			return nil, InvalidState("process %q: %v", p.Name, err)
		}
		return map[string]any{"bytesWritten": n}, nil
	})

	s.Handle("logs.tail", false, func(ctx context.Context, params []byte, notify Notifier) (any, error) {
		var p struct {
			Name   string `json:"name"`
			Stream string `json:"stream"`
			N      int    `json:"n"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, InvalidParams("logs.tail: %v", err)
		}
		if p.Stream == "" {
			// no stream named: merge both by timestamp, keeping the last n
			outs, errs := o.Logs.Tail(p.Name, logstore.Stdout, p.N), o.Logs.Tail(p.Name, logstore.Stderr, p.N)
			merged := make([]logstore.Entry, 0, len(outs)+len(errs))
			for len(outs) > 0 || len(errs) > 0 {
				if len(errs) == 0 || (len(outs) > 0 && !errs[0].Timestamp.Before(outs[0].Timestamp)) {
					merged, outs = append(merged, outs[0]), outs[1:]
				} else {
					merged, errs = append(merged, errs[0]), errs[1:]
				}
			}
			if p.N > 0 && len(merged) > p.N {
				merged = merged[len(merged)-p.N:]
			}
			return merged, nil
		}
		return o.Logs.Tail(p.Name, logstore.Stream(p.Stream), p.N), nil
	})

	s.Handle("logs.stream", true, func(ctx context.Context, params []byte, notify Notifier) (any, error) {
		var p struct {
			Name    string `json:"name"`
			Stream  string `json:"stream"`
			FromSeq uint64 `json:"fromSeq"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, InvalidParams("logs.stream: %v", err)
		}
		ch := o.Logs.Stream(ctx, p.Name, logstore.Stream(p.Stream), p.FromSeq)
		for entry := range ch {
			notify("log", entry)
		}
		return map[string]any{"ok": true}, nil
	})

	s.Handle("logs.clear", false, func(ctx context.Context, params []byte, notify Notifier) (any, error) {
		var p struct {
			Name string `json:"name"`
		}
		_ = json.Unmarshal(params, &p)
		o.Logs.Clear(p.Name, "")
		return map[string]any{"ok": true}, nil
	})

	s.Handle("events.subscribe", true, func(ctx context.Context, params []byte, notify Notifier) (any, error) {
		var p struct {
			Pattern string `json:"pattern"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, InvalidParams("events.subscribe: %v", err)
		}
		done := make(chan struct{})
		unsub := o.Bus.Subscribe(p.Pattern, func(evt eventbus.Event) {
			select {
			case <-done:
				return
			default:
			}
			notify(evt.Name, evt)
		})
		defer unsub()
		<-ctx.Done()
		close(done)
		return map[string]any{"ok": true}, nil
	})
}

func withNamedSupervisor(o *orchestrator.Orchestrator, fn func(ctx context.Context, sup *process.Supervisor, params []byte, notify Notifier) (any, error)) HandlerFunc {
	return func(ctx context.Context, params []byte, notify Notifier) (any, error) {
		var p struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, InvalidParams("missing or invalid name: %v", err)
		}
		sup := o.Supervisor(p.Name)
		if sup == nil {
			return nil, NotFound("process %q not found", p.Name)
		}
		return fn(ctx, sup, params, notify)
	}
}

func translateSupervisorError(err error) error {
	if rej, ok := err.(*breaker.RejectedError); ok {
		return &Error{
			Code:    CodeCircuitOpen,
			Message: fmt.Sprintf("circuit open, retry after %s", rej.RetryAfter),
			Data:    map[string]any{"retryAfterMs": rej.RetryAfter.Milliseconds()},
		}
	}
	if _, ok := err.(*process.ErrSpawnFailed); ok {
		return &Error{Code: CodeSpawnFailed, Message: err.Error()}
	}
	return Internal("%v", err)
}
