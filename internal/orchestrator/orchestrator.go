// Package orchestrator is the central coordinator: it owns one Supervisor
// per configured process, wires pattern-matched events and onEvent rules,
// computes dependency-respecting start order, and routes debounced file
// changes into service restarts.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/somersstack/clier/internal/config"
	"github.com/somersstack/clier/internal/debounce"
	"github.com/somersstack/clier/internal/eventbus"
	"github.com/somersstack/clier/internal/logger"
	"github.com/somersstack/clier/internal/logstore"
	"github.com/somersstack/clier/internal/metrics"
	"github.com/somersstack/clier/internal/process"
	"github.com/somersstack/clier/internal/template"
	"github.com/somersstack/clier/internal/watcher"
)

// Orchestrator composes the daemon's process supervisors, event bus, log
// store, and file watcher for one project.
type Orchestrator struct {
	cfg *config.PipelineConfig

	Bus  *eventbus.Bus
	Logs *logstore.Store

	supervisors map[string]*process.Supervisor
	entries     map[string]config.ProcessEntry
	deb         *debounce.Debouncer
	watch       *watcher.Watcher

	mu     sync.Mutex
	unsubs []func()
}

// New instantiates one Supervisor per configured process, plus the shared
// event bus, log store, and debouncer. logRoot, if non-empty, is the base
// directory under which each process gets its own stdout.log/stderr.log
// subdirectory; with an empty logRoot, only processes whose config sets
// log.dir get on-disk log files (in-memory log store tailing/streaming
// works either way). New does not start anything;
// call Run to begin the pipeline.
func New(cfg *config.PipelineConfig, logRoot string) (*Orchestrator, error) {
	bus := eventbus.New()
	logs := logstore.New(cfg.LogCapacity)

	o := &Orchestrator{
		cfg:         cfg,
		Bus:         bus,
		Logs:        logs,
		supervisors: make(map[string]*process.Supervisor, len(cfg.Processes)),
		entries:     make(map[string]config.ProcessEntry, len(cfg.Processes)),
		deb:         debounce.New(),
	}

	baseVars := template.Vars{
		"project.name":      cfg.ProjectName,
		"current.timestamp": time.Now().Format(time.RFC3339),
	}

	for _, p := range cfg.Processes {
		spec := toProcessSpec(p)
		sup, err := process.New(spec, process.Deps{
			Bus:         bus,
			Logs:        logs,
			ProjectName: cfg.ProjectName,
			BaseVars:    baseVars,
			LogWriters:  processLogWriters(logRoot, p),
		})
		if err != nil {
			return nil, fmt.Errorf("orchestrator: process %q: %w", p.Name, err)
		}
		o.supervisors[p.Name] = sup
		o.entries[p.Name] = p
	}

	o.wireOnEventRules()
	return o, nil
}

// processLogWriters builds the on-disk log-file factory for one process,
// writing fixed stdout.log/stderr.log filenames under the process's
// log.dir, or else its own logRoot/<name> directory. Returns nil if both
// logRoot and log.dir are empty.
func processLogWriters(logRoot string, p config.ProcessEntry) func(name string) (io.WriteCloser, io.WriteCloser, error) {
	if logRoot == "" && p.Log.Dir == "" {
		return nil
	}
	dir := p.Log.Dir
	if dir == "" {
		dir = filepath.Join(logRoot, p.Name)
	}
	cfg := logger.Config{File: logger.FileConfig{
		Dir:        dir,
		MaxSizeMB:  p.Log.MaxSizeMB,
		MaxBackups: p.Log.MaxBackups,
		MaxAgeDays: p.Log.MaxAgeDays,
		Compress:   p.Log.Compress,
	}}
	return func(string) (io.WriteCloser, io.WriteCloser, error) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, nil, err
		}
		return cfg.ProcessWriters("")
	}
}

func toProcessSpec(p config.ProcessEntry) process.Spec {
	return process.Spec{
		Name:                  p.Name,
		Command:               p.Command,
		Cwd:                   p.Cwd,
		Env:                   p.Env,
		ProcessType:           p.ProcessType,
		DependsOn:             p.DependsOn,
		Restart:               p.Restart,
		ReadyPatterns:         p.ReadyPatterns,
		EventPatterns:         p.EventPatterns,
		OnEvent:               p.OnEvent,
		CircuitBreaker:        p.CircuitBreaker,
		ContinueOnFailure:     p.ContinueOnFailure,
		GraceMs:               p.GraceMs,
		SpawnToReadyTimeoutMs: p.SpawnToReadyTimeoutMs,
		SuccessResetMs:        p.SuccessResetMs,
	}
}

// wireOnEventRules subscribes the bus for every declared onEvent rule. The
// action always targets the declaring process's own Supervisor: start,
// stop, and restart map directly; spawn is approximated as a restart
// carrying the triggering event's capture groups as template vars, since
// a Supervisor exclusively owns one child across its lifetime rather than
// spawning ephemeral siblings.
func (o *Orchestrator) wireOnEventRules() {
	for _, p := range o.cfg.Processes {
		p := p
		sup := o.supervisors[p.Name]
		for _, rule := range p.OnEvent {
			rule := rule
			unsub := o.Bus.Subscribe(rule.Event, func(evt eventbus.Event) {
				vars := eventVars(evt)
				for k, v := range rule.EnvOverlay {
					vars["match."+k] = template.Expand(v, vars)
				}
				o.runAction(sup, rule, vars)
			})
			o.mu.Lock()
			o.unsubs = append(o.unsubs, unsub)
			o.mu.Unlock()
		}
	}
}

func (o *Orchestrator) runAction(sup *process.Supervisor, rule process.EventAction, vars template.Vars) {
	switch rule.Action {
	case process.ActionStart:
		if err := sup.Start(vars); err != nil {
			slog.Warn("orchestrator: onEvent start failed", "event", rule.Event, "err", err)
		}
	case process.ActionStop:
		if err := sup.Stop(0); err != nil {
			slog.Warn("orchestrator: onEvent stop failed", "event", rule.Event, "err", err)
		}
	case process.ActionRestart, process.ActionSpawn:
		if err := sup.Restart(vars); err != nil {
			slog.Warn("orchestrator: onEvent restart failed", "event", rule.Event, "err", err)
		}
	}
}

func eventVars(evt eventbus.Event) template.Vars {
	vars := template.Vars{
		"event.source":    evt.ProcessName,
		"event.name":      evt.Name,
		"event.type":      evt.Type,
		"event.timestamp": evt.Timestamp.Format(time.RFC3339),
	}
	for k, v := range evt.Data {
		vars["match."+k] = v
	}
	return vars
}

// Supervisor returns the named process's Supervisor, or nil if unknown.
func (o *Orchestrator) Supervisor(name string) *process.Supervisor {
	return o.supervisors[name]
}

// Names returns every configured process name.
func (o *Orchestrator) Names() []string {
	names := make([]string, 0, len(o.entries))
	for n := range o.entries {
		names = append(names, n)
	}
	return names
}

// Run starts every process in dependency order and blocks until ctx is
// canceled, then stops every process gracefully. startPaused, when true,
// leaves service processes in `pending`, requiring an explicit start.
func (o *Orchestrator) Run(ctx context.Context, startPaused bool) error {
	if err := o.startWatcher(); err != nil {
		return err
	}
	defer func() {
		if o.watch != nil {
			_ = o.watch.Close()
		}
	}()

	order, err := topoOrder(o.cfg.Processes)
	if err != nil {
		return err
	}

	go o.startInOrder(order, startPaused)

	<-ctx.Done()

	o.shutdownAll()
	return nil
}

// startInOrder starts services once all dependencies are ready, and tasks
// once all task dependencies have stopped successfully (or any dependency
// failed with continueOnFailure=true). A task dependency that crashed with
// continueOnFailure=false permanently blocks its dependents: those entries
// (and anything that in turn depends on them) are dropped from the start
// order rather than waited on, per the "remaining starts are skipped" rule.
func (o *Orchestrator) startInOrder(order []string, startPaused bool) {
	remaining := make(map[string]bool, len(order))
	for _, n := range order {
		remaining[n] = true
	}
	blocked := make(map[string]bool, len(order))

	for len(remaining) > 0 {
		progressed := false
		for _, name := range order {
			if !remaining[name] {
				continue
			}
			entry := o.entries[name]
			if o.dependencyBlocked(entry, blocked) {
				blocked[name] = true
				delete(remaining, name)
				progressed = true
				slog.Warn("orchestrator: skipping start, a dependency failed without continueOnFailure", "process", name)
				continue
			}
			if !o.dependenciesSatisfied(entry) {
				continue
			}
			if entry.ProcessType == process.Service && startPaused {
				delete(remaining, name)
				progressed = true
				continue
			}
			sup := o.supervisors[name]
			if err := sup.Start(nil); err != nil {
				slog.Warn("orchestrator: start failed", "process", name, "err", err)
			}
			metrics.IncStart(name)
			delete(remaining, name)
			progressed = true
		}
		if !progressed {
			time.Sleep(50 * time.Millisecond)
		}
	}
}

// dependencyBlocked reports whether entry can never start: a direct task
// dependency already crashed with continueOnFailure=false, or it depends
// (transitively, via blocked) on an entry that was itself dropped for that
// reason.
func (o *Orchestrator) dependencyBlocked(entry config.ProcessEntry, blocked map[string]bool) bool {
	for _, dep := range entry.DependsOn {
		if blocked[dep] {
			return true
		}
		depEntry, ok := o.entries[dep]
		if !ok {
			continue
		}
		if depEntry.ProcessType != process.Service &&
			o.supervisors[dep].Status().State == process.Crashed.String() &&
			!depEntry.ContinueOnFailure {
			return true
		}
	}
	return false
}

func (o *Orchestrator) dependenciesSatisfied(entry config.ProcessEntry) bool {
	for _, dep := range entry.DependsOn {
		depEntry, ok := o.entries[dep]
		if !ok {
			continue
		}
		depState := o.supervisors[dep].Status().State
		if depEntry.ProcessType == process.Service {
			if depState != process.Ready.String() {
				return false
			}
			continue
		}
		if depState != process.Stopped.String() && depState != process.Crashed.String() {
			return false
		}
		if depState == process.Crashed.String() && !depEntry.ContinueOnFailure {
			return false
		}
	}
	return true
}

func (o *Orchestrator) shutdownAll() {
	var wg sync.WaitGroup
	for name, sup := range o.supervisors {
		wg.Add(1)
		go func(name string, sup *process.Supervisor) {
			defer wg.Done()
			_ = sup.Shutdown()
		}(name, sup)
	}
	wg.Wait()
}

func (o *Orchestrator) startWatcher() error {
	if len(o.cfg.Watches) == 0 {
		return nil
	}
	specs := make([]watcher.WatchSpec, len(o.cfg.Watches))
	for i, w := range o.cfg.Watches {
		specs[i] = watcher.WatchSpec{ID: w.ID, Globs: w.Globs, DelayMs: w.DelayMs}
	}
	w, err := watcher.New(o.Bus, specs)
	if err != nil {
		return fmt.Errorf("orchestrator: watcher: %w", err)
	}
	o.watch = w
	w.Start()

	o.Bus.Subscribe("file.changed", o.onFileChanged)
	return nil
}

func (o *Orchestrator) onFileChanged(evt eventbus.Event) {
	watchID := evt.Data["watchSpecId"]
	target, delayMs := o.restartTargetFor(watchID)
	if target == "" {
		return
	}
	key := "restart:" + target
	o.deb.Debounce(key, time.Duration(delayMs)*time.Millisecond, func() {
		sup := o.supervisors[target]
		if sup == nil {
			return
		}
		metrics.IncDebouncedRestart(target)
		if err := sup.Restart(nil); err != nil {
			slog.Warn("orchestrator: debounced restart failed", "process", target, "err", err)
		}
	})
}

func (o *Orchestrator) restartTargetFor(watchID string) (string, int) {
	for _, w := range o.cfg.Watches {
		if w.ID == watchID {
			delay := w.DelayMs
			if delay <= 0 {
				delay = 100
			}
			if w.RestartTarget != "" {
				return w.RestartTarget, delay
			}
			return watchID, delay
		}
	}
	return "", 0
}

// topoOrder returns process names sorted so every dependency precedes its
// dependents. Validate already rejects cycles; this is a plain Kahn's
// algorithm pass.
func topoOrder(entries []config.ProcessEntry) ([]string, error) {
	indeg := make(map[string]int, len(entries))
	deps := make(map[string][]string, len(entries))
	for _, e := range entries {
		if _, ok := indeg[e.Name]; !ok {
			indeg[e.Name] = 0
		}
		for _, d := range e.DependsOn {
			deps[d] = append(deps[d], e.Name)
			indeg[e.Name]++
		}
	}

	var queue []string
	for _, e := range entries {
		if indeg[e.Name] == 0 {
			queue = append(queue, e.Name)
		}
	}

	var order []string
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		for _, dependent := range deps[n] {
			indeg[dependent]--
			if indeg[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) != len(entries) {
		return nil, fmt.Errorf("orchestrator: dependency graph is not acyclic")
	}
	return order, nil
}
