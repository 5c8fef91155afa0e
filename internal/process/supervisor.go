// Package process supervises a single child process: spawning, stdio
// fan-out to the log store / pattern matcher / event bus, ready detection,
// graceful stop with escalation, and restart policy coordinated with a
// circuit breaker.
package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/somersstack/clier/internal/breaker"
	"github.com/somersstack/clier/internal/eventbus"
	"github.com/somersstack/clier/internal/logstore"
	"github.com/somersstack/clier/internal/patternmatch"
	"github.com/somersstack/clier/internal/template"
)

// ErrNotRunning is returned by SendInput when the process is not in a
// state that accepts stdin.
var ErrNotRunning = errors.New("process: not running")

// ErrSpawnFailed wraps an OS-level failure to start the child.
type ErrSpawnFailed struct{ Err error }

func (e *ErrSpawnFailed) Error() string { return fmt.Sprintf("process: spawn failed: %v", e.Err) }
func (e *ErrSpawnFailed) Unwrap() error { return e.Err }

type commandKind int

const (
	cmdStart commandKind = iota
	cmdStop
	cmdRestart
	cmdInput
	cmdShutdown
)

type command struct {
	kind          commandKind
	trigger       template.Vars
	graceMs       int
	data          []byte
	appendNewline bool
	reply         chan error
	written       chan int
}

type lineMsg struct {
	stream logstore.Stream
	line   string
}

type exitMsg struct {
	code int
	err  error
}

// Deps bundles a Supervisor's shared collaborators.
type Deps struct {
	Bus         *eventbus.Bus
	Logs        *logstore.Store
	ProjectName string
	BaseVars    template.Vars
	// LogWriters, if set, opens the on-disk stdout/stderr destinations for
	// a process name; either return value may be nil to skip that stream.
	LogWriters func(name string) (stdout, stderr io.WriteCloser, err error)
}

// Supervisor owns one child across its lifetime.
type Supervisor struct {
	spec Spec
	deps Deps
	cb   *breaker.Breaker

	readyMatcher    *patternmatch.Matcher
	eventMatcher    *patternmatch.Matcher
	eventEmitByID   map[string]string

	cmdChan  chan *command
	exitChan chan exitMsg
	lineChan chan lineMsg
	stopLoop chan struct{}

	mu          sync.Mutex
	state       State
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	pid         int
	restarts    int
	exitCode    int
	startedAt   time.Time
	lastReadyAt time.Time

	stoppingExplicit bool
	restartPending   *template.Vars
	graceTimer       *time.Timer
	halfOpenTimer    *time.Timer

	fileOut io.WriteCloser
	fileErr io.WriteCloser

	resourceDone chan struct{}
}

// New builds a Supervisor for spec and starts its internal command loop.
// Call Shutdown to stop the loop and release resources.
func New(spec Spec, deps Deps) (*Supervisor, error) {
	spec = spec.WithDefaults()

	readySpecs := make([]patternmatch.PatternSpec, len(spec.ReadyPatterns))
	for i, re := range spec.ReadyPatterns {
		readySpecs[i] = patternmatch.PatternSpec{ID: fmt.Sprintf("ready-%d", i), Regex: re}
	}
	readyMatcher, err := patternmatch.Compile(readySpecs)
	if err != nil {
		return nil, fmt.Errorf("process %s: ready patterns: %w", spec.Name, err)
	}

	eventSpecs := make([]patternmatch.PatternSpec, len(spec.EventPatterns))
	emitByID := make(map[string]string, len(spec.EventPatterns))
	for i, ep := range spec.EventPatterns {
		id := ep.ID
		if id == "" {
			id = fmt.Sprintf("event-%d", i)
		}
		eventSpecs[i] = patternmatch.PatternSpec{ID: id, Regex: ep.Regex}
		emitByID[id] = ep.EmitEvent
	}
	eventMatcher, err := patternmatch.Compile(eventSpecs)
	if err != nil {
		return nil, fmt.Errorf("process %s: event patterns: %w", spec.Name, err)
	}

	var cb *breaker.Breaker
	if spec.CircuitBreaker != nil {
		cb = breaker.New(breaker.Config{
			Threshold: spec.CircuitBreaker.Threshold,
			Window:    time.Duration(spec.CircuitBreaker.WindowMs) * time.Millisecond,
			Cooldown:  time.Duration(spec.CircuitBreaker.CooldownMs) * time.Millisecond,
		})
	}

	s := &Supervisor{
		spec:          spec,
		deps:          deps,
		cb:            cb,
		readyMatcher:  readyMatcher,
		eventMatcher:  eventMatcher,
		eventEmitByID: emitByID,
		cmdChan:       make(chan *command, 8),
		exitChan:      make(chan exitMsg, 1),
		lineChan:      make(chan lineMsg, 256),
		stopLoop:      make(chan struct{}),
		state:         Pending,
	}
	go s.run()
	return s, nil
}

func (s *Supervisor) run() {
	for {
		select {
		case <-s.stopLoop:
			return
		case cmd := <-s.cmdChan:
			s.handleCommand(cmd)
		case em := <-s.exitChan:
			s.onExit(em)
		case lm := <-s.lineChan:
			s.handleLine(lm.stream, lm.line)
		}
	}
}

func (s *Supervisor) handleCommand(cmd *command) {
	switch cmd.kind {
	case cmdStart:
		cmd.reply <- s.doStart(cmd.trigger)
	case cmdStop:
		cmd.reply <- s.doStop(cmd.graceMs, false)
	case cmdRestart:
		cmd.reply <- s.doRestart(cmd.trigger)
	case cmdInput:
		n, err := s.doInput(cmd.data, cmd.appendNewline)
		cmd.written <- n
		cmd.reply <- err
	case cmdShutdown:
		_ = s.doStop(s.spec.GraceMs, true)
		close(s.stopLoop)
		cmd.reply <- nil
	}
}

// Start requests the process be spawned. No-op if already starting,
// running, or ready. Returns the breaker's *breaker.RejectedError if the
// circuit is open.
func (s *Supervisor) Start(trigger template.Vars) error {
	return s.send(&command{kind: cmdStart, trigger: trigger})
}

// Stop requests a graceful shutdown: signal, wait graceMs (0 uses the
// spec default), then escalate to a forced kill.
func (s *Supervisor) Stop(graceMs int) error {
	return s.send(&command{kind: cmdStop, graceMs: graceMs})
}

// Restart is equivalent to Stop followed by Start once the exit is
// observed, regardless of restart policy. The new start still goes through
// the circuit breaker and is refused while the breaker is open.
func (s *Supervisor) Restart(trigger template.Vars) error {
	return s.send(&command{kind: cmdRestart, trigger: trigger})
}

// SendInput writes data (plus an optional trailing newline) to the
// child's stdin. Returns ErrNotRunning if the process is not running or
// ready.
func (s *Supervisor) SendInput(data []byte, appendNewline bool) (int, error) {
	cmd := &command{kind: cmdInput, data: data, appendNewline: appendNewline, written: make(chan int, 1)}
	err := s.send(cmd)
	return <-cmd.written, err
}

// Shutdown stops the child (if running) and terminates the supervisor's
// internal loop. The Supervisor must not be used afterward.
func (s *Supervisor) Shutdown() error {
	return s.send(&command{kind: cmdShutdown})
}

func (s *Supervisor) send(cmd *command) error {
	cmd.reply = orNewReplyChan(cmd.reply)
	s.cmdChan <- cmd
	return <-cmd.reply
}

func orNewReplyChan(ch chan error) chan error {
	if ch != nil {
		return ch
	}
	return make(chan error, 1)
}

// Status returns a point-in-time snapshot.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Name:     s.spec.Name,
		State:    s.state.String(),
		PID:      s.pid,
		Restarts: s.restarts,
		ExitCode: s.exitCode,
	}
	if !s.startedAt.IsZero() {
		st.StartedAt = s.startedAt.Format(time.RFC3339)
	}
	return st
}

func (s *Supervisor) doStart(trigger template.Vars) error {
	s.mu.Lock()
	switch s.state {
	case Starting, Running, Ready:
		s.mu.Unlock()
		return nil
	case CircuitOpen:
		// fall through to AttemptStart, which governs half-open probing
	}
	s.mu.Unlock()

	if s.cb != nil {
		if err := s.cb.AttemptStart(); err != nil {
			return err
		}
	}

	vars := template.Merge(s.deps.BaseVars, template.Vars{
		"process.name": s.spec.Name,
		"process.type": string(s.spec.ProcessType),
		"project.name": s.deps.ProjectName,
	})
	vars = template.Merge(vars, trigger)

	argv := template.ExpandAll(s.spec.Command, vars)
	if len(argv) == 0 {
		return fmt.Errorf("process %s: empty command", s.spec.Name)
	}
	cwd := template.Expand(s.spec.Cwd, vars)

	env := os.Environ()
	for k, v := range s.spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, template.Expand(v, vars)))
	}
	env = append(env, childEnvOverlay(vars)...)

	cmd := exec.Command(argv[0], argv[1:]...)
	if cwd != "" {
		cmd.Dir = cwd
	}
	cmd.Env = env
	configureSysProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return s.recordSpawnFailure(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return s.recordSpawnFailure(err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return s.recordSpawnFailure(err)
	}

	if err := cmd.Start(); err != nil {
		return s.recordSpawnFailure(err)
	}

	var fileOut, fileErr io.WriteCloser
	if s.deps.LogWriters != nil {
		fileOut, fileErr, err = s.deps.LogWriters(s.spec.Name)
		if err != nil {
			slog.Warn("could not open on-disk log files", "process", s.spec.Name, "err", err)
		}
	}

	resourceDone := make(chan struct{})

	s.mu.Lock()
	s.cmd = cmd
	s.stdin = stdin
	s.pid = cmd.Process.Pid
	s.startedAt = time.Now()
	s.state = Starting
	s.stoppingExplicit = false
	s.fileOut = fileOut
	s.fileErr = fileErr
	s.resourceDone = resourceDone
	s.mu.Unlock()

	go s.pump(stdout, logstore.Stdout, fileOut)
	go s.pump(stderr, logstore.Stderr, fileErr)
	go s.waitForExit(cmd)
	go s.sampleResources(cmd.Process.Pid, resourceDone)

	s.transitionTo(Running)
	s.emit(s.spec.Name+":started", "success", nil)

	if len(s.spec.ReadyPatterns) == 0 {
		s.transitionTo(Ready)
		s.mu.Lock()
		s.lastReadyAt = time.Now()
		s.mu.Unlock()
		s.emit(s.spec.Name+":ready", "success", nil)
	} else {
		s.scheduleSpawnToReadyWarning()
	}

	return nil
}

func (s *Supervisor) recordSpawnFailure(err error) error {
	if s.cb != nil {
		s.cb.RecordFailure()
	}
	s.emit(s.spec.Name+":crashed", "error", map[string]string{"reason": err.Error()})
	return &ErrSpawnFailed{Err: err}
}

func (s *Supervisor) scheduleSpawnToReadyWarning() {
	timeout := time.Duration(s.spec.SpawnToReadyTimeoutMs) * time.Millisecond
	name := s.spec.Name
	time.AfterFunc(timeout, func() {
		s.mu.Lock()
		state := s.state
		s.mu.Unlock()
		if state == Running {
			slog.Warn("process did not reach ready before timeout", "process", name, "timeoutMs", s.spec.SpawnToReadyTimeoutMs)
		}
	})
}

func (s *Supervisor) pump(r io.Reader, stream logstore.Stream, fileW io.WriteCloser) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := trimCR(scanner.Text())
		if fileW != nil {
			fmt.Fprintln(fileW, line)
		}
		select {
		case s.lineChan <- lineMsg{stream: stream, line: line}:
		case <-s.stopLoop:
			return
		}
	}
}

func trimCR(s string) string {
	if len(s) > 0 && s[len(s)-1] == '\r' {
		return s[:len(s)-1]
	}
	return s
}

func (s *Supervisor) waitForExit(cmd *exec.Cmd) {
	err := cmd.Wait()
	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	select {
	case s.exitChan <- exitMsg{code: code, err: err}:
	case <-s.stopLoop:
	}
}

func (s *Supervisor) handleLine(stream logstore.Stream, line string) {
	s.deps.Logs.Append(s.spec.Name, stream, line)

	for _, m := range s.eventMatcher.Match(line) {
		eventName := s.eventEmitByID[m.PatternID]
		if eventName == "" {
			continue
		}
		s.emit(eventName, "custom", m.Captures)
	}

	streamEvent := string(stream)
	s.emit(s.spec.Name+":"+streamEvent, streamEvent, map[string]string{"line": line})

	s.mu.Lock()
	isRunning := s.state == Running
	s.mu.Unlock()
	if isRunning && s.readyMatcher.Any(line) {
		s.transitionTo(Ready)
		s.mu.Lock()
		s.lastReadyAt = time.Now()
		s.mu.Unlock()
		s.emit(s.spec.Name+":ready", "success", nil)
	}
}

func (s *Supervisor) doStop(graceMs int, shuttingDown bool) error {
	s.mu.Lock()
	switch s.state {
	case Pending, Stopped, Crashed, CircuitOpen:
		s.mu.Unlock()
		return nil
	}
	if graceMs <= 0 {
		graceMs = s.spec.GraceMs
	}
	s.state = Stopping
	s.stoppingExplicit = true
	pid := s.pid
	s.mu.Unlock()

	if err := signalGroup(pid, terminateSignal()); err != nil {
		slog.Warn("process: failed to send terminate signal", "process", s.spec.Name, "err", err)
	}

	timer := time.AfterFunc(time.Duration(graceMs)*time.Millisecond, func() {
		s.mu.Lock()
		stillStopping := s.state == Stopping
		p := s.pid
		s.mu.Unlock()
		if stillStopping {
			_ = signalGroup(p, killSignal())
		}
	})
	s.mu.Lock()
	s.graceTimer = timer
	s.mu.Unlock()

	if shuttingDown {
		// best-effort: give the process a bounded window to exit before the
		// loop itself is torn down by the caller.
		deadline := time.Now().Add(time.Duration(graceMs)*time.Millisecond + 500*time.Millisecond)
		for time.Now().Before(deadline) {
			if !processAlive(pid) {
				break
			}
			time.Sleep(20 * time.Millisecond)
		}
	}
	return nil
}

func (s *Supervisor) doRestart(trigger template.Vars) error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state == Pending || state == Stopped || state == Crashed || state == CircuitOpen {
		return s.doStart(trigger)
	}

	s.mu.Lock()
	s.restartPending = &trigger
	s.mu.Unlock()
	return s.doStop(s.spec.GraceMs, false)
}

func (s *Supervisor) doInput(data []byte, appendNewline bool) (int, error) {
	s.mu.Lock()
	state := s.state
	stdin := s.stdin
	s.mu.Unlock()

	if state != Running && state != Ready {
		return 0, ErrNotRunning
	}
	if stdin == nil {
		return 0, ErrNotRunning
	}
	n, err := stdin.Write(data)
	if err != nil {
		return n, err
	}
	if appendNewline {
		if _, err := stdin.Write([]byte("\n")); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *Supervisor) onExit(em exitMsg) {
	s.mu.Lock()
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	explicit := s.stoppingExplicit
	s.stoppingExplicit = false
	wasReadyFor := time.Duration(0)
	if !s.lastReadyAt.IsZero() {
		wasReadyFor = time.Since(s.lastReadyAt)
	}
	restartTrigger := s.restartPending
	s.restartPending = nil
	s.exitCode = em.code
	s.cmd = nil
	s.stdin = nil
	s.pid = 0
	fileOut, fileErr := s.fileOut, s.fileErr
	s.fileOut, s.fileErr = nil, nil
	resourceDone := s.resourceDone
	s.resourceDone = nil
	s.mu.Unlock()

	if fileOut != nil {
		_ = fileOut.Close()
	}
	if fileErr != nil {
		_ = fileErr.Close()
	}
	if resourceDone != nil {
		close(resourceDone)
	}

	failed := em.code != 0

	s.emit(s.spec.Name+":exit", exitEventType(failed), map[string]string{"code": strconv.Itoa(em.code)})

	if restartTrigger != nil {
		s.transitionTo(Stopped)
		_ = s.doStart(*restartTrigger)
		return
	}

	if explicit {
		s.transitionTo(Stopped)
		return
	}

	countsAsFailure := failed && !(s.spec.ProcessType == Task && em.code == 0)
	if s.spec.ProcessType == Task && em.code == 0 {
		countsAsFailure = false
	}

	if s.cb != nil {
		if countsAsFailure {
			s.cb.RecordFailure()
		} else {
			s.cb.RecordSuccess()
		}
		if s.cb.State() == breaker.Open {
			s.transitionTo(CircuitOpen)
			s.emit(s.spec.Name+":crashed", "crashed", map[string]string{"code": strconv.Itoa(em.code)})
			s.scheduleHalfOpenProbe()
			return
		}
	}

	if !countsAsFailure {
		s.transitionTo(Stopped)
		return
	}

	s.transitionTo(Crashed)
	s.emit(s.spec.Name+":crashed", "crashed", map[string]string{"code": strconv.Itoa(em.code)})

	if wasReadyFor > time.Duration(s.spec.SuccessResetMs)*time.Millisecond {
		s.mu.Lock()
		s.restarts = 0
		s.mu.Unlock()
	}

	if !s.restartAllowed() {
		return
	}

	s.mu.Lock()
	s.restarts++
	attempt := s.restarts
	s.mu.Unlock()

	delay := backoffDelay(s.spec.Restart, attempt)
	time.AfterFunc(delay, func() {
		s.cmdChan <- &command{kind: cmdStart, trigger: template.Vars{}, reply: make(chan error, 1)}
	})
}

func (s *Supervisor) restartAllowed() bool {
	if s.spec.Restart.Mode == RestartNever || s.spec.Restart.Mode == "" {
		return false
	}
	if s.spec.Restart.MaxAttempts > 0 {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.restarts < s.spec.Restart.MaxAttempts
	}
	return true
}

// scheduleHalfOpenProbe posts a start command onto cmdChan once the breaker's
// cooldown elapses, the same command queue every other state transition
// goes through (see onExit's backoff timer above) — doStart must never be
// called directly off the command loop, or this timer's spawn could race a
// concurrent client-initiated start.
func (s *Supervisor) scheduleHalfOpenProbe() {
	cooldown := time.Duration(s.spec.CircuitBreaker.CooldownMs) * time.Millisecond
	time.AfterFunc(cooldown, func() {
		s.mu.Lock()
		stillOpen := s.state == CircuitOpen
		s.mu.Unlock()
		if stillOpen && s.restartAllowed() {
			s.cmdChan <- &command{kind: cmdStart, trigger: template.Vars{}, reply: make(chan error, 1)}
		}
	})
}

func exitEventType(failed bool) string {
	if failed {
		return "error"
	}
	return "success"
}

func backoffDelay(policy RestartPolicy, attempt int) time.Duration {
	base := policy.BackoffMs
	if base <= 0 {
		base = 1000
	}
	factor := policy.BackoffFactor
	if factor <= 0 {
		factor = DefaultBackoffFactor
	}
	maxMs := policy.MaxBackoffMs
	delayMs := float64(base)
	for i := 1; i < attempt; i++ {
		delayMs *= factor
	}
	if maxMs > 0 && delayMs > float64(maxMs) {
		delayMs = float64(maxMs)
	}
	return time.Duration(delayMs) * time.Millisecond
}

func (s *Supervisor) transitionTo(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// childEnvOverlay maps the known dotted template variables onto the
// SCREAMING_SNAKE_CASE environment variables the spawned process receives,
// per the daemon's external interface contract.
func childEnvOverlay(vars template.Vars) []string {
	mapping := map[string]string{
		"event.source":       "EVENT_SOURCE",
		"event.name":         "EVENT_NAME",
		"event.type":         "EVENT_TYPE",
		"event.timestamp":    "EVENT_TIMESTAMP",
		"process.name":       "PROCESS_NAME",
		"process.type":       "PROCESS_TYPE",
		"project.name":       "PROJECT_NAME",
		"current.timestamp":  "CURRENT_TIMESTAMP",
	}
	var env []string
	for dotted, envKey := range mapping {
		if v, ok := vars[dotted]; ok && v != "" {
			env = append(env, envKey+"="+v)
		}
	}
	return env
}

func (s *Supervisor) emit(name, eventType string, data map[string]string) {
	if s.deps.Bus == nil {
		return
	}
	s.deps.Bus.Publish(eventbus.Event{
		Name:        name,
		ProcessName: s.spec.Name,
		Type:        eventType,
		Data:        data,
	})
}
