package process

// Type distinguishes long-running services from one-shot tasks.
type Type string

const (
	Service Type = "service"
	Task    Type = "task"
)

// RestartMode controls whether and when a supervisor restarts its child
// after exit.
type RestartMode string

const (
	RestartNever     RestartMode = "never"
	RestartOnFailure RestartMode = "onFailure"
	RestartAlways    RestartMode = "always"
)

// RestartPolicy configures automatic restart and back-off.
type RestartPolicy struct {
	Mode          RestartMode
	MaxAttempts   int // 0 means unlimited
	BackoffMs     int
	BackoffFactor float64
	MaxBackoffMs  int
}

// EventPattern matches a stdout/stderr line and emits a named event
// carrying the pattern's named capture groups.
type EventPattern struct {
	ID        string
	Regex     string
	EmitEvent string
}

// ActionKind enumerates onEvent action verbs.
type ActionKind string

const (
	ActionStart   ActionKind = "start"
	ActionStop    ActionKind = "stop"
	ActionRestart ActionKind = "restart"
	ActionSpawn   ActionKind = "spawn"
)

// EventAction binds an inbound event name to an action against the
// declaring process's own Supervisor. TargetProcess and Command are
// decoded from config but the orchestrator does not use them: no action
// targets another process or runs a separate command.
type EventAction struct {
	Event         string
	Action        ActionKind
	TargetProcess string
	Command       []string
	EnvOverlay    map[string]string
}

// CircuitBreakerConfig is the per-process breaker tuning; nil disables the
// breaker for that process (attemptStart always succeeds).
type CircuitBreakerConfig struct {
	Threshold  int
	WindowMs   int
	CooldownMs int
}

const (
	DefaultGraceMs               = 5000
	DefaultSpawnToReadyTimeoutMs = 60000
	DefaultSuccessResetMs        = 30000
	DefaultBackoffFactor         = 2.0
)

// Spec is a fully-resolved, ready-to-spawn description of one supervised
// process. Unlike a pipeline config entry, every template token it carries
// is still present; the Supervisor expands them at spawn time using the
// live event/process/project context.
type Spec struct {
	Name        string
	Command     []string
	Cwd         string
	Env         map[string]string
	ProcessType Type

	DependsOn []string

	Restart       RestartPolicy
	ReadyPatterns []string
	EventPatterns []EventPattern
	OnEvent       []EventAction

	CircuitBreaker *CircuitBreakerConfig

	ContinueOnFailure bool

	GraceMs               int
	SpawnToReadyTimeoutMs int
	SuccessResetMs        int
}

// WithDefaults returns a copy of spec with zero-valued tunables replaced by
// their documented defaults.
func (s Spec) WithDefaults() Spec {
	if s.GraceMs <= 0 {
		s.GraceMs = DefaultGraceMs
	}
	if s.SpawnToReadyTimeoutMs <= 0 {
		s.SpawnToReadyTimeoutMs = DefaultSpawnToReadyTimeoutMs
	}
	if s.SuccessResetMs <= 0 {
		s.SuccessResetMs = DefaultSuccessResetMs
	}
	if s.Restart.BackoffFactor <= 0 {
		s.Restart.BackoffFactor = DefaultBackoffFactor
	}
	return s
}
