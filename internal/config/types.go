// Package config loads and validates a pipeline configuration: the
// declared set of processes and watch rules for a project.
package config

import "github.com/somersstack/clier/internal/process"

// LogConfig controls per-process log file rotation, mirroring the
// daemon-level log rotation settings.
type LogConfig struct {
	Dir        string `mapstructure:"dir"`
	MaxSizeMB  int    `mapstructure:"maxSizeMb"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAgeDays"`
	Compress   bool   `mapstructure:"compress"`
}

// ProcessEntry is one decoded, not-yet-validated process declaration.
type ProcessEntry struct {
	Name        string            `mapstructure:"name"`
	Command     []string          `mapstructure:"command"`
	Cwd         string            `mapstructure:"cwd"`
	Env         map[string]string `mapstructure:"env"`
	ProcessType process.Type      `mapstructure:"type"`

	DependsOn []string `mapstructure:"dependsOn"`

	Restart       process.RestartPolicy     `mapstructure:"restart"`
	ReadyPatterns []string                  `mapstructure:"readyPatterns"`
	EventPatterns []process.EventPattern    `mapstructure:"eventPatterns"`
	OnEvent       []process.EventAction     `mapstructure:"onEvent"`

	CircuitBreaker *process.CircuitBreakerConfig `mapstructure:"circuitBreaker"`

	ContinueOnFailure bool `mapstructure:"continueOnFailure"`

	GraceMs               int `mapstructure:"graceMs"`
	SpawnToReadyTimeoutMs int `mapstructure:"spawnToReadyTimeoutMs"`
	SuccessResetMs        int `mapstructure:"successResetMs"`

	Log LogConfig `mapstructure:"log"`
}

// WatchEntry is one decoded file-watch declaration.
type WatchEntry struct {
	ID      string   `mapstructure:"id"`
	Globs   []string `mapstructure:"globs"`
	DelayMs int      `mapstructure:"delayMs"`
	// RestartTarget names the service to restart when this watch fires; if
	// empty it defaults to matching process names against the watch id.
	RestartTarget string `mapstructure:"restartTarget"`
}

// PipelineConfig is the fully decoded, validated configuration for one
// project.
type PipelineConfig struct {
	ProjectName string         `mapstructure:"projectName"`
	Processes   []ProcessEntry `mapstructure:"processes"`
	Watches     []WatchEntry   `mapstructure:"watches"`
	LogCapacity int            `mapstructure:"logCapacity"`
}
