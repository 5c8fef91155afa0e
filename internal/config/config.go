package config

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/somersstack/clier/internal/patternmatch"
)

// Load reads and decodes the pipeline config at path, then validates it.
// path may be YAML, JSON, or TOML; the format is inferred from its
// extension, matching the underlying viper loader.
func Load(path string) (*PipelineConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg PipelineConfig
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks uniqueness of process names, acyclicity of the
// dependsOn graph, and that every declared regex compiles.
func Validate(cfg *PipelineConfig) error {
	seen := make(map[string]bool, len(cfg.Processes))
	for _, p := range cfg.Processes {
		if p.Name == "" {
			return fmt.Errorf("config: process entry with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("config: duplicate process name %q", p.Name)
		}
		seen[p.Name] = true
	}

	for _, p := range cfg.Processes {
		for _, dep := range p.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("config: process %q depends on unknown process %q", p.Name, dep)
			}
		}
	}

	if err := checkAcyclic(cfg.Processes); err != nil {
		return err
	}

	for _, p := range cfg.Processes {
		specs := make([]patternmatch.PatternSpec, 0, len(p.ReadyPatterns)+len(p.EventPatterns))
		for i, re := range p.ReadyPatterns {
			specs = append(specs, patternmatch.PatternSpec{ID: fmt.Sprintf("ready-%d", i), Regex: re})
		}
		for _, ep := range p.EventPatterns {
			specs = append(specs, patternmatch.PatternSpec{ID: ep.ID, Regex: ep.Regex})
		}
		if _, err := patternmatch.Compile(specs); err != nil {
			return fmt.Errorf("config: process %q: %w", p.Name, err)
		}
	}

	return nil
}

// checkAcyclic runs a DFS with recursion-stack tracking over the
// dependsOn graph, reporting the first cycle found.
func checkAcyclic(entries []ProcessEntry) error {
	byName := make(map[string]ProcessEntry, len(entries))
	for _, e := range entries {
		byName[e.Name] = e
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(entries))

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch color[name] {
		case gray:
			return fmt.Errorf("config: dependency cycle detected: %v", append(path, name))
		case black:
			return nil
		}
		color[name] = gray
		for _, dep := range byName[name].DependsOn {
			if err := visit(dep, append(path, name)); err != nil {
				return err
			}
		}
		color[name] = black
		return nil
	}

	for _, e := range entries {
		if err := visit(e.Name, nil); err != nil {
			return err
		}
	}
	return nil
}
