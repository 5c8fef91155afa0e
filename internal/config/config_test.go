package config

import "testing"

func TestValidateRejectsDuplicateNames(t *testing.T) {
	cfg := &PipelineConfig{Processes: []ProcessEntry{{Name: "a"}, {Name: "a"}}}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected duplicate name error")
	}
}

func TestValidateRejectsUnknownDependency(t *testing.T) {
	cfg := &PipelineConfig{Processes: []ProcessEntry{{Name: "a", DependsOn: []string{"ghost"}}}}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected unknown dependency error")
	}
}

func TestValidateRejectsCycle(t *testing.T) {
	cfg := &PipelineConfig{Processes: []ProcessEntry{
		{Name: "a", DependsOn: []string{"b"}},
		{Name: "b", DependsOn: []string{"a"}},
	}}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestValidateRejectsBadRegex(t *testing.T) {
	cfg := &PipelineConfig{Processes: []ProcessEntry{{Name: "a", ReadyPatterns: []string{"("}}}}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected invalid regex error")
	}
}

func TestValidateAcceptsWellFormedDAG(t *testing.T) {
	cfg := &PipelineConfig{Processes: []ProcessEntry{
		{Name: "a"},
		{Name: "b", DependsOn: []string{"a"}},
		{Name: "c", DependsOn: []string{"a", "b"}},
	}}
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid DAG to pass, got %v", err)
	}
}
