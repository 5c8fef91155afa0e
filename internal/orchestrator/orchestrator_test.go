package orchestrator

import (
	"testing"
	"time"

	"github.com/somersstack/clier/internal/config"
	"github.com/somersstack/clier/internal/process"
)

func TestTopoOrderRespectsDependencies(t *testing.T) {
	entries := []config.ProcessEntry{
		{Name: "c", DependsOn: []string{"a", "b"}},
		{Name: "a"},
		{Name: "b", DependsOn: []string{"a"}},
	}
	order, err := topoOrder(entries)
	if err != nil {
		t.Fatal(err)
	}
	pos := make(map[string]int, len(order))
	for i, n := range order {
		pos[n] = i
	}
	if pos["a"] > pos["b"] || pos["b"] > pos["c"] {
		t.Fatalf("expected a before b before c, got %+v", order)
	}
}

func TestDependencyGatingHoldsServiceUntilDependencyReady(t *testing.T) {
	cfg := &config.PipelineConfig{
		ProjectName: "demo",
		Processes: []config.ProcessEntry{
			{
				Name:          "a",
				Command:       []string{"/bin/sh", "-c", "echo 'listening on port 3000'; sleep 1"},
				ProcessType:   process.Service,
				ReadyPatterns: []string{`listening on port \d+`},
			},
			{
				Name:        "b",
				Command:     []string{"/bin/sh", "-c", "sleep 1"},
				ProcessType: process.Service,
				DependsOn:   []string{"a"},
			},
		},
	}

	o, err := New(cfg, "")
	if err != nil {
		t.Fatal(err)
	}

	order, err := topoOrder(cfg.Processes)
	if err != nil {
		t.Fatal(err)
	}
	go o.startInOrder(order, false)

	// b must not start until a becomes ready.
	time.Sleep(20 * time.Millisecond)
	if got := o.Supervisor("b").Status().State; got != process.Pending.String() {
		t.Fatalf("expected b to still be pending, got %s", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if o.Supervisor("b").Status().State != process.Pending.String() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := o.Supervisor("b").Status().State; got == process.Pending.String() {
		t.Fatal("expected b to eventually start once a became ready")
	}

	o.shutdownAll()
}
