package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second Register call should be a no-op, got %v", err)
	}
}

func TestIncrementHelpersDoNotPanicBeforeRegister(t *testing.T) {
	IncStart("p")
	IncRestart("p")
	IncExit("p", "success")
	RecordStateTransition("p", "ready")
	SetCurrentState("p", []string{"ready", "stopped"}, "ready")
	IncCircuitTrip("p")
	SetCircuitState("p", 1)
	IncDebouncedRestart("p")
	IncIPCRequest("process.start", "ok")
	ObserveIPCRequestDuration("process.start", 0.01)
}
