package process

import (
	"time"

	gopsutilproc "github.com/shirou/gopsutil/v4/process"

	"github.com/somersstack/clier/internal/metrics"
)

// resourceSampleInterval is how often a running process's CPU/RSS usage is
// polled for the clier_process_cpu_percent / clier_process_memory_rss_bytes
// gauges.
const resourceSampleInterval = 5 * time.Second

// sampleResources polls pid's CPU and memory usage until done is closed or
// the OS process can no longer be found (it exited). Grounded on the
// gopsutil-based ProcessMetricsCollector sampling loop in the pack, trimmed
// to the two gauges this daemon exposes.
func (s *Supervisor) sampleResources(pid int, done <-chan struct{}) {
	proc, err := gopsutilproc.NewProcess(int32(pid))
	if err != nil {
		return
	}

	ticker := time.NewTicker(resourceSampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			metrics.ClearResourceUsage(s.spec.Name)
			return
		case <-ticker.C:
			cpuPct, err := proc.CPUPercent()
			if err != nil {
				metrics.ClearResourceUsage(s.spec.Name)
				return
			}
			memInfo, err := proc.MemoryInfo()
			if err != nil || memInfo == nil {
				continue
			}
			metrics.SetResourceUsage(s.spec.Name, cpuPct, memInfo.RSS)
		}
	}
}
