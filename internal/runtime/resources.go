package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

const cpuSecondsMetric = "/sched/cpu:seconds"

// resourceTracker samples coarse CPU and memory usage for the status API.
// CPU usage is averaged over the time since the previous snapshot.
type resourceTracker struct {
	mu         sync.Mutex
	sample     []metrics.Sample
	lastCPU    float64
	lastSample time.Time
	numCPU     float64
}

func newResourceTracker() *resourceTracker {
	return &resourceTracker{
		sample: []metrics.Sample{{Name: cpuSecondsMetric}},
		numCPU: float64(runtime.NumCPU()),
	}
}

func (r *resourceTracker) Snapshot() ResourceUsage {
	if r == nil {
		return ResourceUsage{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	metrics.Read(r.sample)
	now := time.Now()

	var usage ResourceUsage
	if v := r.sample[0].Value; v.Kind() == metrics.KindFloat64 {
		cpu := v.Float64()
		if wall := now.Sub(r.lastSample).Seconds(); !r.lastSample.IsZero() && wall > 0 && r.numCPU > 0 {
			usage.CPUPercent = (cpu - r.lastCPU) / wall / r.numCPU * 100
		}
		r.lastCPU = cpu
	}
	r.lastSample = now

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	usage.MemoryBytes = mem.Alloc
	usage.Goroutines = runtime.NumGoroutine()
	return usage
}
