package runcoord

import (
	"runtime"
	"time"
)

const defaultMonitorInterval = 10 * time.Second

// systemMonitor samples host/process telemetry on a timer and feeds it
// into a run's system-metric channel. GPU counters are hardware- and
// driver-specific; callers with accelerator telemetry log it themselves
// through LogSystem, and this monitor covers the process-level baseline
// every run gets for free.
type systemMonitor struct {
	run      *Run
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

func startSystemMonitor(run *Run, interval time.Duration) *systemMonitor {
	if interval <= 0 {
		interval = defaultMonitorInterval
	}
	m := &systemMonitor{
		run:      run,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go m.loop()
	return m
}

func (m *systemMonitor) loop() {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sample()
		case <-m.stop:
			return
		}
	}
}

func (m *systemMonitor) sample() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	_ = m.run.LogSystem(map[string]any{
		"mem_alloc_bytes":  float64(ms.Alloc),
		"mem_sys_bytes":    float64(ms.Sys),
		"gc_cycles":        float64(ms.NumGC),
		"goroutines":       float64(runtime.NumGoroutine()),
		"cpu_count":        float64(runtime.NumCPU()),
		"heap_objects":     float64(ms.HeapObjects),
		"gc_pause_ns_last": float64(ms.PauseNs[(ms.NumGC+255)%256]),
	})
}

// Stop signals the monitor to exit and waits for the loop to finish; it
// returns within one poll period.
func (m *systemMonitor) Stop() {
	close(m.stop)
	<-m.done
}
