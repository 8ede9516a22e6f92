package governor

import (
	"runtime"
	"sync"
	"time"

	"github.com/sipeed/agentclaw/internal/logger"
)

// Severity is the heap-pressure state MemoryGovernor transitions through.
type Severity string

const (
	SeverityNormal   Severity = "normal"
	SeverityElevated Severity = "elevated"
	SeverityCritical Severity = "critical"
)

// MemoryLimits configures the soft/hard heap thresholds that drive
// severity transitions.
type MemoryLimits struct {
	SoftLimitBytes uint64
	HardLimitBytes uint64
	CheckInterval  time.Duration
}

func (l MemoryLimits) withDefaults() MemoryLimits {
	if l.CheckInterval <= 0 {
		l.CheckInterval = 10 * time.Second
	}
	return l
}

// MemoryGovernor samples heap usage and classifies it into a severity,
// invoking onChange whenever the severity transitions so callers can pause
// new work (elevated) or actively shed load (critical).
type MemoryGovernor struct {
	limits MemoryLimits

	mu       sync.Mutex
	severity Severity
	lastHeap uint64

	stopCh chan struct{}
	wg     sync.WaitGroup

	onChange func(from, to Severity, heapBytes uint64)
}

// NewMemory constructs a MemoryGovernor with the given limits.
func NewMemory(limits MemoryLimits, onChange func(from, to Severity, heapBytes uint64)) *MemoryGovernor {
	return &MemoryGovernor{
		limits:   limits.withDefaults(),
		severity: SeverityNormal,
		stopCh:   make(chan struct{}),
		onChange: onChange,
	}
}

// Start begins the sampling ticker.
func (m *MemoryGovernor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		t := time.NewTicker(m.limits.CheckInterval)
		defer t.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-t.C:
				m.sample()
			}
		}
	}()
}

// Stop halts sampling.
func (m *MemoryGovernor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *MemoryGovernor) sample() {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	heap := stats.HeapAlloc

	next := SeverityNormal
	if m.limits.HardLimitBytes > 0 && heap >= m.limits.HardLimitBytes {
		next = SeverityCritical
	} else if m.limits.SoftLimitBytes > 0 && heap >= m.limits.SoftLimitBytes {
		next = SeverityElevated
	}

	m.mu.Lock()
	prev := m.severity
	m.severity = next
	m.lastHeap = heap
	m.mu.Unlock()

	if prev != next {
		logger.WarnCF("governor", "memory severity transition", map[string]interface{}{
			"from":      string(prev),
			"to":        string(next),
			"heapBytes": heap,
		})
		if m.onChange != nil {
			m.onChange(prev, next, heap)
		}
	}
}

// Severity returns the current severity and last-sampled heap size.
func (m *MemoryGovernor) Severity() (Severity, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.severity, m.lastHeap
}

// ShouldPause reports whether new work should stop being claimed — true at
// elevated or critical severity.
func (m *MemoryGovernor) ShouldPause() bool {
	s, _ := m.Severity()
	return s != SeverityNormal
}

// ShouldShedLoad reports whether in-flight work should be actively aborted
// — true only at critical severity.
func (m *MemoryGovernor) ShouldShedLoad() bool {
	s, _ := m.Severity()
	return s == SeverityCritical
}
