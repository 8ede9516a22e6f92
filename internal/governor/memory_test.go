package governor

import "testing"

func TestMemoryGovernorStartsNormal(t *testing.T) {
	m := NewMemory(MemoryLimits{}, nil)
	if sev, _ := m.Severity(); sev != SeverityNormal {
		t.Errorf("expected normal at construction, got %s", sev)
	}
	if m.ShouldPause() || m.ShouldShedLoad() {
		t.Error("expected no pause/shed at normal severity")
	}
}

func TestMemoryGovernorElevatedAtSoftLimit(t *testing.T) {
	var from, to Severity
	changed := false
	m := NewMemory(MemoryLimits{SoftLimitBytes: 1}, func(f, tt Severity, _ uint64) {
		from, to = f, tt
		changed = true
	})

	m.sample()

	if !changed {
		t.Fatal("expected a severity transition callback")
	}
	if from != SeverityNormal || to != SeverityElevated {
		t.Errorf("expected normal->elevated, got %s->%s", from, to)
	}
	if !m.ShouldPause() {
		t.Error("expected ShouldPause true at elevated severity")
	}
	if m.ShouldShedLoad() {
		t.Error("expected ShouldShedLoad false at elevated severity")
	}
}

func TestMemoryGovernorCriticalAtHardLimit(t *testing.T) {
	var to Severity
	m := NewMemory(MemoryLimits{SoftLimitBytes: 1, HardLimitBytes: 1}, func(_, tt Severity, _ uint64) {
		to = tt
	})

	m.sample()

	if to != SeverityCritical {
		t.Errorf("expected critical when heap exceeds the hard limit too, got %s", to)
	}
	if !m.ShouldShedLoad() {
		t.Error("expected ShouldShedLoad true at critical severity")
	}
}

func TestMemoryGovernorNoCallbackWithoutTransition(t *testing.T) {
	calls := 0
	m := NewMemory(MemoryLimits{}, func(Severity, Severity, uint64) { calls++ })

	m.sample()
	m.sample()

	if calls != 0 {
		t.Errorf("expected no transition callbacks while heap stays under any limit, got %d calls", calls)
	}
}

func TestMemoryGovernorStartStop(t *testing.T) {
	m := NewMemory(MemoryLimits{CheckInterval: 1}, nil)
	m.Start()
	m.Stop()
}
