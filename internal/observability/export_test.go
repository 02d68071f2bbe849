package observability

import "time"

// Reset drops all recorded samples. Test builds only.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.series = make(map[string]*latencyRing)
}

func (m *Monitor) setClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}
