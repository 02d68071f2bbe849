package observability

import (
	"math"
	"sort"
	"time"
)

// LatencyRecord is one (metric, duration) observation.
type LatencyRecord struct {
	At     time.Time
	MS     float64
	Label  string
	Status int
}

// latencyRing keeps the most recent records for one metric. Once full the
// oldest record is overwritten first.
type latencyRing struct {
	records []LatencyRecord
	max     int
	next    int
	filled  bool
}

func newLatencyRing(max int) *latencyRing {
	if max <= 0 {
		max = DefaultBufferSize
	}
	initial := max
	if initial > 256 {
		initial = 256
	}
	return &latencyRing{
		records: make([]LatencyRecord, 0, initial),
		max:     max,
	}
}

func (r *latencyRing) push(rec LatencyRecord) {
	if !r.filled {
		r.records = append(r.records, rec)
		if len(r.records) == r.max {
			r.filled = true
			r.next = 0
		}
		return
	}
	r.records[r.next] = rec
	r.next++
	if r.next >= r.max {
		r.next = 0
	}
}

func (r *latencyRing) len() int { return len(r.records) }

// ordered returns records oldest first.
func (r *latencyRing) ordered() []LatencyRecord {
	out := make([]LatencyRecord, 0, len(r.records))
	if !r.filled {
		return append(out, r.records...)
	}
	out = append(out, r.records[r.next:]...)
	return append(out, r.records[:r.next]...)
}

// since returns records newer than cutoff, oldest first.
func (r *latencyRing) since(cutoff time.Time) []LatencyRecord {
	out := make([]LatencyRecord, 0, len(r.records))
	for _, rec := range r.ordered() {
		if rec.At.After(cutoff) {
			out = append(out, rec)
		}
	}
	return out
}

// Percentiles summarises one metric over a time window.
type Percentiles struct {
	P50   float64 `json:"p50_ms"`
	P95   float64 `json:"p95_ms"`
	P99   float64 `json:"p99_ms"`
	Avg   float64 `json:"avg_ms"`
	Count int     `json:"count"`
}

func summarize(records []LatencyRecord) Percentiles {
	n := len(records)
	if n == 0 {
		return Percentiles{}
	}
	values := make([]float64, n)
	sum := 0.0
	for i, rec := range records {
		values[i] = rec.MS
		sum += rec.MS
	}
	sort.Float64s(values)
	return Percentiles{
		P50:   round2(rankAt(values, 0.50)),
		P95:   round2(rankAt(values, 0.95)),
		P99:   round2(rankAt(values, 0.99)),
		Avg:   round2(sum / float64(n)),
		Count: n,
	}
}

// rankAt indexes the sorted slice at floor(n*p), clamped to the last index.
// There is no interpolation between neighbouring ranks, so small samples give
// a coarse estimate.
func rankAt(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Floor(float64(len(sorted)) * p))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
