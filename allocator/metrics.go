package allocator

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// Metrics contains a snapshot of an allocator's usage.
type Metrics struct {
	Size        int     // Bytes in use, markers and padding included
	Capacity    int     // Bytes in the managed block
	Remaining   int     // Bytes still available
	Peak        int     // High-water mark of Size since creation
	Allocations int     // Live allocations
	Utilization float64 // Size / Capacity (0.0-1.0)
}

func newMetrics(size int, capacity int, peak int, allocations int) Metrics {
	m := Metrics{
		Size:        size,
		Capacity:    capacity,
		Remaining:   capacity - size,
		Peak:        peak,
		Allocations: allocations,
	}
	if capacity > 0 {
		m.Utilization = float64(size) / float64(capacity)
	}
	return m
}

// WriteJSON writes the metrics as a JSON object.
func (m Metrics) WriteJSON(w *jwriter.Writer) {
	obj := w.Object()
	m.writeFields(&obj)
	obj.End()
}

func (m Metrics) writeFields(obj *jwriter.ObjectState) {
	obj.Name("size").Int(m.Size)
	obj.Name("capacity").Int(m.Capacity)
	obj.Name("remaining").Int(m.Remaining)
	obj.Name("peak").Int(m.Peak)
	obj.Name("allocations").Int(m.Allocations)
	obj.Name("utilization").Float64(m.Utilization)
}
