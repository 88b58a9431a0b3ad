package manager

import (
	"sync"
	"time"

	"github.com/ahmetb/go-linq/v3"

	"github.com/younglifestyle/equiplink/packet"
)

// History keeps the most recent telemetry samples in arrival order.
type History struct {
	mu      sync.RWMutex
	size    int
	samples []packet.Telemetry
	start   int
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = 256
	}
	return &History{size: size, samples: make([]packet.Telemetry, 0, size)}
}

func (h *History) Add(t packet.Telemetry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.samples) < h.size {
		h.samples = append(h.samples, t)
		return
	}
	h.samples[h.start] = t
	h.start = (h.start + 1) % h.size
}

// Samples returns the buffered samples, oldest first.
func (h *History) Samples() []packet.Telemetry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]packet.Telemetry, 0, len(h.samples))
	out = append(out, h.samples[h.start:]...)
	return append(out, h.samples[:h.start]...)
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.samples)
}

func (h *History) Reset() {
	h.mu.Lock()
	h.samples = h.samples[:0]
	h.start = 0
	h.mu.Unlock()
}

// Summary aggregates a window of samples.
type Summary struct {
	Count          int
	First, Last    time.Time
	MinRPM, MaxRPM int
	AvgRPM         float64
	MaxTemperature float64
	AvgPressure    float64
}

// Summary aggregates every buffered sample. The zero Summary is returned
// when the history is empty.
func (h *History) Summary() Summary {
	samples := h.Samples()
	if len(samples) == 0 {
		return Summary{}
	}

	q := linq.From(samples)
	rpm := q.Select(func(i interface{}) interface{} { return i.(packet.Telemetry).RPM })

	return Summary{
		Count:          q.Count(),
		First:          samples[0].Timestamp,
		Last:           samples[len(samples)-1].Timestamp,
		MinRPM:         rpm.Min().(int),
		MaxRPM:         rpm.Max().(int),
		AvgRPM:         rpm.Average(),
		MaxTemperature: q.Select(func(i interface{}) interface{} { return i.(packet.Telemetry).Temperature }).Max().(float64),
		AvgPressure:    q.Select(func(i interface{}) interface{} { return i.(packet.Telemetry).Pressure }).Average(),
	}
}

// Since returns the samples stamped at or after t.
func (h *History) Since(t time.Time) []packet.Telemetry {
	var out []packet.Telemetry
	linq.From(h.Samples()).
		Where(func(i interface{}) bool { return !i.(packet.Telemetry).Timestamp.Before(t) }).
		ToSlice(&out)
	return out
}

// CountAbove counts samples whose rpm exceeds limit.
func (h *History) CountAbove(limit int) int {
	return linq.From(h.Samples()).
		Where(func(i interface{}) bool { return i.(packet.Telemetry).RPM > limit }).
		Count()
}
