package manager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/younglifestyle/equiplink/packet"
)

func sample(base time.Time, sec, rpm int, temp, pressure float64) packet.Telemetry {
	return packet.Telemetry{
		Timestamp:   base.Add(time.Duration(sec) * time.Second),
		Mode:        "A",
		SetValue:    100,
		Temperature: temp,
		Pressure:    pressure,
		RPM:         rpm,
	}
}

func TestHistoryRingOrder(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		h.Add(sample(base, i, 1000+i, 25, 1))
	}

	got := h.Samples()
	if len(got) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(got))
	}
	for i, s := range got {
		assert.Equal(t, 1002+i, s.RPM)
	}
}

func TestHistorySummary(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h := NewHistory(10)

	assert.Equal(t, Summary{}, h.Summary())

	h.Add(sample(base, 0, 1000, 25.0, 1.00))
	h.Add(sample(base, 1, 1100, 27.5, 1.20))
	h.Add(sample(base, 2, 900, 26.0, 1.10))

	sum := h.Summary()
	assert.Equal(t, 3, sum.Count)
	assert.Equal(t, base, sum.First)
	assert.Equal(t, base.Add(2*time.Second), sum.Last)
	assert.Equal(t, 900, sum.MinRPM)
	assert.Equal(t, 1100, sum.MaxRPM)
	assert.InDelta(t, 1000.0, sum.AvgRPM, 1e-9)
	assert.InDelta(t, 27.5, sum.MaxTemperature, 1e-9)
	assert.InDelta(t, 1.1, sum.AvgPressure, 1e-9)
}

func TestHistoryQueries(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h := NewHistory(10)
	for i, rpm := range []int{1000, 6100, 6300, 5000} {
		h.Add(sample(base, i, rpm, 25, 1))
	}

	assert.Len(t, h.Since(base.Add(2*time.Second)), 2)
	assert.Equal(t, 2, h.CountAbove(6000))

	h.Reset()
	assert.Equal(t, 0, h.Len())
}
