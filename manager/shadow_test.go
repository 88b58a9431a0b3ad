package manager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/younglifestyle/equiplink/packet"
)

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func mustResponse(t *testing.T, body string) packet.Response {
	t.Helper()
	r, err := packet.ParseResponse(body)
	require.NoError(t, err)
	return r
}

func TestShadowStartsUnknown(t *testing.T) {
	s := NewShadow(nil)
	assert.Equal(t, packet.StateUnknown, s.Snapshot().State)
}

func TestShadowStatusReply(t *testing.T) {
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	s := NewShadow(fixedClock(now))

	s.ApplyResponse(mustResponse(t, "ACK|STATUS|RUN|NONE|B|120|31.5|1.20|1200"))

	got := s.Snapshot()
	assert.Equal(t, packet.StateRun, got.State)
	assert.Equal(t, "", got.LastError)
	assert.Equal(t, "B", got.Mode)
	assert.Equal(t, 120, got.SetValue)
	assert.InDelta(t, 31.5, got.Temperature, 1e-9)
	assert.InDelta(t, 1.2, got.Pressure, 1e-9)
	assert.Equal(t, 1200, got.RPM)
	assert.Equal(t, now, got.ObservedAt)
	assert.False(t, got.Stale)
}

func TestShadowCommandAcks(t *testing.T) {
	s := NewShadow(nil)

	s.ApplyResponse(mustResponse(t, "ACK|FORCEERR|ERROR"))
	assert.Equal(t, packet.StateError, s.Snapshot().State)
	assert.Equal(t, packet.ReasonForced, s.Snapshot().LastError)

	s.ApplyResponse(mustResponse(t, "ACK|RESET|IDLE"))
	assert.Equal(t, packet.StateIdle, s.Snapshot().State)
	assert.Equal(t, "", s.Snapshot().LastError)
	assert.Equal(t, 0, s.Snapshot().RPM)
}

func TestShadowIgnoresErr(t *testing.T) {
	s := NewShadow(nil)
	s.ApplyResponse(mustResponse(t, "ACK|START|RUN"))
	s.ApplyResponse(mustResponse(t, "ERR|START|ALREADY_RUNNING"))
	assert.Equal(t, packet.StateRun, s.Snapshot().State)
}

func TestShadowTelemetryAndAlarm(t *testing.T) {
	s := NewShadow(nil)

	s.ApplyTelemetry(packet.Telemetry{Mode: "A", SetValue: 100, Temperature: 26, Pressure: 1.1, RPM: 1010})
	assert.Equal(t, packet.StateRun, s.Snapshot().State)
	assert.Equal(t, 1010, s.Snapshot().RPM)

	s.ApplyAlarm(packet.ReasonOverspeed)
	assert.Equal(t, packet.StateError, s.Snapshot().State)
	assert.Equal(t, packet.ReasonOverspeed, s.Snapshot().LastError)
}

func TestShadowMarkUnknownKeepsReadings(t *testing.T) {
	s := NewShadow(nil)
	s.ApplyTelemetry(packet.Telemetry{Mode: "A", SetValue: 100, Temperature: 26, Pressure: 1.1, RPM: 1010})

	s.MarkUnknown()

	got := s.Snapshot()
	assert.Equal(t, packet.StateUnknown, got.State)
	assert.True(t, got.Stale)
	assert.Equal(t, 1010, got.RPM)
}
