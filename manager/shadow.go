package manager

import (
	"sync"
	"time"

	"github.com/younglifestyle/equiplink/packet"
)

// ShadowState is the client's last known view of the equipment.
type ShadowState struct {
	packet.StatusReport
	// ObservedAt is when the state was last confirmed by the server.
	ObservedAt time.Time
	// Stale is set once the session that produced the view has ended.
	Stale bool
}

// Shadow mirrors the equipment state from inbound responses. It never
// decides transitions; it only records what the server reported.
type Shadow struct {
	mu    sync.RWMutex
	state ShadowState
	now   func() time.Time
}

func NewShadow(now func() time.Time) *Shadow {
	if now == nil {
		now = time.Now
	}
	return &Shadow{
		state: ShadowState{StatusReport: packet.StatusReport{State: packet.StateUnknown}},
		now:   now,
	}
}

func (s *Shadow) Snapshot() ShadowState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// MarkUnknown forgets the state but keeps the last readings.
func (s *Shadow) MarkUnknown() {
	s.mu.Lock()
	s.state.State = packet.StateUnknown
	s.state.Stale = true
	s.mu.Unlock()
}

func (s *Shadow) observedLocked() {
	s.state.ObservedAt = s.now()
	s.state.Stale = false
}

// ApplyResponse folds an ACK or ERR body into the view.
func (s *Shadow) ApplyResponse(r packet.Response) {
	if r.Kind != packet.KindAck {
		return
	}
	if r.Command == string(packet.Status) {
		if rep, err := r.Status(); err == nil {
			s.mu.Lock()
			s.state.StatusReport = rep
			s.observedLocked()
			s.mu.Unlock()
		}
		return
	}

	st, ok := r.State()
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.State = st
	switch {
	case r.Command == string(packet.ForceErr):
		s.state.LastError = packet.ReasonForced
	case st != packet.StateError:
		s.state.LastError = ""
	}
	if st == packet.StateStop || st == packet.StateIdle {
		s.state.RPM = 0
	}
	s.observedLocked()
}

// ApplyTelemetry records a DATA sample; DATA is only sent in RUN.
func (s *Shadow) ApplyTelemetry(t packet.Telemetry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.State = packet.StateRun
	s.state.LastError = ""
	s.state.Mode = t.Mode
	s.state.SetValue = t.SetValue
	s.state.Temperature = t.Temperature
	s.state.Pressure = t.Pressure
	s.state.RPM = t.RPM
	s.observedLocked()
}

// ApplyAlarm records an ALARM|ERROR|<reason> body.
func (s *Shadow) ApplyAlarm(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.State = packet.StateError
	s.state.LastError = reason
	s.observedLocked()
}
