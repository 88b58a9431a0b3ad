package equipment

import (
	"math/rand"
	"sync"
	"time"

	"github.com/younglifestyle/equiplink/packet"
)

// Rand is the randomness the telemetry tick draws from.
type Rand interface {
	Intn(n int) int
	Float64() float64
}

// Transition records a state change.
type Transition struct {
	From   packet.State
	To     packet.State
	Reason string
}

// Outcome is the result of one command.
type Outcome struct {
	Reply string
	// Accepted is false when the command was refused in the current state.
	Accepted   bool
	Transition *Transition
}

// TickResult is the result of one telemetry step.
type TickResult struct {
	State      packet.State
	LastError  string
	Telemetry  packet.Telemetry
	Transition *Transition
}

// refusals lists every command that is illegal in a given state, with the
// reason sent back to the client.
var refusals = map[packet.Name]map[packet.State]string{
	packet.Start: {
		packet.StateRun:   packet.ReasonAlreadyRunning,
		packet.StateError: packet.ReasonInError,
	},
	packet.Reset: {
		packet.StateIdle: packet.ReasonNotInError,
		packet.StateRun:  packet.ReasonNotInError,
		packet.StateStop: packet.ReasonNotInError,
	},
}

type applyFunc func(m *Machine, cmd packet.Command) string

var handlers = map[packet.Name]applyFunc{
	packet.Status:   (*Machine).applyStatusLocked,
	packet.Start:    (*Machine).applyStartLocked,
	packet.Stop:     (*Machine).applyStopLocked,
	packet.Reset:    (*Machine).applyResetLocked,
	packet.ForceErr: (*Machine).applyForceErrLocked,
}

// Machine is the authoritative equipment state. All methods are safe for
// concurrent use and never perform I/O.
type Machine struct {
	mu     sync.Mutex
	params SimParams
	rng    Rand

	state     packet.State
	lastError string
	mode      string
	setValue  int
	temp      float64
	pressure  float64
	rpm       int
}

// NewMachine builds a machine in IDLE at the baseline process values.
// A nil rng selects a time-seeded source.
func NewMachine(params SimParams, rng Rand) *Machine {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	m := &Machine{params: params, rng: rng}
	m.resetLocked()
	return m
}

func (m *Machine) resetLocked() {
	m.state = packet.StateIdle
	m.lastError = ""
	m.mode = m.params.DefaultMode
	m.setValue = 0
	m.temp = m.params.BaselineTemp
	m.pressure = m.params.BaselinePressure
	m.rpm = 0
}

// Handle applies cmd and returns the reply body.
func (m *Machine) Handle(cmd packet.Command) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	if reason, refused := refusals[cmd.Name][m.state]; refused {
		return Outcome{Reply: packet.Err(string(cmd.Name), reason)}
	}

	apply, ok := handlers[cmd.Name]
	if !ok {
		return Outcome{Reply: packet.Err(string(cmd.Name), packet.ReasonUnknownCommand)}
	}

	from := m.state
	out := Outcome{Reply: apply(m, cmd), Accepted: true}
	if m.state != from {
		out.Transition = &Transition{From: from, To: m.state, Reason: string(cmd.Name)}
	}
	return out
}

func (m *Machine) applyStatusLocked(packet.Command) string {
	return m.statusLocked().Body()
}

func (m *Machine) applyStartLocked(cmd packet.Command) string {
	m.mode = cmd.Mode()
	m.setValue = cmd.SetValue()
	m.rpm = clampInt(m.setValue*m.params.RPMPerSetpoint, 0, m.params.StartRPMMax)
	m.lastError = ""
	m.state = packet.StateRun
	return packet.Ack(packet.Start, string(packet.StateRun))
}

func (m *Machine) applyStopLocked(packet.Command) string {
	if m.state == packet.StateRun {
		m.state = packet.StateStop
		m.rpm = 0
	}
	return packet.Ack(packet.Stop, string(m.state))
}

func (m *Machine) applyResetLocked(packet.Command) string {
	m.state = packet.StateIdle
	m.rpm = 0
	m.lastError = ""
	return packet.Ack(packet.Reset, string(packet.StateIdle))
}

func (m *Machine) applyForceErrLocked(packet.Command) string {
	m.state = packet.StateError
	m.lastError = packet.ReasonForced
	return packet.Ack(packet.ForceErr, string(packet.StateError))
}

func (m *Machine) statusLocked() packet.StatusReport {
	return packet.StatusReport{
		State:       m.state,
		LastError:   m.lastError,
		Mode:        m.mode,
		SetValue:    m.setValue,
		Temperature: m.temp,
		Pressure:    m.pressure,
		RPM:         m.rpm,
	}
}

// Status is a consistent snapshot of the machine.
func (m *Machine) Status() packet.StatusReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Machine) State() packet.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError is the reason of the most recent fault, empty outside ERROR.
func (m *Machine) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastError
}

// Tick advances the simulated process by one step.
func (m *Machine) Tick(now time.Time) TickResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.params
	from := m.state
	var tr *Transition

	switch m.state {
	case packet.StateRun:
		m.rpm = clampInt(m.rpm+m.rng.Intn(2*p.RPMJitter+1)-p.RPMJitter, 0, p.RPMMax)
		m.pressure = clampFloat(m.pressure+(m.rng.Float64()-0.5)*p.PressureJitter, p.PressureMin, p.PressureMax)
		heat := float64(m.rpm) / float64(p.RPMMax) * p.HeatCoupling
		m.temp = clampFloat(m.temp+(m.rng.Float64()-0.5)*p.TempJitter+heat, p.TempMin, p.TempMax)

		if m.rpm > p.OverspeedRPM {
			m.state = packet.StateError
			m.lastError = packet.ReasonOverspeed
			tr = &Transition{From: from, To: m.state, Reason: packet.ReasonOverspeed}
		}
	case packet.StateIdle, packet.StateStop:
		m.rpm = 0
		m.pressure = approach(m.pressure, p.BaselinePressure, p.PressureDecay)
		m.temp = approach(m.temp, p.BaselineTemp, p.TempDecay)
	}

	return TickResult{
		State:     m.state,
		LastError: m.lastError,
		Telemetry: packet.Telemetry{
			Timestamp:   now,
			Mode:        m.mode,
			SetValue:    m.setValue,
			Temperature: m.temp,
			Pressure:    m.pressure,
			RPM:         m.rpm,
		},
		Transition: tr,
	}
}

func (m *Machine) Params() SimParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.params
}

// SetParams swaps the process profile. The current readings are kept.
func (m *Machine) SetParams(p SimParams) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.params = p
	m.mu.Unlock()
	return nil
}

// Shutdown returns the machine to IDLE with the rotor stopped, keeping the
// temperature and pressure readings.
func (m *Machine) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = packet.StateIdle
	m.lastError = ""
	m.rpm = 0
}
