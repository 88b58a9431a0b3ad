package equipment

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/younglifestyle/equiplink/packet"
)

// Metrics are the equipment server's prometheus collectors. A nil *Metrics
// records nothing.
type Metrics struct {
	FramesReceived prometheus.Counter
	FramerWarnings prometheus.Counter
	ParseErrors    *prometheus.CounterVec
	Responses      *prometheus.CounterVec
	Broadcasts     *prometheus.CounterVec
	Sessions       prometheus.Gauge
	State          *prometheus.GaugeVec
}

// NewMetrics registers the collectors on reg. A nil reg uses a private registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		FramesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: "equiplink", Subsystem: "equipment", Name: "frames_received_total",
			Help: "Frame bodies received from all sessions.",
		}),
		FramerWarnings: f.NewCounter(prometheus.CounterOpts{
			Namespace: "equiplink", Subsystem: "equipment", Name: "framer_warnings_total",
			Help: "Partial frames discarded while resynchronizing.",
		}),
		ParseErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "equiplink", Subsystem: "equipment", Name: "parse_errors_total",
			Help: "Bodies rejected by the command codec.",
		}, []string{"code"}),
		Responses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "equiplink", Subsystem: "equipment", Name: "responses_total",
			Help: "Replies sent, by command and result.",
		}, []string{"command", "result"}),
		Broadcasts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "equiplink", Subsystem: "equipment", Name: "broadcasts_total",
			Help: "Frames fanned out to sessions, by kind.",
		}, []string{"kind"}),
		Sessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "equiplink", Subsystem: "equipment", Name: "sessions",
			Help: "Registered sessions.",
		}),
		State: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "equiplink", Subsystem: "equipment", Name: "state",
			Help: "1 for the current equipment state.",
		}, []string{"state"}),
	}
}

func (m *Metrics) frameReceived() {
	if m != nil {
		m.FramesReceived.Inc()
	}
}

func (m *Metrics) framerWarning() {
	if m != nil {
		m.FramerWarnings.Inc()
	}
}

func (m *Metrics) parseError(code packet.Code) {
	if m != nil {
		m.ParseErrors.WithLabelValues(string(code)).Inc()
	}
}

func (m *Metrics) response(cmd packet.Name, accepted bool) {
	if m == nil {
		return
	}
	result := "ack"
	if !accepted {
		result = "err"
	}
	m.Responses.WithLabelValues(string(cmd), result).Inc()
}

func (m *Metrics) broadcast(kind packet.Kind, delivered int) {
	if m != nil {
		m.Broadcasts.WithLabelValues(string(kind)).Add(float64(delivered))
	}
}

func (m *Metrics) sessions(n int) {
	if m != nil {
		m.Sessions.Set(float64(n))
	}
}

func (m *Metrics) state(current packet.State) {
	if m == nil {
		return
	}
	for _, s := range []packet.State{packet.StateIdle, packet.StateRun, packet.StateStop, packet.StateError} {
		v := 0.0
		if s == current {
			v = 1
		}
		m.State.WithLabelValues(string(s)).Set(v)
	}
}
