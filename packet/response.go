package packet

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind is the first token of a server body.
type Kind string

const (
	KindAck   Kind = "ACK"
	KindErr   Kind = "ERR"
	KindData  Kind = "DATA"
	KindAlarm Kind = "ALARM"
)

// Error reasons.
const (
	ReasonAlreadyRunning = "ALREADY_RUNNING"
	ReasonInError        = "IN_ERROR"
	ReasonNotInError     = "NOT_IN_ERROR"
	ReasonUnknownCommand = "UNKNOWN_COMMAND"
	ReasonOverspeed      = "OVERSPEED"
	ReasonForced         = "FORCED"
)

// NoError stands in for an empty last error in STATUS replies.
const NoError = "NONE"

// ClockLayout formats DATA timestamps.
const ClockLayout = "15:04:05.000"

var ErrMalformedResponse = errors.New("packet: malformed response")

// Ack builds ACK|<cmd>|fields...
func Ack(cmd Name, fields ...string) string {
	return join(string(KindAck), string(cmd), fields...)
}

// Err builds ERR|<cmd>|<reason>.
func Err(cmd, reason string) string {
	return join(string(KindErr), cmd, reason)
}

// Alarm builds ALARM|ERROR|<reason>.
func Alarm(reason string) string {
	return join(string(KindAlarm), string(StateError), reason)
}

func join(head, second string, rest ...string) string {
	var b strings.Builder
	b.WriteString(head)
	b.WriteString(Separator)
	b.WriteString(second)
	for _, f := range rest {
		b.WriteString(Separator)
		b.WriteString(f)
	}
	return b.String()
}

// StatusReport is the payload of ACK|STATUS.
type StatusReport struct {
	State       State
	LastError   string
	Mode        string
	SetValue    int
	Temperature float64
	Pressure    float64
	RPM         int
}

// Body encodes r as an ACK|STATUS body.
func (r StatusReport) Body() string {
	lastErr := r.LastError
	if lastErr == "" {
		lastErr = NoError
	}
	return Ack(Status,
		string(r.State),
		lastErr,
		r.Mode,
		strconv.Itoa(r.SetValue),
		formatTemp(r.Temperature),
		formatPressure(r.Pressure),
		strconv.Itoa(r.RPM),
	)
}

// Telemetry is one DATA sample.
type Telemetry struct {
	Timestamp   time.Time
	Mode        string
	SetValue    int
	Temperature float64
	Pressure    float64
	RPM         int
}

// Body encodes t as a DATA body.
func (t Telemetry) Body() string {
	return join(string(KindData),
		t.Timestamp.Format(ClockLayout),
		t.Mode,
		strconv.Itoa(t.SetValue),
		formatTemp(t.Temperature),
		formatPressure(t.Pressure),
		strconv.Itoa(t.RPM),
	)
}

func formatTemp(v float64) string     { return strconv.FormatFloat(v, 'f', 1, 64) }
func formatPressure(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

// Response is a decoded server body.
type Response struct {
	Kind Kind
	// Command is set for ACK and ERR.
	Command string
	Fields  []string
	Raw     string
}

// ParseResponse splits a server body into its kind, command and fields.
func ParseResponse(body string) (Response, error) {
	body = strings.TrimSpace(body)
	parts := strings.Split(body, Separator)
	if len(parts) < 2 {
		return Response{}, fmt.Errorf("%w: %q", ErrMalformedResponse, body)
	}

	r := Response{Kind: Kind(strings.ToUpper(parts[0])), Raw: body}
	switch r.Kind {
	case KindAck, KindErr:
		r.Command = strings.ToUpper(parts[1])
		r.Fields = parts[2:]
	case KindData, KindAlarm:
		r.Fields = parts[1:]
	default:
		return Response{}, fmt.Errorf("%w: unknown kind %q", ErrMalformedResponse, parts[0])
	}
	return r, nil
}

func (r Response) field(i int) string {
	if i < len(r.Fields) {
		return r.Fields[i]
	}
	return ""
}

// Reason is the error reason of ERR and ALARM bodies.
func (r Response) Reason() string {
	switch r.Kind {
	case KindErr:
		return strings.Join(r.Fields, Separator)
	case KindAlarm:
		return r.field(1)
	}
	return ""
}

// State reports the equipment state a response implies, if any.
func (r Response) State() (State, bool) {
	switch r.Kind {
	case KindAlarm:
		return StateError, true
	case KindData:
		return StateRun, true
	case KindAck:
		return ParseState(r.field(0))
	}
	return StateUnknown, false
}

// Status decodes an ACK|STATUS response.
func (r Response) Status() (StatusReport, error) {
	if r.Kind != KindAck || r.Command != string(Status) || len(r.Fields) != 7 {
		return StatusReport{}, fmt.Errorf("%w: not a status report: %q", ErrMalformedResponse, r.Raw)
	}

	state, ok := ParseState(r.Fields[0])
	if !ok {
		return StatusReport{}, fmt.Errorf("%w: bad state %q", ErrMalformedResponse, r.Fields[0])
	}
	rep := StatusReport{State: state, LastError: r.Fields[1], Mode: r.Fields[2]}
	if rep.LastError == NoError {
		rep.LastError = ""
	}

	var err error
	if rep.SetValue, err = strconv.Atoi(r.Fields[3]); err != nil {
		return StatusReport{}, fmt.Errorf("%w: set value: %v", ErrMalformedResponse, err)
	}
	if rep.Temperature, err = strconv.ParseFloat(r.Fields[4], 64); err != nil {
		return StatusReport{}, fmt.Errorf("%w: temperature: %v", ErrMalformedResponse, err)
	}
	if rep.Pressure, err = strconv.ParseFloat(r.Fields[5], 64); err != nil {
		return StatusReport{}, fmt.Errorf("%w: pressure: %v", ErrMalformedResponse, err)
	}
	if rep.RPM, err = strconv.Atoi(r.Fields[6]); err != nil {
		return StatusReport{}, fmt.Errorf("%w: rpm: %v", ErrMalformedResponse, err)
	}
	return rep, nil
}

// Telemetry decodes a DATA response. The time of day is placed on ref's date.
func (r Response) Telemetry(ref time.Time) (Telemetry, error) {
	if r.Kind != KindData || len(r.Fields) != 6 {
		return Telemetry{}, fmt.Errorf("%w: not telemetry: %q", ErrMalformedResponse, r.Raw)
	}

	clock, err := time.ParseInLocation(ClockLayout, r.Fields[0], ref.Location())
	if err != nil {
		return Telemetry{}, fmt.Errorf("%w: timestamp: %v", ErrMalformedResponse, err)
	}
	y, m, d := ref.Date()
	t := Telemetry{
		Timestamp: time.Date(y, m, d, clock.Hour(), clock.Minute(), clock.Second(), clock.Nanosecond(), ref.Location()),
		Mode:      r.Fields[1],
	}

	if t.SetValue, err = strconv.Atoi(r.Fields[2]); err != nil {
		return Telemetry{}, fmt.Errorf("%w: set value: %v", ErrMalformedResponse, err)
	}
	if t.Temperature, err = strconv.ParseFloat(r.Fields[3], 64); err != nil {
		return Telemetry{}, fmt.Errorf("%w: temperature: %v", ErrMalformedResponse, err)
	}
	if t.Pressure, err = strconv.ParseFloat(r.Fields[4], 64); err != nil {
		return Telemetry{}, fmt.Errorf("%w: pressure: %v", ErrMalformedResponse, err)
	}
	if t.RPM, err = strconv.Atoi(r.Fields[5]); err != nil {
		return Telemetry{}, fmt.Errorf("%w: rpm: %v", ErrMalformedResponse, err)
	}
	return t, nil
}
