// Package packet implements the pipe-separated command grammar carried
// inside STX/ETX frames.
package packet

import (
	"strconv"
	"strings"
)

// Separator splits command and parameters.
const Separator = "|"

// Name is an upper-case command name.
type Name string

const (
	Status   Name = "STATUS"
	Start    Name = "START"
	Stop     Name = "STOP"
	Reset    Name = "RESET"
	ForceErr Name = "FORCEERR"
)

// Names lists the command vocabulary.
var Names = []Name{Status, Start, Stop, Reset, ForceErr}

func (n Name) Valid() bool {
	_, ok := rules[n]
	return ok
}

// Command is a validated request. Params are trimmed and kept in order.
type Command struct {
	Name   Name
	Params []string
}

// NewStart builds START|mode|value.
func NewStart(mode string, value int) Command {
	return Command{Name: Start, Params: []string{mode, strconv.Itoa(value)}}
}

// Simple builds a command without parameters.
func Simple(name Name) Command {
	return Command{Name: name}
}

// Mode is the first START parameter.
func (c Command) Mode() string {
	if len(c.Params) == 0 {
		return ""
	}
	return c.Params[0]
}

// SetValue is the integer START parameter, zero when absent.
func (c Command) SetValue() int {
	if len(c.Params) < 2 {
		return 0
	}
	v, _ := strconv.Atoi(c.Params[1])
	return v
}

// Encode joins name and params with the separator.
func Encode(c Command) string {
	if len(c.Params) == 0 {
		return string(c.Name)
	}
	return string(c.Name) + Separator + strings.Join(c.Params, Separator)
}

func (c Command) String() string {
	return Encode(c)
}

// Parse decodes and validates a frame body. Failures are *ParseError.
func Parse(body string) (Command, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return Command{}, &ParseError{Code: CodeEmptyBody, Rule: "body is empty"}
	}

	parts := strings.Split(body, Separator)
	raw := strings.TrimSpace(parts[0])
	if raw == "" {
		return Command{}, &ParseError{Code: CodeEmptyCommand, Rule: "command is empty"}
	}

	name := Name(strings.ToUpper(raw))
	rule, ok := rules[name]
	if !ok {
		return Command{}, &ParseError{Code: CodeUnknownCommand, Command: string(name), Rule: "unknown command: " + raw}
	}

	params := make([]string, 0, len(parts)-1)
	for _, p := range parts[1:] {
		params = append(params, strings.TrimSpace(p))
	}

	if err := rule.check(name, params); err != nil {
		return Command{}, err
	}
	return Command{Name: name, Params: params}, nil
}
