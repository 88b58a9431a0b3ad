package packet

import (
	"errors"
	"strings"
)

// Code classifies a parse failure.
type Code string

const (
	CodeEmptyBody      Code = "EMPTY_BODY"
	CodeEmptyCommand   Code = "EMPTY_COMMAND"
	CodeUnknownCommand Code = "UNKNOWN_COMMAND"
	CodeBadArity       Code = "BAD_ARITY"
	CodeBadType        Code = "BAD_TYPE"
)

var (
	ErrEmptyBody      = errors.New("packet: empty body")
	ErrEmptyCommand   = errors.New("packet: empty command")
	ErrUnknownCommand = errors.New("packet: unknown command")
	ErrBadArity       = errors.New("packet: wrong parameter count")
	ErrBadType        = errors.New("packet: parameter has wrong type")
)

var codeErrors = map[Code]error{
	CodeEmptyBody:      ErrEmptyBody,
	CodeEmptyCommand:   ErrEmptyCommand,
	CodeUnknownCommand: ErrUnknownCommand,
	CodeBadArity:       ErrBadArity,
	CodeBadType:        ErrBadType,
}

// ParseError describes a body that is not a valid command.
type ParseError struct {
	Code Code
	// Command is the upper-cased name when one could be read.
	Command string
	// Rule names the violated rule in human terms.
	Rule string
}

func (e *ParseError) Error() string {
	return "packet: " + e.Rule
}

func (e *ParseError) Unwrap() error {
	return codeErrors[e.Code]
}

// Reply is the error frame body a server answers with.
func (e *ParseError) Reply() string {
	if e.Code == CodeUnknownCommand {
		return Err(Sanitize(e.Command), ReasonUnknownCommand)
	}
	return Err("PARSE", Sanitize(e.Rule))
}

var sanitizer = strings.NewReplacer(
	Separator, "/",
	"\r\n", " ",
	"\r", " ",
	"\n", " ",
	"\x02", "",
	"\x03", "",
)

// Sanitize makes s safe to embed as one field of a response body.
func Sanitize(s string) string {
	s = strings.TrimSpace(sanitizer.Replace(s))
	if s == "" {
		return "unknown"
	}
	return s
}
