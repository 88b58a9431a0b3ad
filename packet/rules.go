package packet

import (
	"fmt"
	"strconv"
)

type paramKind int

const (
	anyParam paramKind = iota
	intParam
)

type rule struct {
	usage  string
	params []paramKind
}

var rules = map[Name]rule{
	Status:   {usage: "STATUS"},
	Stop:     {usage: "STOP"},
	Reset:    {usage: "RESET"},
	ForceErr: {usage: "FORCEERR"},
	Start:    {usage: "START|<mode>|<value>", params: []paramKind{anyParam, intParam}},
}

func (r rule) check(name Name, params []string) error {
	if len(params) != len(r.params) {
		return &ParseError{
			Code:    CodeBadArity,
			Command: string(name),
			Rule:    fmt.Sprintf("%s must have %d params: %s", name, len(r.params), r.usage),
		}
	}
	for i, kind := range r.params {
		if kind != intParam {
			continue
		}
		if _, err := strconv.Atoi(params[i]); err != nil {
			return &ParseError{
				Code:    CodeBadType,
				Command: string(name),
				Rule:    fmt.Sprintf("%s param%d must be int, got %q", name, i+1, params[i]),
			}
		}
	}
	return nil
}

// Usage returns the grammar line for name.
func Usage(name Name) string {
	return rules[name].usage
}
