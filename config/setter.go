package config

import (
	"fmt"
	"time"

	"github.com/spf13/cast"
)

// setter applies values unless the matching flag was set explicitly.
type setter struct {
	changed map[string]bool
}

func newSetter(changed map[string]bool) *setter {
	return &setter{changed: changed}
}

func (s *setter) skip(flag string) bool {
	return s.changed[flag]
}

func (s *setter) setString(flag, value string, dst *string) {
	if value == "" || s.skip(flag) {
		return
	}
	*dst = value
}

// setInt parses value with cast; empty strings are ignored.
func (s *setter) setInt(flag string, value interface{}, dst *int) error {
	if isEmpty(value) || s.skip(flag) {
		return nil
	}
	value = deref(value)
	i, err := cast.ToIntE(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = i
	return nil
}

func (s *setter) setFloat(flag string, value interface{}, dst *float64) error {
	if isEmpty(value) || s.skip(flag) {
		return nil
	}
	value = deref(value)
	f, err := cast.ToFloat64E(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = f
	return nil
}

// setDuration accepts Go duration strings ("750ms") and plain integers,
// which cast reads as nanoseconds.
func (s *setter) setDuration(flag string, value interface{}, dst *time.Duration) error {
	if isEmpty(value) || s.skip(flag) {
		return nil
	}
	value = deref(value)
	d, err := cast.ToDurationE(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

func (s *setter) setBool(flag string, value interface{}, dst *bool) error {
	if isEmpty(value) || s.skip(flag) {
		return nil
	}
	value = deref(value)
	b, err := cast.ToBoolE(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = b
	return nil
}

func deref(value interface{}) interface{} {
	switch v := value.(type) {
	case *bool:
		return *v
	case *int:
		return *v
	case *float64:
		return *v
	}
	return value
}

func isEmpty(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case *bool:
		return v == nil
	case *int:
		return v == nil
	case *float64:
		return v == nil
	}
	return false
}
