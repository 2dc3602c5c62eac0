package cmd

import (
	"fmt"
	"slices"
	"strings"
)

// FlagEnum is a pflag.Value restricted to a fixed set of lower case choices.
type FlagEnum struct {
	Allowed []string
	Value   string
}

func NewEnum(allowed []string, defaultValue string) *FlagEnum {
	return &FlagEnum{Allowed: allowed, Value: defaultValue}
}

func (e *FlagEnum) String() string {
	return e.Value
}

func (e *FlagEnum) Set(v string) error {
	v = strings.ToLower(strings.TrimSpace(v))
	if !slices.Contains(e.Allowed, v) {
		return fmt.Errorf("invalid value %q, must be one of %s", v, strings.Join(e.Allowed, "|"))
	}
	e.Value = v
	return nil
}

// Type is shown as the value placeholder in help output.
func (e *FlagEnum) Type() string {
	return "string"
}
