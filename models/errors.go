package models

import "fmt"

type MissingConfigError struct {
	Key string
}

func (e *MissingConfigError) Error() string {
	return "missing required configuration key: " + e.Key
}

func ErrMissingConfig(key string) error {
	return &MissingConfigError{Key: key}
}

type UnknownStepKindError struct {
	Kind string
}

func (e *UnknownStepKindError) Error() string {
	return fmt.Sprintf("unknown step kind: '%s'", e.Kind)
}

func ErrUnknownStepKind(kind string) error {
	return &UnknownStepKindError{Kind: kind}
}

// UnboundInputError reports a dynamic input no earlier step produces
type UnboundInputError struct {
	Step  int
	Input string
}

func (e *UnboundInputError) Error() string {
	return fmt.Sprintf("step %d reads '%s' before any step binds it", e.Step, e.Input)
}

func ErrUnboundInput(step int, input string) error {
	return &UnboundInputError{Step: step, Input: input}
}
