package models

import "fmt"

// StepKind is the discriminant of a chain step
type StepKind string

const (
	StepKindPrompt StepKind = "prompt"
	StepKindCode   StepKind = "code"
)

// ModelConfig is the provider configuration attached to a prompt version
type ModelConfig struct {
	Provider    string  `json:"provider" yaml:"provider" mapstructure:"provider"`
	Model       string  `json:"model" yaml:"model" mapstructure:"model"`
	Temperature float64 `json:"temperature" yaml:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `json:"maxTokens" yaml:"max_tokens" mapstructure:"max_tokens"`
}

// PromptStep invokes a model with a versioned prompt
type PromptStep struct {
	VersionID      int64       `json:"versionID,omitempty" mapstructure:"version_id"`
	Text           string      `json:"text" mapstructure:"text"`
	Config         ModelConfig `json:"config" mapstructure:"model"`
	IncludeContext bool        `json:"includeContext,omitempty" mapstructure:"include_context"`
	Output         string      `json:"output,omitempty" mapstructure:"output"`
	DynamicInputs  []string    `json:"dynamicInputs,omitempty" mapstructure:"dynamic_inputs"`
}

// CodeStep runs a snippet of user code inside the sandbox
type CodeStep struct {
	Code        string `json:"code" mapstructure:"code"`
	Description string `json:"description,omitempty" mapstructure:"description"`
	Output      string `json:"output,omitempty" mapstructure:"output"`
}

// Step is one element of a chain definition.
// Exactly one of Prompt or Code is set, matching Kind.
type Step struct {
	Kind   StepKind    `json:"kind"`
	Prompt *PromptStep `json:"prompt,omitempty"`
	Code   *CodeStep   `json:"code,omitempty"`
}

// NewPromptStep wraps a prompt step
func NewPromptStep(p PromptStep) Step {
	return Step{Kind: StepKindPrompt, Prompt: &p}
}

// NewCodeStep wraps a code step
func NewCodeStep(c CodeStep) Step {
	return Step{Kind: StepKindCode, Code: &c}
}

// OutputName returns the variable name the step binds its output to, if any
func (s Step) OutputName() string {
	switch s.Kind {
	case StepKindPrompt:
		if s.Prompt != nil {
			return s.Prompt.Output
		}
	case StepKindCode:
		if s.Code != nil {
			return s.Code.Output
		}
	}
	return ""
}

// Check verifies the discriminant matches the populated variant
func (s Step) Check() error {
	switch s.Kind {
	case StepKindPrompt:
		if s.Prompt == nil || s.Code != nil {
			return fmt.Errorf("prompt step must carry only a prompt variant")
		}
	case StepKindCode:
		if s.Code == nil || s.Prompt != nil {
			return fmt.Errorf("code step must carry only a code variant")
		}
	default:
		return ErrUnknownStepKind(string(s.Kind))
	}
	return nil
}
