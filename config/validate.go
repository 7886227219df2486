package config

import "fmt"

// ValidateChain checks the structure of a chain definition.
// Step-specific configuration is checked by the step factories.
func ValidateChain(cfg *ChainConfig) error {
	if len(cfg.Steps) == 0 {
		return fmt.Errorf("chain %q must have at least one step", cfg.Name)
	}

	for i, step := range cfg.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("invalid step %d: %w", i, err)
		}
	}

	return nil
}

func validateStep(step StepConfig) error {
	switch step.Type {
	case "prompt":
		if _, ok := step.Config["text"]; !ok {
			return fmt.Errorf("prompt step requires 'text'")
		}
	case "code":
		if _, ok := step.Config["code"]; !ok {
			return fmt.Errorf("code step requires 'code'")
		}
	case "":
		return fmt.Errorf("step type is required")
	default:
		return fmt.Errorf("unknown step type: %s", step.Type)
	}

	if out, ok := step.Config["output"]; ok {
		if _, isString := out.(string); !isString {
			return fmt.Errorf("'output' must be a string, got %T", out)
		}
	}

	return nil
}
