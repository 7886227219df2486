package builder

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/simon020286/go-promptchain/config"
	"github.com/simon020286/go-promptchain/models"
)

// CreateStep creates a step based on type and configuration
func CreateStep(stepType string, stepConfig map[string]any) (models.Step, error) {
	factory, err := GetStepFactory(stepType)
	if err != nil {
		return models.Step{}, err
	}
	return factory(stepConfig)
}

// CreateSteps creates the steps of a chain definition in order
func CreateSteps(cfgs []config.StepConfig) ([]models.Step, error) {
	steps := make([]models.Step, 0, len(cfgs))
	for i, sc := range cfgs {
		step, err := CreateStep(sc.Type, sc.Config)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, sc.Type, err)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// CreateRows converts configured inputs to rows. A chain without inputs runs
// once with an empty row.
func CreateRows(inputs []map[string]string) []models.InputRow {
	if len(inputs) == 0 {
		return []models.InputRow{{}}
	}
	rows := make([]models.InputRow, len(inputs))
	for i, in := range inputs {
		rows[i] = models.InputRow(in).Clone()
	}
	return rows
}

// GenerateExecutionID generates a unique ID for a chain run
func GenerateExecutionID() string {
	return uuid.NewString()
}
