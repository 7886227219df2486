package promptchain

import (
	"fmt"

	"github.com/simon020286/go-promptchain/builder"
	"github.com/simon020286/go-promptchain/config"
	"github.com/simon020286/go-promptchain/models"
	_ "github.com/simon020286/go-promptchain/steps"
)

// BuildFromConfig builds the steps and input rows of a chain definition
func BuildFromConfig(cfg *config.ChainConfig) ([]models.Step, []models.InputRow, error) {
	if err := config.ValidateChain(cfg); err != nil {
		return nil, nil, err
	}

	steps, err := builder.CreateSteps(cfg.Steps)
	if err != nil {
		return nil, nil, fmt.Errorf("chain %q: %w", cfg.Name, err)
	}

	rows := builder.CreateRows(cfg.Inputs)
	if err := Validate(steps, rows); err != nil {
		return nil, nil, fmt.Errorf("chain %q: %w", cfg.Name, err)
	}

	return steps, rows, nil
}
