package steps

import (
	"github.com/simon020286/go-promptchain/builder"
	"github.com/simon020286/go-promptchain/models"
)

func init() {
	builder.RegisterStepType(models.StepKindPrompt, func(cfg map[string]any) (models.Step, error) {
		if _, ok := cfg["text"]; !ok {
			return models.Step{}, models.ErrMissingConfig("text")
		}

		var p models.PromptStep
		if err := decodeConfig(cfg, &p); err != nil {
			return models.Step{}, err
		}

		return models.NewPromptStep(p), nil
	})
}
