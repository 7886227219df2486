package steps

import (
	"strings"

	"github.com/simon020286/go-promptchain/builder"
	"github.com/simon020286/go-promptchain/models"
)

func init() {
	builder.RegisterStepType(models.StepKindCode, func(cfg map[string]any) (models.Step, error) {
		var c models.CodeStep
		if err := decodeConfig(cfg, &c); err != nil {
			return models.Step{}, err
		}
		if strings.TrimSpace(c.Code) == "" {
			return models.Step{}, models.ErrMissingConfig("code")
		}

		return models.NewCodeStep(c), nil
	})
}
