package promptchain_test

import (
	"context"
	"fmt"

	"github.com/simon020286/go-promptchain"
	"github.com/simon020286/go-promptchain/models"
	"github.com/simon020286/go-promptchain/provider"
)

func ExampleSequencer_Run() {
	seq := promptchain.NewSequencer(provider.Echo{}, nil)

	steps := []models.Step{
		models.NewPromptStep(models.PromptStep{Text: "Hello {{name}}", Output: "greeting"}),
		models.NewCodeStep(models.CodeStep{Code: "return {{greeting}}.length"}),
	}
	rows := []models.InputRow{{"name": "ada"}, {"name": "grace"}}

	onStepComplete := func(_ context.Context, r models.StepResult) error {
		fmt.Printf("row %d step %d: %s\n", r.InputIndex, r.ConfigIndex, r.Output)
		return nil
	}

	if err := seq.Run(context.Background(), steps, rows, promptchain.RunOptions{}, onStepComplete, nil); err != nil {
		fmt.Println(err)
	}
	// Output:
	// row 0 step 0: Hello ada
	// row 0 step 1: 9
	// row 1 step 0: Hello grace
	// row 1 step 1: 11
}
