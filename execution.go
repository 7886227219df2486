package promptchain

import (
	"github.com/simon020286/go-promptchain/models"
	"github.com/simon020286/go-promptchain/sandbox"
	"github.com/simon020286/go-promptchain/variables"
)

// execution is the state of one row. Nothing in it is shared between rows.
type execution struct {
	inputs         models.InputRow
	runningContext string
	sandbox        *sandbox.Context
	identifierCase bool
}

func newExecution(row models.InputRow, identifierCase bool) *execution {
	inputs := make(models.InputRow, len(row))
	for name, value := range row {
		if identifierCase {
			name = variables.CamelCase(name)
		}
		inputs[name] = value
	}

	return &execution{
		inputs:         inputs,
		sandbox:        sandbox.NewContext(row),
		identifierCase: identifierCase,
	}
}

func (e *execution) resolve(text string) string {
	if e.identifierCase {
		return variables.ResolveIdentifierCase(text, e.inputs)
	}
	return variables.Resolve(text, e.inputs)
}

func (e *execution) appendContext(text string) {
	e.runningContext += text
}

// bind makes a step output visible to later prompts and code
func (e *execution) bind(name, value string) {
	if name == "" {
		return
	}

	key := name
	if e.identifierCase {
		key = variables.CamelCase(name)
	}
	e.inputs[key] = value
	e.sandbox.Augment(name, value)
}
