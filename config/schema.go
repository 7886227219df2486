package config

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const chainSchemaID = "https://github.com/simon020286/go-promptchain/schemas/chain.json"

var (
	compileOnce    sync.Once
	compiledSchema *sjsonschema.Schema
	compileErr     error
)

// ChainSchema generates the JSON Schema of a chain definition
func ChainSchema() ([]byte, error) {
	r := &jsonschema.Reflector{
		ExpandedStruct: true,
	}
	s := r.Reflect(&ChainConfig{})
	s.ID = jsonschema.ID(chainSchemaID)
	s.Title = "Prompt chain"
	s.Description = "Ordered prompt and code steps run once per input row"

	return json.MarshalIndent(s, "", "  ")
}

func compiledChainSchema() (*sjsonschema.Schema, error) {
	compileOnce.Do(func() {
		raw, err := ChainSchema()
		if err != nil {
			compileErr = fmt.Errorf("failed to generate chain schema: %w", err)
			return
		}

		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			compileErr = fmt.Errorf("failed to decode chain schema: %w", err)
			return
		}

		c := sjsonschema.NewCompiler()
		if err := c.AddResource(chainSchemaID, doc); err != nil {
			compileErr = fmt.Errorf("failed to add chain schema: %w", err)
			return
		}
		compiledSchema, compileErr = c.Compile(chainSchemaID)
	})
	return compiledSchema, compileErr
}

// ValidateChainDocument checks a raw YAML or JSON chain definition against
// the generated schema
func ValidateChainDocument(data []byte) error {
	sch, err := compiledChainSchema()
	if err != nil {
		return err
	}

	doc, err := toJSONDocument(data)
	if err != nil {
		return err
	}

	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("chain does not match schema: %w", err)
	}
	return nil
}
