package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ChainConfig represents a chain definition from YAML or JSON
type ChainConfig struct {
	Name        string              `yaml:"name,omitempty" json:"name,omitempty"`
	Description string              `yaml:"description,omitempty" json:"description,omitempty"`
	Steps       []StepConfig        `yaml:"steps" json:"steps" jsonschema:"minItems=1"`
	Inputs      []map[string]string `yaml:"inputs,omitempty" json:"inputs,omitempty"` // Input rows; empty means one empty row
}

// StepConfig represents the configuration of a step from YAML
type StepConfig struct {
	Type   string                 `yaml:"type" json:"type" jsonschema:"enum=prompt,enum=code"` // Type of step to instantiate
	Config map[string]interface{} `yaml:"config" json:"config"`                                // Specific step configuration
}

// ParseChain decodes a YAML (or JSON) chain definition after checking it
// against the chain schema
func ParseChain(data []byte) (*ChainConfig, error) {
	if err := ValidateChainDocument(data); err != nil {
		return nil, err
	}

	var cfg ChainConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse chain: %w", err)
	}

	if err := ValidateChain(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadChainFile reads and parses a chain definition file
func LoadChainFile(path string) (*ChainConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain file %s: %w", path, err)
	}

	cfg, err := ParseChain(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// toJSONDocument turns a YAML document into the generic JSON value the
// schema validator expects
func toJSONDocument(data []byte) (any, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}

	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("document is not representable as JSON: %w", err)
	}

	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
