// Package steps registers the factories for the prompt and code step kinds.
package steps

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// decodeConfig decodes a step configuration map into out, rejecting unknown keys
func decodeConfig(cfg map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("invalid step config: %w", err)
	}
	return nil
}
