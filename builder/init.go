package builder

import (
	"embed"
	"fmt"

	"go.uber.org/zap"
)

//go:embed chains/*.yaml
var embeddedChains embed.FS

// LoadChains builds a registry from the embedded sample chains and the
// custom chains directory
func LoadChains(logger *zap.Logger) (*ChainRegistry, error) {
	reg := NewChainRegistry(logger)

	if err := reg.LoadChainsFromFS(embeddedChains, "chains"); err != nil {
		return nil, fmt.Errorf("failed to load embedded chains: %w", err)
	}

	customChainsPath := GetChainsPath()
	if err := reg.LoadChainsFromDirectory(customChainsPath); err != nil {
		return nil, fmt.Errorf("failed to load custom chains from %s: %w", customChainsPath, err)
	}

	reg.logger.Debug("Loaded chains", zap.Int("count", reg.Count()), zap.Strings("names", reg.List()))
	return reg, nil
}
