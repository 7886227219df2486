package builder

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/simon020286/go-promptchain/config"
	"go.uber.org/zap"
)

// ChainRegistry maintains all loaded chain definitions
type ChainRegistry struct {
	mu     sync.RWMutex
	chains map[string]*config.ChainConfig
	logger *zap.Logger
}

// NewChainRegistry creates a new registry
func NewChainRegistry(logger *zap.Logger) *ChainRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChainRegistry{
		chains: make(map[string]*config.ChainConfig),
		logger: logger,
	}
}

// Register registers a chain definition
func (cr *ChainRegistry) Register(def *config.ChainConfig) error {
	if def.Name == "" {
		return fmt.Errorf("chain name is required")
	}
	if err := config.ValidateChain(def); err != nil {
		return fmt.Errorf("invalid chain definition: %w", err)
	}

	cr.mu.Lock()
	defer cr.mu.Unlock()
	cr.chains[def.Name] = def
	return nil
}

// Get returns a chain definition by name
func (cr *ChainRegistry) Get(name string) (*config.ChainConfig, bool) {
	cr.mu.RLock()
	defer cr.mu.RUnlock()
	def, exists := cr.chains[name]
	return def, exists
}

// List returns all registered chain names, sorted
func (cr *ChainRegistry) List() []string {
	cr.mu.RLock()
	defer cr.mu.RUnlock()

	names := make([]string, 0, len(cr.chains))
	for name := range cr.chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered chains
func (cr *ChainRegistry) Count() int {
	cr.mu.RLock()
	defer cr.mu.RUnlock()
	return len(cr.chains)
}

// LoadChainsFromFS loads every .yaml/.yml file under basePath of fsys.
// Any invalid file fails the whole load.
func (cr *ChainRegistry) LoadChainsFromFS(fsys fs.FS, basePath string) error {
	entries, err := fs.ReadDir(fsys, basePath)
	if err != nil {
		return fmt.Errorf("failed to read chains directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}

		filePath := basePath + "/" + entry.Name()
		data, err := fs.ReadFile(fsys, filePath)
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", filePath, err)
		}

		if err := cr.loadChainFromBytes(data, entry.Name()); err != nil {
			return fmt.Errorf("failed to load chain %s: %w", entry.Name(), err)
		}
	}

	return nil
}

// LoadChainsFromDirectory loads chains from a filesystem directory.
// A missing directory is not an error; invalid files are skipped with a
// warning.
func (cr *ChainRegistry) LoadChainsFromDirectory(dirPath string) error {
	if _, err := os.Stat(dirPath); os.IsNotExist(err) {
		return nil
	}

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return fmt.Errorf("failed to read chains directory %s: %w", dirPath, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}

		filePath := filepath.Join(dirPath, entry.Name())
		data, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", filePath, err)
		}

		if err := cr.loadChainFromBytes(data, entry.Name()); err != nil {
			cr.logger.Warn("Skipping chain", zap.String("file", filePath), zap.Error(err))
			continue
		}
	}

	return nil
}

// loadChainFromBytes loads a chain definition from bytes
func (cr *ChainRegistry) loadChainFromBytes(data []byte, filename string) error {
	def, err := config.ParseChain(data)
	if err != nil {
		return err
	}

	// If name is not specified, use the filename
	if def.Name == "" {
		def.Name = strings.TrimSuffix(filename, filepath.Ext(filename))
	}

	return cr.Register(def)
}

func isYAML(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}

// GetChainsPath returns the path to the custom chains directory
// Checks environment variable first, then uses default directory
func GetChainsPath() string {
	if path := os.Getenv("PROMPTCHAIN_CHAINS_PATH"); path != "" {
		return path
	}

	// Default: ~/.promptchain/chains
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./chains" // fallback to local directory
	}

	return filepath.Join(homeDir, ".promptchain", "chains")
}
