package builder

import (
	"fmt"
	"sort"
	"sync"

	"github.com/simon020286/go-promptchain/models"
)

// StepFactory builds a step from the loose configuration map of a chain
// definition
type StepFactory func(config map[string]any) (models.Step, error)

var (
	factories   = make(map[models.StepKind]StepFactory)
	factoriesMu sync.RWMutex
)

// RegisterStepType makes a step kind available to CreateStep. It is called
// from init() in the steps package and panics if kind is registered twice.
func RegisterStepType(kind models.StepKind, factory StepFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()

	if factory == nil {
		panic(fmt.Sprintf("builder: nil factory for step kind %q", kind))
	}
	if _, dup := factories[kind]; dup {
		panic(fmt.Sprintf("builder: step kind %q registered twice", kind))
	}
	factories[kind] = factory
}

// GetStepFactory returns the factory for a step kind
func GetStepFactory(kind string) (StepFactory, error) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	factory, exists := factories[models.StepKind(kind)]
	if !exists {
		return nil, models.ErrUnknownStepKind(kind)
	}
	return factory, nil
}

// ListStepTypes returns the registered step kinds, sorted
func ListStepTypes() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	kinds := make([]string, 0, len(factories))
	for k := range factories {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	return kinds
}
