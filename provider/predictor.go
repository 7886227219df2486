// Package provider obtains model completions for resolved prompts.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/simon020286/go-promptchain/models"
)

// ErrUnknownProvider is returned for a request naming an unregistered provider
var ErrUnknownProvider = errors.New("unknown provider")

// Request is one completion request
type Request struct {
	Prompt string
	Config models.ModelConfig
}

// Prediction is the outcome of a completion request
type Prediction struct {
	Output   string  `json:"output"`
	Cost     float64 `json:"cost"`
	Duration float64 `json:"duration"` // seconds
	Failed   bool    `json:"failed,omitempty"`
	Cached   bool    `json:"-"`
}

// StreamFunc receives partial output as the provider produces it
type StreamFunc func(chunk string)

// Predictor runs a completion. A provider that cannot produce output either
// returns an error or a Prediction with Failed set; retries are the
// provider's concern.
type Predictor interface {
	Predict(ctx context.Context, req Request, stream StreamFunc) (Prediction, error)
}

// PredictorFunc adapts a function to Predictor
type PredictorFunc func(ctx context.Context, req Request, stream StreamFunc) (Prediction, error)

func (f PredictorFunc) Predict(ctx context.Context, req Request, stream StreamFunc) (Prediction, error) {
	return f(ctx, req, stream)
}

// Registry dispatches requests to predictors by provider name
type Registry struct {
	predictors map[string]Predictor
	fallback   string
}

// NewRegistry creates an empty registry. Requests without a provider name go
// to fallback.
func NewRegistry(fallback string) *Registry {
	return &Registry{
		predictors: make(map[string]Predictor),
		fallback:   fallback,
	}
}

// Register adds a predictor under name
func (r *Registry) Register(name string, p Predictor) {
	r.predictors[name] = p
}

// Get returns a predictor by name
func (r *Registry) Get(name string) (Predictor, bool) {
	p, ok := r.predictors[name]
	return p, ok
}

// Names returns the registered provider names
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.predictors))
	for name := range r.predictors {
		names = append(names, name)
	}
	return names
}

func (r *Registry) Predict(ctx context.Context, req Request, stream StreamFunc) (Prediction, error) {
	name := req.Config.Provider
	if name == "" {
		name = r.fallback
	}

	p, ok := r.predictors[name]
	if !ok {
		return Prediction{Failed: true}, fmt.Errorf("%w: '%s'", ErrUnknownProvider, name)
	}
	return p.Predict(ctx, req, stream)
}
